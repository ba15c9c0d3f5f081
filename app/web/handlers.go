package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/trilakes/sitevisit/app/store"
)

// handleIndex renders the project list page
func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	data := struct {
		AuthEnabled bool
		CurrentYear int
	}{
		AuthEnabled: s.passwordHash != "",
		CurrentYear: time.Now().Year(),
	}
	s.render(w, "index.html", data)
}

// handleVisitPage renders the survey form page for one project. The page
// loads the document itself through the API, a missing id surfaces there.
func (s *Server) handleVisitPage(w http.ResponseWriter, r *http.Request) {
	data := struct {
		ProjectID string
	}{
		ProjectID: r.PathValue("id"),
	}
	s.render(w, "visit.html", data)
}

// handleListProjects returns the compact project list for the current user
func (s *Server) handleListProjects(w http.ResponseWriter, _ *http.Request) {
	projects, err := s.store.List(s.currentUser())
	if err != nil {
		log.Printf("[ERROR] failed to list projects: %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, "failed to list projects")
		return
	}
	s.writeJSON(w, http.StatusOK, projects)
}

// handleCreateProject creates a new project from the submitted property
// metadata and returns the generated id
func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Property store.Property `json:"property"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := s.store.Create(s.currentUser(), req.Property)
	if err != nil {
		log.Printf("[ERROR] failed to create project: %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, "failed to create project")
		return
	}

	log.Printf("[INFO] created project %s", id)
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "project_id": id})
}

// handleGetProject returns the full project document
func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err, "failed to load project")
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

// handleUpdateProject replaces visit data, notes, property and status from
// the submitted document, last write wins
func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	var upd store.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.store.Update(r.PathValue("id"), upd); err != nil {
		s.writeStoreError(w, err, "failed to update project")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleAddGpsPoint appends a waypoint and returns the new point count
func (s *Server) handleAddGpsPoint(w http.ResponseWriter, r *http.Request) {
	var point store.GpsPoint
	if err := json.NewDecoder(r.Body).Decode(&point); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	count, err := s.store.AddGpsPoint(r.PathValue("id"), point)
	if err != nil {
		s.writeStoreError(w, err, "failed to add gps point")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "point_count": count})
}

// handleAddPhoto appends a photo from a base64 payload and returns its id
func (s *Server) handleAddPhoto(w http.ResponseWriter, r *http.Request) {
	var upload store.PhotoUpload
	if err := json.NewDecoder(r.Body).Decode(&upload); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	photoID, err := s.store.AddPhoto(r.PathValue("id"), upload)
	if err != nil {
		s.writeStoreError(w, err, "failed to add photo")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "photo_id": photoID})
}

// handleExportProject returns the full document as an attachment download
func (s *Server) handleExportProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	data, err := s.store.Export(id)
	if err != nil {
		s.writeStoreError(w, err, "failed to export project")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".json"))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Printf("[WARN] failed to write export response: %v", err)
	}
}

// handlePhotoFile serves raw photo bytes, available on the file backend only
func (s *Server) handlePhotoFile(w http.ResponseWriter, r *http.Request) {
	data, err := s.store.PhotoFile(r.PathValue("filename"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		log.Printf("[ERROR] failed to read photo %s: %v", r.PathValue("filename"), err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Printf("[WARN] failed to write photo response: %v", err)
	}
}

// writeStoreError maps persistence errors to API statuses: not-found and
// no-photo-data are the only modeled errors, everything else is a generic 500
func (s *Server) writeStoreError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeJSONError(w, http.StatusNotFound, "Project not found")
	case errors.Is(err, store.ErrNoPhotoData):
		s.writeJSONError(w, http.StatusBadRequest, "No photo data")
	default:
		log.Printf("[ERROR] %s: %v", msg, err)
		s.writeJSONError(w, http.StatusInternalServerError, msg)
	}
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[WARN] failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]string{"error": message}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("[WARN] failed to encode JSON error response: %v", err)
	}
}
