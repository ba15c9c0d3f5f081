package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
)

// FileStore keeps one pretty-printed JSON document per project under
// <data>/projects and photo binaries under <data>/photos. Documents are
// written via temp file + rename, and all mutations are serialized behind a
// single mutex to avoid lost updates between concurrent read-modify-write
// cycles.
type FileStore struct {
	projectsDir string
	photosDir   string
	mu          sync.Mutex
}

// NewFileStore creates the projects and photos directories under dataDir
func NewFileStore(dataDir string) (*FileStore, error) {
	s := &FileStore{
		projectsDir: filepath.Join(dataDir, "projects"),
		photosDir:   filepath.Join(dataDir, "photos"),
	}
	for _, dir := range []string{s.projectsDir, s.photosDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return s, nil
}

// Create persists a new project with the given property metadata and
// returns the generated id
func (s *FileStore) Create(owner string, prop Property) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	id := newProjectID(now)
	if err := s.writeProject(newProject(id, owner, prop, now)); err != nil {
		return "", err
	}
	return id, nil
}

// Get returns the full project document
func (s *FileStore) Get(id string) (Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readProject(id)
}

// List returns compact summaries of all projects visible to owner,
// sorted by id. Unreadable documents are skipped with a warning.
func (s *FileStore) List(owner string) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.projectsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read projects dir: %w", err)
	}

	res := []Summary{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		p, err := s.readProject(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			log.Printf("[WARN] skipping unreadable project file %s: %v", e.Name(), err)
			continue
		}
		if owner != "" && p.Owner != "" && p.Owner != owner {
			continue
		}
		res = append(res, Summary{ID: p.ID, Address: p.Property.Address, Client: p.Property.Client,
			Created: p.Created, Status: p.Status})
	}

	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// Update replaces the mutable document fields wholesale, last write wins
func (s *FileStore) Update(id string, upd Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.readProject(id)
	if err != nil {
		return err
	}
	applyUpdate(&p, upd, time.Now())
	return s.writeProject(p)
}

// AddGpsPoint appends one waypoint with a server-assigned timestamp and
// returns the new total count
func (s *FileStore) AddGpsPoint(id string, point GpsPoint) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.readProject(id)
	if err != nil {
		return 0, err
	}

	point.Timestamp = time.Now()
	p.GpsPoints = append(p.GpsPoints, point)
	if err := s.writeProject(p); err != nil {
		return 0, err
	}
	return len(p.GpsPoints), nil
}

// AddPhoto decodes the base64 payload, writes the binary to the photos
// directory and appends the metadata record. The binary is removed again if
// the metadata write fails, so a partial failure leaves no orphaned file.
func (s *FileStore) AddPhoto(id string, upload PhotoUpload) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.readProject(id)
	if err != nil {
		return "", err
	}

	raw, err := decodePhoto(upload.Data)
	if err != nil {
		return "", err
	}
	if upload.Label == "" {
		upload.Label = "Photo"
	}

	now := time.Now()
	photoID := newPhotoID(now)
	filename := photoFilename(p.ID, photoID)
	path := filepath.Join(s.photosDir, filename)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("failed to write photo %s: %w", filename, err)
	}

	p.Photos = append(p.Photos, Photo{ID: photoID, Label: upload.Label, Filename: filename,
		Timestamp: now, GPS: upload.GPS})
	if err := s.writeProject(p); err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			log.Printf("[WARN] failed to remove orphaned photo %s: %v", path, rmErr)
		}
		return "", err
	}
	return photoID, nil
}

// Export returns the raw stored document bytes
func (s *FileStore) Export(id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.projectFile(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read project %s: %w", id, err)
	}
	return data, nil
}

// PhotoFile returns the raw bytes of a stored photo binary
func (s *FileStore) PhotoFile(filename string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.photosDir, filepath.Base(filename)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read photo %s: %w", filename, err)
	}
	return data, nil
}

// Seed creates the given project if no document with its id exists yet
func (s *FileStore) Seed(p Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.readProject(p.ID); err == nil {
		return nil // already present, keep it untouched
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	normalizeSeed(&p)
	return s.writeProject(p)
}

// Close is a no-op for the file backend
func (s *FileStore) Close() error { return nil }

// projectFile maps an id to its document path; filepath.Base guards
// against traversal through caller-supplied ids
func (s *FileStore) projectFile(id string) string {
	return filepath.Join(s.projectsDir, filepath.Base(id)+".json")
}

func (s *FileStore) readProject(id string) (Project, error) {
	data, err := os.ReadFile(s.projectFile(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Project{}, ErrNotFound
		}
		return Project{}, fmt.Errorf("failed to read project %s: %w", id, err)
	}

	var p Project
	if err := json.Unmarshal(data, &p); err != nil {
		return Project{}, fmt.Errorf("failed to parse project %s: %w", id, err)
	}
	return p, nil
}

// writeProject marshals the document and replaces the target atomically
func (s *FileStore) writeProject(p Project) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal project %s: %w", p.ID, err)
	}

	tmp, err := os.CreateTemp(s.projectsDir, "."+filepath.Base(p.ID)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", p.ID, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write project %s: %w", p.ID, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file for %s: %w", p.ID, err)
	}

	if err := os.Rename(tmpName, s.projectFile(p.ID)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace project %s: %w", p.ID, err)
	}
	return nil
}
