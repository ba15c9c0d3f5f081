// Package web implements the HTTP server for the site visit application:
// the JSON API over the persistence layer, session login and the mobile
// pages.
package web

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/trilakes/sitevisit/app/store"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Server represents the web server
type Server struct {
	store        store.Interface
	templates    map[string]*template.Template
	adminEmail   string // login email, lowercased
	passwordHash string // bcrypt hash for session auth, empty disables auth
	secret       string // session cookie signing secret
	version      string
}

// Config holds server configuration
type Config struct {
	Store        store.Interface
	AdminEmail   string
	PasswordHash string // bcrypt hash (empty to disable auth)
	Secret       string
	Version      string
}

// loginLimiter caps login attempts to slow down credential guessing
var loginLimiter = tollbooth.NewLimiter(5, &limiter.ExpirableOptions{DefaultExpirationTTL: time.Minute})

// New creates a new web server
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("web server initialization failed: store is required")
	}

	s := &Server{
		store:        cfg.Store,
		adminEmail:   strings.ToLower(strings.TrimSpace(cfg.AdminEmail)),
		passwordHash: cfg.PasswordHash,
		secret:       cfg.Secret,
		version:      cfg.Version,
	}

	templates, err := s.parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("web server initialization failed: %w", err)
	}
	s.templates = templates

	return s, nil
}

// Run starts the web server and blocks until ctx is canceled
func (s *Server) Run(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown server: %v", err)
		}
	}()

	log.Printf("[INFO] starting web server on %s", address)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

// routes returns the http.Handler with all routes configured
func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	// global middleware - applied to all routes
	router.Use(
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.Throttle(1000),
		rest.AppInfo("sitevisit", "trilakes", s.version),
		rest.Ping,
		rest.Trace,
		rest.SizeLimit(32*1024*1024), // photos arrive base64-encoded in JSON bodies
		logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler,
	)

	// auth middleware must be installed before any routes are defined
	if s.passwordHash != "" {
		log.Printf("[INFO] authentication enabled for %s", s.adminEmail)
		router.Use(s.authMiddleware)
		router.HandleFunc("GET /login", s.handleLoginForm)
		router.With(tollbooth.HTTPMiddleware(loginLimiter)).HandleFunc("POST /login", s.handleLogin)
		router.HandleFunc("GET /logout", s.handleLogout)
	}

	// pages
	router.HandleFunc("GET /{$}", s.handleIndex)
	router.HandleFunc("GET /visit/{id}", s.handleVisitPage)

	// raw photo bytes, file backend only, unauthenticated as in the mobile client contract
	router.HandleFunc("GET /photos/{filename}", s.handlePhotoFile)

	// JSON API
	router.Mount("/api").Route(func(api *routegroup.Bundle) {
		api.Use(rest.NoCache)
		api.HandleFunc("GET /projects", s.handleListProjects)
		api.HandleFunc("POST /projects", s.handleCreateProject)
		api.HandleFunc("GET /projects/{id}", s.handleGetProject)
		api.HandleFunc("PUT /projects/{id}", s.handleUpdateProject)
		api.HandleFunc("POST /projects/{id}/gps", s.handleAddGpsPoint)
		api.HandleFunc("POST /projects/{id}/photo", s.handleAddPhoto)
		api.HandleFunc("GET /projects/{id}/export", s.handleExportProject)
	})

	return router
}

// render renders a template
func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.templates[name]
	if !ok {
		log.Printf("[WARN] template %s not found", name)
		http.Error(w, "Template not found", http.StatusInternalServerError)
		return
	}

	buf := new(bytes.Buffer)
	if err := tmpl.Execute(buf, data); err != nil {
		log.Printf("[WARN] failed to execute template %s: %v", name, err)
		http.Error(w, "Template error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		log.Printf("[WARN] failed to write response: %v", err)
	}
}

// parseTemplates parses all standalone page templates
func (s *Server) parseTemplates() (map[string]*template.Template, error) {
	templates := make(map[string]*template.Template)
	for _, name := range []string{"login.html", "index.html", "visit.html"} {
		tmpl, err := template.New(name).ParseFS(templatesFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		templates[name] = tmpl
	}
	return templates, nil
}

// currentUser is the owner identity attached to created projects. With a
// single configured login it is just the admin email, empty when auth is off.
func (s *Server) currentUser() string {
	return s.adminEmail
}
