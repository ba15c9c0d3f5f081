package web

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	log "github.com/go-pkgz/lgr"
	"golang.org/x/crypto/bcrypt"
)

const authCookie = "sitevisit-auth"

// handleLoginForm displays the login form
func (s *Server) handleLoginForm(w http.ResponseWriter, _ *http.Request) {
	s.render(w, "login.html", struct{ Error string }{})
}

// handleLogin processes the login form submission
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	email := strings.ToLower(strings.TrimSpace(r.FormValue("email")))
	password := r.FormValue("password")
	if email == "" || password == "" {
		s.renderLoginError(w, "Email and password are required")
		return
	}

	if email != s.adminEmail {
		log.Printf("[WARN] login attempt for unknown user %s", email)
		s.renderLoginError(w, "Invalid email or password")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(password)); err != nil {
		log.Printf("[WARN] failed login attempt for %s", email)
		s.renderLoginError(w, "Invalid email or password")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    s.generateAuthToken(),
		Path:     "/",
		MaxAge:   7 * 24 * 60 * 60, // 7 days
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
	})

	log.Printf("[INFO] login successful for %s", email)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleLogout logs the user out by clearing the auth cookie
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1, // delete cookie
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
	})
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// renderLoginError renders the login form with an error message
func (s *Server) renderLoginError(w http.ResponseWriter, errorMsg string) {
	tmpl := s.templates["login.html"]
	if tmpl == nil {
		log.Printf("[ERROR] login template not found")
		http.Error(w, "Login template not found", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	if err := tmpl.Execute(w, struct{ Error string }{Error: errorMsg}); err != nil {
		log.Printf("[ERROR] failed to render login template: %v", err)
	}
}

// authMiddleware checks for the session cookie or falls back to basic auth
// for API clients. Login and raw photo serving stay open.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" || strings.HasPrefix(r.URL.Path, "/photos/") {
			next.ServeHTTP(w, r)
			return
		}

		// check auth cookie
		cookie, err := r.Cookie(authCookie)
		if err == nil && s.validateAuthToken(cookie.Value) {
			next.ServeHTTP(w, r)
			return
		}

		// fallback to basic auth for API clients
		username, password, ok := r.BasicAuth()
		if ok && strings.ToLower(username) == s.adminEmail {
			if err := bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(password)); err == nil {
				next.ServeHTTP(w, r)
				return
			}
		}

		// no valid auth, redirect browsers to the login page, 401 for the rest
		if r.Header.Get("Accept") == "" || strings.Contains(r.Header.Get("Accept"), "text/html") {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="Site Visit"`)
		s.writeJSONError(w, http.StatusUnauthorized, "unauthorized")
	})
}

// generateAuthToken derives the session token from the password hash and the
// configured secret, both one-way so the token leaks neither
func (s *Server) generateAuthToken() string {
	h := sha256.Sum256([]byte(s.passwordHash + s.secret))
	return hex.EncodeToString(h[:])
}

// validateAuthToken checks if the auth token is valid
func (s *Server) validateAuthToken(token string) bool {
	return token == s.generateAuthToken()
}
