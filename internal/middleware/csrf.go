package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/config"
)

const (
	defaultCSRFCookie = "csrf_token"
	defaultCSRFHeader = "X-CSRF-Token"
)

// CSRF is a double submit check: the csrf cookie must equal the header.
// It only guards unsafe methods on requests that carry the session cookie.
// Bearer requests pass through.
func CSRF(cfg config.CSRFConfig, sessionCookie string) func(next http.Handler) http.Handler {
	cookieName, headerName := csrfNames(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || isSafeMethod(r.Method) || bearerToken(r) != "" {
				next.ServeHTTP(w, r)
				return
			}
			if _, err := r.Cookie(sessionCookie); err != nil {
				next.ServeHTTP(w, r)
				return
			}

			cookie, err := r.Cookie(cookieName)
			header := r.Header.Get(headerName)
			if err != nil || cookie.Value == "" || header == "" ||
				subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
				writeError(w, http.StatusForbidden, "CSRF token missing or invalid")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IssueCSRFToken sets a fresh csrf cookie and returns its value for the client
// to echo in the header.
func IssueCSRFToken(w http.ResponseWriter, cfg config.CSRFConfig, secure bool) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := hex.EncodeToString(buf)

	cookieName, _ := csrfNames(cfg)
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    token,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
	return token, nil
}

func csrfNames(cfg config.CSRFConfig) (string, string) {
	cookieName, headerName := cfg.CookieName, cfg.HeaderName
	if cookieName == "" {
		cookieName = defaultCSRFCookie
	}
	if headerName == "" {
		headerName = defaultCSRFHeader
	}
	return cookieName, headerName
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}
