package httpd

import (
	"net/http"

	mw "github.com/mithorizon7/AIAssignmentProMH-sub000/internal/middleware"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/models"
)

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.authService.Register(r.Context(), &req, nil)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeCreated(w, user)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.authService.Login(r.Context(), &req, mw.ActorFromRequest(r))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	if h.auth.CookieName != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     h.auth.CookieName,
			Value:    resp.Token,
			Path:     "/",
			Expires:  resp.ExpiresAt,
			HttpOnly: true,
			Secure:   h.auth.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}

	// Cookie-сессии сразу получают csrf токен
	if h.csrf.Enabled {
		if _, err := mw.IssueCSRFToken(w, h.csrf, h.auth.CookieSecure); err != nil {
			h.handleServiceError(w, err)
			return
		}
	}

	writeSuccess(w, resp)
}

func (h *Handler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	token, err := mw.IssueCSRFToken(w, h.csrf, h.auth.CookieSecure)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, map[string]interface{}{
		"csrf_token": token,
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token := mw.TokenFromContext(r.Context())
	if err := h.authService.Logout(r.Context(), token, mw.ActorFromRequest(r)); err != nil {
		h.handleServiceError(w, err)
		return
	}

	if h.auth.CookieName != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     h.auth.CookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   h.auth.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}

	writeSuccess(w, map[string]interface{}{
		"message": "Logged out",
	})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.userService.GetProfile(r.Context(), mw.ActorFromRequest(r))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, user)
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req models.ChangePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.authService.ChangePassword(r.Context(), mw.ActorFromRequest(r), &req); err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, map[string]interface{}{
		"message": "Password changed",
	})
}
