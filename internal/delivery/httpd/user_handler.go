package httpd

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/mithorizon7/AIAssignmentProMH-sub000/internal/middleware"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/models"
)

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateProfileRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.userService.UpdateProfile(r.Context(), mw.ActorFromRequest(r), &req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, user)
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.userService.ListUsers(r.Context(), r.URL.Query().Get("role"), pagination(r))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, users)
}

// CreateUser lets an administrator create accounts with any role.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	actor := mw.ActorFromRequest(r)
	user, err := h.authService.Register(r.Context(), &req, &actor)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeCreated(w, user)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if !validID(w, userID, "user") {
		return
	}

	user, err := h.userService.GetUser(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, user)
}

func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if !validID(w, userID, "user") {
		return
	}

	var req models.UpdateRoleRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.userService.UpdateRole(r.Context(), mw.ActorFromRequest(r), userID, models.Role(req.Role))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, user)
}

func (h *Handler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if !validID(w, userID, "user") {
		return
	}

	if err := h.userService.Deactivate(r.Context(), mw.ActorFromRequest(r), userID); err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, map[string]interface{}{
		"message": "User deactivated",
	})
}
