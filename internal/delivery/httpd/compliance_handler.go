package httpd

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	mw "github.com/mithorizon7/AIAssignmentProMH-sub000/internal/middleware"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/models"
)

func (h *Handler) ListConsents(w http.ResponseWriter, r *http.Request) {
	consents, err := h.complianceService.ListConsents(r.Context(), mw.ActorFromRequest(r))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, consents)
}

func (h *Handler) RecordConsent(w http.ResponseWriter, r *http.Request) {
	var req models.RecordConsentRequest
	if !h.decode(w, r, &req) {
		return
	}

	consent, err := h.complianceService.RecordConsent(r.Context(), mw.ActorFromRequest(r), &req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeCreated(w, consent)
}

func (h *Handler) ListMyRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.complianceService.ListMyRequests(r.Context(), mw.ActorFromRequest(r))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, requests)
}

func (h *Handler) CreateDataRequest(w http.ResponseWriter, r *http.Request) {
	var req models.CreateDataRequest
	if !h.decode(w, r, &req) {
		return
	}

	request, err := h.complianceService.CreateRequest(r.Context(), mw.ActorFromRequest(r), &req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeCreated(w, request)
}

func (h *Handler) ExportMyData(w http.ResponseWriter, r *http.Request) {
	url, err := h.complianceService.ExportUserData(r.Context(), mw.ActorFromRequest(r), "")
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, url)
}

// Админские маршруты

func (h *Handler) AdminOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.metricsService.AdminOverview(r.Context())
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, overview)
}

func (h *Handler) ListDataRequests(w http.ResponseWriter, r *http.Request) {
	list, err := h.complianceService.ListRequests(r.Context(), r.URL.Query().Get("status"), pagination(r))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, list)
}

func (h *Handler) ProcessDataRequest(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "id")
	if !validID(w, requestID, "request") {
		return
	}

	var req models.ProcessDataRequest
	if !h.decode(w, r, &req) {
		return
	}

	request, err := h.complianceService.ProcessRequest(r.Context(), mw.ActorFromRequest(r), requestID, &req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, request)
}

func (h *Handler) ExportUserData(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if !validID(w, userID, "user") {
		return
	}

	url, err := h.complianceService.ExportUserData(r.Context(), mw.ActorFromRequest(r), userID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, url)
}

func (h *Handler) AnonymizeUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if !validID(w, userID, "user") {
		return
	}

	if err := h.complianceService.AnonymizeUser(r.Context(), mw.ActorFromRequest(r), userID); err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, map[string]interface{}{
		"message": "User anonymized",
	})
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if !validID(w, userID, "user") {
		return
	}

	if err := h.complianceService.DeleteUser(r.Context(), mw.ActorFromRequest(r), userID); err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, map[string]interface{}{
		"message": "User deleted",
	})
}

func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.AuditFilter{
		ActorID:      q.Get("actor_id"),
		Action:       q.Get("action"),
		ResourceType: q.Get("resource_type"),
		ResourceID:   q.Get("resource_id"),
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC3339 timestamp")
			return
		}
		filter.Since = &t
	}

	logs, err := h.complianceService.ListAuditLogs(r.Context(), filter, pagination(r))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, logs)
}

func (h *Handler) PurgeExpiredData(w http.ResponseWriter, r *http.Request) {
	result, err := h.complianceService.PurgeExpiredData(r.Context(), mw.ActorFromRequest(r))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, result)
}
