package httpd

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/mithorizon7/AIAssignmentProMH-sub000/internal/middleware"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/models"
)

func (h *Handler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "id")
	if !validID(w, courseID, "course") {
		return
	}

	var req models.CreateAssignmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	assignment, err := h.assignmentService.Create(r.Context(), mw.ActorFromRequest(r), courseID, &req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeCreated(w, assignment)
}

func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "id")
	if !validID(w, courseID, "course") {
		return
	}

	list, err := h.assignmentService.ListByCourse(r.Context(), mw.ActorFromRequest(r), courseID, pagination(r))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, list)
}

func (h *Handler) GetAssignment(w http.ResponseWriter, r *http.Request) {
	assignmentID := chi.URLParam(r, "id")
	if !validID(w, assignmentID, "assignment") {
		return
	}

	assignment, err := h.assignmentService.Get(r.Context(), mw.ActorFromRequest(r), assignmentID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, assignment)
}

func (h *Handler) UpdateAssignment(w http.ResponseWriter, r *http.Request) {
	assignmentID := chi.URLParam(r, "id")
	if !validID(w, assignmentID, "assignment") {
		return
	}

	var req models.UpdateAssignmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	assignment, err := h.assignmentService.Update(r.Context(), mw.ActorFromRequest(r), assignmentID, &req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, assignment)
}

func (h *Handler) DeleteAssignment(w http.ResponseWriter, r *http.Request) {
	assignmentID := chi.URLParam(r, "id")
	if !validID(w, assignmentID, "assignment") {
		return
	}

	if err := h.assignmentService.Delete(r.Context(), mw.ActorFromRequest(r), assignmentID); err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, map[string]interface{}{
		"message": "Assignment deleted successfully",
	})
}

func (h *Handler) BatchRegrade(w http.ResponseWriter, r *http.Request) {
	assignmentID := chi.URLParam(r, "id")
	if !validID(w, assignmentID, "assignment") {
		return
	}

	var req models.BatchRegradeRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}

	result, err := h.batchService.BatchRegrade(r.Context(), mw.ActorFromRequest(r), assignmentID, &req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"data":    result,
	})
}

func (h *Handler) ExportGradebook(w http.ResponseWriter, r *http.Request) {
	assignmentID := chi.URLParam(r, "id")
	if !validID(w, assignmentID, "assignment") {
		return
	}

	data, filename, err := h.batchService.ExportGradebook(r.Context(), mw.ActorFromRequest(r), assignmentID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) AssignmentStats(w http.ResponseWriter, r *http.Request) {
	assignmentID := chi.URLParam(r, "id")
	if !validID(w, assignmentID, "assignment") {
		return
	}

	stats, err := h.metricsService.AssignmentStats(r.Context(), mw.ActorFromRequest(r), assignmentID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, stats)
}
