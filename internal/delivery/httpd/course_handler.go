package httpd

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/mithorizon7/AIAssignmentProMH-sub000/internal/middleware"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/models"
)

func (h *Handler) CreateCourse(w http.ResponseWriter, r *http.Request) {
	var req models.CreateCourseRequest
	if !h.decode(w, r, &req) {
		return
	}

	course, err := h.courseService.Create(r.Context(), mw.ActorFromRequest(r), &req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeCreated(w, course)
}

func (h *Handler) ListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := h.courseService.List(r.Context(), mw.ActorFromRequest(r), pagination(r))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, courses)
}

func (h *Handler) GetCourse(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "id")
	if !validID(w, courseID, "course") {
		return
	}

	course, err := h.courseService.Get(r.Context(), mw.ActorFromRequest(r), courseID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, course)
}

func (h *Handler) UpdateCourse(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "id")
	if !validID(w, courseID, "course") {
		return
	}

	var req models.UpdateCourseRequest
	if !h.decode(w, r, &req) {
		return
	}

	course, err := h.courseService.Update(r.Context(), mw.ActorFromRequest(r), courseID, &req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, course)
}

func (h *Handler) DeleteCourse(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "id")
	if !validID(w, courseID, "course") {
		return
	}

	if err := h.courseService.Delete(r.Context(), mw.ActorFromRequest(r), courseID); err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, map[string]interface{}{
		"message": "Course deleted successfully",
	})
}

func (h *Handler) ListEnrollments(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "id")
	if !validID(w, courseID, "course") {
		return
	}

	list, err := h.courseService.ListEnrollments(r.Context(), mw.ActorFromRequest(r), courseID, pagination(r))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, list)
}

func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "id")
	if !validID(w, courseID, "course") {
		return
	}

	var req models.EnrollRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.courseService.Enroll(r.Context(), mw.ActorFromRequest(r), courseID, req.StudentID); err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeCreated(w, map[string]interface{}{
		"course_id":  courseID,
		"student_id": req.StudentID,
	})
}

func (h *Handler) BatchEnroll(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "id")
	if !validID(w, courseID, "course") {
		return
	}

	var req models.BatchEnrollRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.batchService.BatchEnroll(r.Context(), mw.ActorFromRequest(r), courseID, &req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, result)
}

func (h *Handler) Unenroll(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "id")
	studentID := chi.URLParam(r, "student_id")
	if !validID(w, courseID, "course") || !validID(w, studentID, "student") {
		return
	}

	if err := h.courseService.Unenroll(r.Context(), mw.ActorFromRequest(r), courseID, studentID); err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, map[string]interface{}{
		"message": "Student unenrolled",
	})
}

func (h *Handler) InstructorDashboard(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "id")
	if !validID(w, courseID, "course") {
		return
	}

	dashboard, err := h.metricsService.InstructorDashboard(r.Context(), mw.ActorFromRequest(r), courseID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, dashboard)
}

// StudentProgress accepts "me" in place of the student id.
func (h *Handler) StudentProgress(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "id")
	studentID := chi.URLParam(r, "student_id")
	if !validID(w, courseID, "course") {
		return
	}
	if studentID != "me" && !validID(w, studentID, "student") {
		return
	}

	progress, err := h.metricsService.StudentProgress(r.Context(), mw.ActorFromRequest(r), courseID, studentID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, progress)
}
