package httpd

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/mithorizon7/AIAssignmentProMH-sub000/internal/middleware"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/models"
)

// Submit accepts JSON {"content": ...} or multipart with a "content" field
// and any number of "files" parts.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	assignmentID := chi.URLParam(r, "id")
	if !validID(w, assignmentID, "assignment") {
		return
	}

	req, err := h.readSubmission(w, r)
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			writeError(w, http.StatusRequestEntityTooLarge, "Upload exceeds the size limit")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Submission content is too long")
		return
	}

	submission, err := h.submissionService.Submit(r.Context(), mw.ActorFromRequest(r), assignmentID, req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"data":    submission,
	})
}

func (h *Handler) readSubmission(w http.ResponseWriter, r *http.Request) (*models.SubmitRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req models.SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var maxBytes *http.MaxBytesError
			if errors.As(err, &maxBytes) {
				return nil, err
			}
			return nil, errors.New("Invalid request body")
		}
		return &req, nil
	}

	// Парсим multipart форму
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return nil, err
		}
		return nil, errors.New("Failed to parse form data")
	}
	defer r.MultipartForm.RemoveAll()

	req := &models.SubmitRequest{Content: r.FormValue("content")}
	for _, header := range r.MultipartForm.File["files"] {
		upload, err := readUpload(header)
		if err != nil {
			return nil, err
		}
		req.Files = append(req.Files, upload)
	}
	return req, nil
}

func readUpload(header *multipart.FileHeader) (models.FileUpload, error) {
	file, err := header.Open()
	if err != nil {
		return models.FileUpload{}, errors.New("Failed to read file")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return models.FileUpload{}, errors.New("Failed to read file")
	}

	return models.FileUpload{
		Name:     header.Filename,
		MIMEType: header.Header.Get("Content-Type"),
		Data:     data,
	}, nil
}

func (h *Handler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	assignmentID := chi.URLParam(r, "id")
	if !validID(w, assignmentID, "assignment") {
		return
	}

	list, err := h.submissionService.ListByAssignment(r.Context(), mw.ActorFromRequest(r),
		assignmentID, r.URL.Query().Get("status"), pagination(r))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, list)
}

func (h *Handler) ListMySubmissions(w http.ResponseWriter, r *http.Request) {
	list, err := h.submissionService.ListMine(r.Context(), mw.ActorFromRequest(r), pagination(r))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, list)
}

func (h *Handler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "id")
	if !validID(w, submissionID, "submission") {
		return
	}

	submission, err := h.submissionService.Get(r.Context(), mw.ActorFromRequest(r), submissionID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, submission)
}

func (h *Handler) DeleteSubmission(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "id")
	if !validID(w, submissionID, "submission") {
		return
	}

	if err := h.submissionService.Delete(r.Context(), mw.ActorFromRequest(r), submissionID); err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, map[string]interface{}{
		"message": "Submission deleted successfully",
	})
}

func (h *Handler) GetFeedback(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "id")
	if !validID(w, submissionID, "submission") {
		return
	}

	feedback, err := h.submissionService.GetFeedback(r.Context(), mw.ActorFromRequest(r), submissionID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, feedback)
}

func (h *Handler) OverrideFeedback(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "id")
	if !validID(w, submissionID, "submission") {
		return
	}

	var req models.OverrideFeedbackRequest
	if !h.decode(w, r, &req) {
		return
	}

	feedback, err := h.submissionService.OverrideFeedback(r.Context(), mw.ActorFromRequest(r), submissionID, &req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, feedback)
}

func (h *Handler) Regrade(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "id")
	if !validID(w, submissionID, "submission") {
		return
	}

	submission, err := h.submissionService.Regrade(r.Context(), mw.ActorFromRequest(r), submissionID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"data":    submission,
	})
}

// AttachmentURL returns a presigned link for ?key=<object key>.
func (h *Handler) AttachmentURL(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "id")
	if !validID(w, submissionID, "submission") {
		return
	}

	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	url, err := h.submissionService.AttachmentURL(r.Context(), mw.ActorFromRequest(r), submissionID, key)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, url)
}
