package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/cache"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/models"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/repository"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/storage"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/worker/queue"
)

const maxAttachments = 10

func isAllowedAttachment(mediaType string) bool {
	switch strings.ToLower(mediaType) {
	case "text/plain", "text/markdown", "text/csv", "application/json",
		"application/pdf", "application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"image/png", "image/jpeg", "image/gif", "image/webp":
		return true
	}
	return false
}

type SubmissionService interface {
	Submit(ctx context.Context, actor Actor, assignmentID string, req *models.SubmitRequest) (*models.Submission, error)
	Get(ctx context.Context, actor Actor, id string) (*models.SubmissionResponse, error)
	ListByAssignment(ctx context.Context, actor Actor, assignmentID, status string, p models.Pagination) (*models.ListResponse[models.SubmissionWithDetails], error)
	ListMine(ctx context.Context, actor Actor, p models.Pagination) (*models.ListResponse[models.SubmissionWithDetails], error)
	GetFeedback(ctx context.Context, actor Actor, submissionID string) (*models.Feedback, error)
	Regrade(ctx context.Context, actor Actor, id string) (*models.Submission, error)
	OverrideFeedback(ctx context.Context, actor Actor, submissionID string, req *models.OverrideFeedbackRequest) (*models.Feedback, error)
	Delete(ctx context.Context, actor Actor, id string) error
	AttachmentURL(ctx context.Context, actor Actor, submissionID, key string) (*models.AttachmentURLResponse, error)
}

type submissionService struct {
	access
	submissionRepo   repository.SubmissionRepository
	assignmentRepo   repository.AssignmentRepository
	feedbackRepo     repository.FeedbackRepository
	complianceRepo   repository.ComplianceRepository
	store            storage.AttachmentStore
	jobs             queue.JobPublisher
	auditor          Auditor
	requireAIConsent bool
	logger           zerolog.Logger
}

func NewSubmissionService(
	submissionRepo repository.SubmissionRepository,
	assignmentRepo repository.AssignmentRepository,
	courseRepo repository.CourseRepository,
	feedbackRepo repository.FeedbackRepository,
	complianceRepo repository.ComplianceRepository,
	store storage.AttachmentStore,
	jobs queue.JobPublisher,
	auditor Auditor,
	requireAIConsent bool,
	logger zerolog.Logger,
) SubmissionService {
	return &submissionService{
		access:           access{courses: courseRepo},
		submissionRepo:   submissionRepo,
		assignmentRepo:   assignmentRepo,
		feedbackRepo:     feedbackRepo,
		complianceRepo:   complianceRepo,
		store:            store,
		jobs:             jobs,
		auditor:          auditor,
		requireAIConsent: requireAIConsent,
		logger:           logger,
	}
}

func (s *submissionService) assignment(ctx context.Context, id string) (*models.Assignment, error) {
	assignment, err := s.assignmentRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	if assignment == nil {
		return nil, ErrAssignmentNotFound
	}
	return assignment, nil
}

// submissionFor loads a submission the actor may see and reports whether the
// actor manages its course.
func (s *submissionService) submissionFor(ctx context.Context, actor Actor, id string) (*models.Submission, bool, error) {
	sub, err := s.submissionRepo.GetByID(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get submission: %w", err)
	}
	if sub == nil {
		return nil, false, ErrSubmissionNotFound
	}

	assignment, err := s.assignment(ctx, sub.AssignmentID)
	if err != nil {
		return nil, false, err
	}
	course, err := s.course(ctx, assignment.CourseID)
	if err != nil {
		return nil, false, err
	}

	if canManage(actor, course) {
		return sub, true, nil
	}
	if sub.StudentID == actor.UserID {
		return sub, false, nil
	}
	// Чужие работы не раскрываем
	return nil, false, ErrSubmissionNotFound
}

func validateFiles(files []models.FileUpload) error {
	if len(files) > maxAttachments {
		return invalid("at most %d files per submission", maxAttachments)
	}
	for _, f := range files {
		if len(f.Data) == 0 {
			return invalid("file %q is empty", f.Name)
		}
		mt, _, err := mime.ParseMediaType(f.MIMEType)
		if err != nil || !isAllowedAttachment(mt) {
			return invalid("file %q has unsupported type %q", f.Name, f.MIMEType)
		}
	}
	return nil
}

// contentHash identifies the graded material: text plus every file body.
func contentHash(content string, files []models.FileUpload) string {
	parts := make([]string, 0, len(files)+1)
	parts = append(parts, content)
	for _, f := range files {
		sum := sha256.Sum256(f.Data)
		parts = append(parts, f.Name, hex.EncodeToString(sum[:]))
	}
	return cache.Key(parts...)
}

func (s *submissionService) checkConsent(ctx context.Context, userID string) error {
	if !s.requireAIConsent {
		return nil
	}
	consent, err := s.complianceRepo.LatestConsent(ctx, userID, models.ConsentAIProcessing)
	if err != nil {
		return fmt.Errorf("failed to check consent: %w", err)
	}
	if consent == nil || !consent.Granted {
		return ErrConsentRequired
	}
	return nil
}

func (s *submissionService) Submit(ctx context.Context, actor Actor, assignmentID string, req *models.SubmitRequest) (*models.Submission, error) {
	if !actor.IsStudent() {
		return nil, fmt.Errorf("%w: only students submit work", ErrForbidden)
	}

	assignment, err := s.assignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	course, err := s.courseForView(ctx, actor, assignment.CourseID)
	if err != nil {
		return nil, err
	}
	if course.IsArchived {
		return nil, ErrCourseClosed
	}

	content := strings.TrimSpace(req.Content)
	if content == "" && len(req.Files) == 0 {
		return nil, ErrEmptyWork
	}
	if err := validateFiles(req.Files); err != nil {
		return nil, err
	}

	now := time.Now()
	late := assignment.IsPastDue(now)
	if late && !assignment.AllowLate {
		return nil, ErrPastDue
	}

	if err := s.checkConsent(ctx, actor.UserID); err != nil {
		return nil, err
	}

	existing, err := s.submissionRepo.GetByStudentAndAssignment(ctx, actor.UserID, assignment.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check previous submission: %w", err)
	}
	if existing != nil {
		if !assignment.AllowResubmission {
			return nil, ErrAlreadySubmitted
		}
		if existing.Status == models.SubmissionProcessing {
			return nil, ErrInvalidTransition
		}
	}

	sub := &models.Submission{
		ID:           uuid.New().String(),
		AssignmentID: assignment.ID,
		StudentID:    actor.UserID,
		Content:      content,
		ContentHash:  contentHash(content, req.Files),
		Status:       models.SubmissionPending,
		IsLate:       late,
		SubmittedAt:  now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if existing != nil {
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
	}

	// Сначала файлы, потом запись в БД
	for _, f := range req.Files {
		key := storage.ObjectKey(sub.ID, f.Name, now)
		if err := s.store.Upload(ctx, key, f.MIMEType, f.Data); err != nil {
			s.removeAttachments(sub.Attachments)
			return nil, fmt.Errorf("%w: failed to store attachment: %v", ErrUpstream, err)
		}
		sub.Attachments = append(sub.Attachments, models.Attachment{
			Key:      key,
			Name:     f.Name,
			MIMEType: f.MIMEType,
			Size:     int64(len(f.Data)),
		})
	}

	if existing == nil {
		err = s.submissionRepo.Create(ctx, sub)
	} else {
		err = s.submissionRepo.Resubmit(ctx, sub)
	}
	if err != nil {
		s.removeAttachments(sub.Attachments)
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrAlreadySubmitted
		}
		return nil, translate(err, ErrSubmissionNotFound)
	}

	if existing != nil {
		s.removeAttachments(existing.Attachments)
	}

	eventType := models.EventSubmissionCreated
	if existing != nil {
		eventType = models.EventSubmissionRegrade
	}
	if err := s.enqueue(ctx, eventType, sub); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("submission_id", sub.ID).
		Str("assignment_id", assignment.ID).
		Str("student_id", actor.UserID).
		Int("attachments", len(sub.Attachments)).
		Bool("late", late).
		Bool("resubmission", existing != nil).
		Msg("Submission accepted")

	return sub, nil
}

// enqueue publishes a grading job. A job that cannot be queued leaves the
// submission failed so that it can be regraded later.
func (s *submissionService) enqueue(ctx context.Context, eventType string, sub *models.Submission) error {
	err := s.jobs.PublishJob(ctx, models.NewSubmissionJobEvent(eventType, sub))
	if err == nil {
		return nil
	}

	s.logger.Error().Err(err).Str("submission_id", sub.ID).Msg("Failed to queue grading job")
	if ferr := s.submissionRepo.MarkFailed(context.WithoutCancel(ctx), sub.ID, "", "grading queue unavailable"); ferr != nil {
		s.logger.Error().Err(ferr).Str("submission_id", sub.ID).Msg("Failed to mark submission failed")
	}
	return fmt.Errorf("%w: grading queue unavailable", ErrUpstream)
}

func (s *submissionService) removeAttachments(atts models.Attachments) {
	if len(atts) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, a := range atts {
		if err := s.store.Delete(ctx, a.Key); err != nil {
			s.logger.Warn().Err(err).Str("key", a.Key).Msg("Failed to delete attachment")
		}
	}
}

func (s *submissionService) Get(ctx context.Context, actor Actor, id string) (*models.SubmissionResponse, error) {
	sub, manager, err := s.submissionFor(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	resp := &models.SubmissionResponse{Submission: *sub}
	if !manager {
		resp.Submission = sub.StudentView()
	}

	if sub.Status == models.SubmissionCompleted {
		fb, err := s.feedbackRepo.GetBySubmissionID(ctx, sub.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get feedback: %w", err)
		}
		if fb != nil {
			view := fb.StudentView()
			resp.Feedback = &view
		}
	}

	return resp, nil
}

func (s *submissionService) ListByAssignment(ctx context.Context, actor Actor, assignmentID, status string, p models.Pagination) (*models.ListResponse[models.SubmissionWithDetails], error) {
	if status != "" && !models.IsValidSubmissionStatus(status) {
		return nil, invalid("unknown status %q", status)
	}

	assignment, err := s.assignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if _, err := s.courseForManage(ctx, actor, assignment.CourseID); err != nil {
		return nil, err
	}

	items, total, err := s.submissionRepo.ListByAssignment(ctx, assignmentID, status, p.Limit, p.Offset())
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}

	resp := models.NewListResponse(items, total, p)
	return &resp, nil
}

func (s *submissionService) ListMine(ctx context.Context, actor Actor, p models.Pagination) (*models.ListResponse[models.SubmissionWithDetails], error) {
	items, total, err := s.submissionRepo.ListByStudent(ctx, actor.UserID, p.Limit, p.Offset())
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}

	for i := range items {
		items[i].Submission = items[i].Submission.StudentView()
	}

	resp := models.NewListResponse(items, total, p)
	return &resp, nil
}

func (s *submissionService) GetFeedback(ctx context.Context, actor Actor, submissionID string) (*models.Feedback, error) {
	sub, manager, err := s.submissionFor(ctx, actor, submissionID)
	if err != nil {
		return nil, err
	}

	fb, err := s.feedbackRepo.GetBySubmissionID(ctx, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get feedback: %w", err)
	}
	if fb == nil {
		return nil, ErrFeedbackNotFound
	}

	if !manager {
		fb.RawResponse = ""
	}
	return fb, nil
}

func (s *submissionService) Regrade(ctx context.Context, actor Actor, id string) (*models.Submission, error) {
	sub, manager, err := s.submissionFor(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !manager {
		return nil, ErrForbidden
	}

	if err := s.submissionRepo.ResetForRegrade(ctx, sub.ID); err != nil {
		return nil, translate(err, ErrSubmissionNotFound)
	}
	sub.Status = models.SubmissionPending
	sub.Attempts = 0
	sub.ErrorMessage = ""
	sub.RawResponse = ""

	if err := s.enqueue(ctx, models.EventSubmissionRegrade, sub); err != nil {
		return nil, err
	}

	s.logger.Info().Str("submission_id", sub.ID).Str("by", actor.UserID).Msg("Regrade queued")
	return sub, nil
}

func (s *submissionService) OverrideFeedback(ctx context.Context, actor Actor, submissionID string, req *models.OverrideFeedbackRequest) (*models.Feedback, error) {
	sub, manager, err := s.submissionFor(ctx, actor, submissionID)
	if err != nil {
		return nil, err
	}
	if !manager {
		return nil, ErrForbidden
	}
	if req.Score == nil {
		return nil, invalid("score is required")
	}
	score := *req.Score
	if score < 0 || score > 100 {
		return nil, invalid("score must be between 0 and 100")
	}

	before, err := s.feedbackRepo.GetBySubmissionID(ctx, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get feedback: %w", err)
	}
	if before == nil {
		return nil, ErrFeedbackNotFound
	}

	comment := strings.TrimSpace(req.Comment)
	if err := s.feedbackRepo.Override(ctx, sub.ID, score, comment, actor.UserID); err != nil {
		return nil, translate(err, ErrFeedbackNotFound)
	}

	s.auditor.Record(ctx, actor, models.AuditFeedbackOverride, "submission", sub.ID, map[string]any{
		"ai_score":       before.Score,
		"previous_score": before.FinalScore(),
		"new_score":      score,
	})

	now := time.Now()
	before.InstructorScore = &score
	before.InstructorComment = comment
	before.OverriddenBy = actor.actorID()
	before.OverriddenAt = &now
	before.UpdatedAt = now
	return before, nil
}

func (s *submissionService) Delete(ctx context.Context, actor Actor, id string) error {
	sub, manager, err := s.submissionFor(ctx, actor, id)
	if err != nil {
		return err
	}
	// Студент может отозвать работу, пока её не оценили
	if !manager && sub.Status != models.SubmissionPending && sub.Status != models.SubmissionFailed {
		return ErrInvalidTransition
	}

	if err := s.submissionRepo.Delete(ctx, sub.ID); err != nil {
		return translate(err, ErrSubmissionNotFound)
	}
	s.removeAttachments(sub.Attachments)

	s.auditor.Record(ctx, actor, models.AuditSubmissionDeleted, "submission", sub.ID, map[string]any{
		"assignment_id": sub.AssignmentID,
		"student_id":    sub.StudentID,
	})
	return nil
}

func (s *submissionService) AttachmentURL(ctx context.Context, actor Actor, submissionID, key string) (*models.AttachmentURLResponse, error) {
	sub, _, err := s.submissionFor(ctx, actor, submissionID)
	if err != nil {
		return nil, err
	}

	var found *models.Attachment
	for i := range sub.Attachments {
		if sub.Attachments[i].Key == key {
			found = &sub.Attachments[i]
			break
		}
	}
	if found == nil {
		return nil, ErrAttachmentNotFound
	}

	url, expires, err := s.store.PresignedURL(ctx, found.Key, found.Name)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, ErrAttachmentNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	return &models.AttachmentURLResponse{URL: url, ExpiresAt: expires}, nil
}
