package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/models"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/repository"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/worker/queue"
)

const defaultChunkSize = 100

type BatchService interface {
	BatchEnroll(ctx context.Context, actor Actor, courseID string, req *models.BatchEnrollRequest) (*models.BatchEnrollResult, error)
	BatchRegrade(ctx context.Context, actor Actor, assignmentID string, req *models.BatchRegradeRequest) (*models.BatchRegradeResult, error)
	ExportGradebook(ctx context.Context, actor Actor, assignmentID string) ([]byte, string, error)
}

type batchService struct {
	access
	userRepo       repository.UserRepository
	assignmentRepo repository.AssignmentRepository
	submissionRepo repository.SubmissionRepository
	feedbackRepo   repository.FeedbackRepository
	jobs           queue.JobPublisher
	chunkSize      int
	logger         zerolog.Logger
}

func NewBatchService(
	userRepo repository.UserRepository,
	courseRepo repository.CourseRepository,
	assignmentRepo repository.AssignmentRepository,
	submissionRepo repository.SubmissionRepository,
	feedbackRepo repository.FeedbackRepository,
	jobs queue.JobPublisher,
	chunkSize int,
	logger zerolog.Logger,
) BatchService {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &batchService{
		access:         access{courses: courseRepo},
		userRepo:       userRepo,
		assignmentRepo: assignmentRepo,
		submissionRepo: submissionRepo,
		feedbackRepo:   feedbackRepo,
		jobs:           jobs,
		chunkSize:      chunkSize,
		logger:         logger,
	}
}

// chunks splits items into consecutive slices of at most size elements.
func chunks[T any](items []T, size int) [][]T {
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}

func uniqueEmails(emails []string) []string {
	seen := make(map[string]struct{}, len(emails))
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

func (s *batchService) BatchEnroll(ctx context.Context, actor Actor, courseID string, req *models.BatchEnrollRequest) (*models.BatchEnrollResult, error) {
	course, err := s.courseForManage(ctx, actor, courseID)
	if err != nil {
		return nil, err
	}
	if course.IsArchived {
		return nil, ErrCourseClosed
	}

	result := &models.BatchEnrollResult{
		Enrolled:        []string{},
		AlreadyEnrolled: []string{},
		Unknown:         []string{},
		NotStudents:     []string{},
	}

	emails := uniqueEmails(req.Emails)
	for i, chunk := range chunks(emails, s.chunkSize) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		users, err := s.userRepo.GetByEmails(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("failed to look up users (chunk %d): %w", i+1, err)
		}
		byEmail := make(map[string]models.User, len(users))
		for _, u := range users {
			byEmail[strings.ToLower(u.Email)] = u
		}

		var ids []string
		emailByID := make(map[string]string)
		for _, email := range chunk {
			u, ok := byEmail[email]
			switch {
			case !ok:
				result.Unknown = append(result.Unknown, email)
			case u.Role != models.RoleStudent || !u.IsActive:
				result.NotStudents = append(result.NotStudents, email)
			default:
				ids = append(ids, u.ID)
				emailByID[u.ID] = email
			}
		}

		inserted, err := s.courses.EnrollMany(ctx, course.ID, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to enroll students (chunk %d): %w", i+1, err)
		}
		added := make(map[string]struct{}, len(inserted))
		for _, id := range inserted {
			added[id] = struct{}{}
		}
		for _, id := range ids {
			if _, ok := added[id]; ok {
				result.Enrolled = append(result.Enrolled, emailByID[id])
			} else {
				result.AlreadyEnrolled = append(result.AlreadyEnrolled, emailByID[id])
			}
		}
	}

	s.logger.Info().
		Str("course_id", course.ID).
		Int("requested", len(emails)).
		Int("enrolled", len(result.Enrolled)).
		Int("already_enrolled", len(result.AlreadyEnrolled)).
		Int("unknown", len(result.Unknown)).
		Int("not_students", len(result.NotStudents)).
		Msg("Batch enrollment finished")

	return result, nil
}

func (s *batchService) manageAssignment(ctx context.Context, actor Actor, assignmentID string) (*models.Assignment, error) {
	assignment, err := s.assignmentRepo.GetByID(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	if assignment == nil {
		return nil, ErrAssignmentNotFound
	}
	if _, err := s.courseForManage(ctx, actor, assignment.CourseID); err != nil {
		return nil, err
	}
	return assignment, nil
}

func (s *batchService) BatchRegrade(ctx context.Context, actor Actor, assignmentID string, req *models.BatchRegradeRequest) (*models.BatchRegradeResult, error) {
	assignment, err := s.manageAssignment(ctx, actor, assignmentID)
	if err != nil {
		return nil, err
	}

	statuses := []models.SubmissionStatus{models.SubmissionFailed}
	if len(req.Statuses) > 0 {
		statuses = statuses[:0]
		for _, st := range req.Statuses {
			if !models.IsValidSubmissionStatus(st) {
				return nil, invalid("unknown status %q", st)
			}
			statuses = append(statuses, models.SubmissionStatus(st))
		}
	}

	// Сначала собираем id: сброс статуса сдвигает выборку
	var ids []string
	for offset := 0; ; offset += s.chunkSize {
		page, err := s.submissionRepo.ListIDsByAssignment(ctx, assignment.ID, statuses, s.chunkSize, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to list submissions: %w", err)
		}
		ids = append(ids, page...)
		if len(page) < s.chunkSize {
			break
		}
	}

	result := &models.BatchRegradeResult{}
	for _, chunk := range chunks(ids, s.chunkSize) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		for _, id := range chunk {
			s.regradeOne(ctx, assignment.ID, id, result)
		}
	}

	s.logger.Info().
		Str("assignment_id", assignment.ID).
		Str("by", actor.UserID).
		Int("queued", result.Queued).
		Int("skipped", result.Skipped).
		Int("failed", len(result.Failed)).
		Msg("Batch regrade finished")

	return result, nil
}

func (s *batchService) regradeOne(ctx context.Context, assignmentID, id string, result *models.BatchRegradeResult) {
	if err := s.submissionRepo.ResetForRegrade(ctx, id); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			result.Skipped++
			return
		}
		s.logger.Error().Err(err).Str("submission_id", id).Msg("Failed to reset submission")
		result.Failed = append(result.Failed, id)
		return
	}

	sub := &models.Submission{ID: id, AssignmentID: assignmentID}
	if err := s.jobs.PublishJob(ctx, models.NewSubmissionJobEvent(models.EventSubmissionRegrade, sub)); err != nil {
		s.logger.Error().Err(err).Str("submission_id", id).Msg("Failed to queue regrade")
		if ferr := s.submissionRepo.MarkFailed(ctx, id, "", "grading queue unavailable"); ferr != nil {
			s.logger.Error().Err(ferr).Str("submission_id", id).Msg("Failed to mark submission failed")
		}
		result.Failed = append(result.Failed, id)
		return
	}
	result.Queued++
}

var gradebookHeader = []string{
	"student_id", "student_name", "student_email", "submission_id", "status",
	"is_late", "submitted_at", "ai_score", "instructor_score", "final_score",
}

// ExportGradebook renders one CSV row per enrolled student.
func (s *batchService) ExportGradebook(ctx context.Context, actor Actor, assignmentID string) ([]byte, string, error) {
	assignment, err := s.manageAssignment(ctx, actor, assignmentID)
	if err != nil {
		return nil, "", err
	}

	rows, err := s.feedbackRepo.ListByAssignment(ctx, assignment.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load gradebook: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(gradebookHeader); err != nil {
		return nil, "", err
	}

	for _, r := range rows {
		submittedAt := ""
		if r.SubmissionID != "" {
			submittedAt = r.SubmittedAt.UTC().Format(time.RFC3339)
		}
		record := []string{
			r.StudentID,
			r.StudentName,
			r.StudentEmail,
			r.SubmissionID,
			string(r.Status),
			strconv.FormatBool(r.IsLate),
			submittedAt,
			formatScore(r.AIScore),
			formatScore(r.InstructorScore),
			formatScore(r.FinalScore()),
		}
		if err := w.Write(record); err != nil {
			return nil, "", err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, "", fmt.Errorf("failed to write csv: %w", err)
	}

	filename := fmt.Sprintf("gradebook-%s-%s.csv", assignment.ID, time.Now().UTC().Format("20060102"))
	return buf.Bytes(), filename, nil
}

func formatScore(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}
