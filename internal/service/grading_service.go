package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/ai/grader"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/ai/normalizer"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/ai/provider"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/cache"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/models"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/repository"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/storage"
)

// ResultCache is the subset of cache.ResponseCache used by grading.
type ResultCache interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
}

type GradingService interface {
	// ProcessSubmission grades one submission end to end. Errors for which
	// IsPermanent is true must not be retried.
	ProcessSubmission(ctx context.Context, submissionID string) error
	MarkFailed(ctx context.Context, submissionID, reason string) error
}

type gradingService struct {
	submissionRepo repository.SubmissionRepository
	assignmentRepo repository.AssignmentRepository
	feedbackRepo   repository.FeedbackRepository
	store          storage.AttachmentStore
	grader         grader.Grader
	cache          ResultCache
	model          string
	logger         zerolog.Logger
}

// NewGradingService builds the grading pipeline. cache may be nil.
func NewGradingService(
	submissionRepo repository.SubmissionRepository,
	assignmentRepo repository.AssignmentRepository,
	feedbackRepo repository.FeedbackRepository,
	store storage.AttachmentStore,
	g grader.Grader,
	resultCache ResultCache,
	model string,
	logger zerolog.Logger,
) GradingService {
	return &gradingService{
		submissionRepo: submissionRepo,
		assignmentRepo: assignmentRepo,
		feedbackRepo:   feedbackRepo,
		store:          store,
		grader:         g,
		cache:          resultCache,
		model:          model,
		logger:         logger,
	}
}

// IsPermanent reports whether retrying the job cannot change the outcome.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrGradingFailed) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidInput)
}

func (s *gradingService) ProcessSubmission(ctx context.Context, submissionID string) error {
	startTime := time.Now()
	log := s.logger.With().Str("submission_id", submissionID).Logger()

	sub, err := s.submissionRepo.GetByID(ctx, submissionID)
	if err != nil {
		return fmt.Errorf("failed to get submission: %w", err)
	}
	if sub == nil {
		return ErrSubmissionNotFound
	}

	switch sub.Status {
	case models.SubmissionCompleted, models.SubmissionFailed:
		log.Info().Str("status", sub.Status.String()).Msg("Submission already finished, skipping")
		return nil
	case models.SubmissionPending:
		if err := s.submissionRepo.UpdateStatus(ctx, sub.ID, models.SubmissionProcessing); err != nil {
			if errors.Is(err, repository.ErrInvalidTransition) {
				// Другой воркер успел забрать работу
				log.Info().Msg("Submission picked up elsewhere, skipping")
				return nil
			}
			return translate(err, ErrSubmissionNotFound)
		}
	case models.SubmissionProcessing:
		// Повторная доставка после падения воркера
		log.Warn().Msg("Submission was left in processing, resuming")
	}

	attempts, err := s.submissionRepo.IncrementAttempts(ctx, sub.ID)
	if err != nil {
		return s.requeue(ctx, sub.ID, fmt.Errorf("failed to count attempt: %w", err))
	}

	assignment, err := s.assignmentRepo.GetByID(ctx, sub.AssignmentID)
	if err != nil {
		return s.requeue(ctx, sub.ID, fmt.Errorf("failed to get assignment: %w", err))
	}
	if assignment == nil {
		s.fail(ctx, sub.ID, "", "assignment no longer exists")
		return ErrAssignmentNotFound
	}

	key := cache.Key(s.model, sub.ContentHash, assignment.ID, strconv.FormatInt(assignment.UpdatedAt.UnixNano(), 10))
	result := s.cached(key, log)

	if result == nil {
		input, err := s.buildInput(ctx, sub, assignment)
		if err != nil {
			if errors.Is(err, ErrAttachmentNotFound) {
				s.fail(ctx, sub.ID, "", err.Error())
				return fmt.Errorf("%w: %v", ErrGradingFailed, err)
			}
			return s.requeue(ctx, sub.ID, err)
		}

		result, err = s.grader.Grade(ctx, *input)
		if err != nil {
			return s.gradeFailed(ctx, sub.ID, err, log)
		}
		s.remember(key, result, log)
	}

	fb := feedbackFromResult(sub.ID, result)
	if err := s.feedbackRepo.Upsert(ctx, fb); err != nil {
		return s.requeue(ctx, sub.ID, fmt.Errorf("failed to save feedback: %w", err))
	}

	if err := s.submissionRepo.UpdateStatus(ctx, sub.ID, models.SubmissionCompleted); err != nil {
		return translate(err, ErrSubmissionNotFound)
	}

	log.Info().
		Int("attempt", attempts).
		Str("strategy", result.Strategy).
		Float64("score", result.Feedback.Score).
		Int("tokens", result.Usage.TotalTokens).
		Int64("processing_time_ms", time.Since(startTime).Milliseconds()).
		Msg("Submission graded successfully")

	return nil
}

func (s *gradingService) buildInput(ctx context.Context, sub *models.Submission, a *models.Assignment) (*grader.Input, error) {
	input := &grader.Input{
		SubmissionID:      sub.ID,
		Title:             a.Title,
		Description:       a.Description,
		InstructorContext: a.InstructorContext,
		Content:           sub.Content,
	}

	for _, c := range a.Rubric.Criteria {
		input.Criteria = append(input.Criteria, grader.Criterion{
			Name:        c.Name,
			Description: c.Description,
			MaxScore:    c.MaxScore,
			Weight:      c.Weight,
		})
	}

	for _, att := range sub.Attachments {
		data, err := s.store.Download(ctx, att.Key)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrAttachmentNotFound, att.Name)
			}
			return nil, fmt.Errorf("failed to download attachment %s: %w", att.Key, err)
		}
		input.Attachments = append(input.Attachments, grader.Attachment{
			Name:     att.Name,
			MIMEType: att.MIMEType,
			Data:     data,
		})
	}

	return input, nil
}

// gradeFailed sorts grader errors into permanent failures and retries.
func (s *gradingService) gradeFailed(ctx context.Context, id string, err error, log zerolog.Logger) error {
	var parseErr *normalizer.ParseError
	switch {
	case errors.As(err, &parseErr):
		log.Error().Err(err).Int("raw_len", len(parseErr.Raw)).Msg("AI response unparseable, marking failed")
		s.fail(ctx, id, parseErr.Raw, "AI response could not be parsed")
		return fmt.Errorf("%w: %v", ErrGradingFailed, err)

	case errors.Is(err, grader.ErrBlocked), errors.Is(err, provider.ErrRefused):
		log.Warn().Err(err).Msg("AI provider declined to grade")
		s.fail(ctx, id, "", err.Error())
		return fmt.Errorf("%w: %v", ErrGradingFailed, err)

	case provider.IsRetryable(err):
		return s.requeue(ctx, id, fmt.Errorf("%w: %v", ErrUpstream, err))

	case ctx.Err() != nil, errors.Is(err, context.DeadlineExceeded):
		// Таймаут задачи или остановка воркера
		return s.requeue(ctx, id, err)

	default:
		log.Error().Err(err).Msg("AI grading failed")
		s.fail(ctx, id, "", err.Error())
		return fmt.Errorf("%w: %v", ErrGradingFailed, err)
	}
}

// requeue puts the submission back to pending so the next delivery can claim it.
func (s *gradingService) requeue(ctx context.Context, id string, cause error) error {
	if err := s.submissionRepo.UpdateStatus(context.WithoutCancel(ctx), id, models.SubmissionPending); err != nil {
		s.logger.Error().Err(err).Str("submission_id", id).Msg("Failed to return submission to pending")
	}
	return cause
}

func (s *gradingService) fail(ctx context.Context, id, raw, message string) {
	if err := s.submissionRepo.MarkFailed(context.WithoutCancel(ctx), id, raw, message); err != nil {
		s.logger.Error().Err(err).Str("submission_id", id).Msg("Failed to mark submission failed")
	}
}

func (s *gradingService) MarkFailed(ctx context.Context, submissionID, reason string) error {
	if err := s.submissionRepo.MarkFailed(ctx, submissionID, "", reason); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			return nil
		}
		return translate(err, ErrSubmissionNotFound)
	}
	s.logger.Warn().Str("submission_id", submissionID).Str("reason", reason).Msg("Submission marked failed")
	return nil
}

func (s *gradingService) cached(key string, log zerolog.Logger) *grader.Result {
	if s.cache == nil {
		return nil
	}
	data, ok, err := s.cache.Get(key)
	if err != nil {
		log.Warn().Err(err).Msg("Response cache read failed")
		return nil
	}
	if !ok {
		return nil
	}

	var result grader.Result
	if err := json.Unmarshal(data, &result); err != nil {
		log.Warn().Err(err).Msg("Dropping unreadable cache entry")
		return nil
	}
	log.Info().Msg("Using cached AI result")
	return &result
}

func (s *gradingService) remember(key string, result *grader.Result, log zerolog.Logger) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to encode AI result for cache")
		return
	}
	if err := s.cache.Put(key, data); err != nil {
		log.Warn().Err(err).Msg("Response cache write failed")
	}
}

func feedbackFromResult(submissionID string, r *grader.Result) *models.Feedback {
	now := time.Now()
	fb := &models.Feedback{
		ID:            uuid.New().String(),
		SubmissionID:  submissionID,
		Strengths:     r.Feedback.Strengths,
		Improvements:  r.Feedback.Improvements,
		Suggestions:   r.Feedback.Suggestions,
		Summary:       r.Feedback.Summary,
		Score:         r.Feedback.Score,
		RawResponse:   r.Raw,
		PromptTokens:  r.Usage.PromptTokens,
		OutputTokens:  r.Usage.OutputTokens,
		TokenCount:    r.Usage.TotalTokens,
		Provider:      r.Provider,
		Model:         r.Model,
		ParseStrategy: r.Strategy,
		Retried:       r.Retried,
		ScoreDerived:  r.ScoreDerived,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	for _, c := range r.Feedback.CriteriaScores {
		fb.CriteriaScores = append(fb.CriteriaScores, models.CriterionScore{
			Criterion: c.Criterion,
			Score:     c.Score,
			MaxScore:  c.MaxScore,
			Comment:   c.Comment,
		})
	}

	return fb
}
