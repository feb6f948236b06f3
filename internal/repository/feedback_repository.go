package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/models"
)

type FeedbackRepository interface {
	Upsert(ctx context.Context, feedback *models.Feedback) error
	GetBySubmissionID(ctx context.Context, submissionID string) (*models.Feedback, error)
	Override(ctx context.Context, submissionID string, score float64, comment, overriddenBy string) error
	ListByAssignment(ctx context.Context, assignmentID string) ([]models.GradebookRow, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Feedback, error)
}

type feedbackRepository struct {
	*PostgresRepository
}

func NewFeedbackRepository(db *sql.DB, logger zerolog.Logger) FeedbackRepository {
	return &feedbackRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

const feedbackColumns = `
	id, submission_id, strengths, improvements, suggestions, summary, score::float8, criteria_scores,
	raw_response, prompt_tokens, output_tokens, token_count, provider, model, parse_strategy,
	retried, score_derived, instructor_score::float8, instructor_comment, overridden_by, overridden_at,
	created_at, updated_at`

func scanFeedback(row interface{ Scan(...any) error }, f *models.Feedback) error {
	return row.Scan(
		&f.ID,
		&f.SubmissionID,
		pq.Array(&f.Strengths),
		pq.Array(&f.Improvements),
		pq.Array(&f.Suggestions),
		&f.Summary,
		&f.Score,
		&f.CriteriaScores,
		&f.RawResponse,
		&f.PromptTokens,
		&f.OutputTokens,
		&f.TokenCount,
		&f.Provider,
		&f.Model,
		&f.ParseStrategy,
		&f.Retried,
		&f.ScoreDerived,
		&f.InstructorScore,
		&f.InstructorComment,
		&f.OverriddenBy,
		&f.OverriddenAt,
		&f.CreatedAt,
		&f.UpdatedAt,
	)
}

// Upsert replaces AI output for a submission. Instructor overrides survive a regrade.
func (r *feedbackRepository) Upsert(ctx context.Context, f *models.Feedback) error {
	query := `
		INSERT INTO feedback (
			id, submission_id, strengths, improvements, suggestions, summary, score, criteria_scores,
			raw_response, prompt_tokens, output_tokens, token_count, provider, model, parse_strategy,
			retried, score_derived, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $18)
		ON CONFLICT (submission_id) DO UPDATE SET
			strengths = EXCLUDED.strengths,
			improvements = EXCLUDED.improvements,
			suggestions = EXCLUDED.suggestions,
			summary = EXCLUDED.summary,
			score = EXCLUDED.score,
			criteria_scores = EXCLUDED.criteria_scores,
			raw_response = EXCLUDED.raw_response,
			prompt_tokens = EXCLUDED.prompt_tokens,
			output_tokens = EXCLUDED.output_tokens,
			token_count = EXCLUDED.token_count,
			provider = EXCLUDED.provider,
			model = EXCLUDED.model,
			parse_strategy = EXCLUDED.parse_strategy,
			retried = EXCLUDED.retried,
			score_derived = EXCLUDED.score_derived,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`

	now := time.Now()
	return r.db.QueryRowContext(ctx, query,
		f.ID,
		f.SubmissionID,
		pq.Array(nonNil(f.Strengths)),
		pq.Array(nonNil(f.Improvements)),
		pq.Array(nonNil(f.Suggestions)),
		f.Summary,
		f.Score,
		f.CriteriaScores,
		f.RawResponse,
		f.PromptTokens,
		f.OutputTokens,
		f.TokenCount,
		f.Provider,
		f.Model,
		f.ParseStrategy,
		f.Retried,
		f.ScoreDerived,
		now,
	).Scan(&f.ID)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (r *feedbackRepository) GetBySubmissionID(ctx context.Context, submissionID string) (*models.Feedback, error) {
	query := `SELECT ` + feedbackColumns + ` FROM feedback WHERE submission_id = $1`

	f := &models.Feedback{}
	err := scanFeedback(r.db.QueryRowContext(ctx, query, submissionID), f)
	if err == sql.ErrNoRows {
		return nil, nil
	}

	return f, err
}

func (r *feedbackRepository) Override(ctx context.Context, submissionID string, score float64, comment, overriddenBy string) error {
	query := `
		UPDATE feedback
		SET instructor_score = $2, instructor_comment = $3, overridden_by = $4, overridden_at = NOW(), updated_at = NOW()
		WHERE submission_id = $1
	`

	res, err := r.db.ExecContext(ctx, query, submissionID, score, comment, overriddenBy)
	if err != nil {
		return err
	}

	return expectRows(res)
}

// ListByAssignment returns one row per enrolled student, submitted or not.
func (r *feedbackRepository) ListByAssignment(ctx context.Context, assignmentID string) ([]models.GradebookRow, error) {
	query := `
		SELECT
			COALESCE(s.id::text, ''), u.id, u.name, u.email,
			COALESCE(s.status, ''), COALESCE(s.is_late, FALSE),
			f.score::float8, f.instructor_score::float8,
			COALESCE(s.submitted_at, 'epoch'::timestamptz)
		FROM assignments a
		JOIN enrollments e ON e.course_id = a.course_id
		JOIN users u ON u.id = e.student_id
		LEFT JOIN submissions s ON s.assignment_id = a.id AND s.student_id = u.id
		LEFT JOIN feedback f ON f.submission_id = s.id
		WHERE a.id = $1
		ORDER BY u.name, u.email
	`

	rows, err := r.db.QueryContext(ctx, query, assignmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var gradebook []models.GradebookRow
	for rows.Next() {
		var g models.GradebookRow
		err := rows.Scan(
			&g.SubmissionID,
			&g.StudentID,
			&g.StudentName,
			&g.StudentEmail,
			&g.Status,
			&g.IsLate,
			&g.AIScore,
			&g.InstructorScore,
			&g.SubmittedAt,
		)
		if err != nil {
			return nil, err
		}
		gradebook = append(gradebook, g)
	}

	return gradebook, rows.Err()
}

func (r *feedbackRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Feedback, error) {
	query := `SELECT ` + feedbackColumns + ` FROM feedback
		WHERE submission_id IN (SELECT id FROM submissions WHERE student_id = $1)
		ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Feedback
	for rows.Next() {
		var f models.Feedback
		if err := scanFeedback(rows, &f); err != nil {
			return nil, err
		}
		list = append(list, f)
	}

	return list, rows.Err()
}
