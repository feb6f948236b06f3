package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/models"
)

type SubmissionRepository interface {
	Create(ctx context.Context, submission *models.Submission) error
	GetByID(ctx context.Context, id string) (*models.Submission, error)
	GetByStudentAndAssignment(ctx context.Context, studentID, assignmentID string) (*models.Submission, error)
	ListByAssignment(ctx context.Context, assignmentID, status string, limit, offset int) ([]models.SubmissionWithDetails, int, error)
	ListByStudent(ctx context.Context, studentID string, limit, offset int) ([]models.SubmissionWithDetails, int, error)
	ListAllByStudent(ctx context.Context, studentID string) ([]models.Submission, error)
	ListIDsByAssignment(ctx context.Context, assignmentID string, statuses []models.SubmissionStatus, limit, offset int) ([]string, error)
	UpdateStatus(ctx context.Context, id string, next models.SubmissionStatus) error
	MarkFailed(ctx context.Context, id, rawResponse, message string) error
	IncrementAttempts(ctx context.Context, id string) (int, error)
	ResetForRegrade(ctx context.Context, id string) error
	Resubmit(ctx context.Context, submission *models.Submission) error
	ScrubContentForUser(ctx context.Context, studentID string) (int64, error)
	Delete(ctx context.Context, id string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]models.Attachments, error)
}

type submissionRepository struct {
	*PostgresRepository
}

func NewSubmissionRepository(db *sql.DB, logger zerolog.Logger) SubmissionRepository {
	return &submissionRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

const submissionColumns = `
	s.id, s.assignment_id, s.student_id, s.content, s.attachments, s.content_hash, s.status,
	s.attempts, s.is_late, s.error_message, s.raw_response, s.submitted_at, s.started_at,
	s.completed_at, s.created_at, s.updated_at`

func scanSubmission(row interface{ Scan(...any) error }, s *models.Submission, extra ...any) error {
	dest := []any{
		&s.ID,
		&s.AssignmentID,
		&s.StudentID,
		&s.Content,
		&s.Attachments,
		&s.ContentHash,
		&s.Status,
		&s.Attempts,
		&s.IsLate,
		&s.ErrorMessage,
		&s.RawResponse,
		&s.SubmittedAt,
		&s.StartedAt,
		&s.CompletedAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	}
	return row.Scan(append(dest, extra...)...)
}

func (r *submissionRepository) Create(ctx context.Context, s *models.Submission) error {
	query := `
		INSERT INTO submissions (
			id, assignment_id, student_id, content, attachments, content_hash, status,
			attempts, is_late, submitted_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.ExecContext(ctx, query,
		s.ID,
		s.AssignmentID,
		s.StudentID,
		s.Content,
		s.Attachments,
		s.ContentHash,
		s.Status,
		s.Attempts,
		s.IsLate,
		s.SubmittedAt,
		s.CreatedAt,
		s.UpdatedAt,
	)

	return mapError(err)
}

func (r *submissionRepository) GetByID(ctx context.Context, id string) (*models.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions s WHERE s.id = $1`

	s := &models.Submission{}
	err := scanSubmission(r.db.QueryRowContext(ctx, query, id), s)
	if err == sql.ErrNoRows {
		return nil, nil
	}

	return s, err
}

func (r *submissionRepository) GetByStudentAndAssignment(ctx context.Context, studentID, assignmentID string) (*models.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions s WHERE s.student_id = $1 AND s.assignment_id = $2`

	s := &models.Submission{}
	err := scanSubmission(r.db.QueryRowContext(ctx, query, studentID, assignmentID), s)
	if err == sql.ErrNoRows {
		return nil, nil
	}

	return s, err
}

const submissionDetailsFrom = `
	FROM submissions s
	JOIN users u ON u.id = s.student_id
	JOIN assignments a ON a.id = s.assignment_id
	LEFT JOIN feedback f ON f.submission_id = s.id
`

func (r *submissionRepository) listDetails(ctx context.Context, where string, args []any, limit, offset int) ([]models.SubmissionWithDetails, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions s `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT %s, u.name, u.email, a.title, COALESCE(f.instructor_score, f.score)::float8
		%s
		%s
		ORDER BY s.submitted_at DESC
		LIMIT $%d OFFSET $%d`,
		submissionColumns, submissionDetailsFrom, where, len(args)+1, len(args)+2)

	rows, err := r.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var submissions []models.SubmissionWithDetails
	for rows.Next() {
		var s models.SubmissionWithDetails
		if err := scanSubmission(rows, &s.Submission, &s.StudentName, &s.StudentEmail, &s.AssignmentTitle, &s.Score); err != nil {
			return nil, 0, err
		}
		submissions = append(submissions, s)
	}

	return submissions, total, rows.Err()
}

func (r *submissionRepository) ListByAssignment(ctx context.Context, assignmentID, status string, limit, offset int) ([]models.SubmissionWithDetails, int, error) {
	where := `WHERE s.assignment_id = $1`
	args := []any{assignmentID}
	if status != "" {
		where += ` AND s.status = $2`
		args = append(args, status)
	}

	return r.listDetails(ctx, where, args, limit, offset)
}

func (r *submissionRepository) ListByStudent(ctx context.Context, studentID string, limit, offset int) ([]models.SubmissionWithDetails, int, error) {
	return r.listDetails(ctx, `WHERE s.student_id = $1`, []any{studentID}, limit, offset)
}

func (r *submissionRepository) ListAllByStudent(ctx context.Context, studentID string) ([]models.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions s WHERE s.student_id = $1 ORDER BY s.submitted_at`

	rows, err := r.db.QueryContext(ctx, query, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var submissions []models.Submission
	for rows.Next() {
		var s models.Submission
		if err := scanSubmission(rows, &s); err != nil {
			return nil, err
		}
		submissions = append(submissions, s)
	}

	return submissions, rows.Err()
}

func (r *submissionRepository) ListIDsByAssignment(ctx context.Context, assignmentID string, statuses []models.SubmissionStatus, limit, offset int) ([]string, error) {
	query := `SELECT id FROM submissions WHERE assignment_id = $1`
	args := []any{assignmentID}
	if len(statuses) > 0 {
		filter := make([]string, len(statuses))
		for i, s := range statuses {
			filter[i] = string(s)
		}
		query += ` AND status = ANY($2)`
		args = append(args, pq.Array(filter))
	}
	query += fmt.Sprintf(` ORDER BY submitted_at, id LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)

	rows, err := r.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func statusStrings(statuses []models.SubmissionStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// UpdateStatus applies next only if the current status allows it.
func (r *submissionRepository) UpdateStatus(ctx context.Context, id string, next models.SubmissionStatus) error {
	query := `
		UPDATE submissions
		SET status = $2,
			started_at = CASE WHEN $2 = 'processing' THEN NOW() ELSE started_at END,
			completed_at = CASE WHEN $2 = 'completed' THEN NOW() ELSE completed_at END,
			error_message = CASE WHEN $2 = 'completed' THEN '' ELSE error_message END,
			raw_response = CASE WHEN $2 = 'completed' THEN '' ELSE raw_response END,
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`

	res, err := r.db.ExecContext(ctx, query, id, string(next), pq.Array(statusStrings(models.AllowedPredecessors(next))))
	if err != nil {
		return err
	}

	return r.transitionResult(ctx, res, id)
}

func (r *submissionRepository) MarkFailed(ctx context.Context, id, rawResponse, message string) error {
	query := `
		UPDATE submissions
		SET status = 'failed', raw_response = $2, error_message = $3, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = ANY($4)
	`

	res, err := r.db.ExecContext(ctx, query, id, rawResponse, message,
		pq.Array(statusStrings(models.AllowedPredecessors(models.SubmissionFailed))))
	if err != nil {
		return err
	}

	return r.transitionResult(ctx, res, id)
}

func (r *submissionRepository) transitionResult(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM submissions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return sql.ErrNoRows
	}
	return ErrInvalidTransition
}

func (r *submissionRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := r.db.QueryRowContext(ctx,
		`UPDATE submissions SET attempts = attempts + 1, updated_at = NOW() WHERE id = $1 RETURNING attempts`,
		id).Scan(&attempts)

	return attempts, err
}

func (r *submissionRepository) ResetForRegrade(ctx context.Context, id string) error {
	query := `
		UPDATE submissions
		SET status = 'pending', attempts = 0, error_message = '', raw_response = '',
			started_at = NULL, completed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status IN ('completed', 'failed')
	`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}

	return r.transitionResult(ctx, res, id)
}

// Resubmit replaces the content of an existing submission and queues it again.
func (r *submissionRepository) Resubmit(ctx context.Context, s *models.Submission) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			UPDATE submissions
			SET content = $2, attachments = $3, content_hash = $4, is_late = $5,
				status = 'pending', attempts = 0, error_message = '', raw_response = '',
				submitted_at = $6, started_at = NULL, completed_at = NULL, updated_at = NOW()
			WHERE id = $1 AND status IN ('pending', 'completed', 'failed')
		`

		res, err := tx.ExecContext(ctx, query,
			s.ID,
			s.Content,
			s.Attachments,
			s.ContentHash,
			s.IsLate,
			s.SubmittedAt,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrInvalidTransition
		}

		// Старый отзыв больше не относится к работе
		_, err = tx.ExecContext(ctx, `DELETE FROM feedback WHERE submission_id = $1`, s.ID)
		return err
	})
}

func (r *submissionRepository) ScrubContentForUser(ctx context.Context, studentID string) (int64, error) {
	var scrubbed int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE submissions
			SET content = '', attachments = '[]', raw_response = '', error_message = '', updated_at = NOW()
			WHERE student_id = $1`, studentID)
		if err != nil {
			return err
		}
		if scrubbed, err = res.RowsAffected(); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE feedback SET raw_response = '', updated_at = NOW()
			WHERE submission_id IN (SELECT id FROM submissions WHERE student_id = $1)`, studentID)
		return err
	})

	return scrubbed, err
}

func (r *submissionRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM submissions WHERE id = $1`, id)
	if err != nil {
		return err
	}

	return expectRows(res)
}

// DeleteOlderThan removes submissions of archived courses and returns their attachments.
func (r *submissionRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]models.Attachments, error) {
	query := `
		DELETE FROM submissions s
		USING assignments a, courses c
		WHERE a.id = s.assignment_id
			AND c.id = a.course_id
			AND c.is_archived
			AND s.submitted_at < $1
		RETURNING s.attachments
	`

	rows, err := r.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var removed []models.Attachments
	for rows.Next() {
		var atts models.Attachments
		if err := rows.Scan(&atts); err != nil {
			return nil, err
		}
		removed = append(removed, atts)
	}

	return removed, rows.Err()
}
