package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/models"
)

type AssignmentRepository interface {
	Create(ctx context.Context, assignment *models.Assignment) error
	GetByID(ctx context.Context, id string) (*models.Assignment, error)
	ListByCourse(ctx context.Context, courseID string, limit, offset int) ([]models.AssignmentWithStats, int, error)
	Update(ctx context.Context, assignment *models.Assignment) error
	Delete(ctx context.Context, id string) error
}

type assignmentRepository struct {
	*PostgresRepository
}

func NewAssignmentRepository(db *sql.DB, logger zerolog.Logger) AssignmentRepository {
	return &assignmentRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *assignmentRepository) Create(ctx context.Context, a *models.Assignment) error {
	query := `
		INSERT INTO assignments (
			id, course_id, title, description, rubric, instructor_context,
			due_date, allow_late, allow_resubmission, created_by, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.ExecContext(ctx, query,
		a.ID,
		a.CourseID,
		a.Title,
		a.Description,
		a.Rubric,
		a.InstructorContext,
		a.DueDate,
		a.AllowLate,
		a.AllowResubmission,
		a.CreatedBy,
		a.CreatedAt,
		a.UpdatedAt,
	)

	return mapError(err)
}

func (r *assignmentRepository) GetByID(ctx context.Context, id string) (*models.Assignment, error) {
	query := `
		SELECT id, course_id, title, description, rubric, instructor_context,
			due_date, allow_late, allow_resubmission, created_by, created_at, updated_at
		FROM assignments
		WHERE id = $1
	`

	a := &models.Assignment{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID,
		&a.CourseID,
		&a.Title,
		&a.Description,
		&a.Rubric,
		&a.InstructorContext,
		&a.DueDate,
		&a.AllowLate,
		&a.AllowResubmission,
		&a.CreatedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	return a, err
}

func (r *assignmentRepository) ListByCourse(ctx context.Context, courseID string, limit, offset int) ([]models.AssignmentWithStats, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM assignments WHERE course_id = $1`, courseID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	query := `
		SELECT
			a.id, a.course_id, a.title, a.description, a.rubric, a.instructor_context,
			a.due_date, a.allow_late, a.allow_resubmission, a.created_by, a.created_at, a.updated_at,
			COUNT(s.id) AS total_submissions,
			COUNT(s.id) FILTER (WHERE s.status = 'completed') AS completed_submissions,
			COUNT(s.id) FILTER (WHERE s.status IN ('pending', 'processing')) AS pending_submissions,
			COUNT(s.id) FILTER (WHERE s.status = 'failed') AS failed_submissions,
			AVG(COALESCE(f.instructor_score, f.score))::float8 AS average_score
		FROM assignments a
		LEFT JOIN submissions s ON s.assignment_id = a.id
		LEFT JOIN feedback f ON f.submission_id = s.id
		WHERE a.course_id = $1
		GROUP BY a.id
		ORDER BY a.due_date NULLS LAST, a.created_at
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, courseID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var assignments []models.AssignmentWithStats
	for rows.Next() {
		var a models.AssignmentWithStats
		err := rows.Scan(
			&a.ID,
			&a.CourseID,
			&a.Title,
			&a.Description,
			&a.Rubric,
			&a.InstructorContext,
			&a.DueDate,
			&a.AllowLate,
			&a.AllowResubmission,
			&a.CreatedBy,
			&a.CreatedAt,
			&a.UpdatedAt,
			&a.TotalSubmissions,
			&a.CompletedSubmissions,
			&a.PendingSubmissions,
			&a.FailedSubmissions,
			&a.AverageScore,
		)
		if err != nil {
			return nil, 0, err
		}
		assignments = append(assignments, a)
	}

	return assignments, total, rows.Err()
}

func (r *assignmentRepository) Update(ctx context.Context, a *models.Assignment) error {
	query := `
		UPDATE assignments
		SET title = $2, description = $3, rubric = $4, instructor_context = $5,
			due_date = $6, allow_late = $7, allow_resubmission = $8, updated_at = $9
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query,
		a.ID,
		a.Title,
		a.Description,
		a.Rubric,
		a.InstructorContext,
		a.DueDate,
		a.AllowLate,
		a.AllowResubmission,
		time.Now(),
	)
	if err != nil {
		return err
	}

	return expectRows(res)
}

func (r *assignmentRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM assignments WHERE id = $1`, id)
	if err != nil {
		return err
	}

	return expectRows(res)
}
