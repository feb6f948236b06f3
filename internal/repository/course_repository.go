package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/models"
)

type CourseRepository interface {
	Create(ctx context.Context, course *models.Course) error
	GetByID(ctx context.Context, id string) (*models.Course, error)
	ListByInstructor(ctx context.Context, instructorID string, limit, offset int) ([]models.CourseWithStats, int, error)
	ListByStudent(ctx context.Context, studentID string, limit, offset int) ([]models.CourseWithStats, int, error)
	ListAll(ctx context.Context, limit, offset int) ([]models.CourseWithStats, int, error)
	Update(ctx context.Context, course *models.Course) error
	Delete(ctx context.Context, id string) error

	Enroll(ctx context.Context, courseID, studentID string) error
	EnrollMany(ctx context.Context, courseID string, studentIDs []string) ([]string, error)
	Unenroll(ctx context.Context, courseID, studentID string) error
	IsEnrolled(ctx context.Context, courseID, studentID string) (bool, error)
	EnrolledAmong(ctx context.Context, courseID string, studentIDs []string) ([]string, error)
	ListEnrollments(ctx context.Context, courseID string, limit, offset int) ([]models.EnrollmentWithStudent, int, error)
	ListStudentEnrollments(ctx context.Context, studentID string) ([]models.Enrollment, error)
}

type courseRepository struct {
	*PostgresRepository
}

func NewCourseRepository(db *sql.DB, logger zerolog.Logger) CourseRepository {
	return &courseRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *courseRepository) Create(ctx context.Context, course *models.Course) error {
	query := `
		INSERT INTO courses (id, code, title, description, term, instructor_id, is_archived, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		course.ID,
		course.Code,
		course.Title,
		course.Description,
		course.Term,
		course.InstructorID,
		course.IsArchived,
		course.CreatedAt,
		course.UpdatedAt,
	)

	return mapError(err)
}

func (r *courseRepository) GetByID(ctx context.Context, id string) (*models.Course, error) {
	query := `
		SELECT id, code, title, description, term, instructor_id, is_archived, created_at, updated_at
		FROM courses
		WHERE id = $1
	`

	c := &models.Course{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID,
		&c.Code,
		&c.Title,
		&c.Description,
		&c.Term,
		&c.InstructorID,
		&c.IsArchived,
		&c.CreatedAt,
		&c.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	return c, err
}

const courseStatsSelect = `
	SELECT
		c.id, c.code, c.title, c.description, c.term, c.instructor_id, c.is_archived, c.created_at, c.updated_at,
		u.name AS instructor_name,
		(SELECT COUNT(*) FROM enrollments e WHERE e.course_id = c.id) AS student_count,
		(SELECT COUNT(*) FROM assignments a WHERE a.course_id = c.id) AS assignment_count
	FROM courses c
	JOIN users u ON u.id = c.instructor_id
`

func (r *courseRepository) listWithStats(ctx context.Context, countQuery, where string, arg any, limit, offset int) ([]models.CourseWithStats, int, error) {
	var (
		total int
		rows  *sql.Rows
		err   error
	)

	if arg != nil {
		err = r.db.QueryRowContext(ctx, countQuery, arg).Scan(&total)
	} else {
		err = r.db.QueryRowContext(ctx, countQuery).Scan(&total)
	}
	if err != nil {
		return nil, 0, err
	}

	if arg != nil {
		rows, err = r.db.QueryContext(ctx, courseStatsSelect+where+` ORDER BY c.created_at DESC LIMIT $2 OFFSET $3`, arg, limit, offset)
	} else {
		rows, err = r.db.QueryContext(ctx, courseStatsSelect+` ORDER BY c.created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	}
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var courses []models.CourseWithStats
	for rows.Next() {
		var c models.CourseWithStats
		err := rows.Scan(
			&c.ID,
			&c.Code,
			&c.Title,
			&c.Description,
			&c.Term,
			&c.InstructorID,
			&c.IsArchived,
			&c.CreatedAt,
			&c.UpdatedAt,
			&c.InstructorName,
			&c.StudentCount,
			&c.AssignmentCount,
		)
		if err != nil {
			return nil, 0, err
		}
		courses = append(courses, c)
	}

	return courses, total, rows.Err()
}

func (r *courseRepository) ListByInstructor(ctx context.Context, instructorID string, limit, offset int) ([]models.CourseWithStats, int, error) {
	return r.listWithStats(ctx,
		`SELECT COUNT(*) FROM courses WHERE instructor_id = $1`,
		` WHERE c.instructor_id = $1`,
		instructorID, limit, offset)
}

func (r *courseRepository) ListByStudent(ctx context.Context, studentID string, limit, offset int) ([]models.CourseWithStats, int, error) {
	return r.listWithStats(ctx,
		`SELECT COUNT(*) FROM enrollments WHERE student_id = $1`,
		` WHERE c.id IN (SELECT course_id FROM enrollments WHERE student_id = $1)`,
		studentID, limit, offset)
}

func (r *courseRepository) ListAll(ctx context.Context, limit, offset int) ([]models.CourseWithStats, int, error) {
	return r.listWithStats(ctx, `SELECT COUNT(*) FROM courses`, "", nil, limit, offset)
}

func (r *courseRepository) Update(ctx context.Context, course *models.Course) error {
	query := `
		UPDATE courses
		SET title = $2, description = $3, term = $4, is_archived = $5, updated_at = $6
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query,
		course.ID,
		course.Title,
		course.Description,
		course.Term,
		course.IsArchived,
		time.Now(),
	)
	if err != nil {
		return mapError(err)
	}

	return expectRows(res)
}

func (r *courseRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM courses WHERE id = $1`, id)
	if err != nil {
		return err
	}

	return expectRows(res)
}

func (r *courseRepository) Enroll(ctx context.Context, courseID, studentID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO enrollments (course_id, student_id, enrolled_at) VALUES ($1, $2, NOW())`,
		courseID, studentID)

	return mapError(err)
}

// EnrollMany inserts all students in one statement and returns the ids that were new.
func (r *courseRepository) EnrollMany(ctx context.Context, courseID string, studentIDs []string) ([]string, error) {
	if len(studentIDs) == 0 {
		return nil, nil
	}

	query := `
		INSERT INTO enrollments (course_id, student_id, enrolled_at)
		SELECT $1, sid, NOW() FROM UNNEST($2::uuid[]) AS sid
		ON CONFLICT (course_id, student_id) DO NOTHING
		RETURNING student_id
	`

	rows, err := r.db.QueryContext(ctx, query, courseID, pq.Array(studentIDs))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var inserted []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		inserted = append(inserted, id)
	}

	return inserted, rows.Err()
}

func (r *courseRepository) Unenroll(ctx context.Context, courseID, studentID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM enrollments WHERE course_id = $1 AND student_id = $2`, courseID, studentID)
	if err != nil {
		return err
	}

	return expectRows(res)
}

func (r *courseRepository) IsEnrolled(ctx context.Context, courseID, studentID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM enrollments WHERE course_id = $1 AND student_id = $2)`,
		courseID, studentID).Scan(&exists)

	return exists, err
}

func (r *courseRepository) EnrolledAmong(ctx context.Context, courseID string, studentIDs []string) ([]string, error) {
	if len(studentIDs) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT student_id FROM enrollments WHERE course_id = $1 AND student_id = ANY($2::uuid[])`,
		courseID, pq.Array(studentIDs))
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

func (r *courseRepository) ListEnrollments(ctx context.Context, courseID string, limit, offset int) ([]models.EnrollmentWithStudent, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM enrollments WHERE course_id = $1`, courseID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	query := `
		SELECT e.course_id, e.student_id, e.enrolled_at, u.name, u.email
		FROM enrollments e
		JOIN users u ON u.id = e.student_id
		WHERE e.course_id = $1
		ORDER BY u.name
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, courseID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var enrollments []models.EnrollmentWithStudent
	for rows.Next() {
		var e models.EnrollmentWithStudent
		if err := rows.Scan(&e.CourseID, &e.StudentID, &e.EnrolledAt, &e.StudentName, &e.StudentEmail); err != nil {
			return nil, 0, err
		}
		enrollments = append(enrollments, e)
	}

	return enrollments, total, rows.Err()
}

func (r *courseRepository) ListStudentEnrollments(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT course_id, student_id, enrolled_at FROM enrollments WHERE student_id = $1 ORDER BY enrolled_at`,
		studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var enrollments []models.Enrollment
	for rows.Next() {
		var e models.Enrollment
		if err := rows.Scan(&e.CourseID, &e.StudentID, &e.EnrolledAt); err != nil {
			return nil, err
		}
		enrollments = append(enrollments, e)
	}

	return enrollments, rows.Err()
}
