package repository

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/models"
)

type StatsRepository interface {
	AssignmentStats(ctx context.Context, assignmentID string) (*models.AssignmentStats, error)
	CourseOverview(ctx context.Context, courseID string) ([]models.AssignmentStats, error)
	ScoreDistribution(ctx context.Context, assignmentID string) ([]int, error)
	StudentProgress(ctx context.Context, courseID, studentID string) ([]models.StudentAssignmentProgress, error)
	SystemOverview(ctx context.Context) (*models.SystemOverview, error)
	ParseStrategyBreakdown(ctx context.Context) (map[string]int, error)
}

type statsRepository struct {
	*PostgresRepository
}

func NewStatsRepository(db *sql.DB, logger zerolog.Logger) StatsRepository {
	return &statsRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

const assignmentStatsQuery = `
	SELECT
		a.id, a.title, a.due_date,
		COUNT(s.id) FILTER (WHERE s.status = 'pending'),
		COUNT(s.id) FILTER (WHERE s.status = 'processing'),
		COUNT(s.id) FILTER (WHERE s.status = 'completed'),
		COUNT(s.id) FILTER (WHERE s.status = 'failed'),
		COUNT(s.id) FILTER (WHERE s.is_late),
		COUNT(f.id),
		AVG(COALESCE(f.instructor_score, f.score))::float8,
		MIN(COALESCE(f.instructor_score, f.score))::float8,
		MAX(COALESCE(f.instructor_score, f.score))::float8
	FROM assignments a
	LEFT JOIN submissions s ON s.assignment_id = a.id
	LEFT JOIN feedback f ON f.submission_id = s.id AND s.status = 'completed'
`

func scanAssignmentStats(row interface{ Scan(...any) error }) (*models.AssignmentStats, error) {
	st := &models.AssignmentStats{}
	var pending, processing, completed, failed int
	err := row.Scan(
		&st.AssignmentID,
		&st.Title,
		&st.DueDate,
		&pending,
		&processing,
		&completed,
		&failed,
		&st.LateCount,
		&st.Scores.Count,
		&st.Scores.Average,
		&st.Scores.Min,
		&st.Scores.Max,
	)
	if err != nil {
		return nil, err
	}

	st.Status.Add(models.SubmissionPending, pending)
	st.Status.Add(models.SubmissionProcessing, processing)
	st.Status.Add(models.SubmissionCompleted, completed)
	st.Status.Add(models.SubmissionFailed, failed)
	return st, nil
}

func (r *statsRepository) AssignmentStats(ctx context.Context, assignmentID string) (*models.AssignmentStats, error) {
	st, err := scanAssignmentStats(r.db.QueryRowContext(ctx,
		assignmentStatsQuery+` WHERE a.id = $1 GROUP BY a.id`, assignmentID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if st.Distribution, err = r.ScoreDistribution(ctx, assignmentID); err != nil {
		return nil, err
	}
	return st, nil
}

func (r *statsRepository) CourseOverview(ctx context.Context, courseID string) ([]models.AssignmentStats, error) {
	rows, err := r.db.QueryContext(ctx,
		assignmentStatsQuery+` WHERE a.course_id = $1 GROUP BY a.id ORDER BY a.due_date NULLS LAST, a.created_at`,
		courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.AssignmentStats
	for rows.Next() {
		st, err := scanAssignmentStats(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range list {
		if list[i].Distribution, err = r.ScoreDistribution(ctx, list[i].AssignmentID); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// ScoreDistribution is a histogram of final scores in ten equal buckets.
func (r *statsRepository) ScoreDistribution(ctx context.Context, assignmentID string) ([]int, error) {
	query := `
		SELECT COALESCE(f.instructor_score, f.score)::float8
		FROM feedback f
		JOIN submissions s ON s.id = f.submission_id
		WHERE s.assignment_id = $1 AND s.status = 'completed'
	`

	rows, err := r.db.QueryContext(ctx, query, assignmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	buckets := make([]int, models.ScoreBuckets)
	for rows.Next() {
		var score float64
		if err := rows.Scan(&score); err != nil {
			return nil, err
		}
		buckets[models.ScoreBucket(score)]++
	}

	return buckets, rows.Err()
}

func (r *statsRepository) StudentProgress(ctx context.Context, courseID, studentID string) ([]models.StudentAssignmentProgress, error) {
	query := `
		SELECT a.id, a.title, a.due_date, s.id, s.status, COALESCE(s.is_late, FALSE),
			CASE WHEN s.status = 'completed' THEN COALESCE(f.instructor_score, f.score)::float8 END
		FROM assignments a
		LEFT JOIN submissions s ON s.assignment_id = a.id AND s.student_id = $2
		LEFT JOIN feedback f ON f.submission_id = s.id
		WHERE a.course_id = $1
		ORDER BY a.due_date NULLS LAST, a.created_at
	`

	rows, err := r.db.QueryContext(ctx, query, courseID, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var progress []models.StudentAssignmentProgress
	for rows.Next() {
		var p models.StudentAssignmentProgress
		err := rows.Scan(
			&p.AssignmentID,
			&p.Title,
			&p.DueDate,
			&p.SubmissionID,
			&p.Status,
			&p.IsLate,
			&p.Score,
		)
		if err != nil {
			return nil, err
		}
		progress = append(progress, p)
	}

	return progress, rows.Err()
}

func (r *statsRepository) SystemOverview(ctx context.Context) (*models.SystemOverview, error) {
	o := &models.SystemOverview{UsersByRole: map[string]int{}}

	rows, err := r.db.QueryContext(ctx, `SELECT role, COUNT(*) FROM users WHERE anonymized_at IS NULL GROUP BY role`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			rows.Close()
			return nil, err
		}
		o.UsersByRole[role] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM submissions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, err
		}
		o.Submissions.Add(models.SubmissionStatus(status), n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	query := `
		SELECT
			(SELECT COUNT(*) FROM users WHERE is_active),
			(SELECT COUNT(*) FROM courses),
			(SELECT COUNT(*) FROM assignments),
			COALESCE(SUM(prompt_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(token_count), 0),
			COUNT(*) FILTER (WHERE retried),
			(SELECT COUNT(*) FROM data_subject_requests WHERE status IN ('pending', 'in_progress'))
		FROM feedback
	`
	err = r.db.QueryRowContext(ctx, query).Scan(
		&o.ActiveUsers,
		&o.Courses,
		&o.Assignments,
		&o.PromptTokens,
		&o.OutputTokens,
		&o.TokensUsed,
		&o.RetriedGradings,
		&o.PendingDataRequests,
	)
	if err != nil {
		return nil, err
	}

	return o, nil
}

func (r *statsRepository) ParseStrategyBreakdown(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT parse_strategy, COUNT(*) FROM feedback GROUP BY parse_strategy`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	breakdown := map[string]int{}
	for rows.Next() {
		var strategy string
		var n int
		if err := rows.Scan(&strategy, &n); err != nil {
			return nil, err
		}
		if strategy == "" {
			strategy = "unknown"
		}
		breakdown[strategy] = n
	}

	return breakdown, rows.Err()
}
