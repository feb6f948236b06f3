package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/models"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/repository"
)

// QueueInspector reports the grading backlog. RabbitMQConsumer satisfies it.
type QueueInspector interface {
	GetQueueLength() (int, error)
}

type MetricsService interface {
	InstructorDashboard(ctx context.Context, actor Actor, courseID string) (*models.InstructorDashboard, error)
	AssignmentStats(ctx context.Context, actor Actor, assignmentID string) (*models.AssignmentStats, error)
	StudentProgress(ctx context.Context, actor Actor, courseID, studentID string) (*models.StudentProgress, error)
	AdminOverview(ctx context.Context) (*models.AdminOverview, error)
}

type metricsService struct {
	access
	assignmentRepo repository.AssignmentRepository
	statsRepo      repository.StatsRepository
	queue          QueueInspector
	logger         zerolog.Logger
}

// NewMetricsService builds the dashboards. queue may be nil when this
// process does not talk to the broker.
func NewMetricsService(
	courseRepo repository.CourseRepository,
	assignmentRepo repository.AssignmentRepository,
	statsRepo repository.StatsRepository,
	queue QueueInspector,
	logger zerolog.Logger,
) MetricsService {
	return &metricsService{
		access:         access{courses: courseRepo},
		assignmentRepo: assignmentRepo,
		statsRepo:      statsRepo,
		queue:          queue,
		logger:         logger,
	}
}

func (s *metricsService) InstructorDashboard(ctx context.Context, actor Actor, courseID string) (*models.InstructorDashboard, error) {
	course, err := s.courseForManage(ctx, actor, courseID)
	if err != nil {
		return nil, err
	}

	stats, err := s.statsRepo.CourseOverview(ctx, course.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load course overview: %w", err)
	}
	if stats == nil {
		stats = []models.AssignmentStats{}
	}

	_, students, err := s.courses.ListEnrollments(ctx, course.ID, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to count students: %w", err)
	}

	return &models.InstructorDashboard{
		CourseID:     course.ID,
		CourseTitle:  course.Title,
		StudentCount: students,
		Assignments:  stats,
		GeneratedAt:  time.Now().UTC(),
	}, nil
}

func (s *metricsService) AssignmentStats(ctx context.Context, actor Actor, assignmentID string) (*models.AssignmentStats, error) {
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

	stats, err := s.statsRepo.AssignmentStats(ctx, assignment.ID)
	if err != nil {
		return nil, translate(err, ErrAssignmentNotFound)
	}
	if stats == nil {
		return nil, ErrAssignmentNotFound
	}
	return stats, nil
}

func (s *metricsService) StudentProgress(ctx context.Context, actor Actor, courseID, studentID string) (*models.StudentProgress, error) {
	if studentID == "" || studentID == "me" {
		studentID = actor.UserID
	}

	if actor.IsStudent() {
		if studentID != actor.UserID {
			return nil, ErrForbidden
		}
		if _, err := s.courseForView(ctx, actor, courseID); err != nil {
			return nil, err
		}
	} else {
		course, err := s.courseForManage(ctx, actor, courseID)
		if err != nil {
			return nil, err
		}
		enrolled, err := s.courses.IsEnrolled(ctx, course.ID, studentID)
		if err != nil {
			return nil, fmt.Errorf("failed to check enrollment: %w", err)
		}
		if !enrolled {
			return nil, ErrEnrollmentNotFound
		}
	}

	items, err := s.statsRepo.StudentProgress(ctx, courseID, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}

	return summarizeProgress(courseID, studentID, items), nil
}

func summarizeProgress(courseID, studentID string, items []models.StudentAssignmentProgress) *models.StudentProgress {
	progress := &models.StudentProgress{
		CourseID:    courseID,
		StudentID:   studentID,
		Assignments: items,
	}
	if progress.Assignments == nil {
		progress.Assignments = []models.StudentAssignmentProgress{}
	}

	var sum float64
	for _, it := range items {
		if it.SubmissionID != nil {
			progress.Submitted++
		}
		if it.Score != nil {
			progress.Graded++
			sum += *it.Score
		}
	}
	if progress.Graded > 0 {
		avg := math.Round(sum/float64(progress.Graded)*100) / 100
		progress.AverageScore = &avg
	}
	return progress
}

func (s *metricsService) AdminOverview(ctx context.Context) (*models.AdminOverview, error) {
	system, err := s.statsRepo.SystemOverview(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load system overview: %w", err)
	}

	strategies, err := s.statsRepo.ParseStrategyBreakdown(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load parse strategies: %w", err)
	}

	overview := &models.AdminOverview{
		SystemOverview:  *system,
		FailureRate:     failureRate(system.Submissions),
		ParseStrategies: strategies,
		GeneratedAt:     time.Now().UTC(),
	}

	if s.queue != nil {
		depth, err := s.queue.GetQueueLength()
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to read grading queue depth")
		} else {
			overview.QueueDepth = &depth
		}
	}

	return overview, nil
}

// failureRate is failed / finished, rounded to four places.
func failureRate(c models.StatusCounts) float64 {
	finished := c.Completed + c.Failed
	if finished == 0 {
		return 0
	}
	return math.Round(float64(c.Failed)/float64(finished)*10000) / 10000
}
