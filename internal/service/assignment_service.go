package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/models"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/repository"
)

type AssignmentService interface {
	Create(ctx context.Context, actor Actor, courseID string, req *models.CreateAssignmentRequest) (*models.Assignment, error)
	Get(ctx context.Context, actor Actor, id string) (*models.Assignment, error)
	ListByCourse(ctx context.Context, actor Actor, courseID string, p models.Pagination) (*models.ListResponse[models.AssignmentWithStats], error)
	Update(ctx context.Context, actor Actor, id string, req *models.UpdateAssignmentRequest) (*models.Assignment, error)
	Delete(ctx context.Context, actor Actor, id string) error
}

type assignmentService struct {
	access
	assignmentRepo repository.AssignmentRepository
	logger         zerolog.Logger
}

func NewAssignmentService(
	assignmentRepo repository.AssignmentRepository,
	courseRepo repository.CourseRepository,
	logger zerolog.Logger,
) AssignmentService {
	return &assignmentService{
		access:         access{courses: courseRepo},
		assignmentRepo: assignmentRepo,
		logger:         logger,
	}
}

func checkRubric(r *models.Rubric) error {
	r.Normalize()
	if err := r.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func (s *assignmentService) Create(ctx context.Context, actor Actor, courseID string, req *models.CreateAssignmentRequest) (*models.Assignment, error) {
	course, err := s.courseForManage(ctx, actor, courseID)
	if err != nil {
		return nil, err
	}
	if course.IsArchived {
		return nil, ErrCourseClosed
	}

	rubric := req.Rubric
	if err := checkRubric(&rubric); err != nil {
		return nil, err
	}

	now := time.Now()
	assignment := &models.Assignment{
		ID:                uuid.New().String(),
		CourseID:          course.ID,
		Title:             strings.TrimSpace(req.Title),
		Description:       req.Description,
		Rubric:            rubric,
		InstructorContext: strings.TrimSpace(req.InstructorContext),
		DueDate:           req.DueDate,
		AllowLate:         req.AllowLate,
		AllowResubmission: req.AllowResubmission,
		CreatedBy:         actor.actorID(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.assignmentRepo.Create(ctx, assignment); err != nil {
		return nil, translate(err, ErrCourseNotFound)
	}

	s.logger.Info().
		Str("assignment_id", assignment.ID).
		Str("course_id", course.ID).
		Int("criteria", len(rubric.Criteria)).
		Msg("Assignment created")

	return assignment, nil
}

// load returns the assignment together with its course.
func (s *assignmentService) load(ctx context.Context, id string) (*models.Assignment, error) {
	assignment, err := s.assignmentRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	if assignment == nil {
		return nil, ErrAssignmentNotFound
	}
	return assignment, nil
}

func (s *assignmentService) Get(ctx context.Context, actor Actor, id string) (*models.Assignment, error) {
	assignment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	course, err := s.courseForView(ctx, actor, assignment.CourseID)
	if err != nil {
		return nil, err
	}

	if !canManage(actor, course) {
		view := assignment.StudentView()
		return &view, nil
	}
	return assignment, nil
}

func (s *assignmentService) ListByCourse(ctx context.Context, actor Actor, courseID string, p models.Pagination) (*models.ListResponse[models.AssignmentWithStats], error) {
	course, err := s.courseForView(ctx, actor, courseID)
	if err != nil {
		return nil, err
	}

	items, total, err := s.assignmentRepo.ListByCourse(ctx, courseID, p.Limit, p.Offset())
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}

	// Студент не видит контекст для ИИ и статистику курса
	if !canManage(actor, course) {
		for i := range items {
			items[i] = models.AssignmentWithStats{Assignment: items[i].Assignment.StudentView()}
		}
	}

	resp := models.NewListResponse(items, total, p)
	return &resp, nil
}

func (s *assignmentService) Update(ctx context.Context, actor Actor, id string, req *models.UpdateAssignmentRequest) (*models.Assignment, error) {
	assignment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.courseForManage(ctx, actor, assignment.CourseID); err != nil {
		return nil, err
	}

	if req.Title != nil {
		assignment.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		assignment.Description = *req.Description
	}
	if req.Rubric != nil {
		rubric := *req.Rubric
		if err := checkRubric(&rubric); err != nil {
			return nil, err
		}
		assignment.Rubric = rubric
	}
	if req.InstructorContext != nil {
		assignment.InstructorContext = strings.TrimSpace(*req.InstructorContext)
	}
	switch {
	case req.ClearDueDate:
		assignment.DueDate = nil
	case req.DueDate != nil:
		assignment.DueDate = req.DueDate
	}
	if req.AllowLate != nil {
		assignment.AllowLate = *req.AllowLate
	}
	if req.AllowResubmission != nil {
		assignment.AllowResubmission = *req.AllowResubmission
	}
	assignment.UpdatedAt = time.Now()

	if err := s.assignmentRepo.Update(ctx, assignment); err != nil {
		return nil, translate(err, ErrAssignmentNotFound)
	}

	return assignment, nil
}

func (s *assignmentService) Delete(ctx context.Context, actor Actor, id string) error {
	assignment, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.courseForManage(ctx, actor, assignment.CourseID); err != nil {
		return err
	}

	if err := s.assignmentRepo.Delete(ctx, id); err != nil {
		return translate(err, ErrAssignmentNotFound)
	}

	s.logger.Info().Str("assignment_id", id).Str("by", actor.UserID).Msg("Assignment deleted")
	return nil
}
