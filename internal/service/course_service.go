package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/models"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/repository"
)

type CourseService interface {
	Create(ctx context.Context, actor Actor, req *models.CreateCourseRequest) (*models.Course, error)
	Get(ctx context.Context, actor Actor, id string) (*models.Course, error)
	List(ctx context.Context, actor Actor, p models.Pagination) (*models.ListResponse[models.CourseWithStats], error)
	Update(ctx context.Context, actor Actor, id string, req *models.UpdateCourseRequest) (*models.Course, error)
	Delete(ctx context.Context, actor Actor, id string) error

	Enroll(ctx context.Context, actor Actor, courseID, studentID string) error
	Unenroll(ctx context.Context, actor Actor, courseID, studentID string) error
	ListEnrollments(ctx context.Context, actor Actor, courseID string, p models.Pagination) (*models.ListResponse[models.EnrollmentWithStudent], error)
}

type courseService struct {
	access
	userRepo repository.UserRepository
	logger   zerolog.Logger
}

func NewCourseService(
	courseRepo repository.CourseRepository,
	userRepo repository.UserRepository,
	logger zerolog.Logger,
) CourseService {
	return &courseService{
		access:   access{courses: courseRepo},
		userRepo: userRepo,
		logger:   logger,
	}
}

func (s *courseService) Create(ctx context.Context, actor Actor, req *models.CreateCourseRequest) (*models.Course, error) {
	if !actor.IsAdmin() && !actor.IsInstructor() {
		return nil, ErrForbidden
	}

	instructorID := actor.UserID
	if req.InstructorID != "" && req.InstructorID != actor.UserID {
		if !actor.IsAdmin() {
			return nil, fmt.Errorf("%w: only administrators can create courses for others", ErrForbidden)
		}
		instructor, err := s.userRepo.GetByID(ctx, req.InstructorID)
		if err != nil {
			return nil, fmt.Errorf("failed to get instructor: %w", err)
		}
		if instructor == nil {
			return nil, ErrUserNotFound
		}
		if instructor.Role != models.RoleInstructor && instructor.Role != models.RoleAdmin {
			return nil, invalid("user %s is not an instructor", instructor.ID)
		}
		instructorID = instructor.ID
	}

	now := time.Now()
	course := &models.Course{
		ID:           uuid.New().String(),
		Code:         strings.ToUpper(strings.TrimSpace(req.Code)),
		Title:        strings.TrimSpace(req.Title),
		Description:  req.Description,
		Term:         strings.TrimSpace(req.Term),
		InstructorID: instructorID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.courses.Create(ctx, course); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrCourseExists
		}
		return nil, fmt.Errorf("failed to create course: %w", err)
	}

	s.logger.Info().
		Str("course_id", course.ID).
		Str("code", course.Code).
		Str("instructor_id", course.InstructorID).
		Msg("Course created")

	return course, nil
}

func (s *courseService) Get(ctx context.Context, actor Actor, id string) (*models.Course, error) {
	return s.courseForView(ctx, actor, id)
}

func (s *courseService) List(ctx context.Context, actor Actor, p models.Pagination) (*models.ListResponse[models.CourseWithStats], error) {
	var (
		courses []models.CourseWithStats
		total   int
		err     error
	)

	switch {
	case actor.IsAdmin():
		courses, total, err = s.courses.ListAll(ctx, p.Limit, p.Offset())
	case actor.IsInstructor():
		courses, total, err = s.courses.ListByInstructor(ctx, actor.UserID, p.Limit, p.Offset())
	default:
		courses, total, err = s.courses.ListByStudent(ctx, actor.UserID, p.Limit, p.Offset())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}

	resp := models.NewListResponse(courses, total, p)
	return &resp, nil
}

func (s *courseService) Update(ctx context.Context, actor Actor, id string, req *models.UpdateCourseRequest) (*models.Course, error) {
	course, err := s.courseForManage(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		course.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		course.Description = *req.Description
	}
	if req.Term != nil {
		course.Term = strings.TrimSpace(*req.Term)
	}
	if req.IsArchived != nil {
		course.IsArchived = *req.IsArchived
	}
	course.UpdatedAt = time.Now()

	if err := s.courses.Update(ctx, course); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrCourseExists
		}
		return nil, translate(err, ErrCourseNotFound)
	}

	return course, nil
}

func (s *courseService) Delete(ctx context.Context, actor Actor, id string) error {
	if _, err := s.courseForManage(ctx, actor, id); err != nil {
		return err
	}

	if err := s.courses.Delete(ctx, id); err != nil {
		return translate(err, ErrCourseNotFound)
	}

	s.logger.Info().Str("course_id", id).Str("by", actor.UserID).Msg("Course deleted")
	return nil
}

func (s *courseService) Enroll(ctx context.Context, actor Actor, courseID, studentID string) error {
	course, err := s.courseForManage(ctx, actor, courseID)
	if err != nil {
		return err
	}
	if course.IsArchived {
		return ErrCourseClosed
	}

	student, err := s.userRepo.GetByID(ctx, studentID)
	if err != nil {
		return fmt.Errorf("failed to get student: %w", err)
	}
	if student == nil {
		return ErrUserNotFound
	}
	if student.Role != models.RoleStudent {
		return invalid("user %s is not a student", studentID)
	}
	if !student.IsActive {
		return invalid("user %s is deactivated", studentID)
	}

	if err := s.courses.Enroll(ctx, courseID, studentID); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return ErrAlreadyEnrolled
		}
		return fmt.Errorf("failed to enroll student: %w", err)
	}
	return nil
}

func (s *courseService) Unenroll(ctx context.Context, actor Actor, courseID, studentID string) error {
	if _, err := s.courseForManage(ctx, actor, courseID); err != nil {
		return err
	}

	if err := s.courses.Unenroll(ctx, courseID, studentID); err != nil {
		return translate(err, ErrEnrollmentNotFound)
	}
	return nil
}

func (s *courseService) ListEnrollments(ctx context.Context, actor Actor, courseID string, p models.Pagination) (*models.ListResponse[models.EnrollmentWithStudent], error) {
	if _, err := s.courseForManage(ctx, actor, courseID); err != nil {
		return nil, err
	}

	items, total, err := s.courses.ListEnrollments(ctx, courseID, p.Limit, p.Offset())
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}

	resp := models.NewListResponse(items, total, p)
	return &resp, nil
}
