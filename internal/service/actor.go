package service

import (
	"context"
	"fmt"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/models"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/repository"
)

// Actor is the authenticated caller of a service method.
type Actor struct {
	UserID    string
	Role      models.Role
	IP        string
	UserAgent string
}

func (a Actor) IsAdmin() bool      { return a.Role == models.RoleAdmin }
func (a Actor) IsInstructor() bool { return a.Role == models.RoleInstructor }
func (a Actor) IsStudent() bool    { return a.Role == models.RoleStudent }

func (a Actor) actorID() *string {
	if a.UserID == "" {
		return nil
	}
	id := a.UserID
	return &id
}

// access answers "may this actor see or manage that course".
type access struct {
	courses repository.CourseRepository
}

func (c access) course(ctx context.Context, id string) (*models.Course, error) {
	course, err := c.courses.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get course: %w", err)
	}
	if course == nil {
		return nil, ErrCourseNotFound
	}
	return course, nil
}

// courseForView lets through admins, the owning instructor and enrolled students.
func (c access) courseForView(ctx context.Context, actor Actor, id string) (*models.Course, error) {
	course, err := c.course(ctx, id)
	if err != nil {
		return nil, err
	}

	switch {
	case actor.IsAdmin():
		return course, nil
	case actor.IsInstructor():
		if course.InstructorID == actor.UserID {
			return course, nil
		}
		return nil, ErrForbidden
	default:
		enrolled, err := c.courses.IsEnrolled(ctx, course.ID, actor.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to check enrollment: %w", err)
		}
		if !enrolled {
			return nil, ErrNotEnrolled
		}
		return course, nil
	}
}

func (c access) courseForManage(ctx context.Context, actor Actor, id string) (*models.Course, error) {
	course, err := c.course(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManage(actor, course) {
		return nil, ErrForbidden
	}
	return course, nil
}

func canManage(actor Actor, course *models.Course) bool {
	return actor.IsAdmin() || (actor.IsInstructor() && course.InstructorID == actor.UserID)
}
