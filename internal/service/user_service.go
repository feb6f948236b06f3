package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/models"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/repository"
)

type UserService interface {
	GetProfile(ctx context.Context, actor Actor) (*models.User, error)
	UpdateProfile(ctx context.Context, actor Actor, req *models.UpdateProfileRequest) (*models.User, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	ListUsers(ctx context.Context, role string, p models.Pagination) (*models.ListResponse[models.User], error)
	UpdateRole(ctx context.Context, actor Actor, id string, role models.Role) (*models.User, error)
	Deactivate(ctx context.Context, actor Actor, id string) error
}

type userService struct {
	userRepo repository.UserRepository
	auditor  Auditor
	logger   zerolog.Logger
}

func NewUserService(userRepo repository.UserRepository, auditor Auditor, logger zerolog.Logger) UserService {
	return &userService{
		userRepo: userRepo,
		auditor:  auditor,
		logger:   logger,
	}
}

func (s *userService) GetProfile(ctx context.Context, actor Actor) (*models.User, error) {
	return s.GetUser(ctx, actor.UserID)
}

func (s *userService) GetUser(ctx context.Context, id string) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (s *userService) UpdateProfile(ctx context.Context, actor Actor, req *models.UpdateProfileRequest) (*models.User, error) {
	user, err := s.GetUser(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}

	user.Name = strings.TrimSpace(req.Name)
	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, translate(err, ErrUserNotFound)
	}
	return user, nil
}

func (s *userService) ListUsers(ctx context.Context, role string, p models.Pagination) (*models.ListResponse[models.User], error) {
	if role != "" && !models.IsValidRole(role) {
		return nil, invalid("unknown role %q", role)
	}

	users, total, err := s.userRepo.List(ctx, role, p.Limit, p.Offset())
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	resp := models.NewListResponse(users, total, p)
	return &resp, nil
}

func (s *userService) UpdateRole(ctx context.Context, actor Actor, id string, role models.Role) (*models.User, error) {
	if !models.IsValidRole(string(role)) {
		return nil, invalid("unknown role %q", role)
	}

	user, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.Role == role {
		return user, nil
	}

	if user.Role == models.RoleAdmin {
		if err := s.ensureAnotherAdmin(ctx); err != nil {
			return nil, err
		}
	}

	if err := s.userRepo.UpdateRole(ctx, id, role); err != nil {
		return nil, translate(err, ErrUserNotFound)
	}

	s.auditor.Record(ctx, actor, models.AuditRoleChanged, "user", id, map[string]any{
		"from": user.Role,
		"to":   role,
	})

	user.Role = role
	return user, nil
}

func (s *userService) Deactivate(ctx context.Context, actor Actor, id string) error {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if !user.IsActive {
		return nil
	}
	if user.Role == models.RoleAdmin {
		if err := s.ensureAnotherAdmin(ctx); err != nil {
			return err
		}
	}

	user.IsActive = false
	if err := s.userRepo.Update(ctx, user); err != nil {
		return translate(err, ErrUserNotFound)
	}

	s.auditor.Record(ctx, actor, models.AuditUserDeactivated, "user", id, nil)
	return nil
}

func (s *userService) ensureAnotherAdmin(ctx context.Context) error {
	admins, _, err := s.userRepo.List(ctx, string(models.RoleAdmin), 2, 0)
	if err != nil {
		return fmt.Errorf("failed to count admins: %w", err)
	}
	active := 0
	for _, a := range admins {
		if a.IsActive {
			active++
		}
	}
	if active < 2 {
		return ErrLastAdmin
	}
	return nil
}
