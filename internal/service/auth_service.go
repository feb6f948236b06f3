package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/config"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/models"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/repository"
)

// Claims is the session token payload.
type Claims struct {
	Email string      `json:"email"`
	Role  models.Role `json:"role"`
	jwt.RegisteredClaims
}

func (c *Claims) Actor() Actor {
	return Actor{UserID: c.Subject, Role: c.Role}
}

type AuthService interface {
	Register(ctx context.Context, req *models.RegisterRequest, creator *Actor) (*models.User, error)
	Login(ctx context.Context, req *models.LoginRequest, meta Actor) (*models.LoginResponse, error)
	Logout(ctx context.Context, token string, actor Actor) error
	ValidateToken(ctx context.Context, token string) (*Claims, error)
	ChangePassword(ctx context.Context, actor Actor, req *models.ChangePasswordRequest) error
}

type authService struct {
	userRepo  repository.UserRepository
	tokenRepo repository.TokenRepository
	auditor   Auditor
	cfg       config.AuthConfig
	now       func() time.Time
	logger    zerolog.Logger
}

func NewAuthService(
	userRepo repository.UserRepository,
	tokenRepo repository.TokenRepository,
	auditor Auditor,
	cfg config.AuthConfig,
	logger zerolog.Logger,
) AuthService {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	return &authService{
		userRepo:  userRepo,
		tokenRepo: tokenRepo,
		auditor:   auditor,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
	}
}

func (s *authService) Register(ctx context.Context, req *models.RegisterRequest, creator *Actor) (*models.User, error) {
	role := models.RoleStudent
	if req.Role != "" && models.Role(req.Role) != models.RoleStudent {
		// Только администратор выдаёт повышенные роли
		if creator == nil || !creator.IsAdmin() {
			return nil, fmt.Errorf("%w: only administrators can assign role %q", ErrForbidden, req.Role)
		}
		role = models.Role(req.Role)
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	existing, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &models.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: string(hash),
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info().
		Str("user_id", user.ID).
		Str("role", user.Role.String()).
		Msg("User registered")

	return user, nil
}

func (s *authService) Login(ctx context.Context, req *models.LoginRequest, meta Actor) (*models.LoginResponse, error) {
	user, err := s.userRepo.GetByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if user == nil || user.PasswordHash == "" ||
		bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		meta.UserID = ""
		if user != nil {
			meta.UserID = user.ID
		}
		s.auditor.Record(ctx, meta, models.AuditLoginFailed, "user", meta.UserID, map[string]any{
			"email": strings.ToLower(strings.TrimSpace(req.Email)),
		})
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		return nil, ErrAccountDisabled
	}

	token, expiresAt, err := s.issueToken(user)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.userRepo.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to update last login")
	}
	user.LastLoginAt = &now

	meta.UserID, meta.Role = user.ID, user.Role
	s.auditor.Record(ctx, meta, models.AuditLogin, "user", user.ID, nil)

	return &models.LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user,
	}, nil
}

func (s *authService) issueToken(user *models.User) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.TokenTTL)

	claims := &Claims{
		Email: user.Email,
		Role:  user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   user.ID,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

func (s *authService) parse(token string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}

	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(s.cfg.JWTSecret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *authService) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.parse(token)
	if err != nil {
		return nil, err
	}

	revoked, err := s.tokenRepo.IsRevoked(ctx, s.tokenHash(token))
	if err != nil {
		return nil, fmt.Errorf("failed to check token blacklist: %w", err)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}

	// Роль и статус берём из БД, а не из токена
	user, err := s.userRepo.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidToken
	}
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}
	claims.Role = user.Role
	claims.Email = user.Email

	return claims, nil
}

func (s *authService) Logout(ctx context.Context, token string, actor Actor) error {
	claims, err := s.parse(token)
	if err != nil {
		return err
	}

	if err := s.tokenRepo.Revoke(ctx, s.tokenHash(token), claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	s.auditor.Record(ctx, actor, models.AuditLogout, "user", claims.Subject, nil)
	return nil
}

func (s *authService) ChangePassword(ctx context.Context, actor Actor, req *models.ChangePasswordRequest) error {
	user, err := s.userRepo.GetByID(ctx, actor.UserID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return ErrUserNotFound
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)) != nil {
		return ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), s.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.userRepo.UpdatePassword(ctx, user.ID, string(hash)); err != nil {
		return translate(err, ErrUserNotFound)
	}

	s.auditor.Record(ctx, actor, models.AuditPasswordChanged, "user", user.ID, nil)
	return nil
}

// tokenHash keys the blacklist so raw tokens never reach the database.
func (s *authService) tokenHash(token string) string {
	secret := s.cfg.BlacklistSecret
	if secret == "" {
		secret = s.cfg.JWTSecret
	}
	m := hmac.New(sha256.New, []byte(secret))
	m.Write([]byte(token))
	return hex.EncodeToString(m.Sum(nil))
}
