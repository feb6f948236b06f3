package repository

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/models"
)

// TokenRepository is the logout blacklist, keyed by token hash.
type TokenRepository interface {
	Revoke(ctx context.Context, tokenHash string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenHash string) (bool, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type tokenRepository struct {
	db     *gorm.DB
	logger zerolog.Logger
}

func NewTokenRepository(db *gorm.DB, logger zerolog.Logger) TokenRepository {
	return &tokenRepository{
		db:     db,
		logger: logger,
	}
}

func (r *tokenRepository) Revoke(ctx context.Context, tokenHash string, expiresAt time.Time) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.RevokedToken{
			TokenHash: tokenHash,
			ExpiresAt: expiresAt,
			RevokedAt: time.Now(),
		}).Error
}

func (r *tokenRepository) IsRevoked(ctx context.Context, tokenHash string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.RevokedToken{}).
		Where("token_hash = ?", tokenHash).
		Count(&n).Error
	return n > 0, err
}

func (r *tokenRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&models.RevokedToken{})
	return res.RowsAffected, res.Error
}
