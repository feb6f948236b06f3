package repository

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/models"
)

// ComplianceRepository stores consents, the audit trail and data subject
// requests through gorm.
type ComplianceRepository interface {
	RecordConsent(ctx context.Context, consent *models.Consent) error
	LatestConsent(ctx context.Context, userID, consentType string) (*models.Consent, error)
	ListConsents(ctx context.Context, userID string) ([]models.Consent, error)

	CreateAuditLog(ctx context.Context, entry *models.AuditLog) error
	ListAuditLogs(ctx context.Context, filter models.AuditFilter, limit, offset int) ([]models.AuditLog, int, error)
	ListAuditLogsByActor(ctx context.Context, actorID string) ([]models.AuditLog, error)

	CreateRequest(ctx context.Context, req *models.DataSubjectRequest) error
	GetRequest(ctx context.Context, id string) (*models.DataSubjectRequest, error)
	HasOpenRequest(ctx context.Context, userID string, requestType models.DataRequestType) (bool, error)
	ListRequestsByUser(ctx context.Context, userID string) ([]models.DataSubjectRequest, error)
	ListRequests(ctx context.Context, status string, limit, offset int) ([]models.DataSubjectRequest, int, error)
	UpdateRequest(ctx context.Context, req *models.DataSubjectRequest) error
}

type complianceRepository struct {
	db     *gorm.DB
	logger zerolog.Logger
}

func NewComplianceRepository(db *gorm.DB, logger zerolog.Logger) ComplianceRepository {
	return &complianceRepository{
		db:     db,
		logger: logger,
	}
}

func (r *complianceRepository) RecordConsent(ctx context.Context, consent *models.Consent) error {
	return r.db.WithContext(ctx).Create(consent).Error
}

func (r *complianceRepository) LatestConsent(ctx context.Context, userID, consentType string) (*models.Consent, error) {
	var c models.Consent
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND consent_type = ?", userID, consentType).
		Order("created_at DESC").
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *complianceRepository) ListConsents(ctx context.Context, userID string) ([]models.Consent, error) {
	var list []models.Consent
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&list).Error
	return list, err
}

func (r *complianceRepository) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *complianceRepository) ListAuditLogs(ctx context.Context, f models.AuditFilter, limit, offset int) ([]models.AuditLog, int, error) {
	q := r.db.WithContext(ctx).Model(&models.AuditLog{})
	if f.ActorID != "" {
		q = q.Where("actor_id = ?", f.ActorID)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.ResourceType != "" {
		q = q.Where("resource_type = ?", f.ResourceType)
	}
	if f.ResourceID != "" {
		q = q.Where("resource_id = ?", f.ResourceID)
	}
	if f.Since != nil {
		q = q.Where("created_at >= ?", *f.Since)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var list []models.AuditLog
	err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&list).Error
	return list, int(total), err
}

func (r *complianceRepository) ListAuditLogsByActor(ctx context.Context, actorID string) ([]models.AuditLog, error) {
	var list []models.AuditLog
	err := r.db.WithContext(ctx).
		Where("actor_id = ?", actorID).
		Order("created_at").
		Find(&list).Error
	return list, err
}

func (r *complianceRepository) CreateRequest(ctx context.Context, req *models.DataSubjectRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *complianceRepository) GetRequest(ctx context.Context, id string) (*models.DataSubjectRequest, error) {
	var req models.DataSubjectRequest
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *complianceRepository) HasOpenRequest(ctx context.Context, userID string, requestType models.DataRequestType) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.DataSubjectRequest{}).
		Where("user_id = ? AND request_type = ? AND status IN ?", userID, requestType,
			[]models.DataRequestStatus{models.RequestPending, models.RequestInProgress}).
		Count(&n).Error
	return n > 0, err
}

func (r *complianceRepository) ListRequestsByUser(ctx context.Context, userID string) ([]models.DataSubjectRequest, error) {
	var list []models.DataSubjectRequest
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&list).Error
	return list, err
}

func (r *complianceRepository) ListRequests(ctx context.Context, status string, limit, offset int) ([]models.DataSubjectRequest, int, error) {
	q := r.db.WithContext(ctx).Model(&models.DataSubjectRequest{})
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var list []models.DataSubjectRequest
	err := q.Order("created_at").Limit(limit).Offset(offset).Find(&list).Error
	return list, int(total), err
}

func (r *complianceRepository) UpdateRequest(ctx context.Context, req *models.DataSubjectRequest) error {
	req.UpdatedAt = time.Now()
	res := r.db.WithContext(ctx).Model(&models.DataSubjectRequest{}).
		Where("id = ?", req.ID).
		Updates(map[string]any{
			"status":       req.Status,
			"admin_note":   req.AdminNote,
			"result_key":   req.ResultKey,
			"processed_by": req.ProcessedBy,
			"processed_at": req.ProcessedAt,
			"updated_at":   req.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
