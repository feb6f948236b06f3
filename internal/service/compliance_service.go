package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/config"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/models"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/repository"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/storage"
)

type ComplianceService interface {
	RecordConsent(ctx context.Context, actor Actor, req *models.RecordConsentRequest) (*models.Consent, error)
	ListConsents(ctx context.Context, actor Actor) ([]models.Consent, error)
	HasConsent(ctx context.Context, userID, consentType string) (bool, error)

	CreateRequest(ctx context.Context, actor Actor, req *models.CreateDataRequest) (*models.DataSubjectRequest, error)
	ListMyRequests(ctx context.Context, actor Actor) ([]models.DataSubjectRequest, error)
	ListRequests(ctx context.Context, status string, p models.Pagination) (*models.ListResponse[models.DataSubjectRequest], error)
	ProcessRequest(ctx context.Context, actor Actor, id string, req *models.ProcessDataRequest) (*models.DataSubjectRequest, error)

	ExportUserData(ctx context.Context, actor Actor, userID string) (*models.AttachmentURLResponse, error)
	AnonymizeUser(ctx context.Context, actor Actor, userID string) error
	DeleteUser(ctx context.Context, actor Actor, userID string) error
	PurgeExpiredData(ctx context.Context, actor Actor) (*models.RetentionPurgeResult, error)

	ListAuditLogs(ctx context.Context, filter models.AuditFilter, p models.Pagination) (*models.ListResponse[models.AuditLog], error)
	Audit(ctx context.Context, actor Actor, action, resourceType, resourceID string, meta map[string]any)
}

type complianceService struct {
	complianceRepo repository.ComplianceRepository
	userRepo       repository.UserRepository
	courseRepo     repository.CourseRepository
	submissionRepo repository.SubmissionRepository
	feedbackRepo   repository.FeedbackRepository
	tokenRepo      repository.TokenRepository
	store          storage.AttachmentStore
	auditor        Auditor
	cfg            config.ComplianceConfig
	logger         zerolog.Logger
}

func NewComplianceService(
	complianceRepo repository.ComplianceRepository,
	userRepo repository.UserRepository,
	courseRepo repository.CourseRepository,
	submissionRepo repository.SubmissionRepository,
	feedbackRepo repository.FeedbackRepository,
	tokenRepo repository.TokenRepository,
	store storage.AttachmentStore,
	auditor Auditor,
	cfg config.ComplianceConfig,
	logger zerolog.Logger,
) ComplianceService {
	if cfg.ExportPrefix == "" {
		cfg.ExportPrefix = "exports"
	}
	return &complianceService{
		complianceRepo: complianceRepo,
		userRepo:       userRepo,
		courseRepo:     courseRepo,
		submissionRepo: submissionRepo,
		feedbackRepo:   feedbackRepo,
		tokenRepo:      tokenRepo,
		store:          store,
		auditor:        auditor,
		cfg:            cfg,
		logger:         logger,
	}
}

func (s *complianceService) Audit(ctx context.Context, actor Actor, action, resourceType, resourceID string, meta map[string]any) {
	s.auditor.Record(ctx, actor, action, resourceType, resourceID, meta)
}

// Consents

func (s *complianceService) RecordConsent(ctx context.Context, actor Actor, req *models.RecordConsentRequest) (*models.Consent, error) {
	if !models.IsValidConsentType(req.ConsentType) {
		return nil, invalid("unknown consent type %q", req.ConsentType)
	}
	if req.Granted == nil {
		return nil, invalid("granted is required")
	}

	consent := &models.Consent{
		UserID:      actor.UserID,
		ConsentType: req.ConsentType,
		Granted:     *req.Granted,
		Version:     req.Version,
		IPAddress:   actor.IP,
		UserAgent:   actor.UserAgent,
		CreatedAt:   time.Now(),
	}

	if err := s.complianceRepo.RecordConsent(ctx, consent); err != nil {
		return nil, fmt.Errorf("failed to record consent: %w", err)
	}

	s.auditor.Record(ctx, actor, models.AuditConsentRecorded, "consent", consent.ID, map[string]any{
		"type":    consent.ConsentType,
		"granted": consent.Granted,
		"version": consent.Version,
	})

	return consent, nil
}

func (s *complianceService) ListConsents(ctx context.Context, actor Actor) ([]models.Consent, error) {
	list, err := s.complianceRepo.ListConsents(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list consents: %w", err)
	}
	if list == nil {
		list = []models.Consent{}
	}
	return list, nil
}

func (s *complianceService) HasConsent(ctx context.Context, userID, consentType string) (bool, error) {
	consent, err := s.complianceRepo.LatestConsent(ctx, userID, consentType)
	if err != nil {
		return false, fmt.Errorf("failed to check consent: %w", err)
	}
	return consent != nil && consent.Granted, nil
}

// Data subject requests

func (s *complianceService) CreateRequest(ctx context.Context, actor Actor, req *models.CreateDataRequest) (*models.DataSubjectRequest, error) {
	requestType := models.DataRequestType(req.RequestType)

	open, err := s.complianceRepo.HasOpenRequest(ctx, actor.UserID, requestType)
	if err != nil {
		return nil, fmt.Errorf("failed to check open requests: %w", err)
	}
	if open {
		return nil, ErrRequestOpen
	}

	now := time.Now()
	dsr := &models.DataSubjectRequest{
		UserID:      actor.UserID,
		RequestType: requestType,
		Status:      models.RequestPending,
		Details:     strings.TrimSpace(req.Details),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.complianceRepo.CreateRequest(ctx, dsr); err != nil {
		return nil, fmt.Errorf("failed to create data request: %w", err)
	}

	s.auditor.Record(ctx, actor, models.AuditRequestCreated, "data_request", dsr.ID, map[string]any{
		"type": dsr.RequestType,
	})

	s.logger.Info().
		Str("request_id", dsr.ID).
		Str("user_id", actor.UserID).
		Str("type", string(dsr.RequestType)).
		Msg("Data subject request created")

	return dsr, nil
}

func (s *complianceService) withDownloadURL(ctx context.Context, r *models.DataSubjectRequest) {
	if r.ResultKey == "" {
		return
	}
	url, _, err := s.store.PresignedURL(ctx, r.ResultKey, path.Base(r.ResultKey))
	if err != nil {
		s.logger.Warn().Err(err).Str("request_id", r.ID).Msg("Failed to presign export")
		return
	}
	r.DownloadURL = url
}

func (s *complianceService) ListMyRequests(ctx context.Context, actor Actor) ([]models.DataSubjectRequest, error) {
	list, err := s.complianceRepo.ListRequestsByUser(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list data requests: %w", err)
	}
	if list == nil {
		list = []models.DataSubjectRequest{}
	}
	for i := range list {
		s.withDownloadURL(ctx, &list[i])
	}
	return list, nil
}

func (s *complianceService) ListRequests(ctx context.Context, status string, p models.Pagination) (*models.ListResponse[models.DataSubjectRequest], error) {
	list, total, err := s.complianceRepo.ListRequests(ctx, status, p.Limit, p.Offset())
	if err != nil {
		return nil, fmt.Errorf("failed to list data requests: %w", err)
	}
	resp := models.NewListResponse(list, total, p)
	return &resp, nil
}

func (s *complianceService) ProcessRequest(ctx context.Context, actor Actor, id string, req *models.ProcessDataRequest) (*models.DataSubjectRequest, error) {
	dsr, err := s.complianceRepo.GetRequest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get data request: %w", err)
	}
	if dsr == nil {
		return nil, ErrRequestNotFound
	}
	if dsr.Status.IsFinal() {
		return nil, ErrRequestClosed
	}

	dsr.AdminNote = strings.TrimSpace(req.Note)
	dsr.ProcessedBy = actor.actorID()

	if !req.Approve {
		dsr.Status = models.RequestRejected
	} else {
		dsr.Status = models.RequestInProgress
		if err := s.complianceRepo.UpdateRequest(ctx, dsr); err != nil {
			return nil, translate(err, ErrRequestNotFound)
		}

		if err := s.fulfil(ctx, actor, dsr); err != nil {
			dsr.Status = models.RequestPending
			dsr.ProcessedBy = nil
			if uerr := s.complianceRepo.UpdateRequest(context.WithoutCancel(ctx), dsr); uerr != nil {
				s.logger.Error().Err(uerr).Str("request_id", dsr.ID).Msg("Failed to reopen data request")
			}
			return nil, err
		}
		dsr.Status = models.RequestCompleted
	}

	now := time.Now()
	dsr.ProcessedAt = &now
	if err := s.complianceRepo.UpdateRequest(ctx, dsr); err != nil {
		return nil, translate(err, ErrRequestNotFound)
	}

	s.auditor.Record(ctx, actor, models.AuditRequestProcessed, "data_request", dsr.ID, map[string]any{
		"type":    dsr.RequestType,
		"status":  dsr.Status,
		"subject": dsr.UserID,
	})

	s.withDownloadURL(ctx, dsr)
	return dsr, nil
}

// fulfil carries out an approved request.
func (s *complianceService) fulfil(ctx context.Context, actor Actor, dsr *models.DataSubjectRequest) error {
	switch dsr.RequestType {
	case models.RequestAccess, models.RequestPortability:
		key, err := s.exportUserData(ctx, actor, dsr.UserID)
		if err != nil {
			return err
		}
		dsr.ResultKey = key
	case models.RequestErasure:
		return s.AnonymizeUser(ctx, actor, dsr.UserID)
	case models.RequestRectification, models.RequestRestriction:
		// Выполняется вручную, фиксируем только решение
	default:
		return invalid("unknown request type %q", dsr.RequestType)
	}
	return nil
}

// Export, anonymization, deletion

func (s *complianceService) ExportUserData(ctx context.Context, actor Actor, userID string) (*models.AttachmentURLResponse, error) {
	if userID == "" {
		userID = actor.UserID
	}
	if userID != actor.UserID && !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	key, err := s.exportUserData(ctx, actor, userID)
	if err != nil {
		return nil, err
	}

	url, expires, err := s.store.PresignedURL(ctx, key, path.Base(key))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return &models.AttachmentURLResponse{URL: url, ExpiresAt: expires}, nil
}

func (s *complianceService) collectUserData(ctx context.Context, user *models.User) (*models.UserDataExport, error) {
	export := &models.UserDataExport{
		GeneratedAt: time.Now().UTC(),
		User:        *user,
	}

	var err error
	if export.Enrollments, err = s.courseRepo.ListStudentEnrollments(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("failed to load enrollments: %w", err)
	}

	subs, err := s.submissionRepo.ListAllByStudent(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load submissions: %w", err)
	}
	for _, sub := range subs {
		export.Submissions = append(export.Submissions, sub.StudentView())
	}

	feedback, err := s.feedbackRepo.ListByStudent(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load feedback: %w", err)
	}
	for i := range feedback {
		export.Feedback = append(export.Feedback, feedback[i].StudentView())
	}

	if export.Consents, err = s.complianceRepo.ListConsents(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("failed to load consents: %w", err)
	}
	if export.Requests, err = s.complianceRepo.ListRequestsByUser(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("failed to load data requests: %w", err)
	}
	if export.AuditTrail, err = s.complianceRepo.ListAuditLogsByActor(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("failed to load audit trail: %w", err)
	}

	return export, nil
}

func (s *complianceService) exportUserData(ctx context.Context, actor Actor, userID string) (string, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return "", ErrUserNotFound
	}

	export, err := s.collectUserData(ctx, user)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode export: %w", err)
	}

	key := storage.ExportKey(s.cfg.ExportPrefix, user.ID, export.GeneratedAt)
	if err := s.store.Upload(ctx, key, "application/json", data); err != nil {
		return "", fmt.Errorf("%w: failed to store export: %v", ErrUpstream, err)
	}

	s.auditor.Record(ctx, actor, models.AuditDataExported, "user", user.ID, map[string]any{
		"submissions": len(export.Submissions),
		"bytes":       len(data),
	})

	s.logger.Info().Str("user_id", user.ID).Str("key", key).Msg("User data exported")
	return key, nil
}

// attachmentKeys lists every stored file of the student's submissions.
func (s *complianceService) attachmentKeys(ctx context.Context, userID string) ([]string, error) {
	subs, err := s.submissionRepo.ListAllByStudent(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load submissions: %w", err)
	}
	var keys []string
	for _, sub := range subs {
		for _, a := range sub.Attachments {
			keys = append(keys, a.Key)
		}
	}
	return keys, nil
}

func (s *complianceService) deleteObjects(ctx context.Context, keys []string) int {
	removed := 0
	for _, key := range keys {
		if err := s.store.Delete(ctx, key); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("Failed to delete object")
			continue
		}
		removed++
	}
	return removed
}

func (s *complianceService) exportPrefix(userID string) string {
	return path.Join(strings.Trim(s.cfg.ExportPrefix, "/"), userID) + "/"
}

func anonymizedEmail(userID string) string {
	return "anonymized+" + userID + "@invalid.local"
}

// AnonymizeUser strips personal data but keeps grade records.
func (s *complianceService) AnonymizeUser(ctx context.Context, actor Actor, userID string) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return ErrUserNotFound
	}
	if user.IsAnonymized() {
		return nil
	}
	if user.Role == models.RoleAdmin {
		return fmt.Errorf("%w: administrators cannot be anonymized", ErrForbidden)
	}

	keys, err := s.attachmentKeys(ctx, user.ID)
	if err != nil {
		return err
	}

	if err := s.userRepo.Anonymize(ctx, user.ID, anonymizedEmail(user.ID)); err != nil {
		return translate(err, ErrUserNotFound)
	}

	scrubbed, err := s.submissionRepo.ScrubContentForUser(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("failed to scrub submissions: %w", err)
	}

	removed := s.deleteObjects(ctx, keys)
	if _, err := s.store.DeletePrefix(ctx, s.exportPrefix(user.ID)); err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to delete exports")
	}

	s.auditor.Record(ctx, actor, models.AuditUserAnonymized, "user", user.ID, map[string]any{
		"submissions_scrubbed": scrubbed,
		"objects_deleted":      removed,
	})

	s.logger.Info().
		Str("user_id", user.ID).
		Int64("submissions_scrubbed", scrubbed).
		Int("objects_deleted", removed).
		Msg("User anonymized")

	return nil
}

func (s *complianceService) DeleteUser(ctx context.Context, actor Actor, userID string) error {
	if userID == actor.UserID {
		return fmt.Errorf("%w: cannot delete your own account", ErrForbidden)
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return ErrUserNotFound
	}

	keys, err := s.attachmentKeys(ctx, user.ID)
	if err != nil {
		return err
	}

	if err := s.userRepo.Delete(ctx, user.ID); err != nil {
		if errors.Is(err, repository.ErrReferenceMissing) {
			return fmt.Errorf("%w: user still owns courses", ErrConflict)
		}
		return translate(err, ErrUserNotFound)
	}

	removed := s.deleteObjects(ctx, keys)
	if _, err := s.store.DeletePrefix(ctx, s.exportPrefix(user.ID)); err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to delete exports")
	}

	s.auditor.Record(ctx, actor, models.AuditUserDeleted, "user", user.ID, map[string]any{
		"role":            user.Role,
		"objects_deleted": removed,
	})

	s.logger.Info().Str("user_id", user.ID).Int("objects_deleted", removed).Msg("User deleted")
	return nil
}

// PurgeExpiredData applies the retention policy.
func (s *complianceService) PurgeExpiredData(ctx context.Context, actor Actor) (*models.RetentionPurgeResult, error) {
	result := &models.RetentionPurgeResult{}
	now := time.Now()

	if s.cfg.RetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -s.cfg.RetentionDays)
		removed, err := s.submissionRepo.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return nil, fmt.Errorf("failed to purge submissions: %w", err)
		}
		result.SubmissionsDeleted = int64(len(removed))

		var keys []string
		for _, atts := range removed {
			for _, a := range atts {
				keys = append(keys, a.Key)
			}
		}
		s.deleteObjects(ctx, keys)
	}

	purged, err := s.tokenRepo.PurgeExpired(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to purge revoked tokens: %w", err)
	}
	result.TokensPurged = purged

	s.auditor.Record(ctx, actor, models.AuditRetentionPurge, "system", "", map[string]any{
		"retention_days":      s.cfg.RetentionDays,
		"submissions_deleted": result.SubmissionsDeleted,
		"tokens_purged":       result.TokensPurged,
	})

	return result, nil
}

func (s *complianceService) ListAuditLogs(ctx context.Context, filter models.AuditFilter, p models.Pagination) (*models.ListResponse[models.AuditLog], error) {
	list, total, err := s.complianceRepo.ListAuditLogs(ctx, filter, p.Limit, p.Offset())
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	resp := models.NewListResponse(list, total, p)
	return &resp, nil
}
