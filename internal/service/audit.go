package service

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/models"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/repository"
)

// Auditor writes the audit trail. Failures are logged and never fail the
// calling operation.
type Auditor interface {
	Record(ctx context.Context, actor Actor, action, resourceType, resourceID string, meta map[string]any)
}

type auditor struct {
	repo   repository.ComplianceRepository
	logger zerolog.Logger
}

func NewAuditor(repo repository.ComplianceRepository, logger zerolog.Logger) Auditor {
	return &auditor{repo: repo, logger: logger}
}

func (a *auditor) Record(ctx context.Context, actor Actor, action, resourceType, resourceID string, meta map[string]any) {
	entry := &models.AuditLog{
		ActorID:      actor.actorID(),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IPAddress:    actor.IP,
	}

	if len(meta) > 0 {
		data, err := json.Marshal(meta)
		if err != nil {
			a.logger.Warn().Err(err).Str("action", action).Msg("Failed to encode audit metadata")
		} else {
			entry.Metadata = datatypes.JSON(data)
		}
	}

	if err := a.repo.CreateAuditLog(ctx, entry); err != nil {
		a.logger.Error().Err(err).
			Str("action", action).
			Str("resource_id", resourceID).
			Msg("Failed to write audit log")
	}
}
