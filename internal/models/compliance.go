package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ConsentAIProcessing = "ai_processing"
	ConsentDataStorage  = "data_storage"
	ConsentAnalytics    = "analytics"
)

func IsValidConsentType(t string) bool {
	switch t {
	case ConsentAIProcessing, ConsentDataStorage, ConsentAnalytics:
		return true
	default:
		return false
	}
}

// Consent is append-only: the newest row per (user, type) wins.
type Consent struct {
	ID          string    `json:"id" gorm:"column:id;primaryKey"`
	UserID      string    `json:"user_id" gorm:"column:user_id"`
	ConsentType string    `json:"consent_type" gorm:"column:consent_type"`
	Granted     bool      `json:"granted" gorm:"column:granted"`
	Version     string    `json:"version" gorm:"column:version"`
	IPAddress   string    `json:"ip_address,omitempty" gorm:"column:ip_address"`
	UserAgent   string    `json:"user_agent,omitempty" gorm:"column:user_agent"`
	CreatedAt   time.Time `json:"created_at" gorm:"column:created_at"`
}

func (Consent) TableName() string { return "consents" }

func (c *Consent) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// Audit actions
const (
	AuditLogin             = "auth.login"
	AuditLoginFailed       = "auth.login_failed"
	AuditLogout            = "auth.logout"
	AuditPasswordChanged   = "auth.password_changed"
	AuditRoleChanged       = "user.role_changed"
	AuditUserDeactivated   = "user.deactivated"
	AuditFeedbackOverride  = "feedback.override"
	AuditSubmissionDeleted = "submission.deleted"
	AuditConsentRecorded   = "consent.recorded"
	AuditDataExported      = "compliance.export"
	AuditUserAnonymized    = "compliance.anonymize"
	AuditUserDeleted       = "compliance.delete"
	AuditRequestCreated    = "compliance.request_created"
	AuditRequestProcessed  = "compliance.request_processed"
	AuditRetentionPurge    = "compliance.retention_purge"
)

type AuditLog struct {
	ID           string         `json:"id" gorm:"column:id;primaryKey"`
	ActorID      *string        `json:"actor_id,omitempty" gorm:"column:actor_id"`
	Action       string         `json:"action" gorm:"column:action"`
	ResourceType string         `json:"resource_type" gorm:"column:resource_type"`
	ResourceID   string         `json:"resource_id" gorm:"column:resource_id"`
	IPAddress    string         `json:"ip_address,omitempty" gorm:"column:ip_address"`
	Metadata     datatypes.JSON `json:"metadata" gorm:"column:metadata"`
	CreatedAt    time.Time      `json:"created_at" gorm:"column:created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if len(a.Metadata) == 0 {
		a.Metadata = datatypes.JSON("{}")
	}
	return nil
}

type AuditFilter struct {
	ActorID      string
	Action       string
	ResourceType string
	ResourceID   string
	Since        *time.Time
}

type DataRequestType string

const (
	RequestAccess        DataRequestType = "access"
	RequestErasure       DataRequestType = "erasure"
	RequestPortability   DataRequestType = "portability"
	RequestRectification DataRequestType = "rectification"
	RequestRestriction   DataRequestType = "restriction"
)

type DataRequestStatus string

const (
	RequestPending    DataRequestStatus = "pending"
	RequestInProgress DataRequestStatus = "in_progress"
	RequestCompleted  DataRequestStatus = "completed"
	RequestRejected   DataRequestStatus = "rejected"
)

func (s DataRequestStatus) IsFinal() bool {
	return s == RequestCompleted || s == RequestRejected
}

type DataSubjectRequest struct {
	ID          string            `json:"id" gorm:"column:id;primaryKey"`
	UserID      string            `json:"user_id" gorm:"column:user_id"`
	RequestType DataRequestType   `json:"request_type" gorm:"column:request_type"`
	Status      DataRequestStatus `json:"status" gorm:"column:status"`
	Details     string            `json:"details,omitempty" gorm:"column:details"`
	AdminNote   string            `json:"admin_note,omitempty" gorm:"column:admin_note"`
	ResultKey   string            `json:"-" gorm:"column:result_key"`
	ProcessedBy *string           `json:"processed_by,omitempty" gorm:"column:processed_by"`
	ProcessedAt *time.Time        `json:"processed_at,omitempty" gorm:"column:processed_at"`
	CreatedAt   time.Time         `json:"created_at" gorm:"column:created_at"`
	UpdatedAt   time.Time         `json:"updated_at" gorm:"column:updated_at"`

	// Presigned link to the export archive, filled on read.
	DownloadURL string `json:"download_url,omitempty" gorm:"-"`
}

func (DataSubjectRequest) TableName() string { return "data_subject_requests" }

func (r *DataSubjectRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = RequestPending
	}
	return nil
}

type RevokedToken struct {
	TokenHash string    `gorm:"column:token_hash;primaryKey"`
	ExpiresAt time.Time `gorm:"column:expires_at"`
	RevokedAt time.Time `gorm:"column:revoked_at"`
}

func (RevokedToken) TableName() string { return "revoked_tokens" }

// UserDataExport is the document handed out for access and portability requests.
type UserDataExport struct {
	GeneratedAt time.Time            `json:"generated_at"`
	User        User                 `json:"user"`
	Enrollments []Enrollment         `json:"enrollments"`
	Submissions []Submission         `json:"submissions"`
	Feedback    []StudentFeedback    `json:"feedback"`
	Consents    []Consent            `json:"consents"`
	Requests    []DataSubjectRequest `json:"data_requests"`
	AuditTrail  []AuditLog           `json:"audit_trail"`
}
