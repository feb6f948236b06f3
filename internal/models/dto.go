package models

import "time"

// Data Transfer Objects

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Name     string `json:"name" validate:"required,min=2,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Role     string `json:"role,omitempty" validate:"omitempty,oneof=student instructor admin"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72,nefield=CurrentPassword"`
}

type UpdateProfileRequest struct {
	Name string `json:"name" validate:"required,min=2,max=255"`
}

type UpdateRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=student instructor admin"`
}

type CreateCourseRequest struct {
	Code         string `json:"code" validate:"required,min=2,max=32"`
	Title        string `json:"title" validate:"required,min=3,max=255"`
	Description  string `json:"description" validate:"max=5000"`
	Term         string `json:"term" validate:"max=64"`
	InstructorID string `json:"instructor_id,omitempty" validate:"omitempty,uuid"`
}

type UpdateCourseRequest struct {
	Title       *string `json:"title,omitempty" validate:"omitempty,min=3,max=255"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=5000"`
	Term        *string `json:"term,omitempty" validate:"omitempty,max=64"`
	IsArchived  *bool   `json:"is_archived,omitempty"`
}

type EnrollRequest struct {
	StudentID string `json:"student_id" validate:"required,uuid"`
}

type BatchEnrollRequest struct {
	Emails []string `json:"emails" validate:"required,min=1,max=5000,dive,required,email"`
}

type BatchEnrollResult struct {
	Enrolled        []string `json:"enrolled"`
	AlreadyEnrolled []string `json:"already_enrolled"`
	Unknown         []string `json:"unknown"`
	NotStudents     []string `json:"not_students"`
}

type CreateAssignmentRequest struct {
	Title             string     `json:"title" validate:"required,min=3,max=255"`
	Description       string     `json:"description" validate:"max=20000"`
	Rubric            Rubric     `json:"rubric"`
	InstructorContext string     `json:"instructor_context" validate:"max=20000"`
	DueDate           *time.Time `json:"due_date,omitempty"`
	AllowLate         bool       `json:"allow_late"`
	AllowResubmission bool       `json:"allow_resubmission"`
}

type UpdateAssignmentRequest struct {
	Title             *string    `json:"title,omitempty" validate:"omitempty,min=3,max=255"`
	Description       *string    `json:"description,omitempty" validate:"omitempty,max=20000"`
	Rubric            *Rubric    `json:"rubric,omitempty"`
	InstructorContext *string    `json:"instructor_context,omitempty" validate:"omitempty,max=20000"`
	DueDate           *time.Time `json:"due_date,omitempty"`
	ClearDueDate      bool       `json:"clear_due_date,omitempty"`
	AllowLate         *bool      `json:"allow_late,omitempty"`
	AllowResubmission *bool      `json:"allow_resubmission,omitempty"`
}

// FileUpload is an attachment received with a submission.
type FileUpload struct {
	Name     string
	MIMEType string
	Data     []byte
}

type SubmitRequest struct {
	Content string       `json:"content" validate:"max=200000"`
	Files   []FileUpload `json:"-"`
}

type SubmissionResponse struct {
	Submission
	Feedback *StudentFeedback `json:"feedback,omitempty"`
}

type OverrideFeedbackRequest struct {
	Score   *float64 `json:"score" validate:"required,min=0,max=100"`
	Comment string   `json:"comment" validate:"max=10000"`
}

type BatchRegradeRequest struct {
	Statuses []string `json:"statuses" validate:"omitempty,dive,oneof=pending processing completed failed"`
}

type BatchRegradeResult struct {
	Queued  int      `json:"queued"`
	Skipped int      `json:"skipped"`
	Failed  []string `json:"failed,omitempty"`
}

type RecordConsentRequest struct {
	ConsentType string `json:"consent_type" validate:"required,oneof=ai_processing data_storage analytics"`
	Granted     *bool  `json:"granted" validate:"required"`
	Version     string `json:"version" validate:"max=32"`
}

type CreateDataRequest struct {
	RequestType string `json:"request_type" validate:"required,oneof=access erasure portability rectification restriction"`
	Details     string `json:"details" validate:"max=5000"`
}

type ProcessDataRequest struct {
	Approve bool   `json:"approve"`
	Note    string `json:"note" validate:"max=5000"`
}

type AttachmentURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type RetentionPurgeResult struct {
	SubmissionsDeleted int64 `json:"submissions_deleted"`
	TokensPurged       int64 `json:"tokens_purged"`
}

// Pagination

type Pagination struct {
	Page  int
	Limit int
}

func NewPagination(page, limit int) Pagination {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return Pagination{Page: page, Limit: limit}
}

func (p Pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

type ListResponse[T any] struct {
	Items      []T `json:"items"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"total_pages"`
}

func NewListResponse[T any](items []T, total int, p Pagination) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	pages := 0
	if p.Limit > 0 {
		pages = (total + p.Limit - 1) / p.Limit
	}
	return ListResponse[T]{
		Items:      items,
		Total:      total,
		Page:       p.Page,
		Limit:      p.Limit,
		TotalPages: pages,
	}
}
