package models

import (
	"database/sql/driver"
	"time"
)

type SubmissionStatus string

const (
	SubmissionPending    SubmissionStatus = "pending"
	SubmissionProcessing SubmissionStatus = "processing"
	SubmissionCompleted  SubmissionStatus = "completed"
	SubmissionFailed     SubmissionStatus = "failed"
)

func (s SubmissionStatus) String() string {
	return string(s)
}

func IsValidSubmissionStatus(status string) bool {
	switch SubmissionStatus(status) {
	case SubmissionPending, SubmissionProcessing, SubmissionCompleted, SubmissionFailed:
		return true
	default:
		return false
	}
}

var submissionTransitions = map[SubmissionStatus][]SubmissionStatus{
	SubmissionPending:    {SubmissionProcessing, SubmissionFailed},
	SubmissionProcessing: {SubmissionCompleted, SubmissionFailed, SubmissionPending},
	SubmissionCompleted:  {SubmissionPending},
	SubmissionFailed:     {SubmissionPending},
}

// CanTransitionTo guards status changes. Going back to pending is a regrade
// or a requeue after a transient failure.
func (s SubmissionStatus) CanTransitionTo(next SubmissionStatus) bool {
	for _, allowed := range submissionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AllowedPredecessors lists the statuses from which next can be reached.
func AllowedPredecessors(next SubmissionStatus) []SubmissionStatus {
	var from []SubmissionStatus
	for _, s := range []SubmissionStatus{SubmissionPending, SubmissionProcessing, SubmissionCompleted, SubmissionFailed} {
		if s.CanTransitionTo(next) {
			from = append(from, s)
		}
	}
	return from
}

type Attachment struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

type Attachments []Attachment

func (a Attachments) Value() (driver.Value, error) {
	if a == nil {
		a = Attachments{}
	}
	return jsonValue(a)
}

func (a *Attachments) Scan(src any) error {
	return jsonScan(src, a)
}

type Submission struct {
	ID           string           `json:"id" db:"id"`
	AssignmentID string           `json:"assignment_id" db:"assignment_id"`
	StudentID    string           `json:"student_id" db:"student_id"`
	Content      string           `json:"content" db:"content"`
	Attachments  Attachments      `json:"attachments" db:"attachments"`
	ContentHash  string           `json:"-" db:"content_hash"`
	Status       SubmissionStatus `json:"status" db:"status"`
	Attempts     int              `json:"attempts" db:"attempts"`
	IsLate       bool             `json:"is_late" db:"is_late"`
	ErrorMessage string           `json:"error_message,omitempty" db:"error_message"`
	RawResponse  string           `json:"raw_response,omitempty" db:"raw_response"`
	SubmittedAt  time.Time        `json:"submitted_at" db:"submitted_at"`
	StartedAt    *time.Time       `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at" db:"updated_at"`
}

// StudentView hides operator diagnostics.
func (s Submission) StudentView() Submission {
	s.RawResponse = ""
	return s
}

type SubmissionWithDetails struct {
	Submission
	StudentName     string   `json:"student_name" db:"student_name"`
	StudentEmail    string   `json:"student_email" db:"student_email"`
	AssignmentTitle string   `json:"assignment_title" db:"assignment_title"`
	Score           *float64 `json:"score,omitempty" db:"score"`
}
