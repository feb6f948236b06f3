package service

import (
	"database/sql"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/repository"
)

// Base errors. The HTTP layer maps them to status codes.
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrUnprocessable = errors.New("unprocessable")
	ErrUpstream      = errors.New("upstream service failed")
)

var (
	ErrInvalidCredentials = fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
	ErrAccountDisabled    = fmt.Errorf("%w: account is disabled", ErrUnauthorized)
	ErrInvalidToken       = fmt.Errorf("%w: invalid or expired token", ErrUnauthorized)
	ErrTokenRevoked       = fmt.Errorf("%w: token has been revoked", ErrUnauthorized)

	ErrUserNotFound       = fmt.Errorf("user %w", ErrNotFound)
	ErrCourseNotFound     = fmt.Errorf("course %w", ErrNotFound)
	ErrAssignmentNotFound = fmt.Errorf("assignment %w", ErrNotFound)
	ErrSubmissionNotFound = fmt.Errorf("submission %w", ErrNotFound)
	ErrFeedbackNotFound   = fmt.Errorf("feedback %w", ErrNotFound)
	ErrRequestNotFound    = fmt.Errorf("data request %w", ErrNotFound)
	ErrAttachmentNotFound = fmt.Errorf("attachment %w", ErrNotFound)
	ErrEnrollmentNotFound = fmt.Errorf("enrollment %w", ErrNotFound)

	ErrEmailTaken        = fmt.Errorf("%w: email already registered", ErrConflict)
	ErrCourseExists      = fmt.Errorf("%w: course code already used in this term", ErrConflict)
	ErrAlreadyEnrolled   = fmt.Errorf("%w: student already enrolled", ErrConflict)
	ErrAlreadySubmitted  = fmt.Errorf("%w: resubmission is not allowed", ErrConflict)
	ErrInvalidTransition = fmt.Errorf("%w: submission status does not allow this", ErrConflict)
	ErrRequestOpen       = fmt.Errorf("%w: a request of this type is already open", ErrConflict)
	ErrRequestClosed     = fmt.Errorf("%w: request already processed", ErrConflict)

	ErrNotEnrolled     = fmt.Errorf("%w: not enrolled in this course", ErrForbidden)
	ErrConsentRequired = fmt.Errorf("%w: consent to AI processing is required", ErrForbidden)
	ErrLastAdmin       = fmt.Errorf("%w: cannot remove the last administrator", ErrForbidden)

	ErrPastDue      = fmt.Errorf("%w: assignment is past due", ErrUnprocessable)
	ErrEmptyWork    = fmt.Errorf("%w: submission has no content", ErrUnprocessable)
	ErrCourseClosed = fmt.Errorf("%w: course is archived", ErrUnprocessable)

	// ErrGradingFailed marks a grading outcome that retrying will not change.
	ErrGradingFailed = errors.New("grading failed")
)

// ValidationError carries field level messages for a 400 response.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %d field(s) failed validation", ErrInvalidInput, len(e.Fields))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidInput}, args...)...)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, gorm.ErrRecordNotFound)
}

// translate maps repository sentinels onto service errors.
func translate(err error, notFound error) error {
	switch {
	case err == nil:
		return nil
	case isNoRows(err):
		return notFound
	case errors.Is(err, repository.ErrInvalidTransition):
		return ErrInvalidTransition
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return err
	}
}
