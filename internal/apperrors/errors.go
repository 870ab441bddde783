// Package apperrors provides a structured application error used across
// the job creator and job watcher to classify failures for logging.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Type classifies an error for logging purposes.
type Type string

const (
	TypeValidation   Type = "validation"
	TypeTransient    Type = "transient"
	TypeProvisioning Type = "provisioning"
	TypeObservation  Type = "observation"
	TypeInternal     Type = "internal"
)

// statusCodes maps each Type to the HTTP status code that best describes
// it, mirroring the status-per-type mapping used for structured errors
// elsewhere in the stack.
var statusCodes = map[Type]int{
	TypeValidation:   http.StatusBadRequest,
	TypeTransient:    http.StatusServiceUnavailable,
	TypeProvisioning: http.StatusInternalServerError,
	TypeObservation:  http.StatusInternalServerError,
	TypeInternal:     http.StatusInternalServerError,
}

// AppError is a structured error carrying a classification, a status
// code derived from it, an optional human-readable detail string, and an
// optional wrapped cause.
type AppError struct {
	Type       Type
	Message    string
	Details    string
	StatusCode int
	Cause      error
}

// New creates an AppError of the given type with no wrapped cause.
func New(t Type, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusCodes[t],
	}
}

// Newf creates an AppError with a formatted message.
func Newf(t Type, format string, args ...any) *AppError {
	return New(t, fmt.Sprintf(format, args...))
}

// Wrap creates an AppError of the given type wrapping cause.
func Wrap(cause error, t Type, message string) *AppError {
	err := New(t, message)
	err.Cause = cause
	return err
}

// Wrapf creates an AppError wrapping cause with a formatted message.
func Wrapf(cause error, t Type, format string, args ...any) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

// WithDetails attaches (or replaces) the detail string and returns the
// same error, allowing call-site chaining.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf attaches a formatted detail string.
func (e *AppError) WithDetailsf(format string, args ...any) *AppError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// IsTransient reports whether err is (or wraps) an AppError of
// TypeTransient, the classification pkg/queue uses to decide whether a
// handler failure is logged as an expected, will-recur condition or as
// an unexpected error worth paging on.
func IsTransient(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == TypeTransient
	}
	return false
}
