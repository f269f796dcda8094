// Package apperr defines the error taxonomy shared by every dashboard
// component. Each concrete error unwraps to a sentinel so callers can branch
// with errors.Is without caring about the details.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.
var (
	ErrNetwork    = errors.New("network error")
	ErrService    = errors.New("service error")
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")

	// ErrBusy is returned when an action is re-invoked while a previous
	// invocation is still in flight.
	ErrBusy = errors.New("action already in progress")
	// ErrNothingToDo is returned instead of issuing a vacuous request.
	ErrNothingToDo = errors.New("nothing to do")
	// ErrNotConfirmed is returned when a destructive action was declined.
	ErrNotConfirmed = errors.New("action not confirmed")
	// ErrNotLoaded is returned by writes attempted before the authoritative
	// state was read. Writing would replace remote data with local defaults.
	ErrNotLoaded = errors.New("state not loaded")
	// ErrStaleContext marks a response that arrived after its guild context
	// was replaced. It is never applied.
	ErrStaleContext = errors.New("stale guild context")
)

// NetworkError is a transport-level failure: no response was received.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() []error { return []error{ErrNetwork, e.Err} }

// ServiceError means a response arrived but carried an explicit failure
// (non-2xx status or success=false).
type ServiceError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: service error (status %d)", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: service error (status %d): %s", e.Op, e.StatusCode, e.Message)
}

func (e *ServiceError) Unwrap() error { return ErrService }

// FieldError describes a validation error for a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError contains a list of field-level validation errors. It never
// reaches the network.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation: %s: %s", e.Errors[0].Field, e.Errors[0].Message)
	}
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return fmt.Sprintf("validation: %d errors (%s)", len(e.Errors), strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Has reports whether the given field failed validation.
func (e *ValidationError) Has(field string) bool {
	for _, fe := range e.Errors {
		if fe.Field == field {
			return true
		}
	}
	return false
}

// NewValidationError creates a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Errors: []FieldError{{Field: field, Message: message}}}
}

// NotFoundError reports a referenced entity that can no longer be resolved,
// e.g. a configured log channel that was deleted.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }
