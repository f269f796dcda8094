package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrors_UnwrapToSentinels(t *testing.T) {
	cause := errors.New("connection refused")

	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"network", &NetworkError{Op: "load logs", Err: cause}, ErrNetwork},
		{"network cause", &NetworkError{Op: "load logs", Err: cause}, cause},
		{"service", &ServiceError{Op: "save", StatusCode: 500, Message: "boom"}, ErrService},
		{"validation", NewValidationError("kick_after_swears", "must exceed timeout"), ErrValidation},
		{"not found", &NotFoundError{Entity: "channel", ID: "123"}, ErrNotFound},
		{"wrapped", fmt.Errorf("outer: %w", &ServiceError{Op: "x"}), ErrService},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.target)
		})
	}
}

func TestValidationError_Message(t *testing.T) {
	single := NewValidationError("timeout_minutes", "must be 1-1440")
	assert.Equal(t, "validation: timeout_minutes: must be 1-1440", single.Error())
	assert.True(t, single.Has("timeout_minutes"))
	assert.False(t, single.Has("kick_after_swears"))

	multi := &ValidationError{Errors: []FieldError{
		{Field: "a", Message: "bad"},
		{Field: "b", Message: "worse"},
	}}
	assert.Equal(t, "validation: 2 errors (a: bad; b: worse)", multi.Error())
}

func TestServiceError_Message(t *testing.T) {
	assert.Equal(t, "save: service error (status 502)", (&ServiceError{Op: "save", StatusCode: 502}).Error())
}
