package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tullo/moddash/internal/apperr"
)

// ErrorResponse sends a standardized error response and logs at caller if needed
func ErrorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// StatusFor maps a dashboard error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrBusy), errors.Is(err, apperr.ErrStaleContext), errors.Is(err, apperr.ErrNotLoaded):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrNothingToDo), errors.Is(err, apperr.ErrNotConfirmed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrService):
		return http.StatusBadGateway
	case errors.Is(err, apperr.ErrNetwork):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes err with its mapped status. Validation errors carry
// their field list.
func respondError(c *gin.Context, log *slog.Logger, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", c.FullPath(), "status", status, "error", err)
	}

	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		c.JSON(status, gin.H{"error": err.Error(), "fields": ve.Errors})
		return
	}
	ErrorResponse(c, status, err.Error())
}

// errString renders an optional error for a JSON view.
func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
