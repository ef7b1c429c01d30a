package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"harkness_helper/internal/app"
	"harkness_helper/internal/domain/discussion"
	"harkness_helper/internal/domain/roster"
	"harkness_helper/internal/infra/storage"
)

// Envelope is the common response contract.
type Envelope struct {
	Data  interface{} `json:"data,omitempty"`
	Error *APIError   `json:"error,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respond(c *gin.Context, status int, data interface{}) {
	c.Header("Cache-Control", "no-store")
	c.JSON(status, Envelope{Data: data})
}

func respondError(c *gin.Context, err error) {
	status, code := classify(err)
	c.Header("Cache-Control", "no-store")
	c.JSON(status, Envelope{Error: &APIError{Code: code, Message: err.Error()}})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, Envelope{Error: &APIError{Code: "invalid_request", Message: err.Error()}})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, discussion.ErrNotFound), errors.Is(err, discussion.ErrReportNotFound),
		errors.Is(err, discussion.ErrMappingNotFound), errors.Is(err, discussion.ErrTranscriptNotFound),
		errors.Is(err, roster.ErrStudentNotFound), errors.Is(err, storage.ErrFileNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, app.ErrInvalidUpdate):
		return http.StatusBadRequest, "invalid_update"
	case errors.Is(err, app.ErrDiscussionLocked), errors.Is(err, app.ErrNotDistributable),
		errors.Is(err, app.ErrNotGeneratable), errors.Is(err, discussion.ErrIllegalTransition),
		errors.Is(err, discussion.ErrStatusChanged):
		return http.StatusConflict, "conflict"
	case errors.Is(err, app.ErrNotConfigured), errors.Is(err, app.ErrNoChannelEnabled),
		errors.Is(err, app.ErrCourseUnavailable):
		return http.StatusUnprocessableEntity, "not_configured"
	case errors.Is(err, storage.ErrInvalidToken), errors.Is(err, storage.ErrTokenExpired):
		return http.StatusForbidden, "forbidden"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
