package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/rzpsarthak13/opqueue/internal/queue"
	"github.com/rzpsarthak13/opqueue/internal/validate"
)

// APIError is the JSON body of every non-2xx response.
type APIError struct {
	StatusCode int    `json:"status_code"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
	RequestID  string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string { return e.Message }

// Render implements render.Renderer.
func (e *APIError) Render(_ http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

func newAPIError(status int, code, msg string) *APIError {
	return &APIError{StatusCode: status, ErrorCode: code, Message: msg}
}

func errBadRequest(err error) *APIError {
	return newAPIError(http.StatusBadRequest, "INVALID_REQUEST", err.Error())
}

func errNotFound(msg string) *APIError {
	return newAPIError(http.StatusNotFound, "NOT_FOUND", msg)
}

// fromError maps engine errors to responses.
func fromError(err error) *APIError {
	switch {
	case errors.Is(err, validate.ErrValidation):
		return newAPIError(http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
	case errors.Is(err, queue.ErrQueueFull):
		return newAPIError(http.StatusTooManyRequests, "QUEUE_FULL", err.Error())
	case errors.Is(err, queue.ErrClosed):
		return newAPIError(http.StatusServiceUnavailable, "UNAVAILABLE", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return newAPIError(http.StatusGatewayTimeout, "TIMEOUT", err.Error())
	case errors.Is(err, context.Canceled):
		return newAPIError(499, "CANCELLED", err.Error())
	default:
		return newAPIError(http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}
