package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/maestrokit/maestro/pkg/models"
)

// statusClientClosedRequest is the nginx convention for turns the caller
// cancelled; no standard code fits.
const statusClientClosedRequest = 499

// ErrorResponse is the error envelope returned on every failed request.
type ErrorResponse struct {
	ErrorKind models.ErrorKind `json:"error_kind"`
	Message   string           `json:"message"`
	Retryable bool             `json:"retryable"`
	ServerID  string           `json:"server_id,omitempty"`
	RequestID string           `json:"request_id,omitempty"`
	TraceID   string           `json:"trace_id,omitempty"`
}

// httpStatusFor maps an error kind to its HTTP status.
func httpStatusFor(kind models.ErrorKind) int {
	switch kind {
	case models.ErrKindInvalidInput:
		return http.StatusBadRequest
	case models.ErrKindNotFound:
		return http.StatusNotFound
	case models.ErrKindAlreadyRegistered:
		return http.StatusConflict
	case models.ErrKindCancelled:
		return statusClientClosedRequest
	case models.ErrKindTimeout, models.ErrKindModelStalled:
		return http.StatusGatewayTimeout
	case models.ErrKindNoAgents, models.ErrKindMemoryUnavailable:
		return http.StatusServiceUnavailable
	case models.ErrKindToolLoopExceeded:
		return http.StatusUnprocessableEntity
	case models.ErrKindRoutingFailed, models.ErrKindModelFailed,
		models.ErrKindToolUnavailable, models.ErrKindToolGone,
		models.ErrKindConnectionLost:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeTurnError renders err as the error envelope. Non-TurnError values are
// reported as internal errors without leaking their message.
func writeTurnError(c *echo.Context, err error) error {
	var turnErr *models.TurnError
	if !errors.As(err, &turnErr) {
		slog.Error("Unexpected API error", "error", err,
			"path", c.Request().URL.Path)
		turnErr = models.NewTurnError(models.ErrKindModelFailed, "internal error")
	}
	return c.JSON(httpStatusFor(turnErr.Kind), &ErrorResponse{
		ErrorKind: turnErr.Kind,
		Message:   turnErr.Message,
		Retryable: turnErr.Retryable,
		ServerID:  turnErr.ServerID,
		RequestID: turnErr.RequestID,
		TraceID:   c.Response().Header().Get(requestIDHeader),
	})
}
