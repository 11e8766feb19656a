package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies turn and service failures for the API error envelope
// and for retry decisions.
type ErrorKind string

const (
	ErrKindNoAgents          ErrorKind = "no_agents"
	ErrKindRoutingFailed     ErrorKind = "routing_failed"
	ErrKindToolUnavailable   ErrorKind = "tool_unavailable"
	ErrKindModelFailed       ErrorKind = "model_failed"
	ErrKindModelStalled      ErrorKind = "model_stalled"
	ErrKindMemoryUnavailable ErrorKind = "memory_unavailable"
	ErrKindTimeout           ErrorKind = "timeout"
	ErrKindCancelled         ErrorKind = "cancelled"
	ErrKindConnectionLost    ErrorKind = "connection_lost"
	ErrKindToolGone          ErrorKind = "tool_gone"
	ErrKindToolLoopExceeded  ErrorKind = "tool_loop_exceeded"
	ErrKindDimensionMismatch ErrorKind = "dimension_mismatch"
	ErrKindConsumerSlow      ErrorKind = "consumer_slow"
	ErrKindAlreadyRegistered ErrorKind = "already_registered"
	ErrKindNotFound          ErrorKind = "not_found"
	ErrKindInvalidInput      ErrorKind = "invalid_input"
)

// retryableKinds are failures a caller may retry without changing the request.
var retryableKinds = map[ErrorKind]bool{
	ErrKindTimeout:           true,
	ErrKindConnectionLost:    true,
	ErrKindMemoryUnavailable: true,
	ErrKindModelFailed:       true,
}

// TurnError is the structured error envelope surfaced to API callers and
// logged on turn failure. ServerID/RequestID are set for MCP-layer failures.
type TurnError struct {
	Kind      ErrorKind `json:"error_kind"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	ServerID  string    `json:"server_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`

	cause error
}

func (e *TurnError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *TurnError) Unwrap() error {
	return e.cause
}

// Is makes errors.Is match two TurnErrors by kind, so sentinel-style
// comparisons like errors.Is(err, &TurnError{Kind: ErrKindTimeout}) work.
func (e *TurnError) Is(target error) bool {
	var te *TurnError
	if !errors.As(target, &te) {
		return false
	}
	return e.Kind == te.Kind
}

// NewTurnError creates a TurnError with retryability derived from the kind.
func NewTurnError(kind ErrorKind, format string, args ...any) *TurnError {
	return &TurnError{
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
		Retryable: retryableKinds[kind],
	}
}

// WrapTurnError creates a TurnError preserving the underlying cause for
// errors.Is/As chains.
func WrapTurnError(kind ErrorKind, err error) *TurnError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &TurnError{
		Kind:      kind,
		Message:   msg,
		Retryable: retryableKinds[kind],
		cause:     err,
	}
}

// KindOf returns the ErrorKind carried by err, or empty when err is not a
// TurnError.
func KindOf(err error) ErrorKind {
	var te *TurnError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// WithServer annotates the error with the MCP server and request it failed on.
func (e *TurnError) WithServer(serverID, requestID string) *TurnError {
	e.ServerID = serverID
	e.RequestID = requestID
	return e
}
