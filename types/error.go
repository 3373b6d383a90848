package types

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/BaSui01/flowstream/streaming"
)

// ErrorCode represents a unified error code across flowstream.
type ErrorCode string

// Request error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrCanceled           ErrorCode = "CANCELED"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Streaming error codes
const (
	ErrPayloadTooLarge      ErrorCode = "PAYLOAD_TOO_LARGE"
	ErrSourceReadFailure    ErrorCode = "SOURCE_READ_FAILURE"
	ErrDisposedBufferAccess ErrorCode = "DISPOSED_BUFFER_ACCESS"
	ErrStreamNotRepeatable  ErrorCode = "STREAM_NOT_REPEATABLE"
	ErrCursorClosed         ErrorCode = "CURSOR_CLOSED"
	ErrRootCompleted        ErrorCode = "ROOT_COMPLETED"
	ErrStreamingConfig      ErrorCode = "STREAMING_CONFIG"
)

// Pipeline error codes
const (
	ErrMessageAbandoned ErrorCode = "MESSAGE_ABANDONED"
	ErrValidation       ErrorCode = "VALIDATION_FAILED"
	ErrNoRoute          ErrorCode = "NO_ROUTE"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	RootID     string    `json:"root_id,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithRootID records the root message the error belongs to.
func (e *Error) WithRootID(rootID string) *Error {
	e.RootID = rootID
	return e
}

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsErrorCode reports whether err carries code.
func IsErrorCode(err error, code ErrorCode) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	e, ok := AsError(err)
	return ok && e.Retryable
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// FromStreamingError translates engine and context errors to structured
// errors. A *Error passes through unchanged; nil stays nil.
func FromStreamingError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		return e
	}

	var capErr *streaming.CapacityError
	switch {
	case errors.As(err, &capErr):
		return NewError(ErrPayloadTooLarge,
			fmt.Sprintf("payload too large to buffer repeatably (limit %d bytes)", capErr.MaxSize)).
			WithHTTPStatus(http.StatusRequestEntityTooLarge).
			WithCause(err)
	case errors.Is(err, streaming.ErrBufferCapacityExceeded):
		return NewError(ErrPayloadTooLarge, "payload too large to buffer repeatably").
			WithHTTPStatus(http.StatusRequestEntityTooLarge).
			WithCause(err)
	case errors.Is(err, streaming.ErrSourceRead):
		return NewError(ErrSourceReadFailure, "failed to read message payload").
			WithHTTPStatus(http.StatusBadRequest).
			WithCause(err)
	case errors.Is(err, streaming.ErrDisposedBufferAccess):
		return NewError(ErrDisposedBufferAccess, "payload read after its message completed").
			WithHTTPStatus(http.StatusInternalServerError).
			WithCause(err)
	case errors.Is(err, streaming.ErrNotRepeatable):
		return NewError(ErrStreamNotRepeatable, "payload stream cannot be read twice").
			WithHTTPStatus(http.StatusInternalServerError).
			WithCause(err)
	case errors.Is(err, streaming.ErrCursorClosed):
		return NewError(ErrCursorClosed, "payload cursor closed").
			WithHTTPStatus(http.StatusInternalServerError).
			WithCause(err)
	case errors.Is(err, streaming.ErrRootCompleted):
		return NewError(ErrRootCompleted, "message already completed").
			WithHTTPStatus(http.StatusConflict).
			WithCause(err)
	case errors.Is(err, streaming.ErrInvalidConfig):
		return NewError(ErrStreamingConfig, "invalid streaming configuration").
			WithHTTPStatus(http.StatusInternalServerError).
			WithCause(err)
	case errors.Is(err, streaming.ErrRegistryClosed):
		return NewError(ErrServiceUnavailable, "server is shutting down").
			WithHTTPStatus(http.StatusServiceUnavailable).
			WithRetryable(true).
			WithCause(err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(ErrTimeout, "message processing timed out").
			WithHTTPStatus(http.StatusGatewayTimeout).
			WithRetryable(true).
			WithCause(err)
	case errors.Is(err, context.Canceled):
		return NewError(ErrCanceled, "message processing canceled").
			WithHTTPStatus(499).
			WithCause(err)
	default:
		return NewError(ErrInternalError, "internal error").
			WithHTTPStatus(http.StatusInternalServerError).
			WithCause(err)
	}
}
