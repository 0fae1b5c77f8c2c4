package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors surfaced by the SDK. All wrapped errors remain testable
// with errors.Is.
var (
	// ErrValidation indicates the event failed client-side validation and was
	// never queued or sent.
	ErrValidation = errors.New("validation error")

	// ErrAuth indicates the token provider failed or the server rejected the
	// credentials (401/403). Never retried.
	ErrAuth = errors.New("authentication error")

	// ErrShutdownInProgress is returned for enqueues attempted after Close.
	ErrShutdownInProgress = errors.New("shutdown in progress")

	// ErrQueueFull indicates the engine queue rejected a non-blocking enqueue.
	ErrQueueFull = errors.New("queue full")

	// ErrSpilloverFull indicates the spillover file hit its event or byte cap.
	ErrSpilloverFull = errors.New("spillover full")
)

// APIError is a transport-level failure reported by the ingestion API.
//
// Retryable mirrors the transport retry policy: true for 429 and for 5xx
// except 501, false for every other 4xx. Network-level failures never reach
// an APIError; they surface as wrapped url.Error values and are always
// retryable.
type APIError struct {
	// StatusCode is the HTTP status returned by the server.
	StatusCode int

	// ErrorCode is the server-supplied machine-readable code, when present.
	ErrorCode string

	// Message is the human-readable failure description.
	Message string

	// Retryable reports whether the request may be attempted again.
	Retryable bool
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.ErrorCode, e.Message)
	}

	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps authentication failures onto ErrAuth so callers can test with
// errors.Is instead of inspecting status codes.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrAuth
	}

	return nil
}

// isRetryableStatus reports whether an HTTP status may be retried.
// 501 Not Implemented is explicitly permanent.
func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// permanentReject reports whether the backend examined and rejected the
// event itself, as opposed to failing transiently or refusing the
// credentials. Used by replay to keep one bad event from jamming the file.
func permanentReject(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	return apiErr.StatusCode == http.StatusBadRequest ||
		apiErr.StatusCode == http.StatusUnprocessableEntity
}

// isRetryableError classifies any error returned by a send attempt.
// APIError values carry their own classification; cancellation, validation,
// and auth failures are permanent; anything else is a network-level failure.
func isRetryableError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if errors.Is(err, ErrValidation) || errors.Is(err, ErrAuth) {
		return false
	}

	return true
}
