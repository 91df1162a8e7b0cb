package klaviyo

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed API operation. Callers branch on kind
// instead of inspecting transport details.
type ErrorKind string

const (
	// ErrBadRequest is a 400: configuration or payload fault, never retried.
	ErrBadRequest ErrorKind = "bad_request"
	// ErrRateLimited is a 429 that survived all retries.
	ErrRateLimited ErrorKind = "rate_limited"
	// ErrServerError is a 5xx that survived all retries.
	ErrServerError ErrorKind = "server_error"
	// ErrTransport is a network, DNS, TLS or timeout failure.
	ErrTransport ErrorKind = "transport"
	// ErrParseIncomplete marks a structurally malformed payload; the parser
	// returns an empty result alongside it.
	ErrParseIncomplete ErrorKind = "parse_incomplete"
	// ErrMissingConversionMetric means the reporting endpoint cannot be
	// queried because no conversion metric could be resolved.
	ErrMissingConversionMetric ErrorKind = "missing_conversion_metric"
	// ErrValidation is raised synchronously before any I/O.
	ErrValidation ErrorKind = "validation"
	// ErrCancelled means the caller's context was cancelled mid-operation.
	ErrCancelled ErrorKind = "cancelled"
)

// Error is the typed failure surfaced by the client and services.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	cause      error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("klaviyo: %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("klaviyo: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func newError(kind ErrorKind, status int, msg string, cause error) *Error {
	return &Error{Kind: kind, StatusCode: status, Message: msg, cause: cause}
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind of err, or "" when err is not a klaviyo error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
