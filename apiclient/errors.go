package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ErrClientNotFound is returned by Manager.Get for an unregistered name.
var ErrClientNotFound = errors.New("apiclient: client not registered")

// ErrClientExists is returned by Manager.Register for a duplicate name.
// Replacing a registered configuration is refused because an already
// built client would silently diverge from it.
var ErrClientExists = errors.New("apiclient: client already registered")

// ErrorKind classifies transport-level failures for retry decisions.
type ErrorKind string

const (
	// ErrorKindTimeout indicates a request or connection timeout.
	ErrorKindTimeout ErrorKind = "timeout"
	// ErrorKindConnection indicates a connection failure (refused, DNS,
	// reset, body read).
	ErrorKindConnection ErrorKind = "connection"
	// ErrorKindHTTP indicates a completed round-trip with a non-2xx
	// status code.
	ErrorKindHTTP ErrorKind = "http"
	// ErrorKindOther covers everything else, including caller
	// cancellation and request construction failures.
	ErrorKindOther ErrorKind = "other"
)

// Error is a classified failure observed while executing a request.
// It is carried on Result.Err and never raised to the caller.
type Error struct {
	// Kind classifies the failure.
	Kind ErrorKind
	// StatusCode is the HTTP status code (0 for transport-level errors).
	StatusCode int
	// Message describes the failure.
	Message string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("apiclient: %s (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("apiclient: %s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// newHTTPError wraps a non-2xx status as a classified error.
func newHTTPError(statusCode int) *Error {
	return &Error{
		Kind:       ErrorKindHTTP,
		StatusCode: statusCode,
		Message:    fmt.Sprintf("HTTP %d", statusCode),
	}
}

// classifyTransportError converts a round-trip error into a classified
// Error. The attempt context distinguishes a breached per-attempt timeout
// from a caller cancellation.
func classifyTransportError(attemptCtx context.Context, err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		return &Error{Kind: ErrorKindTimeout, Message: err.Error(), Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: ErrorKindOther, Message: err.Error(), Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: ErrorKindTimeout, Message: err.Error(), Err: err}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &Error{Kind: ErrorKindConnection, Message: err.Error(), Err: err}
	}

	return &Error{Kind: ErrorKindOther, Message: err.Error(), Err: err}
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == ErrorKindTimeout
}

// IsConnection checks if an error is a connection error.
func IsConnection(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == ErrorKindConnection
}

// IsHTTP checks if an error is a non-2xx HTTP status error.
func IsHTTP(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == ErrorKindHTTP
}
