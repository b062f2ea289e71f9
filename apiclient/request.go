package apiclient

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/casekit/outbound/resilience"
)

// RequestStatus is the closed set of terminal outcomes surfaced to
// callers. Callers branch on it rather than on error types.
type RequestStatus string

const (
	// StatusSuccess means a 2xx response was received.
	StatusSuccess RequestStatus = "success"
	// StatusError means a non-retryable failure or exhausted retries.
	StatusError RequestStatus = "error"
	// StatusTimeout means the final attempt breached its timeout.
	StatusTimeout RequestStatus = "timeout"
	// StatusRateLimited means admission waiting reached its ceiling
	// before any transport attempt.
	StatusRateLimited RequestStatus = "rate_limited"
	// StatusAuthenticationError means the last observed HTTP status
	// was 401.
	StatusAuthenticationError RequestStatus = "authentication_error"
	// StatusCircuitOpen means the circuit breaker rejected the call
	// before any transport attempt.
	StatusCircuitOpen RequestStatus = "circuit_open"
)

// Request describes one outbound call. It is a value object constructed
// fresh per call.
type Request struct {
	// Method is the HTTP method (GET, POST, PUT, PATCH, DELETE, ...).
	Method string
	// Path is appended to the client's BaseURL. A full URL is used
	// verbatim.
	Path string
	// Headers are request-specific headers. They win over static and
	// auth headers.
	Headers map[string]string
	// Query are URL query parameters.
	Query map[string]string
	// Body is the request body. Accepts io.Reader, []byte, string, or
	// any value that will be JSON-encoded.
	Body any
	// Timeout overrides the client's per-attempt timeout when positive.
	Timeout time.Duration
}

// Response is one completed transport round-trip.
type Response struct {
	// StatusCode is the HTTP status code.
	StatusCode int
	// Headers are the response headers, flattened to single values.
	Headers map[string]string
	// Body is the raw response body.
	Body []byte
	// Elapsed is the measured round-trip latency.
	Elapsed time.Duration
}

// IsSuccess returns true if the status code is 2xx.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("apiclient: empty response body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("apiclient: decode response: %w", err)
	}
	return nil
}

// JSON returns the body as a generic JSON map, best effort.
func (r *Response) JSON() (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal(r.Body, &m); err != nil {
		return nil, false
	}
	return m, true
}

// Result is the only object returned to callers. Every failure mode of
// a logical call is encoded in Status; nothing below this layer
// propagates an error to the caller.
type Result struct {
	// RequestID correlates the result with its log trail.
	RequestID string
	// Request echoes the originating request.
	Request Request
	// Response is the last completed round-trip, nil if none completed.
	Response *Response
	// Status is the terminal outcome.
	Status RequestStatus
	// Attempts is the number of transport attempts made. Zero only for
	// circuit_open.
	Attempts int
	// Elapsed is the total wall-clock time of the call, including
	// admission waits and backoff sleeps.
	Elapsed time.Duration
	// Timestamp is when the call started.
	Timestamp time.Time
	// Err is the last observed cause for non-success statuses.
	Err error
}

// IsSuccess returns true if the call ended with a 2xx response.
func (r *Result) IsSuccess() bool {
	return r.Status == StatusSuccess
}

// Stats is a point-in-time snapshot of one client's counters.
type Stats struct {
	Client       string                      `json:"client"`
	Requests     uint64                      `json:"requests"`
	Successes    uint64                      `json:"successes"`
	Errors       uint64                      `json:"errors"`
	CircuitState string                      `json:"circuit_state"`
	Failures     int                         `json:"consecutive_failures"`
	RateLimiter  *resilience.RateLimiterStats `json:"rate_limiter,omitempty"`
}
