package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/casekit/outbound/auth"
	"github.com/casekit/outbound/logger"
	"github.com/casekit/outbound/resilience"
)

const tracerName = "github.com/casekit/outbound/apiclient"

// ClientOption configures a Client beyond its ClientConfig.
type ClientOption func(*Client)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(log *logger.Logger) ClientOption {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithMetrics sets the shared metrics collector. Nil disables metrics.
func WithMetrics(m *Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// Client executes logical requests against one external dependency. It
// owns its rate limiter, circuit breaker and authentication manager;
// none of them are shared with other clients. Safe for concurrent use.
type Client struct {
	name       string
	config     ClientConfig
	httpClient *http.Client
	auth       *auth.Manager
	limiter    *resilience.RateLimiter
	breaker    *resilience.CircuitBreaker
	log        *logger.Logger
	metrics    *Metrics
	tracer     trace.Tracer

	retryStatus map[int]struct{}
	retryKinds  map[ErrorKind]struct{}

	requestCount atomic.Uint64
	successCount atomic.Uint64
	errorCount   atomic.Uint64
}

// NewClient creates a client for one named external dependency.
func NewClient(name string, cfg ClientConfig, opts ...ClientOption) (*Client, error) {
	if name == "" {
		return nil, fmt.Errorf("apiclient: client name is required")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.MaxConnections > 0 {
		transport.MaxConnsPerHost = cfg.MaxConnections
	}
	if cfg.MaxIdleConnections > 0 {
		transport.MaxIdleConnsPerHost = cfg.MaxIdleConnections
	}

	c := &Client{
		name:   name,
		config: cfg,
		// Timeouts are applied per attempt through the request context,
		// so the http.Client itself carries none.
		httpClient:  &http.Client{Transport: transport},
		auth:        authManager,
		log:         logger.Nop(),
		tracer:      otel.Tracer(tracerName),
		retryStatus: make(map[int]struct{}, len(cfg.Retry.RetryStatusCodes)),
		retryKinds:  make(map[ErrorKind]struct{}, len(cfg.Retry.RetryErrorKinds)),
	}
	for _, code := range cfg.Retry.RetryStatusCodes {
		c.retryStatus[code] = struct{}{}
	}
	for _, kind := range cfg.Retry.RetryErrorKinds {
		c.retryKinds[kind] = struct{}{}
	}

	for _, opt := range opts {
		opt(c)
	}

	if cfg.RateLimit != nil {
		limiter, err := resilience.NewRateLimiter(*cfg.RateLimit)
		if err != nil {
			return nil, err
		}
		c.limiter = limiter
	}

	cbCfg := cfg.CircuitBreaker
	userHook := cbCfg.OnStateChange
	cbCfg.OnStateChange = func(from, to resilience.State) {
		c.log.Warn("circuit state changed", logger.Fields(
			logger.FieldClient, name,
			"from", from.String(),
			logger.FieldState, to.String(),
		))
		c.metrics.RecordCircuitState(name, to)
		if userHook != nil {
			userHook(from, to)
		}
	}
	c.breaker = resilience.NewCircuitBreaker(cbCfg)

	return c, nil
}

// Name returns the client's registered name.
func (c *Client) Name() string {
	return c.name
}

// Request executes one logical call. It never returns a Go error; every
// failure mode is encoded in the returned Result's Status.
func (c *Client) Request(ctx context.Context, req Request) *Result {
	start := time.Now()
	result := &Result{
		RequestID: uuid.NewString(),
		Request:   req,
		Timestamp: start,
	}

	ctx, span := c.tracer.Start(ctx, "outbound.request", trace.WithAttributes(
		attribute.String("outbound.client", c.name),
		attribute.String("http.request.method", req.Method),
		attribute.String("url.path", req.Path),
	))
	defer func() {
		result.Elapsed = time.Since(start)
		c.finish(span, result)
	}()

	if !c.breaker.CanRequest() {
		result.Status = StatusCircuitOpen
		result.Err = resilience.ErrCircuitOpen
		c.metrics.RecordCircuitOpen(c.name)
		return result
	}

	var lastErr error
	for attempt := 1; attempt <= c.config.Retry.MaxAttempts; attempt++ {
		result.Attempts = attempt

		if c.limiter != nil {
			waited, err := c.limiter.Wait(ctx)
			if err != nil {
				c.breaker.ReleaseProbe()
				if errors.Is(err, resilience.ErrRateLimited) {
					result.Status = StatusRateLimited
					result.Err = fmt.Errorf("apiclient: admission wait ceiling %s reached: %w", c.limiter.MaxWait(), err)
					c.metrics.RecordRateLimited(c.name)
				} else {
					result.Status = statusFromContextErr(err)
					result.Err = err
				}
				return result
			}
			if waited > 0 {
				c.log.Debug("waited for rate limit admission", logger.Fields(
					logger.FieldClient, c.name,
					logger.FieldRequestID, result.RequestID,
					logger.FieldDuration, waited.Milliseconds(),
				))
			}
		}

		authHeaders, err := c.auth.Headers()
		if err != nil {
			c.breaker.ReleaseProbe()
			result.Status = StatusError
			result.Err = fmt.Errorf("apiclient: auth headers: %w", err)
			return result
		}

		timeout := c.config.Timeout
		if req.Timeout > 0 {
			timeout = req.Timeout
		}
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, terr := c.do(attemptCtx, req, authHeaders)
		cancel()

		if terr != nil {
			lastErr = terr
			if c.shouldRetryKind(terr.Kind) && attempt < c.config.Retry.MaxAttempts {
				if err := c.backoff(ctx, result, attempt, terr); err != nil {
					c.breaker.RecordFailure()
					result.Status = statusFromContextErr(err)
					result.Err = lastErr
					return result
				}
				continue
			}
			c.breaker.RecordFailure()
			if terr.Kind == ErrorKindTimeout {
				result.Status = StatusTimeout
			} else {
				result.Status = StatusError
			}
			result.Err = terr
			return result
		}

		result.Response = resp
		if resp.IsSuccess() {
			c.breaker.RecordSuccess()
			result.Status = StatusSuccess
			return result
		}

		lastErr = newHTTPError(resp.StatusCode)
		if c.shouldRetryStatus(resp.StatusCode) && attempt < c.config.Retry.MaxAttempts {
			if err := c.backoff(ctx, result, attempt, lastErr); err != nil {
				c.breaker.RecordFailure()
				result.Status = statusFromContextErr(err)
				result.Err = lastErr
				return result
			}
			continue
		}
		c.breaker.RecordFailure()
		if resp.StatusCode == http.StatusUnauthorized {
			result.Status = StatusAuthenticationError
		} else {
			result.Status = StatusError
		}
		result.Err = lastErr
		return result
	}

	c.breaker.RecordFailure()
	result.Status = StatusError
	result.Err = lastErr
	return result
}

// Stats returns a snapshot of the client's counters. It reads atomic
// counters and short-lived component locks only, so in-flight requests
// are never blocked on it.
func (c *Client) Stats() Stats {
	s := Stats{
		Client:       c.name,
		Requests:     c.requestCount.Load(),
		Successes:    c.successCount.Load(),
		Errors:       c.errorCount.Load(),
		CircuitState: c.breaker.State().String(),
		Failures:     c.breaker.Failures(),
	}
	if c.limiter != nil {
		ls := c.limiter.Stats()
		s.RateLimiter = &ls
	}
	return s
}

// Close releases idle transport connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// shouldRetryStatus reports whether the status code is retryable.
func (c *Client) shouldRetryStatus(code int) bool {
	_, ok := c.retryStatus[code]
	return ok
}

// shouldRetryKind reports whether the transport error kind is retryable.
func (c *Client) shouldRetryKind(kind ErrorKind) bool {
	_, ok := c.retryKinds[kind]
	return ok
}

// backoff suspends for the deterministic post-attempt delay, honoring
// caller cancellation.
func (c *Client) backoff(ctx context.Context, result *Result, attempt int, cause error) error {
	delay := c.config.Retry.Backoff(attempt)
	c.log.Debug("retrying after backoff", logger.Fields(
		logger.FieldClient, c.name,
		logger.FieldRequestID, result.RequestID,
		logger.FieldAttempt, attempt,
		logger.FieldDuration, delay.Milliseconds(),
		logger.FieldError, cause.Error(),
	))
	c.metrics.RecordRetry(c.name)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// do performs one transport attempt and reads the full response body.
func (c *Client) do(ctx context.Context, req Request, authHeaders map[string]string) (*Response, *Error) {
	httpReq, err := c.buildRequest(ctx, req, authHeaders)
	if err != nil {
		return nil, &Error{Kind: ErrorKindOther, Message: err.Error(), Err: err}
	}

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(ctx, fmt.Errorf("read response body: %w", err))
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    flattenHeaders(resp.Header),
		Body:       body,
		Elapsed:    time.Since(started),
	}, nil
}

// buildRequest constructs an *http.Request. Header precedence, lowest
// first: static config headers, auth headers, request headers.
func (c *Client) buildRequest(ctx context.Context, req Request, authHeaders map[string]string) (*http.Request, error) {
	url := req.Path
	if c.config.BaseURL != "" && !strings.HasPrefix(req.Path, "http://") && !strings.HasPrefix(req.Path, "https://") {
		url = strings.TrimRight(c.config.BaseURL, "/") + "/" + strings.TrimLeft(req.Path, "/")
	}

	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if len(req.Query) > 0 {
		q := httpReq.URL.Query()
		for k, v := range req.Query {
			q.Set(k, v)
		}
		httpReq.URL.RawQuery = q.Encode()
	}

	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range authHeaders {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	if body != nil && httpReq.Header.Get("Content-Type") == "" && contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	return httpReq, nil
}

// finish records the terminal outcome: span attributes, counters,
// metrics and the log trail.
func (c *Client) finish(span trace.Span, result *Result) {
	span.SetAttributes(
		attribute.String("outbound.status", string(result.Status)),
		attribute.Int("outbound.attempts", result.Attempts),
	)
	if result.Response != nil {
		span.SetAttributes(attribute.Int("http.response.status_code", result.Response.StatusCode))
	}
	if result.Err != nil {
		span.RecordError(result.Err)
	}
	if result.Status == StatusSuccess {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, string(result.Status))
	}
	span.End()

	c.requestCount.Add(1)
	if result.Status == StatusSuccess {
		c.successCount.Add(1)
	} else {
		c.errorCount.Add(1)
	}
	c.metrics.RecordResult(c.name, result.Request.Method, result.Status, result.Elapsed)

	fields := logger.Fields(
		logger.FieldClient, c.name,
		logger.FieldRequestID, result.RequestID,
		logger.FieldMethod, result.Request.Method,
		logger.FieldPath, result.Request.Path,
		logger.FieldStatus, string(result.Status),
		logger.FieldAttempts, result.Attempts,
		logger.FieldDuration, result.Elapsed.Milliseconds(),
	)
	if result.Response != nil {
		fields[logger.FieldStatusCode] = result.Response.StatusCode
	}
	if result.Status == StatusSuccess {
		c.log.Debug("request completed", fields)
	} else {
		if result.Err != nil {
			fields[logger.FieldError] = result.Err.Error()
		}
		c.log.Warn("request failed", fields)
	}
}

// statusFromContextErr maps a context error observed outside a transport
// attempt to a terminal status.
func statusFromContextErr(err error) RequestStatus {
	if errors.Is(err, context.DeadlineExceeded) {
		return StatusTimeout
	}
	return StatusError
}

// encodeBody converts a body value into an io.Reader and content type.
func encodeBody(body any) (io.Reader, string, error) {
	if body == nil {
		return nil, "", nil
	}
	switch v := body.(type) {
	case io.Reader:
		return v, "", nil
	case []byte:
		return bytes.NewReader(v), "", nil
	case string:
		return strings.NewReader(v), "text/plain", nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

// flattenHeaders converts multi-value headers to single-value.
func flattenHeaders(h http.Header) map[string]string {
	result := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			result[k] = v[0]
		}
	}
	return result
}
