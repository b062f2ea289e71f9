package apiclient

import (
	"fmt"
	"math"
	"time"

	"github.com/casekit/outbound/auth"
	"github.com/casekit/outbound/resilience"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxAttempts  = 3
	defaultInitialDelay = time.Second
	defaultMaxDelay     = 30 * time.Second
	defaultMultiplier   = 2.0
)

// defaultRetryStatusCodes are retried when RetryConfig leaves the set empty.
var defaultRetryStatusCodes = []int{429, 500, 502, 503, 504}

// defaultRetryErrorKinds are retried when RetryConfig leaves the set empty.
var defaultRetryErrorKinds = []ErrorKind{ErrorKindTimeout, ErrorKindConnection}

// RetryConfig controls the retry loop of a client.
type RetryConfig struct {
	// MaxAttempts is the total number of transport attempts per logical
	// call, including the first. Defaults to 3.
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts" validate:"omitempty,min=1"`
	// InitialDelay is the backoff before the second attempt. Defaults
	// to 1s.
	InitialDelay time.Duration `yaml:"initial_delay" mapstructure:"initial_delay"`
	// MaxDelay caps the backoff between attempts. Defaults to 30s.
	MaxDelay time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	// Multiplier grows the delay per attempt. Defaults to 2.0.
	Multiplier float64 `yaml:"multiplier" mapstructure:"multiplier" validate:"omitempty,gt=1"`
	// RetryStatusCodes are the HTTP status codes retried when attempts
	// remain. Defaults to 429, 500, 502, 503, 504.
	RetryStatusCodes []int `yaml:"retry_status_codes" mapstructure:"retry_status_codes"`
	// RetryErrorKinds are the transport error kinds retried when
	// attempts remain. Defaults to timeout and connection.
	RetryErrorKinds []ErrorKind `yaml:"retry_error_kinds" mapstructure:"retry_error_kinds"`
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *RetryConfig) ApplyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = defaultInitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaultMaxDelay
	}
	if c.Multiplier <= 1 {
		c.Multiplier = defaultMultiplier
	}
	if c.RetryStatusCodes == nil {
		c.RetryStatusCodes = defaultRetryStatusCodes
	}
	if c.RetryErrorKinds == nil {
		c.RetryErrorKinds = defaultRetryErrorKinds
	}
}

// Validate checks that the configuration is valid.
func (c *RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("apiclient: max_attempts must be at least 1")
	}
	if c.Multiplier <= 1 {
		return fmt.Errorf("apiclient: multiplier must be greater than 1")
	}
	if c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("apiclient: max_delay must not be below initial_delay")
	}
	return nil
}

// Backoff returns the delay inserted after the given attempt (1-based):
// min(InitialDelay * Multiplier^(attempt-1), MaxDelay). The result is a
// pure function of the attempt number; no jitter is applied.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt-1)))
	if d > c.MaxDelay || d <= 0 {
		return c.MaxDelay
	}
	return d
}

// ClientConfig describes one logical external dependency. It is
// immutable after registration.
type ClientConfig struct {
	// BaseURL is the base address prepended to request paths.
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"required"`

	// Timeout is the default per-attempt timeout. Defaults to 30s.
	// Each retry attempt gets a fresh timeout window; no overall
	// deadline is enforced across attempts.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// Auth configures credential headers for every request.
	Auth auth.Config `yaml:"auth" mapstructure:"auth"`

	// Retry controls the retry loop.
	Retry RetryConfig `yaml:"retry" mapstructure:"retry"`

	// RateLimit configures outbound admission. Nil disables limiting.
	RateLimit *resilience.RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// CircuitBreaker guards the dependency. Disabled unless Enabled is
	// set.
	CircuitBreaker resilience.CircuitBreakerConfig `yaml:"circuit_breaker" mapstructure:"circuit_breaker"`

	// Headers are static headers sent on every request. Auth and
	// request-level headers override them.
	Headers map[string]string `yaml:"headers" mapstructure:"headers"`

	// MaxConnections caps concurrent connections to the dependency.
	// Zero leaves the transport default.
	MaxConnections int `yaml:"max_connections" mapstructure:"max_connections"`
	// MaxIdleConnections caps pooled keepalive connections. Zero leaves
	// the transport default.
	MaxIdleConnections int `yaml:"max_idle_connections" mapstructure:"max_idle_connections"`
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *ClientConfig) ApplyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	c.Auth.ApplyDefaults()
	c.Retry.ApplyDefaults()
}

// Validate checks that the configuration is valid.
func (c *ClientConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("apiclient: base_url is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("apiclient: timeout must be positive")
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	if c.RateLimit != nil && c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("apiclient: rate_limit.requests_per_second must be positive")
	}
	return nil
}
