package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when admission cannot be granted within the
// configured maximum wait.
var ErrRateLimited = errors.New("rate limit exceeded")

// Strategy selects the admission algorithm of a rate limiter.
type Strategy string

const (
	// StrategySlidingWindow counts admissions in the trailing one-second
	// window ending now.
	StrategySlidingWindow Strategy = "sliding_window"
	// StrategyFixedWindow counts admissions in the current integer-second
	// bucket. Bursts may double up across a bucket boundary; the ceiling
	// holds per bucket, not per trailing window.
	StrategyFixedWindow Strategy = "fixed_window"
	// StrategyTokenBucket admits once the time since the last admission
	// exceeds 1/RequestsPerSecond.
	StrategyTokenBucket Strategy = "token_bucket"
)

// DefaultMaxWait is the admission wait ceiling applied when
// RateLimitConfig.MaxWait is unset.
const DefaultMaxWait = 60 * time.Second

// waitPollInterval is how often Wait retries admission.
const waitPollInterval = 100 * time.Millisecond

// RateLimitConfig configures a rate limiter.
type RateLimitConfig struct {
	// Strategy is the admission algorithm. Defaults to sliding window.
	Strategy Strategy `yaml:"strategy" mapstructure:"strategy" validate:"omitempty,oneof=sliding_window fixed_window token_bucket"`
	// RequestsPerSecond is the throughput ceiling. Required.
	RequestsPerSecond int `yaml:"requests_per_second" mapstructure:"requests_per_second" validate:"omitempty,min=1"`
	// RequestsPerMinute optionally caps admissions over the trailing
	// minute. Zero means no cap.
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	// RequestsPerHour optionally caps admissions over the trailing hour.
	// Zero means no cap.
	RequestsPerHour int `yaml:"requests_per_hour" mapstructure:"requests_per_hour"`
	// MaxWait is the ceiling on how long Wait blocks for admission.
	// Defaults to DefaultMaxWait.
	MaxWait time.Duration `yaml:"max_wait" mapstructure:"max_wait"`
}

// DefaultRateLimitConfig returns sensible defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Strategy:          StrategySlidingWindow,
		RequestsPerSecond: 10,
		MaxWait:           DefaultMaxWait,
	}
}

// RateLimiterStats is a point-in-time snapshot of limiter counters.
type RateLimiterStats struct {
	Strategy Strategy `json:"strategy"`
	Admitted uint64   `json:"admitted"`
	Denied   uint64   `json:"denied"`
}

// RateLimiter admits or refuses outbound requests per the configured
// strategy. One instance guards one external dependency; all admission
// decisions are linearized under a single mutex.
type RateLimiter struct {
	config RateLimitConfig

	mu sync.Mutex
	// admissions holds recent admission timestamps, pruned to horizon.
	// Empty horizon means no history is needed for this configuration.
	admissions []time.Time
	horizon    time.Duration
	// fixed-window bucket
	bucketSecond int64
	bucketCount  int
	// token bucket, burst 1
	bucket *rate.Limiter

	admitted uint64
	denied   uint64
}

// NewRateLimiter creates a rate limiter for the given configuration.
func NewRateLimiter(config RateLimitConfig) (*RateLimiter, error) {
	if config.Strategy == "" {
		config.Strategy = StrategySlidingWindow
	}
	if config.RequestsPerSecond <= 0 {
		return nil, fmt.Errorf("resilience: requests_per_second must be positive (got %d)", config.RequestsPerSecond)
	}
	if config.MaxWait <= 0 {
		config.MaxWait = DefaultMaxWait
	}

	rl := &RateLimiter{config: config}

	switch config.Strategy {
	case StrategySlidingWindow:
		rl.horizon = time.Second
	case StrategyFixedWindow:
		// the integer-second bucket needs no history
	case StrategyTokenBucket:
		rl.bucket = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	default:
		return nil, fmt.Errorf("resilience: unknown rate limit strategy %q", config.Strategy)
	}

	if config.RequestsPerMinute > 0 && rl.horizon < time.Minute {
		rl.horizon = time.Minute
	}
	if config.RequestsPerHour > 0 {
		rl.horizon = time.Hour
	}

	return rl, nil
}

// Acquire attempts to claim one unit of throughput without blocking.
// It returns true and records the admission, or false if the quota is
// exhausted.
func (rl *RateLimiter) Acquire() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.prune(now)

	if !rl.capsAllow(now) {
		rl.denied++
		return false
	}

	switch rl.config.Strategy {
	case StrategyFixedWindow:
		sec := now.Unix()
		if sec != rl.bucketSecond {
			rl.bucketSecond = sec
			rl.bucketCount = 0
		}
		if rl.bucketCount >= rl.config.RequestsPerSecond {
			rl.denied++
			return false
		}
		rl.bucketCount++
	case StrategyTokenBucket:
		if !rl.bucket.AllowN(now, 1) {
			rl.denied++
			return false
		}
	default: // sliding window
		if rl.countSince(now.Add(-time.Second)) >= rl.config.RequestsPerSecond {
			rl.denied++
			return false
		}
	}

	if rl.horizon > 0 {
		rl.admissions = append(rl.admissions, now)
	}
	rl.admitted++
	return true
}

// Wait retries admission until granted, the MaxWait ceiling is reached, or
// ctx ends. It returns how long it waited; on ceiling breach the error is
// ErrRateLimited, on context cancellation it is ctx.Err(). Waiting suspends
// between retries rather than spinning.
func (rl *RateLimiter) Wait(ctx context.Context) (time.Duration, error) {
	start := time.Now()

	if rl.Acquire() {
		return time.Since(start), nil
	}

	deadline := start.Add(rl.config.MaxWait)
	for {
		if !time.Now().Before(deadline) {
			return time.Since(start), ErrRateLimited
		}

		timer := time.NewTimer(waitPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return time.Since(start), ctx.Err()
		case <-timer.C:
		}

		if rl.Acquire() {
			return time.Since(start), nil
		}
	}
}

// Stats returns a snapshot of admission counters.
func (rl *RateLimiter) Stats() RateLimiterStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return RateLimiterStats{
		Strategy: rl.config.Strategy,
		Admitted: rl.admitted,
		Denied:   rl.denied,
	}
}

// MaxWait returns the admission wait ceiling.
func (rl *RateLimiter) MaxWait() time.Duration {
	return rl.config.MaxWait
}

// prune drops admission history older than the trailing horizon.
// Callers must hold rl.mu.
func (rl *RateLimiter) prune(now time.Time) {
	if rl.horizon == 0 {
		return
	}
	cutoff := now.Add(-rl.horizon)
	for len(rl.admissions) > 0 && rl.admissions[0].Before(cutoff) {
		rl.admissions = rl.admissions[1:]
	}
}

// capsAllow checks the optional per-minute and per-hour ceilings.
// Callers must hold rl.mu.
func (rl *RateLimiter) capsAllow(now time.Time) bool {
	if rl.config.RequestsPerMinute > 0 &&
		rl.countSince(now.Add(-time.Minute)) >= rl.config.RequestsPerMinute {
		return false
	}
	if rl.config.RequestsPerHour > 0 &&
		rl.countSince(now.Add(-time.Hour)) >= rl.config.RequestsPerHour {
		return false
	}
	return true
}

// countSince counts admissions at or after the cutoff. Callers must hold
// rl.mu.
func (rl *RateLimiter) countSince(cutoff time.Time) int {
	n := 0
	for i := len(rl.admissions) - 1; i >= 0; i-- {
		if rl.admissions[i].Before(cutoff) {
			break
		}
		n++
	}
	return n
}
