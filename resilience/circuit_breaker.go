package resilience

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows requests to pass through.
	StateClosed State = iota
	// StateOpen blocks all requests.
	StateOpen
	// StateHalfOpen allows a single probe to test recovery.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a request is rejected by an open breaker.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	// Enabled toggles the breaker. When false, CanRequest always returns
	// true and recorded outcomes are ignored.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// FailureThreshold is the number of consecutive failures before the
	// breaker opens.
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	// RecoveryTimeout is how long the breaker stays open before a probe
	// is allowed through.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout" mapstructure:"recovery_timeout"`
	// OnStateChange is called synchronously on every state transition.
	OnStateChange func(from, to State) `yaml:"-" mapstructure:"-"`
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
	}
}

// CircuitBreaker guards one external dependency. After FailureThreshold
// consecutive failures it rejects requests outright, then probes for
// recovery once RecoveryTimeout has elapsed.
//
// States:
//   - Closed: normal operation, requests pass through
//   - Open: dependency is unhealthy, requests are rejected immediately
//   - Half-Open: one probe is allowed through; its outcome resolves the state
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu              sync.Mutex
	state           State
	failures        int
	lastFailureTime time.Time
	probed          bool
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 30 * time.Second
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// CanRequest reports whether a request may proceed. In half-open state it
// grants the single probe slot, so among concurrent callers exactly one
// passes until RecordSuccess or RecordFailure resolves the state.
func (cb *CircuitBreaker) CanRequest() bool {
	if !cb.config.Enabled {
		return true
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case StateClosed:
		return true
	case StateHalfOpen:
		if cb.probed {
			return false
		}
		cb.probed = true
		return true
	default:
		return false
	}
}

// RecordSuccess records a successful call, resetting the failure count and
// forcing the breaker closed.
func (cb *CircuitBreaker) RecordSuccess() {
	if !cb.config.Enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.toState(StateClosed)
}

// RecordFailure records a failed call. It opens the breaker when the
// consecutive-failure threshold is reached, and re-opens it when a
// half-open probe fails.
func (cb *CircuitBreaker) RecordFailure() {
	if !cb.config.Enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureTime = time.Now()

	switch cb.currentState() {
	case StateHalfOpen:
		cb.toState(StateOpen)
	case StateClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.toState(StateOpen)
		}
	}
}

// ReleaseProbe returns an unused half-open probe slot. Callers that were
// admitted by CanRequest but abandon the call before any attempt reaches
// the dependency must release the slot, or no later caller could probe.
func (cb *CircuitBreaker) ReleaseProbe() {
	if !cb.config.Enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.probed = false
	}
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() State {
	if !cb.config.Enabled {
		return StateClosed
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

// Failures returns the current consecutive-failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset forces the breaker back to closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.toState(StateClosed)
}

// currentState returns the state, transitioning open breakers to half-open
// once the recovery timeout has elapsed. Callers must hold cb.mu.
func (cb *CircuitBreaker) currentState() State {
	if cb.state == StateOpen {
		if time.Since(cb.lastFailureTime) >= cb.config.RecoveryTimeout {
			cb.toState(StateHalfOpen)
		}
	}
	return cb.state
}

// toState transitions to a new state. Callers must hold cb.mu.
func (cb *CircuitBreaker) toState(to State) {
	if cb.state == to {
		return
	}

	from := cb.state
	cb.state = to
	cb.probed = false

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}
