// Package resilience provides the shared-state guards placed in front of
// outbound calls: a consecutive-failure circuit breaker and a rate limiter
// with selectable admission strategies.
//
// Both guards are safe for concurrent use; every admission and state
// decision is linearized under a per-instance mutex.
//
// Circuit breaker:
//
//	cb := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
//	if cb.CanRequest() {
//		err := call()
//		if err != nil {
//			cb.RecordFailure()
//		} else {
//			cb.RecordSuccess()
//		}
//	}
//
// Rate limiter:
//
//	rl, _ := resilience.NewRateLimiter(resilience.RateLimitConfig{
//		Strategy:          resilience.StrategySlidingWindow,
//		RequestsPerSecond: 10,
//	})
//	if !rl.Acquire() {
//		waited, err := rl.Wait(ctx)
//		...
//	}
package resilience
