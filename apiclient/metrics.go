package apiclient

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/casekit/outbound/resilience"
)

// Metrics provides Prometheus metrics for the request lifecycle and
// reliability layers. A nil *Metrics is valid and records nothing, so
// clients work unchanged without a collector.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	retriesTotal     *prometheus.CounterVec
	rateLimitedTotal *prometheus.CounterVec
	circuitOpenTotal *prometheus.CounterVec
	circuitState     *prometheus.GaugeVec
}

// NewMetrics creates a collector on the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a collector using the supplied
// registerer.
func NewMetricsWithRegistry(registry prometheus.Registerer) *Metrics {
	return &Metrics{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "outbound_requests_total",
				Help: "Total number of logical outbound requests by terminal status",
			},
			[]string{"client", "method", "status"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "outbound_request_duration_seconds",
				Help:    "Duration of logical outbound requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"client", "method"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "outbound_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"client"},
		),
		rateLimitedTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "outbound_rate_limited_total",
				Help: "Total number of requests abandoned at the admission wait ceiling",
			},
			[]string{"client"},
		),
		circuitOpenTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "outbound_circuit_open_total",
				Help: "Total number of requests rejected by an open circuit breaker",
			},
			[]string{"client"},
		),
		circuitState: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "outbound_circuit_state",
				Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"client"},
		),
	}
}

// RecordResult records a terminal outcome and its total duration.
func (m *Metrics) RecordResult(client, method string, status RequestStatus, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(client, method, string(status)).Inc()
	m.requestDuration.WithLabelValues(client, method).Observe(elapsed.Seconds())
}

// RecordRetry increments the retry counter.
func (m *Metrics) RecordRetry(client string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(client).Inc()
}

// RecordRateLimited counts a request abandoned at the wait ceiling.
func (m *Metrics) RecordRateLimited(client string) {
	if m == nil {
		return
	}
	m.rateLimitedTotal.WithLabelValues(client).Inc()
}

// RecordCircuitOpen counts a request rejected by an open breaker.
func (m *Metrics) RecordCircuitOpen(client string) {
	if m == nil {
		return
	}
	m.circuitOpenTotal.WithLabelValues(client).Inc()
}

// RecordCircuitState sets the breaker state gauge.
func (m *Metrics) RecordCircuitState(client string, state resilience.State) {
	if m == nil {
		return
	}
	var v float64
	switch state {
	case resilience.StateOpen:
		v = 1
	case resilience.StateHalfOpen:
		v = 2
	}
	m.circuitState.WithLabelValues(client).Set(v)
}
