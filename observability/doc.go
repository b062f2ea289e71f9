// Package observability provides OpenTelemetry tracing integration for
// host applications.
//
// Initialize once at startup so the spans emitted per outbound request
// are exported:
//
//	tp, err := observability.InitTracer(ctx, observability.DefaultTracerConfig("case-backend"))
//	defer tp.Shutdown(ctx)
//
//	ctx, span := observability.StartSpan(ctx, "sync.evidence")
//	defer span.End()
//
// Request metrics are served by the Prometheus collector in apiclient;
// this package covers the tracing half only.
package observability
