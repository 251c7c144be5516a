// Package observability provides the shared operational plumbing for
// the TF Connect auth service.
//
// Logging uses a slog-backed JSON Logger with field chaining:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("user_id", id).Info("account provisioned")
//
// Metrics are prometheus collectors registered on a private registry
// and served from the health port:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	mux.Handle("/metrics", observability.Handler(registry))
//
// Tracing is optional; when enabled InitTracing installs a global OTLP
// tracer provider and HTTP clients are wrapped with otelhttp.
//
// Health probes distinguish liveness (process up) from readiness
// (dependencies reachable). Redis and IdP outages degrade rather than
// fail readiness because logins survive both: the cache falls back to
// the in-process tier and cached verifications keep working.
package observability
