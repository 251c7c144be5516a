package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the auth service.
type Metrics struct {
	// HTTP surface
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Login outcomes, labeled by flow (token|session) and outcome
	// (success|missing_param|rate_limited|invalid_credential|forbidden|provisioning_error)
	LoginAttemptsTotal *prometheus.CounterVec
	LoginDuration      *prometheus.HistogramVec

	// IdP verification calls
	IdPRequestsTotal   *prometheus.CounterVec
	IdPRequestDuration prometheus.Histogram

	// Cache behavior
	TokenCacheHitsTotal   prometheus.Counter
	TokenCacheMissesTotal prometheus.Counter
	CacheFallbacksTotal   *prometheus.CounterVec

	// Account provisioning, labeled created|updated
	AccountsProvisionedTotal *prometheus.CounterVec

	// Pending session lifecycle, labeled created|consumed|expired
	PendingSessionsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on the given registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tfconnect_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tfconnect_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tfconnect_login_attempts_total",
				Help: "Login attempts by flow and outcome",
			},
			[]string{"flow", "outcome"},
		),
		LoginDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tfconnect_login_duration_seconds",
				Help:    "End-to-end login decision duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"flow"},
		),
		IdPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tfconnect_idp_requests_total",
				Help: "Requests to the TF Connect profile endpoint by status",
			},
			[]string{"status"},
		),
		IdPRequestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tfconnect_idp_request_duration_seconds",
				Help:    "TF Connect profile endpoint latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		TokenCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tfconnect_token_cache_hits_total",
				Help: "Token verifications served from cache",
			},
		),
		TokenCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tfconnect_token_cache_misses_total",
				Help: "Token verifications that required an IdP call",
			},
		),
		CacheFallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tfconnect_cache_fallbacks_total",
				Help: "Cache operations served by the in-process fallback tier",
			},
			[]string{"op"},
		),
		AccountsProvisionedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tfconnect_accounts_provisioned_total",
				Help: "Local accounts created or updated",
			},
			[]string{"action"},
		),
		PendingSessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tfconnect_pending_sessions_total",
				Help: "Pending session lifecycle events",
			},
			[]string{"event"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginAttemptsTotal,
		m.LoginDuration,
		m.IdPRequestsTotal,
		m.IdPRequestDuration,
		m.TokenCacheHitsTotal,
		m.TokenCacheMissesTotal,
		m.CacheFallbacksTotal,
		m.AccountsProvisionedTotal,
		m.PendingSessionsTotal,
	)

	return m
}

// Handler returns the /metrics endpoint for the registry.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// HTTPMiddleware instruments a handler with request count and duration.
// path should be the route template, not the raw URL, to keep label
// cardinality bounded.
func (m *Metrics) HTTPMiddleware(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
