package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets        = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the approval service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Approval metrics
	ApprovalsCreatedTotal  *prometheus.CounterVec
	ApprovalActionsTotal   *prometheus.CounterVec
	ApprovalActionDuration *prometheus.HistogramVec
	ApprovalsPending       prometheus.Gauge
	ApprovalsResolvedTotal *prometheus.CounterVec

	// Finance lookup metrics
	FinanceLookupsTotal   *prometheus.CounterVec
	FinanceLookupDuration prometheus.Histogram

	// Notification metrics
	NotificationsTotal *prometheus.CounterVec

	// Idempotency metrics
	IdempotencyReplaysTotal   prometheus.Counter
	IdempotencyConflictsTotal prometheus.Counter

	// Cache metrics
	CapabilityCacheHitsTotal   prometheus.Counter
	CapabilityCacheMissesTotal prometheus.Counter
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripdesk_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tripdesk_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tripdesk_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tripdesk_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Approvals
		ApprovalsCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripdesk_approvals_created_total",
			Help: "Total number of approval requests created.",
		}, []string{"target_type"}),
		ApprovalActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripdesk_approval_actions_total",
			Help: "Total number of approval step actions.",
		}, []string{"action", "result"}),
		ApprovalActionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tripdesk_approval_action_duration_seconds",
			Help:    "Approval action processing duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"action"}),
		ApprovalsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tripdesk_approvals_pending",
			Help: "Number of approvals currently pending.",
		}),
		ApprovalsResolvedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripdesk_approvals_resolved_total",
			Help: "Total number of approvals reaching a terminal status.",
		}, []string{"status"}),

		// Finance lookups
		FinanceLookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripdesk_finance_lookups_total",
			Help: "Total number of finance record lookups.",
		}, []string{"outcome"}),
		FinanceLookupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tripdesk_finance_lookup_duration_seconds",
			Help:    "Finance lookup duration in seconds.",
			Buckets: backendDurationBuckets,
		}),

		// Notifications
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripdesk_notifications_total",
			Help: "Total number of approval result notifications.",
		}, []string{"result"}),

		// Idempotency
		IdempotencyReplaysTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripdesk_idempotency_replays_total",
			Help: "Total action requests served from the idempotency cache.",
		}),
		IdempotencyConflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripdesk_idempotency_conflicts_total",
			Help: "Total idempotency key reuses with different input.",
		}),

		// Cache
		CapabilityCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripdesk_capability_cache_hits_total",
			Help: "Total capability cache hits.",
		}),
		CapabilityCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripdesk_capability_cache_misses_total",
			Help: "Total capability cache misses.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Approvals
		m.ApprovalsCreatedTotal,
		m.ApprovalActionsTotal,
		m.ApprovalActionDuration,
		m.ApprovalsPending,
		m.ApprovalsResolvedTotal,
		// Finance
		m.FinanceLookupsTotal,
		m.FinanceLookupDuration,
		// Notifications
		m.NotificationsTotal,
		// Idempotency
		m.IdempotencyReplaysTotal,
		m.IdempotencyConflictsTotal,
		// Cache
		m.CapabilityCacheHitsTotal,
		m.CapabilityCacheMissesTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordApprovalCreated records a new approval request.
func (m *Metrics) RecordApprovalCreated(targetType string) {
	m.ApprovalsCreatedTotal.WithLabelValues(targetType).Inc()
	m.ApprovalsPending.Inc()
}

// RecordApprovalAction records a step action and its outcome. Result is the
// approval status after the action ("pending" when the chain continues).
func (m *Metrics) RecordApprovalAction(action, result string, duration time.Duration) {
	m.ApprovalActionsTotal.WithLabelValues(action, result).Inc()
	m.ApprovalActionDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordApprovalResolved records an approval reaching a terminal status.
func (m *Metrics) RecordApprovalResolved(status string) {
	m.ApprovalsResolvedTotal.WithLabelValues(status).Inc()
	m.ApprovalsPending.Dec()
}

// RecordFinanceLookup records a finance record lookup.
// Outcome: "ok", "not_found", or "error".
func (m *Metrics) RecordFinanceLookup(outcome string, duration time.Duration) {
	m.FinanceLookupsTotal.WithLabelValues(outcome).Inc()
	m.FinanceLookupDuration.Observe(duration.Seconds())
}

// RecordNotification records a published approval result notification.
func (m *Metrics) RecordNotification(result string) {
	m.NotificationsTotal.WithLabelValues(result).Inc()
}

// RecordIdempotencyReplay records an action served from the idempotency cache.
func (m *Metrics) RecordIdempotencyReplay() {
	m.IdempotencyReplaysTotal.Inc()
}

// RecordIdempotencyConflict records an idempotency key reuse with a different
// input hash.
func (m *Metrics) RecordIdempotencyConflict() {
	m.IdempotencyConflictsTotal.Inc()
}

// RecordCapabilityCacheHit records a capability cache hit.
func (m *Metrics) RecordCapabilityCacheHit() {
	m.CapabilityCacheHitsTotal.Inc()
}

// RecordCapabilityCacheMiss records a capability cache miss.
func (m *Metrics) RecordCapabilityCacheMiss() {
	m.CapabilityCacheMissesTotal.Inc()
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
