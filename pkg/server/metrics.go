package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/makr-code/themis-policy/pkg/policy"
)

// Metrics holds the Prometheus instruments for the admin API. Request
// counters and latencies are recorded by the middleware; the authorization
// counters and the loaded-policy gauge are collector functions reading the
// store's own atomics, so scrapes never touch the policy mutex beyond a
// single Count call.
type Metrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance bound to the given store.
func NewMetrics(store *policy.Store) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "themis_http_requests_total",
				Help: "HTTP requests served by the admin API",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "themis_http_request_duration_seconds",
				Help:    "Latency of admin API requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)

	if store != nil {
		evaluator := store.Metrics()
		registry.MustRegister(
			prometheus.NewCounterFunc(
				prometheus.CounterOpts{
					Name: "themis_authz_evaluations_total",
					Help: "Total number of authorization evaluations",
				},
				func() float64 { return float64(evaluator.Evaluations()) },
			),
			prometheus.NewCounterFunc(
				prometheus.CounterOpts{
					Name: "themis_authz_allows_total",
					Help: "Total number of allowed authorization decisions",
				},
				func() float64 { return float64(evaluator.Allows()) },
			),
			prometheus.NewCounterFunc(
				prometheus.CounterOpts{
					Name: "themis_authz_denies_total",
					Help: "Total number of denied authorization decisions",
				},
				func() float64 { return float64(evaluator.Denies()) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "themis_policies_loaded",
					Help: "Number of policies currently held by the store",
				},
				func() float64 { return float64(store.Count()) },
			),
		)
	}

	return m
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// Handler returns the Prometheus exposition handler for the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request metrics around the next handler.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		endpoint := endpointLabel(r.URL.Path)
		statusCode := strconv.Itoa(wrapped.statusCode)

		m.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// endpointLabel maps a request path onto a bounded label set so policy ids
// never leak into metric cardinality.
func endpointLabel(path string) string {
	switch path {
	case "/healthz":
		return "healthz"
	case "/metrics":
		return "metrics"
	case "/v1/policies":
		return "policies"
	case "/v1/policies/load":
		return "policies_load"
	case "/v1/policies/save":
		return "policies_save"
	case "/v1/policies/export":
		return "policies_export"
	case "/v1/authorize":
		return "authorize"
	case "/v1/governance/evaluate":
		return "governance_evaluate"
	case "/v1/sync":
		return "sync"
	}
	if strings.HasPrefix(path, "/v1/policies/") {
		return "policies_id"
	}
	return "unknown"
}
