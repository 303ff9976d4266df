// Package metrics provides Prometheus instrumentation for the fund engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsCreated counts fund requests created, partitioned by kind.
	RequestsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fund_requests_created_total",
		Help: "Total fund requests created",
	}, []string{"kind"})

	// RequestsDecided counts admin decisions by kind and outcome.
	RequestsDecided = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fund_requests_decided_total",
		Help: "Total admin decisions on fund requests",
	}, []string{"kind", "decision"})

	// RequestsCanceled counts user cancellations, partitioned by whether
	// a refund was issued.
	RequestsCanceled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fund_requests_canceled_total",
		Help: "Total fund requests canceled",
	}, []string{"refunded"})

	// PerformanceEvents counts posted performance events per fund.
	PerformanceEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fund_performance_events_total",
		Help: "Total performance events posted",
	}, []string{"fund_id"})

	// LockTimeouts counts operations aborted by a row-lock timeout.
	LockTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fund_lock_timeouts_total",
		Help: "Operations aborted waiting for a row lock",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fund_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fund_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fund_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for the path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
