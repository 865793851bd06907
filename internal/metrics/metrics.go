// Package metrics provides Prometheus instrumentation for the
// matching engine.
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
	// TradesTotal counts total trades executed across all instruments.
	TradesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchingd_trades_total",
		Help: "Total number of trades executed",
	})

	// QueueDepth tracks the engine's command queue length.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matchingd_queue_depth",
		Help: "Number of commands currently queued for the matching engine",
	})

	// CommandLatency tracks how long the worker takes to apply a
	// single PLACE or CANCEL command, end to end including persistence.
	CommandLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "matchingd_command_latency_seconds",
		Help:    "Matching engine command processing latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"command"})

	// WebSocketClients tracks connected event-stream subscribers per
	// stream (trades, orders, orderbook).
	WebSocketClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "matchingd_websocket_clients",
		Help: "Number of connected WebSocket clients",
	}, []string{"stream"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchingd_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "matchingd_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// RateLimitRejections counts requests rejected by the token-bucket
	// limiter in front of POST /orders.
	RateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchingd_rate_limit_rejections_total",
		Help: "Requests rejected by the intake rate limiter",
	})
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

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
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
