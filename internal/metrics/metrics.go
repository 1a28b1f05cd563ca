// Package metrics provides Prometheus instrumentation for the term pool engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SettlementsTotal counts settled operations, partitioned by op.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "termpool_settlements_total",
		Help: "Total number of settled operations",
	}, []string{"op"})

	// SettlementLatency tracks settlement execution latency per op.
	SettlementLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "termpool_settlement_latency_seconds",
		Help:    "Settlement execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// SettlementRejections counts operations rejected by a guard, by reason.
	SettlementRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "termpool_settlement_rejections_total",
		Help: "Operations rejected before settlement",
	}, []string{"reason"})

	// BackupExposure tracks the total amount currently drawn from the
	// backup pool across all maturities.
	BackupExposure = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "termpool_backup_exposure",
		Help: "Total liquidity drawn from the backup pool",
	})

	// VolumeTotal tracks cumulative settled principal per op.
	VolumeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "termpool_volume_total",
		Help: "Cumulative settled principal",
	}, []string{"op"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "termpool_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "termpool_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "termpool_http_request_duration_seconds",
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

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
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
