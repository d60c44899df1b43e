// Package metrics provides Prometheus instrumentation for the economy engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OperationsTotal counts ledger operations by name and outcome
	// ("ok", an error kind, or "error" for storage failures).
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "econ_ledger_operations_total",
		Help: "Total ledger operations by outcome",
	}, []string{"op", "outcome"})

	// OperationLatency tracks end-to-end operation latency, connection
	// acquisition included.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "econ_ledger_operation_latency_seconds",
		Help:    "Ledger operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// MoneyMoved tracks the absolute balance change recorded per
	// transaction type.
	MoneyMoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "econ_money_moved_total",
		Help: "Cumulative absolute balance change by transaction type",
	}, []string{"type"})

	// CreditDrawn tracks cumulative credit drawn by stock purchases.
	CreditDrawn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "econ_credit_drawn_total",
		Help: "Cumulative credit drawn on purchases",
	})

	// LimitRejections counts operations rejected by a balance, credit or
	// net-worth rule.
	LimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "econ_limit_rejections_total",
		Help: "Operations rejected by limit checks",
	}, []string{"kind"})

	// WireSessions counts finished wire confirmation sessions by outcome.
	WireSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "econ_wire_sessions_total",
		Help: "Finished wire confirmation sessions by outcome",
	}, []string{"outcome"})

	// WireSessionsActive tracks sessions waiting for a response.
	WireSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "econ_wire_sessions_active",
		Help: "Wire sessions awaiting confirmation",
	})

	// CacheLookups counts read-through cache lookups by key family and result.
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "econ_cache_lookups_total",
		Help: "Read-through cache lookups",
	}, []string{"family", "result"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "econ_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "econ_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "econ_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveOperation records one finished ledger operation.
func ObserveOperation(op, outcome string, started time.Time) {
	OperationsTotal.WithLabelValues(op, outcome).Inc()
	OperationLatency.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

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

		// Route pattern keeps path cardinality bounded.
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}
