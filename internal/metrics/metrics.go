// Package metrics provides Prometheus instrumentation for the settlement engine.
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
	// ContestsCreated counts contests persisted by the factory, by type.
	ContestsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topprop_contests_created_total",
		Help: "Total number of contests created",
	}, []string{"type"})

	// ContestsClaimed counts OPEN → MATCHED transitions.
	ContestsClaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topprop_contests_claimed_total",
		Help: "Total number of contests claimed by a counterparty",
	}, []string{"type"})

	// PricingRejections counts creation/claim validation failures by code.
	PricingRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topprop_pricing_rejections_total",
		Help: "Contest creations or claims rejected by validation",
	}, []string{"code"})

	// SpreadTableMisses counts lookups that priced a leg at zero.
	SpreadTableMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topprop_spread_table_misses_total",
		Help: "Spread table lookups with no matching row",
	}, []string{"tier"})

	// Settlements counts terminal writes by winner label.
	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topprop_settlements_total",
		Help: "Contests closed, partitioned by winner label",
	}, []string{"label"})

	// SettlementConflicts counts writes discarded because another run had
	// already closed the contest.
	SettlementConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "topprop_settlement_conflicts_total",
		Help: "Settlement writes skipped because the contest had already ended",
	})

	// Voids counts forced closes by reason.
	Voids = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topprop_voids_total",
		Help: "Contests force-closed without running the decision table",
	}, []string{"reason"})

	// GainsRecorded tracks cumulative ledger amounts by kind.
	GainsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topprop_gains_recorded_total",
		Help: "Cumulative ledger amount recorded by settlement",
	}, []string{"kind"})

	// BatchDuration tracks scheduled job duration.
	BatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "topprop_batch_duration_seconds",
		Help:    "Scheduled job duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"job"})

	// BatchErrors counts per-contest failures isolated inside a batch.
	BatchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topprop_batch_errors_total",
		Help: "Per-contest errors caught inside scheduled jobs",
	}, []string{"job"})

	// NotificationFailures counts best-effort notifications that failed.
	NotificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topprop_notification_failures_total",
		Help: "Notifications that could not be delivered",
	}, []string{"sink"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "topprop_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topprop_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "topprop_http_request_duration_seconds",
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

		// Route pattern keeps label cardinality bounded.
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
	return hj.Hijack()
}
