// Package metrics provides Prometheus instrumentation for the
// settlement engine.
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
	// WagersSettled counts settled wagers, partitioned by outcome.
	WagersSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drawbet_wagers_settled_total",
		Help: "Total number of wagers settled",
	}, []string{"outcome"})

	// PayoutsCredited tracks total minor units credited by settlement.
	PayoutsCredited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drawbet_payouts_credited_minor_units_total",
		Help: "Total minor currency units credited as payouts",
	})

	// SettlementFailures counts per-wager settlement failures requiring
	// operator remediation.
	SettlementFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drawbet_settlement_failures_total",
		Help: "Wagers that failed to settle and await operator retry",
	})

	// SettlementDuration tracks full-market settlement latency.
	SettlementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "drawbet_settlement_duration_seconds",
		Help:    "Market settlement duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// TransfersTotal counts fund transfers by kind and result.
	TransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drawbet_transfers_total",
		Help: "Total fund transfers",
	}, []string{"kind", "result"})

	// WagersPlaced counts accepted wagers by mechanic.
	WagersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drawbet_wagers_placed_total",
		Help: "Total wagers accepted by the placement path",
	}, []string{"mechanic"})

	// RiskLimitRejections counts wagers rejected by the exposure limiter.
	RiskLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drawbet_risk_limit_rejections_total",
		Help: "Wagers rejected by the open-stake limiter",
	})

	// ExposureQueryDuration tracks exposure aggregation latency.
	ExposureQueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "drawbet_exposure_query_duration_seconds",
		Help:    "Exposure aggregation duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// WebSocketClients tracks connected live-feed clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "drawbet_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drawbet_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "drawbet_http_request_duration_seconds",
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
