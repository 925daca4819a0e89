// Package metrics provides Prometheus instrumentation for the staking ledger.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

var (
	// OperationsTotal counts successful ledger operations by kind.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "staking_operations_total",
		Help: "Total number of successful ledger operations",
	}, []string{"op"})

	// OperationLatency tracks end-to-end latency of ledger operations.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "staking_operation_latency_seconds",
		Help:    "Ledger operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// Rejections counts operations refused by a precondition, by error code.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "staking_rejections_total",
		Help: "Ledger operations rejected, by error code",
	}, []string{"op", "code"})

	// TransferFailures counts failed asset transfers made by the ledger.
	TransferFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "staking_transfer_failures_total",
		Help: "Asset transfers made by the ledger that failed",
	}, []string{"op"})

	// StakedVolume and RewardsPaid accumulate base units moved.
	StakedVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "staking_staked_volume_total",
		Help: "Cumulative staked amount in base units",
	})
	RewardsPaid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "staking_rewards_paid_total",
		Help: "Cumulative rewards paid in base units",
	})

	// ReservedRewards mirrors totalReservedRewards after every change.
	ReservedRewards = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "staking_reserved_rewards",
		Help: "Rewards owed to stakers and reserved from the pool",
	})

	// RewardPool is the ledger's reward-asset balance seen by the last audit.
	RewardPool = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "staking_reward_pool_balance",
		Help: "Reward asset held by the ledger at the last audit",
	})

	// AuditViolations is the violation count of the last audit; AuditRuns
	// counts audits by outcome.
	AuditViolations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "staking_audit_violations",
		Help: "Violations found by the last solvency audit",
	})
	AuditRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "staking_audit_runs_total",
		Help: "Solvency audits run, by outcome",
	}, []string{"outcome"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "staking_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "staking_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "staking_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Float converts a base-unit amount for a gauge. Precision loss above 2^53
// is acceptable for dashboards.
func Float(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	return decimal.NewFromBigInt(v.ToBig(), 0).InexactFloat64()
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

		// Use the route pattern for path label to avoid high cardinality.
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

// Hijack lets the WebSocket upgrade through the wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
