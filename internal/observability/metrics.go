// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ledger metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	AmountMoved       *prometheus.CounterVec
	LockWait          prometheus.Histogram

	// Oracle and gate metrics
	OracleReadErrors *prometheus.CounterVec
	GateDecisions    *prometheus.CounterVec

	// Latency metrics
	RPCCallLatency   *prometheus.HistogramVec
	RPCBreakerState  prometheus.Gauge
	WSMessageLatency prometheus.Histogram

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
	EventsJournaled prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "futarchy_lobbyist"
	}

	return &Metrics{
		// Ledger metrics
		OperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Total number of ledger operations by result code",
		}, []string{"operation", "code"}),
		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Ledger operation duration in seconds, including lock wait",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		AmountMoved: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "amount_moved_total",
			Help:      "Raw token units moved into or out of escrow custody",
		}, []string{"operation", "leg"}),
		LockWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for escrow record locks",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}),

		// Oracle and gate metrics
		OracleReadErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "read_errors_total",
			Help:      "Total number of rejected oracle reads by code",
		}, []string{"code"}),
		GateDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Total number of trade gate decisions by action and market",
		}, []string{"action", "market"}),

		// Latency metrics
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCBreakerState: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_breaker_state",
			Help:      "RPC circuit breaker state (0 closed, 1 half-open, 2 open)",
		}),
		WSMessageLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "ws_message_latency_seconds",
			Help:      "WebSocket message processing latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
		EventsJournaled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "events_journaled_total",
			Help:      "Total number of ledger events written to the journal",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordOperation records a ledger operation outcome.
func RecordOperation(operation, code string, seconds float64) {
	DefaultMetrics.OperationsTotal.WithLabelValues(operation, code).Inc()
	DefaultMetrics.OperationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordRejected counts an operation rejected during request validation.
func RecordRejected(operation, code string) {
	DefaultMetrics.OperationsTotal.WithLabelValues(operation, code).Inc()
}

// RecordAmountMoved adds raw units moved on one leg of an operation.
func RecordAmountMoved(operation, leg string, amount uint64) {
	if amount == 0 {
		return
	}
	DefaultMetrics.AmountMoved.WithLabelValues(operation, leg).Add(float64(amount))
}

// RecordLockWait records time spent acquiring record locks.
func RecordLockWait(seconds float64) {
	DefaultMetrics.LockWait.Observe(seconds)
}

// RecordOracleError records a rejected oracle read.
func RecordOracleError(code string) {
	DefaultMetrics.OracleReadErrors.WithLabelValues(code).Inc()
}

// RecordGateDecision records a trade gate decision.
func RecordGateDecision(action, market string) {
	DefaultMetrics.GateDecisions.WithLabelValues(action, market).Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// UpdateBreakerState sets the RPC circuit breaker gauge.
func UpdateBreakerState(state int) {
	DefaultMetrics.RPCBreakerState.Set(float64(state))
}

// RecordWSMessage records WebSocket message handling latency.
func RecordWSMessage(seconds float64) {
	DefaultMetrics.WSMessageLatency.Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordEventJournaled increments the journaled events counter.
func RecordEventJournaled() {
	DefaultMetrics.EventsJournaled.Inc()
}
