// Package metrics defines the Prometheus metrics for the pool, queue,
// and executor. Registered upfront so every collector shows up in
// /metrics immediately, even before first use.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive tracks the number of active (checked-out) connections.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websqlite3_connections_active",
		Help: "Number of active connections",
	})

	// ConnectionsIdle tracks the number of idle connections in the pool.
	ConnectionsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websqlite3_connections_idle",
		Help: "Number of idle connections in the pool",
	})

	// ConnectionsPinned tracks the number of pinned connections, by reason.
	ConnectionsPinned = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "websqlite3_connections_pinned",
		Help: "Number of pinned connections",
	}, []string{"pin_reason"})

	// ConnectionsMax tracks the configured maximum pool size.
	ConnectionsMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websqlite3_connections_max",
		Help: "Configured maximum pool size",
	})

	// ConnectionsTotal counts connection acquire/release operations by outcome.
	ConnectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "websqlite3_connections_total",
		Help: "Total connection operations",
	}, []string{"status"})

	// QueueLength tracks the current depth of a named queue (pool waiters
	// or the priority request queue).
	QueueLength = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "websqlite3_queue_length",
		Help: "Number of callers waiting",
	}, []string{"queue"})

	// QueueWaitDuration tracks time spent waiting for a pool connection.
	QueueWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "websqlite3_queue_wait_seconds",
		Help:    "Time spent waiting for a connection",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	})

	// RequestsDispatched counts requests dispatched by the executor, by
	// priority.
	RequestsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "websqlite3_requests_dispatched_total",
		Help: "Total requests dispatched to a worker, by priority",
	}, []string{"priority"})

	// RequestsCompleted counts requests completed by the executor, by
	// outcome.
	RequestsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "websqlite3_requests_completed_total",
		Help: "Total requests completed, by outcome",
	}, []string{"outcome"})

	// QueryDuration tracks query execution time, by request kind.
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "websqlite3_query_duration_seconds",
		Help:    "Query execution duration",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"kind"})

	// ConnectionErrors counts connection errors by type.
	ConnectionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "websqlite3_connection_errors_total",
		Help: "Total connection errors",
	}, []string{"error_type"})

	// PinningDuration tracks how long connections stay pinned, by reason.
	PinningDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "websqlite3_pinning_duration_seconds",
		Help:    "Duration of connection pinning",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"pin_reason"})
)
