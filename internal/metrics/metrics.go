// Package metrics provides Prometheus metrics collection for the signal bot.
// It defines counters and gauges for the signal pipeline, order execution
// and position lifecycle, exposed via the Prometheus metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the signal bot.
type Metrics struct {
	// Signal pipeline
	SignalsReceived prometheus.Counter // Raw messages seen by the dispatcher
	SignalsParsed   prometheus.Counter // Messages that produced a Signal
	SignalsRejected prometheus.Counter // Signals dropped by gates or validation
	SignalsExecuted prometheus.Counter // Signals that produced a position

	// Order execution
	OrdersTotal   prometheus.Counter   // Orders placed on the venue
	OrderRetries  prometheus.Counter   // Placement retries
	OrderFailures prometheus.Counter   // Placements that exhausted retries
	OrderLatency  prometheus.Histogram // Placement round-trip in seconds

	// Position lifecycle
	PositionsOpen prometheus.Gauge   // Live positions
	TargetsHit    prometheus.Counter // Take-profit fills applied
	StopsHit      prometheus.Counter // Stop-loss fills applied
	PnLTotal      prometheus.Gauge   // Cumulative realized PnL

	// System
	WSReconnects prometheus.Counter // User-data stream reconnections
	ErrorsTotal  prometheus.Counter // Errors encountered
}

// New creates and registers all metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		SignalsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "signals_received_total",
			Help: "Total number of raw channel messages received",
		}),
		SignalsParsed: factory.NewCounter(prometheus.CounterOpts{
			Name: "signals_parsed_total",
			Help: "Total number of messages parsed into signals",
		}),
		SignalsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "signals_rejected_total",
			Help: "Total number of signals dropped by gates or validation",
		}),
		SignalsExecuted: factory.NewCounter(prometheus.CounterOpts{
			Name: "signals_executed_total",
			Help: "Total number of signals executed into positions",
		}),
		OrdersTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "orders_total",
			Help: "Total number of orders placed",
		}),
		OrderRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "order_retries_total",
			Help: "Total number of order placement retries",
		}),
		OrderFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "order_failures_total",
			Help: "Total number of order placements that exhausted retries",
		}),
		OrderLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "order_latency_seconds",
			Help:    "Order placement round-trip in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		PositionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "positions_open",
			Help: "Number of live positions",
		}),
		TargetsHit: factory.NewCounter(prometheus.CounterOpts{
			Name: "targets_hit_total",
			Help: "Total number of take-profit fills applied",
		}),
		StopsHit: factory.NewCounter(prometheus.CounterOpts{
			Name: "stops_hit_total",
			Help: "Total number of stop-loss fills applied",
		}),
		PnLTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pnl_total",
			Help: "Cumulative realized profit and loss",
		}),
		WSReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "ws_reconnects_total",
			Help: "Total number of user-data stream reconnections",
		}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}
