// Package metrics provides Prometheus instrumentation for the control plane.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scheduler metrics.
var (
	SchedulerTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetd_scheduler_ticks_total",
		Help: "Total revaluation ticks fired by the scheduler.",
	})

	SchedulerTickErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetd_scheduler_tick_errors_total",
		Help: "Total revaluation ticks that returned an error.",
	})

	SchedulerRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleetd_scheduler_running",
		Help: "Whether the periodic scheduler is running (1) or stopped (0).",
	})
)

// Execution metrics.
var (
	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetd_executions_total",
		Help: "Total executions by kind and terminal status.",
	}, []string{"kind", "status"})

	ExecutionsInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleetd_executions_in_flight",
		Help: "Executions currently in flight by kind.",
	}, []string{"kind"})

	ExecutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fleetd_execution_duration_seconds",
		Help:    "Duration of asynchronous executions by kind.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	TriggersRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetd_triggers_rejected_total",
		Help: "Trigger requests rejected before acceptance, by reason.",
	}, []string{"reason"})
)

// Dispatcher and stream metrics.
var (
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetd_events_published_total",
		Help: "Position events published to the dispatcher, by type.",
	}, []string{"type"})

	DeliveryErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetd_delivery_errors_total",
		Help: "Per-listener delivery failures during broadcast.",
	})

	EventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetd_events_dropped_total",
		Help: "Events dropped because a subscriber queue was full.",
	})

	ListenersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleetd_listeners_active",
		Help: "Listeners currently registered on the dispatcher.",
	})

	StreamSessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetd_stream_sessions_total",
		Help: "Streaming sessions opened since start.",
	})
)

// Store metrics.
var (
	StoreHealthy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleetd_store_healthy",
		Help: "Whether the record store is reachable (1) or not (0).",
	})
)
