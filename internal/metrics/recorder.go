package metrics

import (
	"time"
)

// Recorder provides methods for recording control-plane metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordTick records a fired scheduler tick.
func (r *Recorder) RecordTick() {
	SchedulerTicksTotal.Inc()
}

// RecordTickError records a scheduler tick that failed.
func (r *Recorder) RecordTickError() {
	SchedulerTickErrorsTotal.Inc()
}

// RecordSchedulerRunning records the scheduler running state.
func (r *Recorder) RecordSchedulerRunning(running bool) {
	if running {
		SchedulerRunning.Set(1)
	} else {
		SchedulerRunning.Set(0)
	}
}

// RecordExecutionStarted records an execution entering flight.
func (r *Recorder) RecordExecutionStarted(kind string) {
	ExecutionsInFlight.WithLabelValues(kind).Inc()
}

// RecordExecutionFinished records a terminal execution outcome.
func (r *Recorder) RecordExecutionFinished(kind, status string, duration time.Duration) {
	ExecutionsInFlight.WithLabelValues(kind).Dec()
	ExecutionsTotal.WithLabelValues(kind, status).Inc()
	ExecutionDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordTriggerRejected records a trigger rejected before acceptance.
func (r *Recorder) RecordTriggerRejected(reason string) {
	TriggersRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordEventPublished records a published position event.
func (r *Recorder) RecordEventPublished(eventType string) {
	EventsPublishedTotal.WithLabelValues(eventType).Inc()
}

// RecordDeliveryError records a failed delivery to one listener.
func (r *Recorder) RecordDeliveryError() {
	DeliveryErrorsTotal.Inc()
}

// RecordEventDropped records an event lost to a full subscriber queue.
func (r *Recorder) RecordEventDropped() {
	EventsDroppedTotal.Inc()
}

// RecordListenerAdded records a listener registration.
func (r *Recorder) RecordListenerAdded() {
	ListenersActive.Inc()
}

// RecordListenerRemoved records a listener removal.
func (r *Recorder) RecordListenerRemoved() {
	ListenersActive.Dec()
}

// RecordStreamSession records a new streaming session.
func (r *Recorder) RecordStreamSession() {
	StreamSessionsTotal.Inc()
}

// RecordStoreHealthy records record store reachability.
func (r *Recorder) RecordStoreHealthy(healthy bool) {
	if healthy {
		StoreHealthy.Set(1)
	} else {
		StoreHealthy.Set(0)
	}
}
