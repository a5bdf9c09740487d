// Package dispatch provides the in-process position event hub.
package dispatch

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quantfleet/fleetd/internal/metrics"
	"github.com/quantfleet/fleetd/internal/types"
)

// subscriberBuffer bounds the per-subscriber event queue. A subscriber
// whose transport stalls loses events past this depth instead of
// throttling publishers.
const subscriberBuffer = 64

// Listener receives published position events. A delivery failure is
// reported back so the dispatcher can isolate it; it never aborts the
// broadcast to other listeners.
type Listener interface {
	Deliver(event types.PositionEvent) error
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(event types.PositionEvent) error

// Deliver calls f(event).
func (f ListenerFunc) Deliver(event types.PositionEvent) error {
	return f(event)
}

type subscriber struct {
	id           string
	listener     Listener
	registeredAt time.Time
	events       chan types.PositionEvent
	quit         chan struct{}
}

// Dispatcher fans out position events to all registered listeners.
// One instance is shared process-wide; registration and publishing are
// safe from any number of concurrent streaming sessions.
//
// Each subscriber drains its own bounded queue on a dedicated goroutine,
// so Publish never blocks on a slow or dead consumer and one stalled
// transport cannot starve the others.
type Dispatcher struct {
	logger   *slog.Logger
	recorder *metrics.Recorder

	mu          sync.RWMutex
	subscribers []*subscriber // registration order
}

// NewDispatcher creates a dispatcher with no listeners.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger:   logger,
		recorder: metrics.NewRecorder(),
	}
}

// AddListener registers a listener for every subsequently published event
// and returns its registration id.
func (d *Dispatcher) AddListener(l Listener) string {
	sub := &subscriber{
		id:           uuid.NewString(),
		listener:     l,
		registeredAt: time.Now(),
		events:       make(chan types.PositionEvent, subscriberBuffer),
		quit:         make(chan struct{}),
	}

	d.mu.Lock()
	d.subscribers = append(d.subscribers, sub)
	d.mu.Unlock()

	go d.pump(sub)

	d.recorder.RecordListenerAdded()
	d.logger.Debug("listener registered", "listener_id", sub.id)

	return sub.id
}

// RemoveListener deregisters a listener and stops its delivery goroutine.
// Events still queued for it are discarded. Removing an unknown id is a
// no-op, so teardown paths can call it unconditionally.
func (d *Dispatcher) RemoveListener(id string) {
	var removed *subscriber

	d.mu.Lock()
	for i, sub := range d.subscribers {
		if sub.id == id {
			d.subscribers = append(d.subscribers[:i], d.subscribers[i+1:]...)
			removed = sub
			break
		}
	}
	d.mu.Unlock()

	if removed == nil {
		return
	}

	close(removed.quit)
	d.recorder.RecordListenerRemoved()
	d.logger.Debug("listener removed", "listener_id", id)
}

// ListenerCount returns the number of registered listeners.
func (d *Dispatcher) ListenerCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}

// Publish hands the event to every currently registered listener's queue,
// in registration order, and returns without waiting for deliveries. A
// subscriber whose queue is full drops the event (counted and logged)
// rather than stalling the broadcast. A listener registered or removed
// concurrently with a publish may or may not see that specific event.
func (d *Dispatcher) Publish(event types.PositionEvent) {
	d.mu.RLock()
	targets := make([]*subscriber, len(d.subscribers))
	copy(targets, d.subscribers)
	d.mu.RUnlock()

	d.recorder.RecordEventPublished(event.Type)

	for _, sub := range targets {
		select {
		case sub.events <- event:
		default:
			d.recorder.RecordEventDropped()
			d.logger.Warn("event dropped: subscriber queue full",
				"listener_id", sub.id,
				"event_type", event.Type,
			)
		}
	}
}

// pump drains one subscriber's queue until removal. Events are delivered
// one at a time, so each listener sees its events in publish order.
func (d *Dispatcher) pump(sub *subscriber) {
	for {
		select {
		case <-sub.quit:
			return
		case event := <-sub.events:
			select {
			case <-sub.quit:
				return
			default:
			}
			d.deliver(sub, event)
		}
	}
}

func (d *Dispatcher) deliver(sub *subscriber, event types.PositionEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.recorder.RecordDeliveryError()
			d.logger.Error("listener panicked during delivery",
				"listener_id", sub.id,
				"event_type", event.Type,
				"panic", fmt.Sprint(r),
			)
		}
	}()

	if err := sub.listener.Deliver(event); err != nil {
		d.recorder.RecordDeliveryError()
		d.logger.Warn("event delivery failed",
			"listener_id", sub.id,
			"event_type", event.Type,
			"err", err,
		)
	}
}
