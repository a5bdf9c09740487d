// Package stream serves the live position event stream over SSE.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/quantfleet/fleetd/internal/dispatch"
	"github.com/quantfleet/fleetd/internal/metrics"
	"github.com/quantfleet/fleetd/internal/types"
)

var errSessionClosed = errors.New("stream session closed")

// DefaultKeepalive is the cadence of content-free keepalive frames that
// stop intermediaries from reclaiming idle connections.
const DefaultKeepalive = 15 * time.Second

// Handler upgrades requests to long-lived SSE sessions fed by the
// dispatcher. Each session gets a synthetic "connected" event first, then
// every published position event until the client disconnects.
type Handler struct {
	dispatcher *dispatch.Dispatcher
	keepalive  time.Duration
	logger     *slog.Logger
	recorder   *metrics.Recorder
}

// NewHandler creates a stream handler.
func NewHandler(dispatcher *dispatch.Dispatcher, keepalive time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}
	return &Handler{
		dispatcher: dispatcher,
		keepalive:  keepalive,
		logger:     logger,
		recorder:   metrics.NewRecorder(),
	}
}

// ServeHTTP runs one streaming session until the client disconnects.
// Teardown happens exactly once, in order: keepalive pulse stopped,
// listener removed, transport closed.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sess := &session{w: w, flusher: flusher}

	h.recorder.RecordStreamSession()
	h.logger.Info("stream session opened", "remote", r.RemoteAddr)

	// The connected event goes out before the listener registers, so a
	// consumer always sees it as the first frame.
	if err := sess.Deliver(types.PositionEvent{
		Type:      types.EventConnected,
		Timestamp: time.Now(),
	}); err != nil {
		h.logger.Warn("stream connect frame failed", "err", err)
		return
	}

	listenerID := h.dispatcher.AddListener(sess)

	stopKeepalive := make(chan struct{})
	var teardown sync.Once
	shutdown := func() {
		teardown.Do(func() {
			close(stopKeepalive)
			h.dispatcher.RemoveListener(listenerID)
			sess.close()
			h.logger.Info("stream session closed", "remote", r.RemoteAddr)
		})
	}
	defer shutdown()

	go func() {
		ticker := time.NewTicker(h.keepalive)
		defer ticker.Stop()
		for {
			select {
			case <-stopKeepalive:
				return
			case <-ticker.C:
				if err := sess.pulse(); err != nil {
					return
				}
			}
		}
	}()

	<-r.Context().Done()
}

// session is one subscriber's transport. Writes are serialized so real
// events and keepalive pulses never interleave mid-frame.
type session struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	closed  bool
}

// Deliver writes one SSE frame. A closed or broken transport reports an
// error; the dispatcher isolates it and drops only this delivery.
func (s *session) Deliver(event types.PositionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errSessionClosed
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// pulse writes a content-free comment frame.
func (s *session) pulse() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errSessionClosed
	}
	if _, err := io.WriteString(s.w, ": keepalive\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// close marks the session unusable. Deliveries racing with the disconnect
// fail cleanly instead of writing to a dead transport.
func (s *session) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
