// Package scheduler drives periodic position revaluation.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quantfleet/fleetd/internal/metrics"
	"github.com/quantfleet/fleetd/internal/types"
)

// Callback is the revaluation function invoked on every tick.
type Callback func(ctx context.Context) error

// Config holds scheduler configuration.
type Config struct {
	Cadence time.Duration
}

// DefaultConfig returns the default scheduler config.
func DefaultConfig() Config {
	return Config{
		Cadence: 10 * time.Second,
	}
}

// Status reports the scheduler state.
type Status struct {
	Running bool          `json:"running"`
	Cadence time.Duration `json:"cadence"`
}

// Scheduler is the process-wide periodic revaluation driver. One timer at
// most is active at any time; starting an already-running scheduler is a
// no-op.
type Scheduler struct {
	cfg      Config
	logger   *slog.Logger
	recorder *metrics.Recorder

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{} // closed when the tick loop exits
}

// New creates a stopped scheduler.
func New(cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Cadence <= 0 {
		cfg.Cadence = DefaultConfig().Cadence
	}
	return &Scheduler{
		cfg:      cfg,
		logger:   logger,
		recorder: metrics.NewRecorder(),
	}
}

// Start begins periodic invocation of callback. The callback runs once
// immediately, then at every cadence until Stop. If the scheduler is
// already running, Start reports ErrSchedulerRunning and changes nothing;
// the existing timer keeps its cadence.
func (s *Scheduler) Start(callback Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return types.ErrSchedulerRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.running = true
	s.cancel = cancel
	s.done = done

	go s.loop(ctx, callback, done)

	s.recorder.RecordSchedulerRunning(true)
	s.logger.Info("scheduler started", "cadence", s.cfg.Cadence)

	return nil
}

func (s *Scheduler) loop(ctx context.Context, callback Callback, done chan struct{}) {
	defer close(done)

	// First revaluation is not delayed by the cadence.
	s.runTick(ctx, callback)

	ticker := time.NewTicker(s.cfg.Cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A tick that raced with Stop must not fire.
			if ctx.Err() != nil {
				return
			}
			s.runTick(ctx, callback)
		}
	}
}

// runTick invokes the callback once. A failing tick is logged and counted;
// the timer keeps running so a single failed revaluation never halts the
// stream.
func (s *Scheduler) runTick(ctx context.Context, callback Callback) {
	if ctx.Err() != nil {
		return
	}

	s.recorder.RecordTick()
	if err := callback(ctx); err != nil {
		s.recorder.RecordTickError()
		s.logger.Error("revaluation tick failed", "err", err)
	}
}

// Stop cancels the timer. When Stop returns, no further tick fires.
// Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	s.running = false
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	s.recorder.RecordSchedulerRunning(false)
	s.logger.Info("scheduler stopped")
}

// Status reports whether the scheduler is running and at what cadence.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Running: s.running, Cadence: s.cfg.Cadence}
}

// TriggerOnce runs the callback exactly once outside the regular cadence.
// Works whether or not the scheduler is running; the error is returned to
// the manual caller instead of being swallowed.
func (s *Scheduler) TriggerOnce(ctx context.Context, callback Callback) error {
	s.recorder.RecordTick()
	if err := callback(ctx); err != nil {
		s.recorder.RecordTickError()
		s.logger.Error("manual revaluation failed", "err", err)
		return err
	}
	return nil
}
