package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quantfleet/fleetd/internal/types"
)

func countingCallback(count *atomic.Int64, err error) Callback {
	return func(_ context.Context) error {
		count.Add(1)
		return err
	}
}

func TestScheduler_ImmediateFirstRun(t *testing.T) {
	s := New(Config{Cadence: time.Hour}, nil)
	defer s.Stop()

	var count atomic.Int64
	if err := s.Start(countingCallback(&count, nil)); err != nil {
		t.Fatalf("start: %v", err)
	}

	// The first invocation must not wait for the cadence.
	deadline := time.Now().Add(time.Second)
	for count.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := count.Load(); got != 1 {
		t.Errorf("invocations = %d, want 1 immediate run", got)
	}
}

func TestScheduler_PeriodicTicks(t *testing.T) {
	s := New(Config{Cadence: 20 * time.Millisecond}, nil)
	defer s.Stop()

	var count atomic.Int64
	if err := s.Start(countingCallback(&count, nil)); err != nil {
		t.Fatalf("start: %v", err)
	}

	time.Sleep(110 * time.Millisecond)

	// Immediate run plus at least three cadence ticks.
	if got := count.Load(); got < 4 {
		t.Errorf("invocations = %d, want >= 4", got)
	}
}

func TestScheduler_DoubleStartKeepsOneTimer(t *testing.T) {
	s := New(Config{Cadence: 20 * time.Millisecond}, nil)
	defer s.Stop()

	var first, second atomic.Int64
	if err := s.Start(countingCallback(&first, nil)); err != nil {
		t.Fatalf("first start: %v", err)
	}

	err := s.Start(countingCallback(&second, nil))
	if !errors.Is(err, types.ErrSchedulerRunning) {
		t.Fatalf("second start error = %v, want ErrSchedulerRunning", err)
	}

	time.Sleep(70 * time.Millisecond)

	if second.Load() != 0 {
		t.Errorf("second callback ran %d times, want 0 (original timer kept)", second.Load())
	}
	if first.Load() == 0 {
		t.Error("original callback should still be ticking")
	}
}

func TestScheduler_StopFiresNoFurtherTicks(t *testing.T) {
	cadence := 20 * time.Millisecond
	s := New(Config{Cadence: cadence}, nil)

	var count atomic.Int64
	if err := s.Start(countingCallback(&count, nil)); err != nil {
		t.Fatalf("start: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	s.Stop()
	after := count.Load()

	// Observe across more than two cadence periods.
	time.Sleep(3 * cadence)

	if got := count.Load(); got != after {
		t.Errorf("invocations after stop = %d, want %d (zero additional ticks)", got, after)
	}
	if s.Status().Running {
		t.Error("status should report stopped")
	}
}

func TestScheduler_StopWhenNotRunningIsNoop(t *testing.T) {
	s := New(DefaultConfig(), nil)
	s.Stop() // must not panic or block
	s.Stop()
}

func TestScheduler_RestartAfterStop(t *testing.T) {
	s := New(Config{Cadence: 20 * time.Millisecond}, nil)

	var count atomic.Int64
	if err := s.Start(countingCallback(&count, nil)); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Stop()

	if err := s.Start(countingCallback(&count, nil)); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer s.Stop()

	if !s.Status().Running {
		t.Error("status should report running after restart")
	}
}

func TestScheduler_FailingTickDoesNotStopTimer(t *testing.T) {
	s := New(Config{Cadence: 20 * time.Millisecond}, nil)
	defer s.Stop()

	var count atomic.Int64
	if err := s.Start(countingCallback(&count, errors.New("revaluation failed"))); err != nil {
		t.Fatalf("start: %v", err)
	}

	time.Sleep(90 * time.Millisecond)

	// Every invocation fails, yet the next tick still fires.
	if got := count.Load(); got < 3 {
		t.Errorf("invocations = %d, want >= 3 despite failures", got)
	}
	if !s.Status().Running {
		t.Error("scheduler should still be running")
	}
}

func TestScheduler_ConcurrentStart(t *testing.T) {
	s := New(Config{Cadence: time.Hour}, nil)
	defer s.Stop()

	var count atomic.Int64
	callback := countingCallback(&count, nil)

	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			errs <- s.Start(callback)
		}()
	}

	var won int
	for i := 0; i < n; i++ {
		if err := <-errs; err == nil {
			won++
		}
	}

	if won != 1 {
		t.Errorf("successful starts = %d, want exactly 1", won)
	}
}

func TestScheduler_TriggerOnce(t *testing.T) {
	s := New(DefaultConfig(), nil)

	var count atomic.Int64
	if err := s.TriggerOnce(context.Background(), countingCallback(&count, nil)); err != nil {
		t.Fatalf("trigger once: %v", err)
	}
	if got := count.Load(); got != 1 {
		t.Errorf("invocations = %d, want 1", got)
	}
	if s.Status().Running {
		t.Error("TriggerOnce must not start the scheduler")
	}

	// Errors surface to the manual caller.
	wantErr := errors.New("bad tick")
	if err := s.TriggerOnce(context.Background(), countingCallback(&count, wantErr)); !errors.Is(err, wantErr) {
		t.Errorf("error = %v, want %v", err, wantErr)
	}
}

func TestScheduler_Status(t *testing.T) {
	cadence := 10 * time.Second
	s := New(Config{Cadence: cadence}, nil)

	status := s.Status()
	if status.Running {
		t.Error("fresh scheduler should not be running")
	}
	if status.Cadence != cadence {
		t.Errorf("cadence = %v, want %v", status.Cadence, cadence)
	}
}
