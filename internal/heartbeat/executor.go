// Package heartbeat triggers asynchronous liveness checks for traders.
package heartbeat

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/quantfleet/fleetd/internal/alerting"
	"github.com/quantfleet/fleetd/internal/dedup"
	"github.com/quantfleet/fleetd/internal/metrics"
	"github.com/quantfleet/fleetd/internal/persistence"
	"github.com/quantfleet/fleetd/internal/types"
)

// Checker performs the underlying liveness check for one trader.
type Checker interface {
	// Check returns an opaque result detail on success.
	Check(ctx context.Context, trader types.Trader) (string, error)
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(ctx context.Context, trader types.Trader) (string, error)

// Check calls f.
func (f CheckerFunc) Check(ctx context.Context, trader types.Trader) (string, error) {
	return f(ctx, trader)
}

// Config holds heartbeat executor configuration.
type Config struct {
	Timeout time.Duration // per-check deadline for the async run
}

// DefaultConfig returns default heartbeat config.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
	}
}

// Executor accepts heartbeat triggers and runs the check asynchronously.
// The trigger path only validates, claims the dedup slot and persists the
// pending record; it never waits for the check itself.
type Executor struct {
	cfg      Config
	store    persistence.ExecutionStore
	registry persistence.TraderRegistry
	gate     *dedup.Gate
	checker  Checker
	alerter  alerting.Alerter
	logger   *slog.Logger
	recorder *metrics.Recorder
}

// NewExecutor creates a heartbeat executor.
func NewExecutor(
	cfg Config,
	store persistence.ExecutionStore,
	registry persistence.TraderRegistry,
	gate *dedup.Gate,
	checker Checker,
	alerter alerting.Alerter,
	logger *slog.Logger,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Executor{
		cfg:      cfg,
		store:    store,
		registry: registry,
		gate:     gate,
		checker:  checker,
		alerter:  alerter,
		logger:   logger,
		recorder: metrics.NewRecorder(),
	}
}

// Trigger starts a heartbeat check for the trader and returns the pending
// record immediately. A trigger while a check is already in flight is
// idempotent: it returns the in-flight record instead of creating a
// second one.
func (e *Executor) Trigger(ctx context.Context, traderID int64) (types.ExecutionRecord, error) {
	if traderID <= 0 {
		e.recorder.RecordTriggerRejected("invalid_id")
		return types.ExecutionRecord{}, types.ErrInvalidTraderID
	}

	trader, err := e.registry.GetTrader(ctx, traderID)
	if err != nil {
		return types.ExecutionRecord{}, err
	}
	if trader == nil {
		e.recorder.RecordTriggerRejected("not_found")
		return types.ExecutionRecord{}, types.ErrTraderNotFound
	}

	record := types.ExecutionRecord{
		ID:          uuid.NewString(),
		TraderID:    traderID,
		Kind:        types.KindHeartbeat,
		Status:      types.StatusPending,
		TriggeredAt: time.Now(),
	}

	// The gate claim decides which concurrent trigger gets to create the
	// record; the loser observes the winner's pending record once it is
	// persisted. If the slot is released between the failed claim and the
	// lookup (or the winner's insert fails), claim again.
	for !e.gate.TryAcquire(record) {
		if existing, held := e.gate.InFlight(traderID, types.KindHeartbeat); held {
			e.logger.Debug("heartbeat already in flight",
				"trader_id", traderID,
				"execution_id", existing.ID,
			)
			return existing, nil
		}
		runtime.Gosched()
	}

	if err := e.store.CreateExecution(ctx, record); err != nil {
		e.gate.Release(traderID, types.KindHeartbeat)
		return types.ExecutionRecord{}, err
	}
	e.gate.MarkPersisted(traderID, types.KindHeartbeat)

	e.recorder.RecordExecutionStarted(types.KindHeartbeat.String())
	e.logger.Info("heartbeat triggered",
		"trader_id", traderID,
		"execution_id", record.ID,
	)

	go e.run(record, *trader)

	return record, nil
}

// run executes the check and finalizes the record. All failures end up in
// the record's terminal state; nothing escapes to the trigger caller.
func (e *Executor) run(record types.ExecutionRecord, trader types.Trader) {
	started := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Timeout)
	defer cancel()

	defer e.gate.Release(record.TraderID, types.KindHeartbeat)

	if err := e.store.MarkExecutionRunning(ctx, record.ID); err != nil {
		e.logger.Warn("mark heartbeat running failed",
			"execution_id", record.ID,
			"err", err,
		)
	}

	result, checkErr := e.checker.Check(ctx, trader)

	status := types.StatusSucceeded
	if checkErr != nil {
		status = types.StatusFailed
		result = checkErr.Error()
	}

	// The check may have consumed the whole deadline; the terminal
	// transition still has to land.
	finCtx, finCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer finCancel()

	if err := e.store.FinalizeExecution(finCtx, record.ID, status, result, time.Now()); err != nil {
		e.logger.Error("finalize heartbeat failed",
			"execution_id", record.ID,
			"err", err,
		)
	}

	e.recorder.RecordExecutionFinished(types.KindHeartbeat.String(), status.String(), time.Since(started))

	if checkErr != nil {
		e.logger.Warn("heartbeat check failed",
			"trader_id", record.TraderID,
			"execution_id", record.ID,
			"err", checkErr,
		)
		if e.alerter != nil {
			if err := e.alerter.Alert(finCtx, alerting.SeverityWarning, "Heartbeat check failed",
				"trader_id", record.TraderID,
				"trader", trader.Name,
				"error", checkErr.Error(),
			); err != nil {
				e.logger.Warn("failed to send heartbeat alert", "err", err)
			}
		}
		return
	}

	e.logger.Info("heartbeat check succeeded",
		"trader_id", record.TraderID,
		"execution_id", record.ID,
		"duration", time.Since(started),
	)
}
