// Package optimizer triggers asynchronous parameter optimization runs.
package optimizer

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

// Tuner performs the underlying optimization for one trader.
type Tuner interface {
	// Optimize returns an opaque result payload (e.g. tuned parameters).
	Optimize(ctx context.Context, trader types.Trader) (string, error)
}

// TunerFunc adapts a function to the Tuner interface.
type TunerFunc func(ctx context.Context, trader types.Trader) (string, error)

// Optimize calls f.
func (f TunerFunc) Optimize(ctx context.Context, trader types.Trader) (string, error) {
	return f(ctx, trader)
}

// Config holds optimization executor configuration.
type Config struct {
	MinSamples   int           // data-sufficiency threshold
	Timeout      time.Duration // per-run deadline for the async optimization
	HistoryLimit int           // default history page size
	HistoryCap   int           // defensive upper bound on history page size
}

// DefaultConfig returns default optimizer config.
func DefaultConfig() Config {
	return Config{
		MinSamples:   30,
		Timeout:      5 * time.Minute,
		HistoryLimit: 20,
		HistoryCap:   200,
	}
}

// Executor accepts optimization triggers, enforces data sufficiency and
// runs the optimization asynchronously. Trigger callers poll History for
// the final state.
type Executor struct {
	cfg       Config
	store     persistence.ExecutionStore
	registry  persistence.TraderRegistry
	positions persistence.PositionStore
	gate      *dedup.Gate
	tuner     Tuner
	alerter   alerting.Alerter
	logger    *slog.Logger
	recorder  *metrics.Recorder
}

// NewExecutor creates an optimization executor.
func NewExecutor(
	cfg Config,
	store persistence.ExecutionStore,
	registry persistence.TraderRegistry,
	positions persistence.PositionStore,
	gate *dedup.Gate,
	tuner Tuner,
	alerter alerting.Alerter,
	logger *slog.Logger,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = def.HistoryCap
	}
	return &Executor{
		cfg:       cfg,
		store:     store,
		registry:  registry,
		positions: positions,
		gate:      gate,
		tuner:     tuner,
		alerter:   alerter,
		logger:    logger,
		recorder:  metrics.NewRecorder(),
	}
}

// Trigger starts an optimization run for the trader and returns the
// pending record immediately. With force=false the trigger fails with
// ErrInsufficientData when fewer than MinSamples revaluation samples
// exist; force=true bypasses the sufficiency check. A trigger while a run
// is in flight returns the in-flight record (idempotent trigger).
func (e *Executor) Trigger(ctx context.Context, traderID int64, force bool) (types.ExecutionRecord, error) {
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

	if !force {
		samples, err := e.positions.CountMarkSamples(ctx, traderID)
		if err != nil {
			return types.ExecutionRecord{}, err
		}
		if samples < e.cfg.MinSamples {
			e.recorder.RecordTriggerRejected("insufficient_data")
			e.logger.Info("optimization rejected: insufficient data",
				"trader_id", traderID,
				"samples", samples,
				"min_samples", e.cfg.MinSamples,
			)
			return types.ExecutionRecord{}, types.ErrInsufficientData
		}
	}

	record := types.ExecutionRecord{
		ID:          uuid.NewString(),
		TraderID:    traderID,
		Kind:        types.KindOptimization,
		Status:      types.StatusPending,
		TriggeredAt: time.Now(),
	}

	for !e.gate.TryAcquire(record) {
		if existing, held := e.gate.InFlight(traderID, types.KindOptimization); held {
			e.logger.Debug("optimization already in flight",
				"trader_id", traderID,
				"execution_id", existing.ID,
			)
			return existing, nil
		}
		runtime.Gosched()
	}

	if err := e.store.CreateExecution(ctx, record); err != nil {
		e.gate.Release(traderID, types.KindOptimization)
		return types.ExecutionRecord{}, err
	}
	e.gate.MarkPersisted(traderID, types.KindOptimization)

	e.recorder.RecordExecutionStarted(types.KindOptimization.String())
	e.logger.Info("optimization triggered",
		"trader_id", traderID,
		"execution_id", record.ID,
		"force", force,
	)

	go e.run(record, *trader)

	return record, nil
}

// History returns the most recent optimization records for the trader,
// newest first. Zero means "unspecified" and falls back to the configured
// default; callers surfacing a user-supplied limit must reject
// non-positive values themselves before calling. Negative limits are
// rejected; limits above the cap are clamped.
func (e *Executor) History(ctx context.Context, traderID int64, limit int) ([]types.ExecutionRecord, error) {
	if traderID <= 0 {
		return nil, types.ErrInvalidTraderID
	}
	if limit < 0 {
		return nil, types.ErrInvalidLimit
	}
	if limit == 0 {
		limit = e.cfg.HistoryLimit
	}
	if limit > e.cfg.HistoryCap {
		limit = e.cfg.HistoryCap
	}
	return e.store.GetExecutionHistory(ctx, traderID, types.KindOptimization, limit)
}

// run executes the optimization and finalizes the record exactly once.
func (e *Executor) run(record types.ExecutionRecord, trader types.Trader) {
	started := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Timeout)
	defer cancel()

	defer e.gate.Release(record.TraderID, types.KindOptimization)

	if err := e.store.MarkExecutionRunning(ctx, record.ID); err != nil {
		e.logger.Warn("mark optimization running failed",
			"execution_id", record.ID,
			"err", err,
		)
	}

	result, optErr := e.tuner.Optimize(ctx, trader)

	status := types.StatusSucceeded
	if optErr != nil {
		status = types.StatusFailed
		result = optErr.Error()
	}

	finCtx, finCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer finCancel()

	if err := e.store.FinalizeExecution(finCtx, record.ID, status, result, time.Now()); err != nil {
		e.logger.Error("finalize optimization failed",
			"execution_id", record.ID,
			"err", err,
		)
	}

	e.recorder.RecordExecutionFinished(types.KindOptimization.String(), status.String(), time.Since(started))

	if optErr != nil {
		e.logger.Warn("optimization run failed",
			"trader_id", record.TraderID,
			"execution_id", record.ID,
			"err", optErr,
		)
		if e.alerter != nil {
			if err := e.alerter.Alert(finCtx, alerting.SeverityWarning, "Optimization run failed",
				"trader_id", record.TraderID,
				"trader", trader.Name,
				"error", optErr.Error(),
			); err != nil {
				e.logger.Warn("failed to send optimization alert", "err", err)
			}
		}
		return
	}

	e.logger.Info("optimization run succeeded",
		"trader_id", record.TraderID,
		"execution_id", record.ID,
		"duration", time.Since(started),
	)
}
