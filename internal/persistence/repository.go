// Package persistence provides durable storage for the control plane.
package persistence

import (
	"context"
	"time"

	"github.com/quantfleet/fleetd/internal/types"
	"github.com/shopspring/decimal"
)

// Repository defines the durable storage interface.
type Repository interface {
	ExecutionStore
	TraderRegistry
	PositionStore

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
}

// ExecutionStore holds heartbeat/optimization execution records.
type ExecutionStore interface {
	// CreateExecution inserts a new pending record.
	CreateExecution(ctx context.Context, record types.ExecutionRecord) error

	// MarkExecutionRunning transitions a pending record to running.
	MarkExecutionRunning(ctx context.Context, id string) error

	// FinalizeExecution transitions a record to its terminal state exactly
	// once. A second finalize attempt returns ErrExecutionFinalized.
	FinalizeExecution(ctx context.Context, id string, status types.ExecutionStatus, result string, completedAt time.Time) error

	// GetExecution returns a record by id, or nil when absent.
	GetExecution(ctx context.Context, id string) (*types.ExecutionRecord, error)

	// GetExecutionHistory returns the most recent records for a trader and
	// kind, newest first.
	GetExecutionHistory(ctx context.Context, traderID int64, kind types.ExecutionKind, limit int) ([]types.ExecutionRecord, error)
}

// TraderRegistry looks up traders by id.
type TraderRegistry interface {
	// GetTrader returns a trader by id, or nil when unknown.
	GetTrader(ctx context.Context, id int64) (*types.Trader, error)

	// SaveTrader inserts or replaces a trader (seeding and tests).
	SaveTrader(ctx context.Context, trader types.Trader) error
}

// PositionStore holds position snapshots and revaluation samples.
type PositionStore interface {
	SavePosition(ctx context.Context, position types.PositionSnapshot) error
	GetOpenPositions(ctx context.Context) ([]types.PositionSnapshot, error)

	// SaveMarkSample appends one revaluation sample for a trader.
	SaveMarkSample(ctx context.Context, traderID int64, symbol string, mark decimal.Decimal, recordedAt time.Time) error

	// CountMarkSamples returns how many samples exist for a trader. Used
	// as the data-sufficiency input for optimization triggers.
	CountMarkSamples(ctx context.Context, traderID int64) (int, error)
}
