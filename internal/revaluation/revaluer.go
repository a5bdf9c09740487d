// Package revaluation recomputes position state and feeds the dispatcher.
package revaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantfleet/fleetd/internal/persistence"
	"github.com/quantfleet/fleetd/internal/types"
	"github.com/shopspring/decimal"
)

// QuoteSource supplies the current mark price for a symbol.
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Publisher receives position events for fan-out. The process-wide
// dispatcher satisfies this.
type Publisher interface {
	Publish(event types.PositionEvent)
}

// Revaluer marks all open positions against current quotes. It is the
// callback the periodic scheduler drives; each run persists updated
// snapshots, appends mark samples and publishes a position-update event
// per changed position.
type Revaluer struct {
	store     persistence.PositionStore
	quotes    QuoteSource
	publisher Publisher
	logger    *slog.Logger
}

// NewRevaluer creates a revaluer.
func NewRevaluer(store persistence.PositionStore, quotes QuoteSource, publisher Publisher, logger *slog.Logger) *Revaluer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Revaluer{
		store:     store,
		quotes:    quotes,
		publisher: publisher,
		logger:    logger,
	}
}

// Run performs one revaluation pass. Per-position failures are collected
// and reported together; one bad position never stops the rest of the
// pass.
func (r *Revaluer) Run(ctx context.Context) error {
	positions, err := r.store.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("load open positions: %w", err)
	}

	now := time.Now()
	marks := make(map[string]decimal.Decimal) // one quote per symbol per pass
	sampled := make(map[int64]bool)           // one sample per trader per pass
	var errs []error

	for _, position := range positions {
		mark, ok := marks[position.Symbol]
		if !ok {
			mark, err = r.quotes.Quote(ctx, position.Symbol)
			if err != nil {
				errs = append(errs, fmt.Errorf("quote %s: %w", position.Symbol, err))
				continue
			}
			marks[position.Symbol] = mark
		}

		if !sampled[position.TraderID] {
			if err := r.store.SaveMarkSample(ctx, position.TraderID, position.Symbol, mark, now); err != nil {
				errs = append(errs, fmt.Errorf("save sample trader %d: %w", position.TraderID, err))
			}
			sampled[position.TraderID] = true
		}

		if mark.Equal(position.MarkPrice) {
			continue
		}

		position.MarkPrice = mark
		position.UnrealizedPL = unrealizedPL(position, mark)
		position.UpdatedAt = now

		if err := r.store.SavePosition(ctx, position); err != nil {
			errs = append(errs, fmt.Errorf("save position %s: %w", position.ID, err))
			continue
		}

		r.publisher.Publish(types.NewPositionUpdate(position))

		r.logger.Debug("position revalued",
			"trader_id", position.TraderID,
			"position_id", position.ID,
			"mark", mark,
			"unrealized_pl", position.UnrealizedPL,
		)
	}

	return errors.Join(errs...)
}

// unrealizedPL computes the open P/L of a position at the given mark.
func unrealizedPL(position types.PositionSnapshot, mark decimal.Decimal) decimal.Decimal {
	diff := mark.Sub(position.EntryPrice)
	if position.Side == types.SideShort {
		diff = diff.Neg()
	}
	if position.Side == types.SideFlat {
		return decimal.Zero
	}
	return diff.Mul(decimal.NewFromInt(int64(position.Contracts)))
}
