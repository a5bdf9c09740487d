package revaluation

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"
)

// StaticQuotes serves fixed prices. Used in tests and as a stand-in when
// no market data feed is wired.
type StaticQuotes struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStaticQuotes creates a static quote source.
func NewStaticQuotes(prices map[string]decimal.Decimal) *StaticQuotes {
	if prices == nil {
		prices = make(map[string]decimal.Decimal)
	}
	return &StaticQuotes{prices: prices}
}

// Quote returns the configured price for a symbol.
func (s *StaticQuotes) Quote(_ context.Context, symbol string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	price, ok := s.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("no quote for symbol %s", symbol)
	}
	return price, nil
}

// Set updates the price for a symbol.
func (s *StaticQuotes) Set(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	s.prices[symbol] = price
	s.mu.Unlock()
}

// RandomWalkQuotes simulates prices that drift a few ticks per query.
// Used when running the control plane without a live feed.
type RandomWalkQuotes struct {
	mu       sync.Mutex
	prices   map[string]decimal.Decimal
	tickSize decimal.Decimal
	rng      *rand.Rand
}

// NewRandomWalkQuotes creates a random-walk source seeded with starting
// prices.
func NewRandomWalkQuotes(initial map[string]decimal.Decimal, tickSize decimal.Decimal, seed int64) *RandomWalkQuotes {
	prices := make(map[string]decimal.Decimal, len(initial))
	for symbol, price := range initial {
		prices[symbol] = price
	}
	return &RandomWalkQuotes{
		prices:   prices,
		tickSize: tickSize,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Quote returns the symbol's price after a drift of -2..+2 ticks.
func (w *RandomWalkQuotes) Quote(_ context.Context, symbol string) (decimal.Decimal, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	price, ok := w.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("no quote for symbol %s", symbol)
	}

	ticks := int64(w.rng.Intn(5) - 2)
	price = price.Add(w.tickSize.Mul(decimal.NewFromInt(ticks)))
	w.prices[symbol] = price

	return price, nil
}
