package alerting

import (
	"time"

	"github.com/shopspring/decimal"
)

// OpsSummary aggregates fleet execution outcomes over a reporting window.
type OpsSummary struct {
	WindowStart         time.Time
	WindowEnd           time.Time
	ActiveTraders       int
	OpenPositions       int
	TotalUnrealizedPL   decimal.Decimal
	HeartbeatsRun       int
	HeartbeatsFailed    int
	HeartbeatSuccess    decimal.Decimal
	OptimizationsRun    int
	OptimizationsFailed int
	OptimizationSuccess decimal.Decimal
	EventsPublished     int64
}

// NewOpsSummary builds a summary and derives the per-kind success rates.
func NewOpsSummary(
	windowStart, windowEnd time.Time,
	activeTraders, openPositions int,
	totalUnrealizedPL decimal.Decimal,
	heartbeatsRun, heartbeatsFailed int,
	optimizationsRun, optimizationsFailed int,
	eventsPublished int64,
) OpsSummary {
	return OpsSummary{
		WindowStart:         windowStart,
		WindowEnd:           windowEnd,
		ActiveTraders:       activeTraders,
		OpenPositions:       openPositions,
		TotalUnrealizedPL:   totalUnrealizedPL,
		HeartbeatsRun:       heartbeatsRun,
		HeartbeatsFailed:    heartbeatsFailed,
		HeartbeatSuccess:    successRate(heartbeatsRun, heartbeatsFailed),
		OptimizationsRun:    optimizationsRun,
		OptimizationsFailed: optimizationsFailed,
		OptimizationSuccess: successRate(optimizationsRun, optimizationsFailed),
		EventsPublished:     eventsPublished,
	}
}

func successRate(run, failed int) decimal.Decimal {
	if run == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(run - failed)).
		Div(decimal.NewFromInt(int64(run))).
		Mul(decimal.NewFromInt(100))
}
