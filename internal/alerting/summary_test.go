package alerting

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNewOpsSummary(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	summary := NewOpsSummary(
		start, end,
		5,  // active traders
		3,  // open positions
		decimal.NewFromFloat(1250.50),
		10, 2, // heartbeats run / failed
		4, 1, // optimizations run / failed
		360,
	)

	if summary.ActiveTraders != 5 {
		t.Errorf("ActiveTraders = %d, want 5", summary.ActiveTraders)
	}
	if !summary.TotalUnrealizedPL.Equal(decimal.NewFromFloat(1250.50)) {
		t.Errorf("TotalUnrealizedPL = %s, want 1250.50", summary.TotalUnrealizedPL)
	}

	// Heartbeat success: 8/10 = 80%
	if !summary.HeartbeatSuccess.Equal(decimal.NewFromInt(80)) {
		t.Errorf("HeartbeatSuccess = %s, want 80", summary.HeartbeatSuccess)
	}

	// Optimization success: 3/4 = 75%
	if !summary.OptimizationSuccess.Equal(decimal.NewFromInt(75)) {
		t.Errorf("OptimizationSuccess = %s, want 75", summary.OptimizationSuccess)
	}

	if summary.EventsPublished != 360 {
		t.Errorf("EventsPublished = %d, want 360", summary.EventsPublished)
	}
}

func TestNewOpsSummary_NoExecutions(t *testing.T) {
	now := time.Now()
	summary := NewOpsSummary(now.Add(-time.Hour), now, 0, 0, decimal.Zero, 0, 0, 0, 0, 0)

	if !summary.HeartbeatSuccess.IsZero() {
		t.Errorf("HeartbeatSuccess = %s, want 0", summary.HeartbeatSuccess)
	}
	if !summary.OptimizationSuccess.IsZero() {
		t.Errorf("OptimizationSuccess = %s, want 0", summary.OptimizationSuccess)
	}
}
