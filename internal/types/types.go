// Package types defines shared types used across the fleet control plane.
package types

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of a position.
type Side int

const (
	SideFlat Side = iota
	SideLong
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "LONG"
	case SideShort:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// ExecutionKind identifies the type of a triggered execution.
type ExecutionKind int

const (
	KindHeartbeat ExecutionKind = iota
	KindOptimization
)

func (k ExecutionKind) String() string {
	switch k {
	case KindOptimization:
		return "OPTIMIZATION"
	default:
		return "HEARTBEAT"
	}
}

// ExecutionStatus represents the state of a triggered execution.
type ExecutionStatus int

const (
	StatusPending ExecutionStatus = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
)

func (s ExecutionStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusRunning:
		return "RUNNING"
	case StatusSucceeded:
		return "SUCCEEDED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal returns true if the execution reached its final state.
func (s ExecutionStatus) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// ParseTraderID parses a trader identifier from its external string form.
// Trader ids are positive integers; anything else is ErrInvalidTraderID.
func ParseTraderID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidTraderID
	}
	return id, nil
}

// Trader represents an automated trading agent under fleet management.
type Trader struct {
	ID        int64
	Name      string
	Symbol    string
	Active    bool
	CreatedAt time.Time
}

// ExecutionRecord is the durable record of one heartbeat or optimization
// attempt. Created by an executor on trigger acceptance; finalized exactly
// once by the asynchronous task that owns it.
type ExecutionRecord struct {
	ID          string
	TraderID    int64
	Kind        ExecutionKind
	Status      ExecutionStatus
	TriggeredAt time.Time
	CompletedAt *time.Time
	Result      string // opaque result payload or error detail
}

// PositionSnapshot represents a trader's position marked to a price.
type PositionSnapshot struct {
	ID           string
	TraderID     int64
	Symbol       string
	Side         Side
	Contracts    int
	EntryPrice   decimal.Decimal
	MarkPrice    decimal.Decimal
	UnrealizedPL decimal.Decimal
	UpdatedAt    time.Time
}

// Position event types emitted on the live stream.
const (
	EventConnected      = "connected"
	EventPositionUpdate = "position-update"
)

// PositionEvent is an ephemeral notification describing a position change.
// Once published it is shared read-only with every current listener.
type PositionEvent struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// NewPositionUpdate builds a position-update event for a snapshot.
func NewPositionUpdate(snapshot PositionSnapshot) PositionEvent {
	return PositionEvent{
		Type:      EventPositionUpdate,
		Timestamp: time.Now(),
		Payload:   snapshot,
	}
}
