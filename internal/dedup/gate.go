// Package dedup provides per-trader, per-kind execution deduplication.
package dedup

import (
	"sync"

	"github.com/quantfleet/fleetd/internal/types"
)

type key struct {
	traderID int64
	kind     types.ExecutionKind
}

type entry struct {
	record    types.ExecutionRecord
	persisted bool
}

// Gate guarantees at most one in-flight execution per (trader, kind).
// The gate holds the pending record for the in-flight execution so a
// losing trigger can observe what is already running — but only once the
// winner has marked it persisted, so a loser never hands out a record
// whose insert later failed.
type Gate struct {
	mu       sync.Mutex
	inFlight map[key]entry
}

// NewGate creates an empty gate.
func NewGate() *Gate {
	return &Gate{
		inFlight: make(map[key]entry),
	}
}

// TryAcquire claims the (trader, kind) slot for the given record. Returns
// false if another execution already holds the slot. The check and the
// claim are one atomic step, so two concurrent triggers for the same slot
// resolve to exactly one winner. The record stays invisible to InFlight
// until MarkPersisted.
func (g *Gate) TryAcquire(record types.ExecutionRecord) bool {
	k := key{traderID: record.TraderID, kind: record.Kind}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, held := g.inFlight[k]; held {
		return false
	}
	g.inFlight[k] = entry{record: record}
	return true
}

// MarkPersisted makes the slot's record visible to InFlight. The winner
// calls this after the record's insert commits; on insert failure it
// calls Release instead.
func (g *Gate) MarkPersisted(traderID int64, kind types.ExecutionKind) {
	k := key{traderID: traderID, kind: kind}

	g.mu.Lock()
	defer g.mu.Unlock()

	if e, held := g.inFlight[k]; held {
		e.persisted = true
		g.inFlight[k] = e
	}
}

// Release clears the slot. Called when the execution reaches a terminal
// state, success and failure alike. Releasing an unheld slot is a no-op.
func (g *Gate) Release(traderID int64, kind types.ExecutionKind) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, key{traderID: traderID, kind: kind})
}

// IsHeld reports whether an execution is in flight for the slot.
func (g *Gate) IsHeld(traderID int64, kind types.ExecutionKind) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, held := g.inFlight[key{traderID: traderID, kind: kind}]
	return held
}

// InFlight returns the record currently holding the slot. A claimed slot
// whose record has not been marked persisted yet reports false: the
// caller should retry rather than act on a record that may never reach
// the store.
func (g *Gate) InFlight(traderID int64, kind types.ExecutionKind) (types.ExecutionRecord, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, held := g.inFlight[key{traderID: traderID, kind: kind}]
	if !held || !e.persisted {
		return types.ExecutionRecord{}, false
	}
	return e.record, true
}
