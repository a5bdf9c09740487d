package heartbeat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/quantfleet/fleetd/internal/alerting"
	"github.com/quantfleet/fleetd/internal/dedup"
	"github.com/quantfleet/fleetd/internal/types"
)

// memStore is an in-memory ExecutionStore for testing.
type memStore struct {
	mu        sync.Mutex
	records   map[string]types.ExecutionRecord
	created   int
	createErr error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]types.ExecutionRecord)}
}

func (m *memStore) CreateExecution(_ context.Context, record types.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.records[record.ID] = record
	m.created++
	return nil
}

func (m *memStore) MarkExecutionRunning(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return types.ErrExecutionNotFound
	}
	if record.Status == types.StatusPending {
		record.Status = types.StatusRunning
		m.records[id] = record
	}
	return nil
}

func (m *memStore) FinalizeExecution(_ context.Context, id string, status types.ExecutionStatus, result string, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return types.ErrExecutionNotFound
	}
	if record.Status.IsTerminal() {
		return types.ErrExecutionFinalized
	}
	record.Status = status
	record.Result = result
	record.CompletedAt = &completedAt
	m.records[id] = record
	return nil
}

func (m *memStore) GetExecution(_ context.Context, id string) (*types.ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (m *memStore) GetExecutionHistory(_ context.Context, traderID int64, kind types.ExecutionKind, limit int) ([]types.ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var records []types.ExecutionRecord
	for _, record := range m.records {
		if record.TraderID == traderID && record.Kind == kind {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].TriggeredAt.After(records[j].TriggeredAt)
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (m *memStore) CreatedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created
}

// memRegistry is an in-memory TraderRegistry for testing.
type memRegistry struct {
	traders map[int64]types.Trader
}

func (m *memRegistry) GetTrader(_ context.Context, id int64) (*types.Trader, error) {
	trader, ok := m.traders[id]
	if !ok {
		return nil, nil
	}
	return &trader, nil
}

func (m *memRegistry) SaveTrader(_ context.Context, trader types.Trader) error {
	m.traders[trader.ID] = trader
	return nil
}

func testRegistry() *memRegistry {
	return &memRegistry{traders: map[int64]types.Trader{
		42: {ID: 42, Name: "meanrev-mes", Symbol: "MES", Active: true},
	}}
}

// waitForTerminal polls the store until the record reaches a terminal state.
func waitForTerminal(t *testing.T, store *memStore, id string) types.ExecutionRecord {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		record, err := store.GetExecution(context.Background(), id)
		if err != nil {
			t.Fatalf("get execution: %v", err)
		}
		if record != nil && record.Status.IsTerminal() {
			return *record
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("execution %s never reached a terminal state", id)
	return types.ExecutionRecord{}
}

func TestTrigger_InvalidID(t *testing.T) {
	store := newMemStore()
	e := NewExecutor(DefaultConfig(), store, testRegistry(), dedup.NewGate(), nil, nil, nil)

	for _, id := range []int64{0, -1} {
		_, err := e.Trigger(context.Background(), id)
		if !errors.Is(err, types.ErrInvalidTraderID) {
			t.Errorf("Trigger(%d) error = %v, want ErrInvalidTraderID", id, err)
		}
	}
	if store.CreatedCount() != 0 {
		t.Errorf("records created = %d, want 0", store.CreatedCount())
	}
}

func TestTrigger_TraderNotFound(t *testing.T) {
	store := newMemStore()
	e := NewExecutor(DefaultConfig(), store, testRegistry(), dedup.NewGate(), nil, nil, nil)

	_, err := e.Trigger(context.Background(), 999)
	if !errors.Is(err, types.ErrTraderNotFound) {
		t.Errorf("error = %v, want ErrTraderNotFound", err)
	}
	if store.CreatedCount() != 0 {
		t.Errorf("records created = %d, want 0", store.CreatedCount())
	}
}

func TestTrigger_ReturnsPendingImmediately(t *testing.T) {
	store := newMemStore()
	checker := CheckerFunc(func(_ context.Context, _ types.Trader) (string, error) {
		return "all good", nil
	})
	e := NewExecutor(DefaultConfig(), store, testRegistry(), dedup.NewGate(), checker, nil, nil)

	record, err := e.Trigger(context.Background(), 42)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if record.Status != types.StatusPending {
		t.Errorf("status = %s, want PENDING", record.Status)
	}
	if record.ID == "" {
		t.Error("record id should be assigned")
	}
	if record.TriggeredAt.IsZero() {
		t.Error("triggered_at should be set")
	}

	final := waitForTerminal(t, store, record.ID)
	if final.Status != types.StatusSucceeded {
		t.Errorf("final status = %s, want SUCCEEDED", final.Status)
	}
	if final.Result != "all good" {
		t.Errorf("result = %q, want %q", final.Result, "all good")
	}
	if final.CompletedAt == nil {
		t.Error("completed_at should be set")
	}
}

func TestTrigger_CheckFailureCapturedInRecord(t *testing.T) {
	store := newMemStore()
	alerter := alerting.NewMockAlerter()
	checker := CheckerFunc(func(_ context.Context, _ types.Trader) (string, error) {
		return "", errors.New("agent unreachable")
	})
	e := NewExecutor(DefaultConfig(), store, testRegistry(), dedup.NewGate(), checker, alerter, nil)

	record, err := e.Trigger(context.Background(), 42)
	if err != nil {
		t.Fatalf("trigger should not fail for an async check error: %v", err)
	}

	final := waitForTerminal(t, store, record.ID)
	if final.Status != types.StatusFailed {
		t.Errorf("final status = %s, want FAILED", final.Status)
	}
	if final.Result != "agent unreachable" {
		t.Errorf("result = %q, want error detail", final.Result)
	}

	// Failure raises an alert.
	deadline := time.Now().Add(time.Second)
	for len(alerter.Alerts()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	alerts := alerter.Alerts()
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	if alerts[0].Severity != alerting.SeverityWarning {
		t.Errorf("alert severity = %v, want WARNING", alerts[0].Severity)
	}
}

func TestTrigger_IdempotentWhileInFlight(t *testing.T) {
	store := newMemStore()
	release := make(chan struct{})
	checker := CheckerFunc(func(_ context.Context, _ types.Trader) (string, error) {
		<-release
		return "ok", nil
	})
	e := NewExecutor(DefaultConfig(), store, testRegistry(), dedup.NewGate(), checker, nil, nil)

	first, err := e.Trigger(context.Background(), 42)
	if err != nil {
		t.Fatalf("first trigger: %v", err)
	}

	second, err := e.Trigger(context.Background(), 42)
	if err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second trigger returned record %s, want in-flight record %s", second.ID, first.ID)
	}
	if store.CreatedCount() != 1 {
		t.Errorf("records created = %d, want 1", store.CreatedCount())
	}

	close(release)
	waitForTerminal(t, store, first.ID)

	// After completion the slot is free again.
	third, err := e.Trigger(context.Background(), 42)
	if err != nil {
		t.Fatalf("third trigger: %v", err)
	}
	if third.ID == first.ID {
		t.Error("trigger after completion should create a new record")
	}
}

// TestTrigger_CreateFailureReleasesSlot verifies that a failed insert
// leaves no trace: the caller gets the error, no record is ever handed
// out for the failed attempt, and the slot is free for the next trigger.
func TestTrigger_CreateFailureReleasesSlot(t *testing.T) {
	store := newMemStore()
	store.createErr = errors.New("disk full")
	checker := CheckerFunc(func(_ context.Context, _ types.Trader) (string, error) {
		return "ok", nil
	})
	gate := dedup.NewGate()
	e := NewExecutor(DefaultConfig(), store, testRegistry(), gate, checker, nil, nil)

	if _, err := e.Trigger(context.Background(), 42); err == nil {
		t.Fatal("trigger with failing store should return an error")
	}
	if gate.IsHeld(42, types.KindHeartbeat) {
		t.Error("slot still held after failed insert")
	}

	// Recovered store: the trader can be triggered again.
	store.mu.Lock()
	store.createErr = nil
	store.mu.Unlock()

	record, err := e.Trigger(context.Background(), 42)
	if err != nil {
		t.Fatalf("trigger after recovery: %v", err)
	}
	waitForTerminal(t, store, record.ID)
}

// TestTrigger_ConcurrentSameTrader verifies the core dedup property: N
// simultaneous triggers yield exactly one new record.
func TestTrigger_ConcurrentSameTrader(t *testing.T) {
	store := newMemStore()
	release := make(chan struct{})
	checker := CheckerFunc(func(_ context.Context, _ types.Trader) (string, error) {
		<-release
		return "ok", nil
	})
	e := NewExecutor(DefaultConfig(), store, testRegistry(), dedup.NewGate(), checker, nil, nil)

	const n = 20
	var wg sync.WaitGroup
	start := make(chan struct{})
	ids := make(chan string, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			record, err := e.Trigger(context.Background(), 42)
			if err != nil {
				t.Errorf("trigger: %v", err)
				return
			}
			ids <- record.ID
		}()
	}

	close(start)
	wg.Wait()
	close(ids)

	if store.CreatedCount() != 1 {
		t.Errorf("records created = %d, want exactly 1", store.CreatedCount())
	}

	unique := make(map[string]bool)
	for id := range ids {
		unique[id] = true
	}
	if len(unique) != 1 {
		t.Errorf("distinct record ids observed = %d, want 1", len(unique))
	}

	close(release)
}
