package dropdown

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"stock-dropdown-alerts/internal/storage"
)

type memEventStore struct {
	slots   map[string]*storage.DropdownEvent
	nextID  int64
	updates int
	getErr  error
}

func newMemEventStore() *memEventStore {
	return &memEventStore{slots: make(map[string]*storage.DropdownEvent)}
}

func (m *memEventStore) GetDropdownEvent(ctx context.Context, symbol string) (*storage.DropdownEvent, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	slot, ok := m.slots[symbol]
	if !ok {
		return nil, nil
	}
	copied := *slot
	return &copied, nil
}

func (m *memEventStore) InsertDropdownEvent(ctx context.Context, event storage.DropdownEvent) (storage.DropdownEvent, error) {
	m.nextID++
	event.ID = m.nextID
	m.slots[event.Symbol] = &event
	return event, nil
}

func (m *memEventStore) UpdateDropdownEvent(ctx context.Context, id int64, event storage.DropdownEvent) error {
	m.updates++
	event.ID = id
	m.slots[event.Symbol] = &event
	return nil
}

func (m *memEventStore) ListRecentDropdownEvents(ctx context.Context, limit int) ([]storage.DropdownEvent, error) {
	events := make([]storage.DropdownEvent, 0, len(m.slots))
	for _, slot := range m.slots {
		events = append(events, *slot)
	}
	return events, nil
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func candidate(symbol string, pct float64, computedAt time.Time) storage.DropdownEvent {
	return storage.DropdownEvent{
		Symbol:       symbol,
		InitialPrice: decimal.NewFromInt(100),
		FinalPrice:   decimal.NewFromInt(100).Sub(decimal.NewFromFloat(pct)),
		MaxPrice:     decimal.NewFromInt(100),
		MinPrice:     decimal.NewFromInt(100).Sub(decimal.NewFromFloat(pct)),
		DropdownPct:  decimal.NewFromFloat(pct),
		WindowStart:  computedAt.Add(-time.Hour),
		WindowEnd:    computedAt,
		ComputedAt:   computedAt,
	}
}

func TestReconcileInsertsFirstEvent(t *testing.T) {
	store := newMemEventStore()
	ledger := NewLedger(store, 5.0, testLogger())

	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	outcome, err := ledger.Reconcile(context.Background(), candidate("X", 25, now))
	require.NoError(t, err)
	require.Equal(t, OutcomeInserted, outcome)
	require.NotNil(t, store.slots["X"])
	require.Zero(t, store.updates)
}

func TestReconcileIdempotent(t *testing.T) {
	store := newMemEventStore()
	ledger := NewLedger(store, 5.0, testLogger())

	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	event := candidate("X", 25, now)

	outcome, err := ledger.Reconcile(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, OutcomeInserted, outcome)

	// Same candidate again: no further mutation even though 25% crosses
	// the severity floor, since the stored copy already carries it.
	outcome, err = ledger.Reconcile(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, OutcomeRejected, outcome)
	require.Zero(t, store.updates)
}

func TestReconcileRejectsSmallBelowFloor(t *testing.T) {
	store := newMemEventStore()
	ledger := NewLedger(store, 5.0, testLogger())

	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	_, err := ledger.Reconcile(context.Background(), candidate("X", 30, now))
	require.NoError(t, err)

	outcome, err := ledger.Reconcile(context.Background(), candidate("X", 2, now.Add(time.Minute)))
	require.NoError(t, err)
	require.Equal(t, OutcomeRejected, outcome)
	require.Zero(t, store.updates)
	require.True(t, store.slots["X"].DropdownPct.Equal(decimal.NewFromInt(30)), "stored record must stand")
}

func TestReconcileSeverityFloorOverridesLargerRecord(t *testing.T) {
	store := newMemEventStore()
	ledger := NewLedger(store, 5.0, testLogger())

	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	_, err := ledger.Reconcile(context.Background(), candidate("X", 30, now))
	require.NoError(t, err)

	// 10% does not improve on 30%, but it crosses the 5% floor, and the
	// policy surfaces any severe drop even at the cost of the recorded
	// maximum.
	outcome, err := ledger.Reconcile(context.Background(), candidate("X", 10, now.Add(time.Minute)))
	require.NoError(t, err)
	require.Equal(t, OutcomeUpdated, outcome)
	require.Equal(t, 1, store.updates)
	require.True(t, store.slots["X"].DropdownPct.Equal(decimal.NewFromInt(10)))
}

func TestReconcileAcceptsImprovementBelowFloor(t *testing.T) {
	store := newMemEventStore()
	ledger := NewLedger(store, 5.0, testLogger())

	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	_, err := ledger.Reconcile(context.Background(), candidate("X", 3, now))
	require.NoError(t, err)

	outcome, err := ledger.Reconcile(context.Background(), candidate("X", 4, now.Add(time.Minute)))
	require.NoError(t, err)
	require.Equal(t, OutcomeUpdated, outcome)
	require.True(t, store.slots["X"].DropdownPct.Equal(decimal.NewFromInt(4)))
}

func TestReconcileSlotsAreIndependentPerTicker(t *testing.T) {
	store := newMemEventStore()
	ledger := NewLedger(store, 5.0, testLogger())

	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	_, err := ledger.Reconcile(context.Background(), candidate("X", 30, now))
	require.NoError(t, err)

	outcome, err := ledger.Reconcile(context.Background(), candidate("Y", 2, now))
	require.NoError(t, err)
	require.Equal(t, OutcomeInserted, outcome)
	require.Len(t, store.slots, 2)
}
