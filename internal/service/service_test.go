package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"stock-dropdown-alerts/internal/config"
	"stock-dropdown-alerts/internal/dropdown"
	"stock-dropdown-alerts/internal/storage"
)

type memObservationStore struct {
	observations []storage.PriceObservation
	insertErr    error
	deleteErr    error
	pruneCutoffs []time.Time
}

func (m *memObservationStore) InsertObservation(ctx context.Context, obs storage.PriceObservation) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.observations = append(m.observations, obs)
	return nil
}

func (m *memObservationStore) ListObservationsBetween(ctx context.Context, symbol string, from, to time.Time) ([]storage.PriceObservation, error) {
	var result []storage.PriceObservation
	for _, obs := range m.observations {
		if obs.Symbol == symbol && !obs.ObservedAt.Before(from) && !obs.ObservedAt.After(to) {
			result = append(result, obs)
		}
	}
	return result, nil
}

func (m *memObservationStore) DeleteObservationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	m.pruneCutoffs = append(m.pruneCutoffs, cutoff)
	kept := m.observations[:0]
	var deleted int64
	for _, obs := range m.observations {
		if obs.ObservedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, obs)
	}
	m.observations = kept
	return deleted, nil
}

func (m *memObservationStore) CountObservations(ctx context.Context) (int64, error) {
	return int64(len(m.observations)), nil
}

type fakeSampler struct {
	prices map[string]decimal.Decimal
	err    error
}

func (f *fakeSampler) SampleAll(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.prices, nil
}

type fakeEvaluator struct {
	events map[string]storage.DropdownEvent
	errs   map[string]error
	calls  []string
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, symbol string, now time.Time) (storage.DropdownEvent, error) {
	f.calls = append(f.calls, symbol)
	if err, ok := f.errs[symbol]; ok {
		return storage.DropdownEvent{}, err
	}
	event, ok := f.events[symbol]
	if !ok {
		return storage.DropdownEvent{}, dropdown.ErrNoData
	}
	return event, nil
}

type fakeLedger struct {
	outcomes map[string]dropdown.Outcome
	err      error
	calls    []string
}

func (f *fakeLedger) Reconcile(ctx context.Context, candidate storage.DropdownEvent) (dropdown.Outcome, error) {
	f.calls = append(f.calls, candidate.Symbol)
	if f.err != nil {
		return dropdown.OutcomeRejected, f.err
	}
	return f.outcomes[candidate.Symbol], nil
}

type fakeNotifier struct {
	events []storage.DropdownEvent
	err    error
}

func (f *fakeNotifier) Notify(ctx context.Context, event storage.DropdownEvent) error {
	f.events = append(f.events, event)
	return f.err
}

func testConfig(symbols ...string) *config.Config {
	return &config.Config{
		Tracking: config.TrackingConfig{Symbols: symbols},
		Dropdown: config.DropdownConfig{
			Window:           time.Hour,
			SeverityFloorPct: 5.0,
			Retention:        48 * time.Hour,
		},
		Alerting: config.AlertingConfig{Enabled: true},
	}
}

func eventFor(symbol string, pct int64, now time.Time) storage.DropdownEvent {
	return storage.DropdownEvent{
		Symbol:      symbol,
		MaxPrice:    decimal.NewFromInt(120),
		FinalPrice:  decimal.NewFromInt(90),
		DropdownPct: decimal.NewFromInt(pct),
		WindowStart: now.Add(-time.Hour),
		WindowEnd:   now,
		ComputedAt:  now,
	}
}

func TestRunCycleHappyPath(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	store := &memObservationStore{observations: []storage.PriceObservation{
		{Symbol: "X", Price: decimal.NewFromInt(80), ObservedAt: now.Add(-72 * time.Hour)},
		{Symbol: "X", Price: decimal.NewFromInt(85), ObservedAt: now.Add(-48 * time.Hour)},
	}}
	sampler := &fakeSampler{prices: map[string]decimal.Decimal{"X": decimal.NewFromInt(90)}}
	evaluator := &fakeEvaluator{events: map[string]storage.DropdownEvent{"X": eventFor("X", 25, now)}}
	ledger := &fakeLedger{outcomes: map[string]dropdown.Outcome{"X": dropdown.OutcomeInserted}}
	notifier := &fakeNotifier{}

	svc := New(testConfig("X"), nil, sampler, evaluator, ledger, store, notifier, zerolog.Nop())

	require.NoError(t, svc.RunCycle(context.Background(), now))

	// Strict prune cutoff: the -72h row goes, the row exactly at the
	// retention boundary stays, and the fresh sample is appended.
	require.Len(t, store.pruneCutoffs, 1)
	require.Equal(t, now.Add(-48*time.Hour), store.pruneCutoffs[0])
	require.Len(t, store.observations, 2)
	require.Equal(t, now.Add(-48*time.Hour), store.observations[0].ObservedAt)
	require.Equal(t, "X", store.observations[1].Symbol)
	require.True(t, store.observations[1].Price.Equal(decimal.NewFromInt(90)))
	require.Equal(t, now, store.observations[1].ObservedAt)

	require.Equal(t, []string{"X"}, ledger.calls)
	require.Len(t, notifier.events, 1)
	require.Equal(t, "X", notifier.events[0].Symbol)
}

func TestRunCycleSkipsUnsampledTickerPersistence(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	store := &memObservationStore{}
	sampler := &fakeSampler{prices: map[string]decimal.Decimal{"X": decimal.NewFromInt(90)}}
	evaluator := &fakeEvaluator{events: map[string]storage.DropdownEvent{"X": eventFor("X", 25, now)}}
	ledger := &fakeLedger{}
	notifier := &fakeNotifier{}

	svc := New(testConfig("X", "Y"), nil, sampler, evaluator, ledger, store, notifier, zerolog.Nop())

	require.NoError(t, svc.RunCycle(context.Background(), now))
	require.Len(t, store.observations, 1, "only the sampled ticker is persisted")
	// Y still gets evaluated; its empty window simply yields no data.
	require.Equal(t, []string{"X", "Y"}, evaluator.calls)
	require.Equal(t, []string{"X"}, ledger.calls)
}

func TestRunCycleNoDataNeverAlerts(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	store := &memObservationStore{}
	sampler := &fakeSampler{prices: map[string]decimal.Decimal{}}
	evaluator := &fakeEvaluator{}
	ledger := &fakeLedger{}
	notifier := &fakeNotifier{}

	svc := New(testConfig("X"), nil, sampler, evaluator, ledger, store, notifier, zerolog.Nop())

	require.NoError(t, svc.RunCycle(context.Background(), now))
	require.Empty(t, ledger.calls)
	require.Empty(t, notifier.events)
}

func TestRunCycleRejectedOutcomeNoAlert(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	store := &memObservationStore{}
	sampler := &fakeSampler{prices: map[string]decimal.Decimal{}}
	evaluator := &fakeEvaluator{events: map[string]storage.DropdownEvent{"X": eventFor("X", 2, now)}}
	ledger := &fakeLedger{outcomes: map[string]dropdown.Outcome{"X": dropdown.OutcomeRejected}}
	notifier := &fakeNotifier{}

	svc := New(testConfig("X"), nil, sampler, evaluator, ledger, store, notifier, zerolog.Nop())

	require.NoError(t, svc.RunCycle(context.Background(), now))
	require.Equal(t, []string{"X"}, ledger.calls)
	require.Empty(t, notifier.events)
}

func TestRunCycleNotifyFailureSwallowed(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	store := &memObservationStore{}
	sampler := &fakeSampler{prices: map[string]decimal.Decimal{}}
	evaluator := &fakeEvaluator{events: map[string]storage.DropdownEvent{
		"X": eventFor("X", 25, now),
		"Y": eventFor("Y", 30, now),
	}}
	ledger := &fakeLedger{outcomes: map[string]dropdown.Outcome{
		"X": dropdown.OutcomeUpdated,
		"Y": dropdown.OutcomeInserted,
	}}
	notifier := &fakeNotifier{err: errors.New("telegram down")}

	svc := New(testConfig("X", "Y"), nil, sampler, evaluator, ledger, store, notifier, zerolog.Nop())

	// Notification failures never abort the cycle or block other tickers.
	require.NoError(t, svc.RunCycle(context.Background(), now))
	require.Equal(t, []string{"X", "Y"}, ledger.calls)
	require.Len(t, notifier.events, 2)
}

func TestRunCyclePruneFailureContinues(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	store := &memObservationStore{deleteErr: errors.New("prune failed")}
	sampler := &fakeSampler{prices: map[string]decimal.Decimal{"X": decimal.NewFromInt(90)}}
	evaluator := &fakeEvaluator{events: map[string]storage.DropdownEvent{"X": eventFor("X", 25, now)}}
	ledger := &fakeLedger{outcomes: map[string]dropdown.Outcome{"X": dropdown.OutcomeInserted}}
	notifier := &fakeNotifier{}

	svc := New(testConfig("X"), nil, sampler, evaluator, ledger, store, notifier, zerolog.Nop())

	require.NoError(t, svc.RunCycle(context.Background(), now))
	require.Len(t, store.observations, 1)
	require.Len(t, notifier.events, 1)
}

func TestRunCyclePersistFailureAborts(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	store := &memObservationStore{insertErr: errors.New("store unavailable")}
	sampler := &fakeSampler{prices: map[string]decimal.Decimal{"X": decimal.NewFromInt(90)}}
	evaluator := &fakeEvaluator{}
	ledger := &fakeLedger{}
	notifier := &fakeNotifier{}

	svc := New(testConfig("X"), nil, sampler, evaluator, ledger, store, notifier, zerolog.Nop())

	require.Error(t, svc.RunCycle(context.Background(), now))
	require.Empty(t, evaluator.calls, "evaluation must not run after a persist failure")
	require.Empty(t, notifier.events)
}

func TestRunCycleEvaluateStoreFailureAborts(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	store := &memObservationStore{}
	sampler := &fakeSampler{prices: map[string]decimal.Decimal{}}
	evaluator := &fakeEvaluator{
		errs:   map[string]error{"X": errors.New("store unavailable")},
		events: map[string]storage.DropdownEvent{"Y": eventFor("Y", 25, now)},
	}
	ledger := &fakeLedger{}
	notifier := &fakeNotifier{}

	svc := New(testConfig("X", "Y"), nil, sampler, evaluator, ledger, store, notifier, zerolog.Nop())

	require.Error(t, svc.RunCycle(context.Background(), now))
	require.Empty(t, ledger.calls, "remaining tickers must not be reconciled")
}

func TestRunCycleAlertingDisabled(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	cfg := testConfig("X")
	cfg.Alerting.Enabled = false

	store := &memObservationStore{}
	sampler := &fakeSampler{prices: map[string]decimal.Decimal{}}
	evaluator := &fakeEvaluator{events: map[string]storage.DropdownEvent{"X": eventFor("X", 25, now)}}
	ledger := &fakeLedger{outcomes: map[string]dropdown.Outcome{"X": dropdown.OutcomeInserted}}
	notifier := &fakeNotifier{}

	svc := New(cfg, nil, sampler, evaluator, ledger, store, notifier, zerolog.Nop())

	require.NoError(t, svc.RunCycle(context.Background(), now))
	require.Equal(t, []string{"X"}, ledger.calls, "ledger still reconciles with alerting off")
	require.Empty(t, notifier.events)
}
