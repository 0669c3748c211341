package dropdown

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stock-dropdown-alerts/internal/storage"
)

// ErrNoData indicates the trailing window held no usable observations.
var ErrNoData = errors.New("dropdown: no observations in window")

var hundred = decimal.NewFromInt(100)

// EvaluatorOptions bound the trailing window.
type EvaluatorOptions struct {
	// Window is the trailing interval [now-Window, now] scoping one
	// evaluation. Deployed variants have run anywhere from 1h to 3h.
	Window time.Duration
	// ExcludeRecent, when positive, drops observations newer than
	// now-ExcludeRecent from the window.
	ExcludeRecent time.Duration
}

// Evaluator reduces a ticker's trailing-window observations into a candidate
// dropdown event. It is a pure read over the store and performs no writes.
type Evaluator struct {
	store  storage.ObservationStore
	opts   EvaluatorOptions
	logger zerolog.Logger
}

// NewEvaluator constructs an Evaluator.
func NewEvaluator(store storage.ObservationStore, opts EvaluatorOptions, logger zerolog.Logger) *Evaluator {
	if opts.Window <= 0 {
		opts.Window = time.Hour
	}
	return &Evaluator{
		store:  store,
		opts:   opts,
		logger: logger.With().Str("component", "evaluator").Logger(),
	}
}

// Evaluate queries the trailing window for symbol and reduces it.
// Returns ErrNoData when the window is empty or degenerate.
func (e *Evaluator) Evaluate(ctx context.Context, symbol string, now time.Time) (storage.DropdownEvent, error) {
	from := now.Add(-e.opts.Window)
	to := now
	if e.opts.ExcludeRecent > 0 {
		to = now.Add(-e.opts.ExcludeRecent)
	}

	observations, err := e.store.ListObservationsBetween(ctx, symbol, from, to)
	if err != nil {
		return storage.DropdownEvent{}, fmt.Errorf("query window for %s: %w", symbol, err)
	}

	event, err := Reduce(observations, now)
	if err != nil {
		return storage.DropdownEvent{}, err
	}

	e.logger.Debug().
		Str("ticker", symbol).
		Int("observations", len(observations)).
		Str("dropdown_pct", event.DropdownPct.String()).
		Msg("window evaluated")
	return event, nil
}

// Reduce computes the dropdown event for a set of observations of one
// ticker. The store returns rows in chronological order already; the sort
// here makes that assumption explicit rather than trusting insertion order.
func Reduce(observations []storage.PriceObservation, now time.Time) (storage.DropdownEvent, error) {
	if len(observations) == 0 {
		return storage.DropdownEvent{}, ErrNoData
	}

	ordered := make([]storage.PriceObservation, len(observations))
	copy(ordered, observations)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ObservedAt.Before(ordered[j].ObservedAt)
	})

	first := ordered[0]
	last := ordered[len(ordered)-1]

	maxPrice := first.Price
	minPrice := first.Price
	for _, obs := range ordered[1:] {
		if obs.Price.GreaterThan(maxPrice) {
			maxPrice = obs.Price
		}
		if obs.Price.LessThan(minPrice) {
			minPrice = obs.Price
		}
	}

	// A zero peak cannot anchor a percentage decline. Valid price feeds
	// never produce it, but it must not divide.
	if maxPrice.Sign() <= 0 {
		return storage.DropdownEvent{}, ErrNoData
	}

	dropdownPct := maxPrice.Sub(last.Price).Div(maxPrice).Mul(hundred)

	return storage.DropdownEvent{
		Symbol:       first.Symbol,
		InitialPrice: first.Price,
		FinalPrice:   last.Price,
		MaxPrice:     maxPrice,
		MinPrice:     minPrice,
		DropdownPct:  dropdownPct,
		WindowStart:  first.ObservedAt,
		WindowEnd:    last.ObservedAt,
		ComputedAt:   now,
	}, nil
}

// PeakToCurrent measures the decline from a window peak to a live price.
// This is deliberately a separate metric from the windowed dropdown: the
// reference point is "right now", not the window's last observation. It is
// informational only and never feeds the ledger.
func PeakToCurrent(maxPrice, current decimal.Decimal) decimal.Decimal {
	if maxPrice.Sign() <= 0 {
		return decimal.Zero
	}
	return maxPrice.Sub(current).Div(maxPrice).Mul(hundred)
}
