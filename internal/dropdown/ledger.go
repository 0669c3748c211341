package dropdown

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stock-dropdown-alerts/internal/storage"
)

// Outcome reports how the ledger handled a candidate event.
type Outcome int

const (
	// OutcomeRejected means the stored event stands untouched.
	OutcomeRejected Outcome = iota
	// OutcomeInserted means no prior event existed and the candidate was stored.
	OutcomeInserted
	// OutcomeUpdated means the candidate fully replaced the stored event.
	OutcomeUpdated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	default:
		return "rejected"
	}
}

// Ledger holds at most one current-best dropdown event per ticker and
// decides whether a candidate replaces the stored one.
type Ledger struct {
	store  storage.EventStore
	floor  decimal.Decimal
	logger zerolog.Logger
}

// NewLedger constructs a Ledger. severityFloorPct is the absolute dropdown
// percentage at which a candidate replaces the slot regardless of whether it
// improves on the stored value.
func NewLedger(store storage.EventStore, severityFloorPct float64, logger zerolog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		floor:  decimal.NewFromFloat(severityFloorPct),
		logger: logger.With().Str("component", "ledger").Logger(),
	}
}

// Reconcile applies the replacement policy:
//   - no stored event for the ticker: insert;
//   - candidate identical in value to the stored event: reject, so that
//     reconciling the same candidate twice never mutates state twice;
//   - candidate dropdown exceeds the stored one, or meets the severity
//     floor: overwrite the slot. The floor intentionally lets a later,
//     smaller-but-severe dropdown displace a larger recorded one;
//   - otherwise: reject.
func (l *Ledger) Reconcile(ctx context.Context, candidate storage.DropdownEvent) (Outcome, error) {
	existing, err := l.store.GetDropdownEvent(ctx, candidate.Symbol)
	if err != nil {
		return OutcomeRejected, fmt.Errorf("load dropdown slot for %s: %w", candidate.Symbol, err)
	}

	if existing == nil {
		if _, err := l.store.InsertDropdownEvent(ctx, candidate); err != nil {
			return OutcomeRejected, fmt.Errorf("insert dropdown slot for %s: %w", candidate.Symbol, err)
		}
		l.logger.Info().
			Str("ticker", candidate.Symbol).
			Str("dropdown_pct", candidate.DropdownPct.StringFixed(2)).
			Msg("dropdown slot inserted")
		return OutcomeInserted, nil
	}

	if candidate.Equivalent(*existing) {
		return OutcomeRejected, nil
	}

	improves := candidate.DropdownPct.GreaterThan(existing.DropdownPct)
	severe := candidate.DropdownPct.GreaterThanOrEqual(l.floor)
	if !improves && !severe {
		l.logger.Debug().
			Str("ticker", candidate.Symbol).
			Str("existing_pct", existing.DropdownPct.StringFixed(2)).
			Str("candidate_pct", candidate.DropdownPct.StringFixed(2)).
			Msg("candidate rejected, stored dropdown stands")
		return OutcomeRejected, nil
	}

	if err := l.store.UpdateDropdownEvent(ctx, existing.ID, candidate); err != nil {
		return OutcomeRejected, fmt.Errorf("update dropdown slot for %s: %w", candidate.Symbol, err)
	}

	l.logger.Info().
		Str("ticker", candidate.Symbol).
		Str("existing_pct", existing.DropdownPct.StringFixed(2)).
		Str("candidate_pct", candidate.DropdownPct.StringFixed(2)).
		Bool("severity_floor", severe && !improves).
		Msg("dropdown slot updated")
	return OutcomeUpdated, nil
}
