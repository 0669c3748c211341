package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceObservation is one persisted price point for a tracked ticker.
// Rows are append-only and removed solely by age-based pruning.
type PriceObservation struct {
	ID         int64
	Symbol     string
	Price      decimal.Decimal
	ObservedAt time.Time
}

// DropdownEvent is the current best-known peak-to-trough decline for a
// ticker. One logical row per ticker; the surrogate ID targets updates.
type DropdownEvent struct {
	ID           int64
	Symbol       string
	InitialPrice decimal.Decimal
	FinalPrice   decimal.Decimal
	MaxPrice     decimal.Decimal
	MinPrice     decimal.Decimal
	DropdownPct  decimal.Decimal
	WindowStart  time.Time
	WindowEnd    time.Time
	ComputedAt   time.Time
}

// Equivalent reports whether two events carry the same measured values.
// ID and ComputedAt are bookkeeping and do not participate.
func (e DropdownEvent) Equivalent(other DropdownEvent) bool {
	return e.Symbol == other.Symbol &&
		e.InitialPrice.Equal(other.InitialPrice) &&
		e.FinalPrice.Equal(other.FinalPrice) &&
		e.MaxPrice.Equal(other.MaxPrice) &&
		e.MinPrice.Equal(other.MinPrice) &&
		e.DropdownPct.Equal(other.DropdownPct) &&
		e.WindowStart.Equal(other.WindowStart) &&
		e.WindowEnd.Equal(other.WindowEnd)
}
