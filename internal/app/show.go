package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Show prints the current dropdown slots and the observation count.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show dropdowns")
	}
	if closeStore != nil {
		defer closeStore()
	}

	events, err := store.ListRecentDropdownEvents(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(os.Stdout, "no dropdown events found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Ticker\tInitial\tFinal\tMax\tMin\tDropdown%\tWindow Start (UTC)\tWindow End (UTC)\tComputed (UTC)")

	for _, event := range events {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			event.Symbol,
			formatDecimal(event.InitialPrice, 2),
			formatDecimal(event.FinalPrice, 2),
			formatDecimal(event.MaxPrice, 2),
			formatDecimal(event.MinPrice, 2),
			formatDecimal(event.DropdownPct, 2),
			event.WindowStart.UTC().Format(time.RFC3339),
			event.WindowEnd.UTC().Format(time.RFC3339),
			event.ComputedAt.UTC().Format(time.RFC3339),
		)
	}

	writer.Flush()

	count, err := store.CountObservations(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "\n%d price observations retained\n", count)
	return nil
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
