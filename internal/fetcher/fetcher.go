package fetcher

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnavailable indicates the provider had no usable price data.
	ErrUnavailable = errors.New("fetcher: price unavailable")
	// ErrThrottled indicates the provider rate-limited the request.
	ErrThrottled = errors.New("fetcher: provider throttled request")
)

// PriceFetcher retrieves the latest traded price for a ticker.
type PriceFetcher interface {
	FetchLatest(ctx context.Context, symbol string) (decimal.Decimal, error)
}
