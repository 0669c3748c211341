package sampler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stock-dropdown-alerts/internal/fetcher"
)

// Options tune sampling behaviour against external rate limits.
type Options struct {
	// RetryBackoff is the pause before the single retry after a throttle.
	RetryBackoff time.Duration
	// RequestDelay is the politeness pause between consecutive tickers.
	RequestDelay time.Duration
	// MaxRetries bounds throttle retries per ticker.
	MaxRetries int
}

// Sampler pulls one latest-price observation per tracked ticker.
type Sampler struct {
	source fetcher.PriceFetcher
	opts   Options
	logger zerolog.Logger
}

// New constructs a Sampler around a price fetcher.
func New(source fetcher.PriceFetcher, opts Options, logger zerolog.Logger) *Sampler {
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 5 * time.Second
	}
	if opts.RequestDelay < 0 {
		opts.RequestDelay = 0
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Sampler{
		source: source,
		opts:   opts,
		logger: logger.With().Str("component", "sampler").Logger(),
	}
}

// Sample fetches the latest price for one ticker. A throttled request is
// retried at most MaxRetries times after RetryBackoff; a throttle that
// survives the retries degrades to ErrUnavailable. Missing data is returned
// as ErrUnavailable without retrying.
func (s *Sampler) Sample(ctx context.Context, symbol string) (decimal.Decimal, error) {
	attempts := s.opts.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		price, err := s.source.FetchLatest(ctx, symbol)
		if err == nil {
			return price, nil
		}

		if !errors.Is(err, fetcher.ErrThrottled) {
			return decimal.Decimal{}, err
		}
		if attempt == attempts {
			break
		}

		s.logger.Warn().Str("ticker", symbol).Dur("backoff", s.opts.RetryBackoff).Msg("provider throttled, retrying after backoff")
		if err := sleep(ctx, s.opts.RetryBackoff); err != nil {
			return decimal.Decimal{}, err
		}
	}

	return decimal.Decimal{}, fmt.Errorf("%w: %s (throttle persisted)", fetcher.ErrUnavailable, symbol)
}

// SampleAll samples every ticker in list order. Tickers whose price could
// not be obtained are absent from the result; only context cancellation
// fails the batch.
func (s *Sampler) SampleAll(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(symbols))
	for i, symbol := range symbols {
		if i > 0 && s.opts.RequestDelay > 0 {
			if err := sleep(ctx, s.opts.RequestDelay); err != nil {
				return prices, err
			}
		}

		price, err := s.Sample(ctx, symbol)
		if err != nil {
			if ctx.Err() != nil {
				return prices, ctx.Err()
			}
			if errors.Is(err, fetcher.ErrUnavailable) {
				s.logger.Debug().Str("ticker", symbol).Msg("no price data, skipping ticker")
			} else {
				s.logger.Warn().Err(err).Str("ticker", symbol).Msg("fetch failed, skipping ticker")
			}
			continue
		}

		s.logger.Debug().Str("ticker", symbol).Str("price", price.String()).Msg("sampled price")
		prices[symbol] = price
	}
	return prices, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
