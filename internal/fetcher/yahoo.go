package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const chartPathFormat = "/v8/finance/chart/%s?range=1d&interval=1m"

// YahooOptions parameterise the Yahoo Finance chart fetcher.
type YahooOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Yahoo fetches latest prices from the Yahoo Finance chart API.
type Yahoo struct {
	opts    YahooOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewYahoo constructs a Yahoo Finance price fetcher.
func NewYahoo(opts YahooOptions, logger zerolog.Logger) *Yahoo {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://query1.finance.yahoo.com"
	}

	return &Yahoo{
		opts:    opts,
		logger:  logger.With().Str("component", "yahoo_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchLatest retrieves the last traded price for symbol from the 1-minute
// intraday series. A rate-limit response surfaces as ErrThrottled so callers
// can back off and retry; empty data surfaces as ErrUnavailable.
func (y *Yahoo) FetchLatest(ctx context.Context, symbol string) (decimal.Decimal, error) {
	endpoint := y.baseURL + fmt.Sprintf(chartPathFormat, url.PathEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(y.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "stockwatcher/1.0")
	}

	resp, err := y.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrThrottled, symbol)
	case resp.StatusCode == http.StatusNotFound:
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrUnavailable, symbol)
	case resp.StatusCode != http.StatusOK:
		return decimal.Decimal{}, fmt.Errorf("chart api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var chartRes chartResponse
	if err := json.Unmarshal(payload, &chartRes); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode chart response: %w", err)
	}

	if chartRes.Chart.Error != nil && chartRes.Chart.Error.Code != "" {
		return decimal.Decimal{}, fmt.Errorf("%w: %s (%s)", ErrUnavailable, symbol, chartRes.Chart.Error.Code)
	}
	if len(chartRes.Chart.Result) == 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrUnavailable, symbol)
	}

	result := chartRes.Chart.Result[0]
	if price, ok := lastClose(result); ok {
		return price, nil
	}
	if result.Meta.RegularMarketPrice > 0 {
		return decimal.NewFromFloat(result.Meta.RegularMarketPrice), nil
	}

	return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrUnavailable, symbol)
}

// lastClose walks the 1m close series backwards; gaps in the series are
// encoded as nulls by the API.
func lastClose(result chartResult) (decimal.Decimal, bool) {
	if len(result.Indicators.Quote) == 0 {
		return decimal.Decimal{}, false
	}
	closes := result.Indicators.Quote[0].Close
	for i := len(closes) - 1; i >= 0; i-- {
		if closes[i] != nil && *closes[i] > 0 {
			return decimal.NewFromFloat(*closes[i]), true
		}
	}
	return decimal.Decimal{}, false
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *chartError   `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		Symbol             string  `json:"symbol"`
		RegularMarketPrice float64 `json:"regularMarketPrice"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Close []*float64 `json:"close"`
		} `json:"quote"`
	} `json:"indicators"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

var _ PriceFetcher = (*Yahoo)(nil)
