package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const defaultPriceURL = "https://www.ote-cr.cz/en/short-term-markets/electricity/day-ahead-market/@@chart-data"

// PriceOptions parameterise the day-ahead price client.
type PriceOptions struct {
	BaseURL string
	Retry   RetryPolicy
}

// Prices fetches hourly day-ahead prices from the OTE chart-data feed.
type Prices struct {
	opts    PriceOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewPrices constructs a price client that issues requests through client.
func NewPrices(opts PriceOptions, client *http.Client, logger zerolog.Logger) *Prices {
	if client == nil {
		client = NewHTTPClient(10*time.Second, "", 0)
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultPriceURL
	}
	return &Prices{
		opts:    opts,
		logger:  logger.With().Str("component", "price_fetcher").Logger(),
		client:  client,
		baseURL: baseURL,
	}
}

// FetchPrices returns the 24 hourly prices (currency/MWh) of date.
//
// Network failures are retried under the configured policy and surface as
// TransientNetworkError. A response without a published curve fails with
// PriceDataNotAvailableError immediately.
func (p *Prices) FetchPrices(ctx context.Context, date time.Time) ([]float64, error) {
	day := date.Format(time.DateOnly)
	endpoint := p.baseURL + "?" + url.Values{"report_date": {day}}.Encode()
	p.logger.Debug().Str("date", day).Msg("fetching day-ahead prices")

	var payload []byte
	err := p.opts.Retry.Do(ctx, p.logger, func(ctx context.Context) error {
		body, err := getBody(ctx, p.client, endpoint, nil)
		if err != nil {
			return err
		}
		payload = body
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch prices for %s: %w", day, err)
	}

	prices, err := ParsePrices(payload)
	if err != nil {
		var pending *PriceDataNotAvailableError
		if errors.As(err, &pending) {
			pending.Date = day
			p.logger.Warn().Str("date", day).Str("reason", pending.Reason).Msg("price data not yet published")
		}
		return nil, err
	}

	p.logger.Info().Str("date", day).Int("points", len(prices)).Msg("prices fetched")
	return prices, nil
}

type chartPoint struct {
	Y *decimal.Decimal `json:"y"`
}

type chartDataLine struct {
	Point *[]chartPoint `json:"point"`
}

type chartResponse struct {
	Data *struct {
		DataLine *[]chartDataLine `json:"dataLine"`
	} `json:"data"`
}

// ParsePrices extracts data.dataLine[1].point[*].y. Any structural deviation
// means the curve has not been published yet.
func ParsePrices(payload []byte) ([]float64, error) {
	var res chartResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, notPublished("unexpected data structure: %v", err)
	}
	if res.Data == nil {
		return nil, notPublished("no 'data' field in price response")
	}
	if res.Data.DataLine == nil {
		return nil, notPublished("no 'dataLine' field in price response")
	}
	lines := *res.Data.DataLine
	if len(lines) < 2 {
		return nil, notPublished("dataLine has %d series, want at least 2", len(lines))
	}
	if lines[1].Point == nil {
		return nil, notPublished("no 'point' field in dataLine[1]")
	}
	points := *lines[1].Point
	if len(points) == 0 {
		return nil, notPublished("point array is empty")
	}
	if len(points) != HoursPerDay {
		return nil, notPublished("point array has %d entries, want %d", len(points), HoursPerDay)
	}

	prices := make([]float64, len(points))
	for i, point := range points {
		if point.Y == nil {
			return nil, notPublished("missing 'y' value in point %d", i)
		}
		prices[i] = point.Y.InexactFloat64()
	}
	return prices, nil
}

var _ PriceFetcher = (*Prices)(nil)
