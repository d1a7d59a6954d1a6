package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultForecastURL   = "https://api.open-meteo.com/v1/forecast"
	defaultHistoricalURL = "https://historical-forecast-api.open-meteo.com/v1/forecast"
	irradianceVariable   = "global_tilted_irradiance"
	openMeteoTimeLayout  = "2006-01-02T15:04"
)

// IrradianceOptions parameterise the Open-Meteo client.
type IrradianceOptions struct {
	ForecastURL   string
	HistoricalURL string
	Retry         RetryPolicy
}

// Irradiance fetches hourly tilted irradiance from Open-Meteo. Dates before
// today in the site timezone go to the historical-forecast endpoint.
type Irradiance struct {
	opts   IrradianceOptions
	logger zerolog.Logger
	client *http.Client
	now    func() time.Time
}

// NewIrradiance constructs an irradiance client that issues requests through client.
func NewIrradiance(opts IrradianceOptions, client *http.Client, logger zerolog.Logger) *Irradiance {
	if opts.ForecastURL == "" {
		opts.ForecastURL = defaultForecastURL
	}
	if opts.HistoricalURL == "" {
		opts.HistoricalURL = defaultHistoricalURL
	}
	if client == nil {
		client = NewHTTPClient(10*time.Second, "", time.Hour)
	}
	return &Irradiance{
		opts:   opts,
		logger: logger.With().Str("component", "irradiance_fetcher").Logger(),
		client: client,
		now:    time.Now,
	}
}

type openMeteoResponse struct {
	Hourly struct {
		Time   []string   `json:"time"`
		Values []*float64 `json:"global_tilted_irradiance"`
	} `json:"hourly"`
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

// FetchIrradiance returns 24 hourly W/m² values of date's local day.
func (c *Irradiance) FetchIrradiance(ctx context.Context, date time.Time, site Site) ([]float64, error) {
	loc, err := time.LoadLocation(site.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", site.Timezone, err)
	}
	day := date.Format(time.DateOnly)
	endpoint := c.endpoint(day, loc) + "?" + irradianceQuery(day, site).Encode()

	var payload []byte
	err = c.opts.Retry.Do(ctx, c.logger, func(ctx context.Context) error {
		body, err := getBody(ctx, c.client, endpoint, nil)
		if err != nil {
			return withOpenMeteoReason(err)
		}
		payload = body
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch irradiance for %s: %w", day, err)
	}

	var res openMeteoResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode irradiance for %s: %w", day, err)
	}
	if res.Error {
		return nil, fmt.Errorf("open-meteo error for %s: %s", day, res.Reason)
	}

	values, err := hourlyBuckets(day, res.Hourly.Time, res.Hourly.Values)
	if err != nil {
		return nil, fmt.Errorf("irradiance for %s: %w", day, err)
	}
	c.logger.Info().Str("date", day).Float64("total", sum(values)).Msg("irradiance fetched")
	return values, nil
}

func (c *Irradiance) endpoint(day string, loc *time.Location) string {
	today := c.now().In(loc).Format(time.DateOnly)
	if day < today {
		return c.opts.HistoricalURL
	}
	return c.opts.ForecastURL
}

func irradianceQuery(day string, site Site) url.Values {
	return url.Values{
		"latitude":   {formatFloat(site.Latitude)},
		"longitude":  {formatFloat(site.Longitude)},
		"hourly":     {irradianceVariable},
		"start_date": {day},
		"end_date":   {day},
		"tilt":       {formatFloat(site.Tilt)},
		"azimuth":    {formatFloat(site.Azimuth)},
		"timezone":   {site.Timezone},
	}
}

// hourlyBuckets maps the response onto local hours 0..23. DST days carry 23 or
// 25 points: a repeated hour is averaged and a skipped hour reads 0. Nulls read 0.
func hourlyBuckets(day string, times []string, values []*float64) ([]float64, error) {
	if len(times) != len(values) {
		return nil, fmt.Errorf("%d timestamps but %d values", len(times), len(values))
	}
	if len(values) == 0 {
		return nil, errors.New("no hourly values in response")
	}

	var (
		sums   [HoursPerDay]float64
		counts [HoursPerDay]int
	)
	for i, raw := range times {
		ts, err := time.Parse(openMeteoTimeLayout, raw)
		if err != nil {
			return nil, fmt.Errorf("parse time %q: %w", raw, err)
		}
		if ts.Format(time.DateOnly) != day {
			continue
		}
		var v float64
		if values[i] != nil {
			v = *values[i]
		}
		if v < 0 {
			return nil, fmt.Errorf("negative irradiance %v at %s", v, raw)
		}
		sums[ts.Hour()] += v
		counts[ts.Hour()]++
	}

	out := make([]float64, HoursPerDay)
	seen := 0
	for h := range out {
		if counts[h] > 0 {
			out[h] = sums[h] / float64(counts[h])
			seen++
		}
	}
	if seen == 0 {
		return nil, fmt.Errorf("no hourly values dated %s", day)
	}
	return out, nil
}

// withOpenMeteoReason lifts the JSON "reason" of a 4xx response into the error text.
func withOpenMeteoReason(err error) error {
	var status *HTTPStatusError
	if !errors.As(err, &status) {
		return err
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if json.Unmarshal([]byte(status.Body), &body) == nil && body.Reason != "" {
		return fmt.Errorf("open-meteo rejected request (%d): %s", status.StatusCode, body.Reason)
	}
	return err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

var _ IrradianceFetcher = (*Irradiance)(nil)
