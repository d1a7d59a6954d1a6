package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"power-butler/internal/alerting"
	"power-butler/internal/calibration"
	"power-butler/internal/charts"
	"power-butler/internal/config"
	"power-butler/internal/fetcher"
	"power-butler/internal/recommend"
	"power-butler/internal/storage"
)

// ErrNoBattery is returned when no battery telemetry source is wired.
var ErrNoBattery = errors.New("battery telemetry not configured")

// Battery reports the current state of charge in percent.
type Battery interface {
	StateOfCharge(ctx context.Context) (float64, error)
}

// Service orchestrates the cache, feeds, decision engine, and notifier.
type Service struct {
	cache      storage.DayCache
	prices     fetcher.PriceFetcher
	irradiance fetcher.IrradianceFetcher
	battery    Battery
	notifier   alerting.Notifier
	engine     *recommend.Engine
	logger     zerolog.Logger

	site         fetcher.Site
	loc          *time.Location
	currency     string
	attachCharts bool
	now          func() time.Time
}

// New constructs the pipeline. battery may be nil for commands that never
// read the state of charge.
func New(cfg *config.Config, cache storage.DayCache, prices fetcher.PriceFetcher, irradiance fetcher.IrradianceFetcher, battery Battery, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	if notifier == nil {
		notifier = alerting.NewLogNotifier(logger)
	}
	return &Service{
		cache:      cache,
		prices:     prices,
		irradiance: irradiance,
		battery:    battery,
		notifier:   notifier,
		engine:     recommend.NewEngine(PolicyFromConfig(cfg)),
		logger:     logger.With().Str("component", "service").Logger(),
		site: fetcher.Site{
			Latitude:  cfg.Site.Latitude,
			Longitude: cfg.Site.Longitude,
			Tilt:      cfg.Site.Tilt,
			Azimuth:   cfg.Site.Azimuth,
			Timezone:  cfg.Site.Timezone,
		},
		loc:          cfg.Location(),
		currency:     cfg.Site.Currency,
		attachCharts: cfg.Alerting.AttachCharts,
		now:          time.Now,
	}
}

// PolicyFromConfig maps configuration onto decision thresholds.
func PolicyFromConfig(cfg *config.Config) recommend.Policy {
	return recommend.Policy{
		CriticalSoC:       cfg.Policy.CriticalSoC,
		OpportunisticSoC:  cfg.Policy.OpportunisticSoC,
		CheapWindowRatio:  cfg.Policy.CheapWindowRatio,
		SolarPeakFraction: cfg.Policy.SolarPeakFraction,
		SolarRatio:        cfg.Site.SolarRatio,
		Currency:          cfg.Site.Currency,
	}
}

// Today returns the current calendar date in the site timezone.
func (s *Service) Today() time.Time {
	now := s.now().In(s.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
}

// Tomorrow returns the next calendar date in the site timezone.
func (s *Service) Tomorrow() time.Time {
	return s.Today().AddDate(0, 0, 1)
}

// Day returns the price and irradiance series for date, fetching and caching
// them on a miss. Cache failures degrade to fetching; fetch failures are returned.
func (s *Service) Day(ctx context.Context, date time.Time) (storage.Record, error) {
	day := storage.DateKey(date)

	if removed, err := s.cache.Cleanup(ctx, s.Today()); err != nil {
		s.logger.Warn().Err(err).Msg("cache cleanup failed")
	} else if removed > 0 {
		s.logger.Info().Int64("removed", removed).Msg("expired cache entries removed")
	}

	record, err := s.cache.Get(ctx, date)
	switch {
	case err == nil:
		s.logger.Info().Str("date", day).Msg("using cached data")
		return record, nil
	case errors.Is(err, storage.ErrNotFound):
		s.logger.Info().Str("date", day).Msg("cache miss, fetching fresh data")
	default:
		s.logger.Warn().Err(err).Str("date", day).Msg("cache read failed, fetching fresh data")
	}

	var prices, irradiance []float64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		prices, err = s.prices.FetchPrices(gctx, date)
		if err != nil {
			return fmt.Errorf("fetch prices: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		irradiance, err = s.irradiance.FetchIrradiance(gctx, date, s.site)
		if err != nil {
			return fmt.Errorf("fetch irradiance: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return storage.Record{}, err
	}

	if err := s.cache.Put(ctx, date, prices, irradiance); err != nil {
		s.logger.Error().Err(err).Str("date", day).Msg("failed to cache fetched data")
	} else {
		s.logger.Info().Str("date", day).Msg("fetched and cached fresh data")
	}

	return storage.Record{Date: date, Prices: prices, Irradiance: irradiance, CachedAt: s.now().UTC()}, nil
}

// Recommend runs the full pipeline for date and notifies the result. Failures
// are reported to the notifier as well as returned.
func (s *Service) Recommend(ctx context.Context, date time.Time) (recommend.Recommendation, error) {
	record, err := s.Day(ctx, date)
	if err != nil {
		if errors.Is(err, fetcher.ErrPriceDataNotAvailable) {
			s.logger.Warn().Err(err).Str("date", storage.DateKey(date)).Msg("price data not available")
			s.notifyFailure(ctx, pendingText(s.label(date)))
			return recommend.Recommendation{}, err
		}
		s.logger.Error().Err(err).Str("date", storage.DateKey(date)).Msg("data fetch failed")
		s.notifyFailure(ctx, fmt.Sprintf("❌ Error generating nightly recommendation: %v", err))
		return recommend.Recommendation{}, err
	}

	if s.battery == nil {
		s.notifyFailure(ctx, "❌ Error: battery system not initialized. Cannot fetch battery state.")
		return recommend.Recommendation{}, ErrNoBattery
	}
	soc, err := s.battery.StateOfCharge(ctx)
	if err != nil {
		s.notifyFailure(ctx, fmt.Sprintf("❌ Error reading battery state: %v", err))
		return recommend.Recommendation{}, fmt.Errorf("read state of charge: %w", err)
	}
	s.logger.Info().Float64("soc", soc).Msg("current battery state")

	rec, err := s.engine.Decide(soc, record.Prices, record.Irradiance)
	if err != nil {
		s.notifyFailure(ctx, fmt.Sprintf("❌ Error generating nightly recommendation: %v", err))
		return recommend.Recommendation{}, err
	}
	s.logger.Info().
		Str("date", storage.DateKey(date)).
		Bool("should_charge", rec.ShouldCharge).
		Int("charge_start", rec.ChargeWindowStart).
		Int("charge_end", rec.ChargeWindowEnd).
		Float64("solar_kwh", rec.DailySolarEstimateKWh).
		Msg("generated recommendation")

	msg := alerting.Message{Text: rec.SummaryText, Attachments: s.attachments(record, s.label(date), rec.DailySolarEstimateKWh)}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		return rec, fmt.Errorf("notify recommendation: %w", err)
	}
	return rec, nil
}

// Report sends the day's charts and generation estimate without a decision.
func (s *Service) Report(ctx context.Context, date time.Time) error {
	label := s.label(date)
	record, err := s.Day(ctx, date)
	if err != nil {
		if errors.Is(err, fetcher.ErrPriceDataNotAvailable) {
			s.notifyFailure(ctx, pendingText(label))
			return err
		}
		s.notifyFailure(ctx, fmt.Sprintf("❌ Error fetching %s's data: %v", label, err))
		return err
	}

	estimate := calibration.Estimate(record.Irradiance, s.engine.Policy().SolarRatio)
	msg := alerting.Message{
		Text:        fmt.Sprintf("📊 %s's Data:\n\n⚡ Expected generation: ~%.1f kWh", capitalize(label), estimate),
		Attachments: s.attachments(record, label, estimate),
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		return fmt.Errorf("notify report: %w", err)
	}
	return nil
}

// Nightly is the scheduled job: recommend for the day after the fire time.
func (s *Service) Nightly(ctx context.Context, fire time.Time) error {
	local := fire.In(s.loc)
	tomorrow := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, s.loc)
	_, err := s.Recommend(ctx, tomorrow)
	return err
}

func (s *Service) attachments(record storage.Record, label string, estimate float64) []alerting.Attachment {
	if !s.attachCharts {
		return nil
	}
	day := storage.DateKey(record.Date)
	var out []alerting.Attachment

	if img, err := charts.Prices("Electricity prices "+day, s.currency, record.Prices); err != nil {
		s.logger.Warn().Err(err).Msg("price chart rendering failed")
	} else {
		out = append(out, alerting.Attachment{Name: "prices-" + day + ".png", Caption: "💰 Electricity prices for " + label, PNG: img})
	}

	if img, err := charts.Irradiance("Solar irradiance "+day, record.Irradiance); err != nil {
		s.logger.Warn().Err(err).Msg("irradiance chart rendering failed")
	} else {
		caption := fmt.Sprintf("☀️ Solar irradiance forecast for %s\n\n⚡ Expected generation: ~%.1f kWh", label, estimate)
		out = append(out, alerting.Attachment{Name: "irradiance-" + day + ".png", Caption: caption, PNG: img})
	}
	return out
}

func (s *Service) notifyFailure(ctx context.Context, text string) {
	if err := s.notifier.Notify(ctx, alerting.Message{Text: text}); err != nil {
		s.logger.Error().Err(err).Msg("failed to deliver failure notification")
	}
}

func (s *Service) label(date time.Time) string {
	switch storage.DateKey(date) {
	case storage.DateKey(s.Today()):
		return "today"
	case storage.DateKey(s.Tomorrow()):
		return "tomorrow"
	default:
		return storage.DateKey(date)
	}
}

func pendingText(label string) string {
	return fmt.Sprintf("⏰ %s's electricity prices are not yet published.\n\n"+
		"Prices are typically available around 3 PM. The nightly recommendation will be generated once prices are available.",
		capitalize(label))
}

func capitalize(label string) string {
	if label == "" || label[0] < 'a' || label[0] > 'z' {
		return label
	}
	return string(label[0]-'a'+'A') + label[1:]
}
