package calibration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"power-butler/internal/fetcher"
)

// ErrNoSamples is returned when no day in the range produced a usable ratio.
var ErrNoSamples = errors.New("calibration: no valid days in range")

// GenerationSource reports measured PV energy of a past day.
type GenerationSource interface {
	DailyGeneration(ctx context.Context, date time.Time) (float64, error)
}

// DaySample is one day that entered the statistics.
type DaySample struct {
	Date          time.Time
	Irradiance    float64
	GenerationKWh float64
	Ratio         float64
}

// SkippedDay is a day excluded from the sample.
type SkippedDay struct {
	Date   time.Time
	Reason string
}

// Report summarises per-day generation/irradiance ratios.
type Report struct {
	From    time.Time
	To      time.Time
	Samples []DaySample
	Skipped []SkippedDay
	Mean    float64
	Median  float64
	StdDev  float64
	Min     float64
	Max     float64
}

// Study correlates historical irradiance with measured generation.
type Study struct {
	irradiance fetcher.IrradianceFetcher
	generation GenerationSource
	site       fetcher.Site
	workers    int
	logger     zerolog.Logger
}

// NewStudy constructs a calibration study. workers bounds concurrent day lookups.
func NewStudy(irradiance fetcher.IrradianceFetcher, generation GenerationSource, site fetcher.Site, workers int, logger zerolog.Logger) *Study {
	if workers <= 0 {
		workers = 1
	}
	return &Study{
		irradiance: irradiance,
		generation: generation,
		site:       site,
		workers:    workers,
		logger:     logger.With().Str("component", "calibration").Logger(),
	}
}

type dayResult struct {
	sample  *DaySample
	skipped *SkippedDay
}

// Run evaluates every day in [from, to]. A day whose lookups fail or return
// zero is skipped; the run itself fails only on cancellation or an empty sample.
func (s *Study) Run(ctx context.Context, from, to time.Time) (Report, error) {
	if to.Before(from) {
		return Report{}, fmt.Errorf("calibration: range end %s before start %s", to.Format(time.DateOnly), from.Format(time.DateOnly))
	}

	var days []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}

	results := make([]dayResult, len(days))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, d := range days {
		g.Go(func() error {
			results[i] = s.evaluate(gctx, d)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	report := Report{From: from, To: to}
	for _, r := range results {
		switch {
		case r.sample != nil:
			report.Samples = append(report.Samples, *r.sample)
		case r.skipped != nil:
			report.Skipped = append(report.Skipped, *r.skipped)
		}
	}
	if len(report.Samples) == 0 {
		return report, ErrNoSamples
	}

	ratios := make([]float64, len(report.Samples))
	for i, sample := range report.Samples {
		ratios[i] = sample.Ratio
	}
	summarise(&report, ratios)

	s.logger.Info().
		Int("days", len(report.Samples)).
		Int("skipped", len(report.Skipped)).
		Float64("mean_ratio", report.Mean).
		Msg("calibration complete")
	return report, nil
}

func (s *Study) evaluate(ctx context.Context, date time.Time) dayResult {
	day := date.Format(time.DateOnly)
	skip := func(reason string) dayResult {
		s.logger.Warn().Str("date", day).Str("reason", reason).Msg("skipping day")
		return dayResult{skipped: &SkippedDay{Date: date, Reason: reason}}
	}

	series, err := s.irradiance.FetchIrradiance(ctx, date, s.site)
	if err != nil {
		return skip(fmt.Sprintf("irradiance: %v", err))
	}
	generation, err := s.generation.DailyGeneration(ctx, date)
	if err != nil {
		return skip(fmt.Sprintf("generation: %v", err))
	}

	irradiance := Total(series)
	if irradiance <= 0 {
		return skip("no irradiance")
	}
	if generation <= 0 {
		return skip("no generation")
	}

	ratio := generation / irradiance
	s.logger.Debug().Str("date", day).Float64("irradiance", irradiance).Float64("generation_kwh", generation).Float64("ratio", ratio).Msg("day evaluated")
	return dayResult{sample: &DaySample{Date: date, Irradiance: irradiance, GenerationKWh: generation, Ratio: ratio}}
}

func summarise(report *Report, ratios []float64) {
	report.Mean = stat.Mean(ratios, nil)
	if len(ratios) > 1 {
		report.StdDev = stat.StdDev(ratios, nil)
	}
	report.Min = floats.Min(ratios)
	report.Max = floats.Max(ratios)
	report.Median = median(ratios)
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
