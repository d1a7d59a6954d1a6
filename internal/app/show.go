package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"power-butler/internal/calibration"
	"power-butler/internal/storage"
)

// Show prints the cached days.
func (a *App) Show(ctx context.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(a.Out, "no cached days")
		return nil
	}

	currency := a.Config.Site.Currency
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Date\tCached (UTC)\tMin %[1]s/MWh\tMax %[1]s/MWh\tMean %[1]s/MWh\tIrradiance Wh/m²\tSolar kWh\n", currency)
	for _, rec := range records {
		lo, hi, mean := priceSummary(rec.Prices)
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			storage.DateKey(rec.Date),
			rec.CachedAt.UTC().Format(time.RFC3339),
			formatDecimal(lo, 2),
			formatDecimal(hi, 2),
			formatDecimal(mean, 2),
			formatDecimal(calibration.Total(rec.Irradiance), 0),
			formatDecimal(calibration.Estimate(rec.Irradiance, a.Config.Site.SolarRatio), 1),
		)
	}
	return writer.Flush()
}

// Cleanup removes cached days before today.
func (a *App) Cleanup(ctx context.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	loc := a.Config.Location()
	now := time.Now().In(loc)
	removed, err := store.Cleanup(ctx, time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc))
	if err != nil {
		return err
	}
	a.Logger.Info().Int64("removed", removed).Msg("cache cleanup complete")
	fmt.Fprintf(a.Out, "removed %d expired day(s)\n", removed)
	return nil
}

func priceSummary(prices []float64) (lo, hi, mean float64) {
	if len(prices) == 0 {
		return 0, 0, 0
	}
	lo, hi = prices[0], prices[0]
	for _, p := range prices {
		lo = min(lo, p)
		hi = max(hi, p)
	}
	return lo, hi, calibration.Total(prices) / float64(len(prices))
}

func formatDecimal(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	return strings.ReplaceAll(cleaned, "\r", " ")
}
