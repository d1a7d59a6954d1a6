package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"power-butler/internal/calibration"
	"power-butler/internal/storage"
)

// Calibrate correlates historical irradiance with measured generation and
// prints the ratio statistics.
func (a *App) Calibrate(ctx context.Context, opts CalibrateOptions) error {
	if opts.To.Before(opts.From) {
		return errors.New("calibration range is empty, check --from/--to")
	}

	battery, err := a.newBattery()
	if err != nil {
		return err
	}
	if battery == nil {
		return errors.New("inverter.app_id and inverter.app_secret are required for calibration")
	}
	_, irradiance := a.newFetchers()

	study := calibration.NewStudy(irradiance, battery, a.site(), opts.Workers, a.Logger)
	report, err := study.Run(ctx, opts.From, opts.To)
	if err != nil && !errors.Is(err, calibration.ErrNoSamples) {
		return err
	}
	if werr := writeCalibrationReport(a, report); werr != nil {
		return werr
	}
	return err
}

func writeCalibrationReport(a *App, report calibration.Report) error {
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tIrradiance Wh/m²\tGeneration kWh\tRatio")
	for _, s := range report.Samples {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n",
			storage.DateKey(s.Date),
			formatDecimal(s.Irradiance, 0),
			formatDecimal(s.GenerationKWh, 2),
			formatDecimal(s.Ratio, 6),
		)
	}
	for _, s := range report.Skipped {
		fmt.Fprintf(writer, "%s\tskipped\t\t%s\n", storage.DateKey(s.Date), sanitizeInline(s.Reason))
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	if len(report.Samples) == 0 {
		fmt.Fprintln(a.Out, "\nno valid days in range")
		return nil
	}

	fmt.Fprintf(a.Out, "\ndays: %d  skipped: %d\n", len(report.Samples), len(report.Skipped))
	fmt.Fprintf(a.Out, "mean:   %s\n", formatDecimal(report.Mean, 6))
	fmt.Fprintf(a.Out, "median: %s\n", formatDecimal(report.Median, 6))
	fmt.Fprintf(a.Out, "stddev: %s\n", formatDecimal(report.StdDev, 6))
	fmt.Fprintf(a.Out, "min:    %s\n", formatDecimal(report.Min, 6))
	fmt.Fprintf(a.Out, "max:    %s\n", formatDecimal(report.Max, 6))
	fmt.Fprintf(a.Out, "\nset site.solar_ratio: %s (current %v)\n", formatDecimal(report.Mean, 6), a.Config.Site.SolarRatio)
	return nil
}
