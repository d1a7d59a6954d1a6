package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"power-butler/internal/charts"
	"power-butler/internal/storage"
)

// Export writes cached days as CSV and/or PNG charts into a directory.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if !opts.CSV && !opts.PNG {
		return errors.New("at least one of --csv or --png must be enabled")
	}
	if opts.Directory == "" {
		opts.Directory = a.Config.Export.Directory
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	var records []storage.Record
	if opts.Date != nil {
		rec, err := store.Get(ctx, *opts.Date)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("no cached data for %s", storage.DateKey(*opts.Date))
		}
		if err != nil {
			return err
		}
		records = append(records, rec)
	} else {
		records, err = store.List(ctx)
		if err != nil {
			return err
		}
	}
	if len(records) == 0 {
		a.Logger.Info().Msg("no cached days to export")
		return nil
	}

	written, err := exportRecords(opts.Directory, records, opts.CSV, opts.PNG, a.Config.Site.Currency)
	if err != nil {
		return err
	}
	for _, path := range written {
		fmt.Fprintln(a.Out, path)
	}
	a.Logger.Info().Int("days", len(records)).Int("files", len(written)).Str("directory", opts.Directory).Msg("export complete")
	return nil
}

func exportRecords(dir string, records []storage.Record, withCSV, withPNG bool, currency string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	var written []string
	for _, rec := range records {
		day := storage.DateKey(rec.Date)
		if withCSV {
			path := filepath.Join(dir, day+".csv")
			if err := writeDayCSV(path, rec); err != nil {
				return written, fmt.Errorf("export %s: %w", path, err)
			}
			written = append(written, path)
		}
		if withPNG {
			paths, err := writeDayPNG(dir, rec, currency)
			written = append(written, paths...)
			if err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

func writeDayCSV(path string, rec storage.Record) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"date", "hour", "price_per_mwh", "irradiance_w_m2"}); err != nil {
		return err
	}

	day := storage.DateKey(rec.Date)
	for h := range rec.Prices {
		record := []string{
			day,
			strconv.Itoa(h),
			formatDecimal(rec.Prices[h], 2),
			formatDecimal(rec.Irradiance[h], 1),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeDayPNG(dir string, rec storage.Record, currency string) ([]string, error) {
	day := storage.DateKey(rec.Date)
	var written []string

	prices, err := charts.Prices("Electricity prices "+day, currency, rec.Prices)
	if err != nil {
		return written, err
	}
	path := filepath.Join(dir, day+"-prices.png")
	if err := os.WriteFile(path, prices, 0o644); err != nil {
		return written, err
	}
	written = append(written, path)

	irradiance, err := charts.Irradiance("Solar irradiance "+day, rec.Irradiance)
	if err != nil {
		return written, err
	}
	path = filepath.Join(dir, day+"-irradiance.png")
	if err := os.WriteFile(path, irradiance, 0o644); err != nil {
		return written, err
	}
	return append(written, path), nil
}
