package app

import (
	"context"
	"fmt"
	"time"
)

// Recommend runs the pipeline once for date and prints the summary.
func (a *App) Recommend(ctx context.Context, date time.Time) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	svc, err := a.newService(store, true)
	if err != nil {
		return err
	}

	rec, err := svc.Recommend(ctx, date)
	if rec.SummaryText != "" {
		fmt.Fprintln(a.Out, rec.SummaryText)
	}
	return err
}

// Report sends the charts and generation estimate for date.
func (a *App) Report(ctx context.Context, date time.Time) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	svc, err := a.newService(store, false)
	if err != nil {
		return err
	}
	return svc.Report(ctx, date)
}
