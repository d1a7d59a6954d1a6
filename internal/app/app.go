package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"power-butler/internal/alerting"
	"power-butler/internal/config"
	"power-butler/internal/fetcher"
	"power-butler/internal/inverter"
	"power-butler/internal/scheduler"
	"power-butler/internal/service"
	"power-butler/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func retryPolicy(cfg config.RetryConfig) fetcher.RetryPolicy {
	return fetcher.RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		MaxElapsed:  cfg.MaxElapsed,
		Jitter:      cfg.Jitter,
	}
}

func (a *App) site() fetcher.Site {
	s := a.Config.Site
	return fetcher.Site{Latitude: s.Latitude, Longitude: s.Longitude, Tilt: s.Tilt, Azimuth: s.Azimuth, Timezone: s.Timezone}
}

func (a *App) newFetchers() (*fetcher.Prices, *fetcher.Irradiance) {
	pc := a.Config.Prices
	prices := fetcher.NewPrices(fetcher.PriceOptions{
		BaseURL: pc.BaseURL,
		Retry:   retryPolicy(pc.Retry),
	}, fetcher.NewHTTPClient(pc.RequestTimeout, pc.UserAgent, 0), a.Logger)

	ic := a.Config.Irradiance
	irradiance := fetcher.NewIrradiance(fetcher.IrradianceOptions{
		ForecastURL:   ic.ForecastURL,
		HistoricalURL: ic.HistoricalURL,
		Retry:         retryPolicy(ic.Retry),
	}, fetcher.NewHTTPClient(ic.RequestTimeout, pc.UserAgent, ic.CacheTTL), a.Logger)

	return prices, irradiance
}

// newBattery returns nil when no AlphaESS credentials are configured.
func (a *App) newBattery() (*inverter.AlphaESS, error) {
	ic := a.Config.Inverter
	client, err := inverter.New(inverter.Options{
		BaseURL:      ic.BaseURL,
		AppID:        ic.AppID,
		AppSecret:    ic.AppSecret,
		SerialNumber: ic.SerialNumber,
		Retry:        fetcher.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Jitter: 0.2},
	}, fetcher.NewHTTPClient(ic.RequestTimeout, a.Config.Prices.UserAgent, 0), a.Logger)
	if errors.Is(err, inverter.ErrNotConfigured) {
		return nil, nil
	}
	return client, err
}

func (a *App) newTelegram(state storage.StateStore) *alerting.TelegramNotifier {
	cfg := a.Config.Alerting
	return alerting.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, cfg.NotifyTimeout, state, a.Logger)
}

func (a *App) newNotifier(state storage.StateStore) alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.BotToken != "" {
		return a.newTelegram(state)
	}
	a.Logger.Debug().Msg("telegram disabled; notifications go to the log")
	return alerting.NewLogNotifier(a.Logger)
}

func (a *App) openStore(ctx context.Context) (storage.Store, error) {
	store, err := storage.Open(ctx, a.Config.Storage)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	return store, nil
}

// newService wires the pipeline on top of an open store.
func (a *App) newService(store storage.Store, withBattery bool) (*service.Service, error) {
	prices, irradiance := a.newFetchers()

	var battery service.Battery
	if withBattery {
		client, err := a.newBattery()
		if err != nil {
			return nil, err
		}
		if client == nil {
			a.Logger.Warn().Msg("inverter.app_id/app_secret not configured; battery state unavailable")
		} else {
			battery = client
		}
	}

	return service.New(a.Config, store, prices, irradiance, battery, a.newNotifier(store), a.Logger), nil
}

// Run executes the long-running nightly scheduler.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	svc, err := a.newService(store, true)
	if err != nil {
		return err
	}

	sched, err := scheduler.New(scheduler.Options{
		Schedule:   a.Config.Scheduler.Schedule,
		Location:   a.Config.Location(),
		Timeout:    a.Config.Scheduler.Timeout,
		RunOnStart: opts.RunNow,
	}, a.Logger)
	if err != nil {
		return err
	}

	a.Logger.Info().Str("schedule", a.Config.Scheduler.Schedule).Str("timezone", a.Config.Site.Timezone).Msg("starting nightly scheduler")
	err = sched.Run(ctx, svc.Nightly)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("scheduler terminated with error")
		return err
	}

	a.Logger.Info().Msg("scheduler stopped")
	return nil
}

// ResolveDate turns "today", "tomorrow", or YYYY-MM-DD into a local calendar date.
func (a *App) ResolveDate(value string) (time.Time, error) {
	loc := a.Config.Location()
	now := time.Now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "tomorrow":
		return today.AddDate(0, 0, 1), nil
	case "today":
		return today, nil
	case "yesterday":
		return today.AddDate(0, 0, -1), nil
	}
	date, err := time.ParseInLocation(time.DateOnly, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want today, tomorrow, or YYYY-MM-DD", value)
	}
	return date, nil
}

// RunOptions configure the run command.
type RunOptions struct {
	RunNow bool
}

// ExportOptions hold parameters for exporting cached days.
type ExportOptions struct {
	Date      *time.Time
	Directory string
	CSV       bool
	PNG       bool
}

// CalibrateOptions configure the calibration study.
type CalibrateOptions struct {
	From    time.Time
	To      time.Time
	Workers int
}
