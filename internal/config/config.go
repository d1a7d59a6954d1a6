package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"power-butler/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Site       SiteConfig       `mapstructure:"site"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Prices     PricesConfig     `mapstructure:"prices"`
	Irradiance IrradianceConfig `mapstructure:"irradiance"`
	Inverter   InverterConfig   `mapstructure:"inverter"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// StorageConfig selects the cache backend. A non-empty DSN selects PostgreSQL,
// otherwise the SQLite file at Path is used.
type StorageConfig struct {
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SiteConfig describes the installation.
type SiteConfig struct {
	Latitude   float64 `mapstructure:"latitude"`
	Longitude  float64 `mapstructure:"longitude"`
	Tilt       float64 `mapstructure:"tilt"`
	Azimuth    float64 `mapstructure:"azimuth"`
	Timezone   string  `mapstructure:"timezone"`
	SolarRatio float64 `mapstructure:"solar_ratio"`
	Currency   string  `mapstructure:"currency"`
}

// PolicyConfig holds the charge decision thresholds.
type PolicyConfig struct {
	CriticalSoC       float64 `mapstructure:"critical_soc"`
	OpportunisticSoC  float64 `mapstructure:"opportunistic_soc"`
	CheapWindowRatio  float64 `mapstructure:"cheap_window_ratio"`
	SolarPeakFraction float64 `mapstructure:"solar_peak_fraction"`
}

// RetryConfig mirrors fetcher.RetryPolicy.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	MaxElapsed  time.Duration `mapstructure:"max_elapsed"`
	Jitter      float64       `mapstructure:"jitter"`
}

// PricesConfig covers the day-ahead market feed.
type PricesConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	Retry          RetryConfig   `mapstructure:"retry"`
}

// IrradianceConfig covers the Open-Meteo endpoints.
type IrradianceConfig struct {
	ForecastURL    string        `mapstructure:"forecast_url"`
	HistoricalURL  string        `mapstructure:"historical_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	Retry          RetryConfig   `mapstructure:"retry"`
}

// InverterConfig covers the AlphaESS Open API.
type InverterConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	AppID          string        `mapstructure:"app_id"`
	AppSecret      string        `mapstructure:"app_secret"`
	SerialNumber   string        `mapstructure:"serial_number"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AlertingConfig defines notification routing.
type AlertingConfig struct {
	Enabled       bool           `mapstructure:"enabled"`
	AttachCharts  bool           `mapstructure:"attach_charts"`
	Telegram      TelegramConfig `mapstructure:"telegram"`
	NotifyTimeout time.Duration  `mapstructure:"notify_timeout"`
}

// TelegramConfig describes the Telegram bot.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// SchedulerConfig governs the nightly run.
type SchedulerConfig struct {
	Schedule string        `mapstructure:"schedule"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	Directory string `mapstructure:"directory"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("POWERBUTLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "power-butler")
	v.SetDefault("app.environment", "production")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("storage.path", ".cache.sqlite")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.max_open_conns", 4)
	v.SetDefault("storage.max_idle_conns", 1)
	v.SetDefault("storage.conn_max_lifetime", "30m")

	v.SetDefault("site.latitude", 0.0)
	v.SetDefault("site.longitude", 0.0)
	v.SetDefault("site.tilt", 35.0)
	v.SetDefault("site.azimuth", 0.0)
	v.SetDefault("site.timezone", "Europe/Prague")
	v.SetDefault("site.solar_ratio", 0.011509)
	v.SetDefault("site.currency", "€")

	v.SetDefault("policy.critical_soc", 30.0)
	v.SetDefault("policy.opportunistic_soc", 60.0)
	v.SetDefault("policy.cheap_window_ratio", 0.7)
	v.SetDefault("policy.solar_peak_fraction", 0.7)

	v.SetDefault("prices.base_url", "https://www.ote-cr.cz/en/short-term-markets/electricity/day-ahead-market/@@chart-data")
	v.SetDefault("prices.request_timeout", "10s")
	v.SetDefault("prices.user_agent", "power-butler/1.0")
	v.SetDefault("prices.retry.max_attempts", 0)
	v.SetDefault("prices.retry.base_delay", "1s")
	v.SetDefault("prices.retry.max_delay", "30s")
	v.SetDefault("prices.retry.max_elapsed", "2m")
	v.SetDefault("prices.retry.jitter", 0.5)

	v.SetDefault("irradiance.forecast_url", "https://api.open-meteo.com/v1/forecast")
	v.SetDefault("irradiance.historical_url", "https://historical-forecast-api.open-meteo.com/v1/forecast")
	v.SetDefault("irradiance.request_timeout", "10s")
	v.SetDefault("irradiance.cache_ttl", "1h")
	v.SetDefault("irradiance.retry.max_attempts", 6)
	v.SetDefault("irradiance.retry.base_delay", "200ms")
	v.SetDefault("irradiance.retry.max_delay", "10s")
	v.SetDefault("irradiance.retry.max_elapsed", "1m")
	v.SetDefault("irradiance.retry.jitter", 0.2)

	// Empty defaults register the secret keys so AutomaticEnv values reach Unmarshal.
	v.SetDefault("inverter.base_url", "https://openapi.alphaess.com/api")
	v.SetDefault("inverter.app_id", "")
	v.SetDefault("inverter.app_secret", "")
	v.SetDefault("inverter.serial_number", "")
	v.SetDefault("inverter.request_timeout", "15s")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.attach_charts", true)
	v.SetDefault("alerting.notify_timeout", "30s")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")

	v.SetDefault("scheduler.schedule", "0 18 * * *")
	v.SetDefault("scheduler.timeout", "10m")

	v.SetDefault("export.directory", "export")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Storage.DSN == "" && c.Storage.Path == "" {
		return fmt.Errorf("storage.path or storage.dsn must be configured")
	}
	if _, err := time.LoadLocation(c.Site.Timezone); err != nil {
		return fmt.Errorf("site.timezone %q: %w", c.Site.Timezone, err)
	}
	if c.Site.Latitude < -90 || c.Site.Latitude > 90 {
		return fmt.Errorf("site.latitude must be within [-90, 90]")
	}
	if c.Site.Longitude < -180 || c.Site.Longitude > 180 {
		return fmt.Errorf("site.longitude must be within [-180, 180]")
	}
	if c.Site.SolarRatio < 0 {
		return fmt.Errorf("site.solar_ratio cannot be negative")
	}
	if c.Policy.CriticalSoC < 0 || c.Policy.OpportunisticSoC > 100 || c.Policy.CriticalSoC > c.Policy.OpportunisticSoC {
		return fmt.Errorf("policy soc thresholds must satisfy 0 <= critical_soc <= opportunistic_soc <= 100")
	}
	if c.Policy.CheapWindowRatio <= 0 {
		return fmt.Errorf("policy.cheap_window_ratio must be greater than zero")
	}
	if c.Policy.SolarPeakFraction < 0 || c.Policy.SolarPeakFraction >= 1 {
		return fmt.Errorf("policy.solar_peak_fraction must be within [0, 1)")
	}
	if c.Prices.BaseURL == "" {
		return fmt.Errorf("prices.base_url is required")
	}
	if c.Irradiance.ForecastURL == "" || c.Irradiance.HistoricalURL == "" {
		return fmt.Errorf("irradiance.forecast_url and irradiance.historical_url are required")
	}
	if c.Scheduler.Schedule == "" {
		return fmt.Errorf("scheduler.schedule is required")
	}
	return nil
}

// Location returns the site timezone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Site.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
