// Package inverter reads battery telemetry from the AlphaESS Open API.
package inverter

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"power-butler/internal/fetcher"
)

const (
	DefaultBaseURL = "https://openapi.alphaess.com/api"

	pathSystems   = "getEssList"
	pathLastPower = "getLastPowerData"
	pathDayEnergy = "getOneDateEnergyBySn"

	codeOK = 200
)

var (
	// ErrNotConfigured is returned when credentials are missing.
	ErrNotConfigured = errors.New("inverter: app id and secret are required")
	// ErrNoSystem is returned when the account has no registered system.
	ErrNoSystem = errors.New("inverter: no system bound to account")
)

// APIError is a response whose envelope code is not success.
type APIError struct {
	Endpoint string
	Code     int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("alphaess %s: code %d: %s", e.Endpoint, e.Code, e.Message)
}

// Options configures the client.
type Options struct {
	BaseURL      string
	AppID        string
	AppSecret    string
	SerialNumber string
	Retry        fetcher.RetryPolicy
}

// AlphaESS is an Open API client bound to one system.
type AlphaESS struct {
	opts   Options
	client *http.Client
	logger zerolog.Logger
	now    func() time.Time

	mu     sync.Mutex
	serial string
}

// New constructs a client. A nil http client falls back to http.DefaultClient.
func New(opts Options, client *http.Client, logger zerolog.Logger) (*AlphaESS, error) {
	if opts.AppID == "" || opts.AppSecret == "" {
		return nil, ErrNotConfigured
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &AlphaESS{
		opts:   opts,
		client: client,
		logger: logger.With().Str("component", "alphaess").Logger(),
		now:    time.Now,
		serial: opts.SerialNumber,
	}, nil
}

// StateOfCharge returns the current battery level in percent.
func (a *AlphaESS) StateOfCharge(ctx context.Context) (float64, error) {
	serial, err := a.serialNumber(ctx)
	if err != nil {
		return 0, err
	}
	var data struct {
		SoC *float64 `json:"soc"`
	}
	if err := a.get(ctx, pathLastPower, url.Values{"sysSn": {serial}}, &data); err != nil {
		return 0, err
	}
	if data.SoC == nil {
		return 0, fmt.Errorf("alphaess %s: soc missing from response", pathLastPower)
	}
	a.logger.Debug().Float64("soc", *data.SoC).Msg("battery state")
	return *data.SoC, nil
}

// DailyGeneration returns the PV energy in kWh produced on date.
func (a *AlphaESS) DailyGeneration(ctx context.Context, date time.Time) (float64, error) {
	serial, err := a.serialNumber(ctx)
	if err != nil {
		return 0, err
	}
	var data struct {
		EPV *float64 `json:"epv"`
	}
	params := url.Values{"sysSn": {serial}, "queryDate": {date.Format(time.DateOnly)}}
	if err := a.get(ctx, pathDayEnergy, params, &data); err != nil {
		return 0, err
	}
	if data.EPV == nil {
		return 0, fmt.Errorf("alphaess %s: epv missing for %s", pathDayEnergy, date.Format(time.DateOnly))
	}
	return *data.EPV, nil
}

func (a *AlphaESS) serialNumber(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.serial != "" {
		return a.serial, nil
	}

	var systems []struct {
		SysSn string `json:"sysSn"`
	}
	if err := a.get(ctx, pathSystems, nil, &systems); err != nil {
		return "", err
	}
	if len(systems) == 0 || systems[0].SysSn == "" {
		return "", ErrNoSystem
	}
	a.serial = systems[0].SysSn
	a.logger.Info().Str("serial", a.serial).Msg("resolved system serial")
	return a.serial, nil
}

func (a *AlphaESS) sign(timestamp string) string {
	sum := sha512.Sum512([]byte(a.opts.AppID + a.opts.AppSecret + timestamp))
	return hex.EncodeToString(sum[:])
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (a *AlphaESS) newGetRequest(ctx context.Context, endpoint string, params url.Values) (*http.Request, error) {
	u, err := url.Parse(a.opts.BaseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	timestamp := strconv.FormatInt(a.now().Unix(), 10)
	req.Header.Set("appId", a.opts.AppID)
	req.Header.Set("timeStamp", timestamp)
	req.Header.Set("sign", a.sign(timestamp))
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (a *AlphaESS) get(ctx context.Context, endpoint string, params url.Values, dest any) error {
	return a.opts.Retry.Do(ctx, a.logger, func(ctx context.Context) error {
		req, err := a.newGetRequest(ctx, endpoint, params)
		if err != nil {
			return err
		}
		return a.doRequest(req, endpoint, dest)
	})
}

func (a *AlphaESS) doRequest(req *http.Request, endpoint string, dest any) error {
	resp, err := a.client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return req.Context().Err()
		}
		return &fetcher.TransientNetworkError{URL: req.URL.Redacted(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &fetcher.TransientNetworkError{URL: endpoint, Err: err}
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &fetcher.TransientNetworkError{URL: endpoint, StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}
	if resp.StatusCode != http.StatusOK {
		return &fetcher.HTTPStatusError{URL: endpoint, StatusCode: resp.StatusCode}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		a.logger.Error().Err(err).Str("endpoint", endpoint).Msg("failed to decode alphaess response")
		return fmt.Errorf("alphaess %s: decode: %w", endpoint, err)
	}
	if env.Code != codeOK {
		return &APIError{Endpoint: endpoint, Code: env.Code, Message: env.Msg}
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		return fmt.Errorf("alphaess %s: decode data: %w", endpoint, err)
	}
	return nil
}
