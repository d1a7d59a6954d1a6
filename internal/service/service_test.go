package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"power-butler/internal/alerting"
	"power-butler/internal/config"
	"power-butler/internal/fetcher"
	"power-butler/internal/storage"
)

type memCache struct {
	mu       sync.Mutex
	records  map[string]storage.Record
	getErr   error
	putErr   error
	cleanups []string
}

func newMemCache() *memCache {
	return &memCache{records: map[string]storage.Record{}}
}

func (c *memCache) Get(_ context.Context, date time.Time) (storage.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return storage.Record{}, c.getErr
	}
	rec, ok := c.records[storage.DateKey(date)]
	if !ok {
		return storage.Record{}, storage.ErrNotFound
	}
	return rec, nil
}

func (c *memCache) Put(_ context.Context, date time.Time, prices, irradiance []float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.putErr != nil {
		return c.putErr
	}
	c.records[storage.DateKey(date)] = storage.Record{Date: date, Prices: prices, Irradiance: irradiance}
	return nil
}

func (c *memCache) Cleanup(_ context.Context, today time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanups = append(c.cleanups, storage.DateKey(today))
	var removed int64
	for key := range c.records {
		if key < storage.DateKey(today) {
			delete(c.records, key)
			removed++
		}
	}
	return removed, nil
}

func (c *memCache) List(context.Context) ([]storage.Record, error) { return nil, nil }

type fakePrices struct {
	calls  atomic.Int32
	prices []float64
	err    error
	// hook runs before the canned result; a non-nil return replaces it.
	hook func(ctx context.Context) error
}

func (f *fakePrices) FetchPrices(ctx context.Context, _ time.Time) ([]float64, error) {
	f.calls.Add(1)
	if f.hook != nil {
		if err := f.hook(ctx); err != nil {
			return nil, err
		}
	}
	return f.prices, f.err
}

type fakeIrradiance struct {
	calls  atomic.Int32
	values []float64
	site   fetcher.Site
	hook   func(ctx context.Context) error
}

func (f *fakeIrradiance) FetchIrradiance(ctx context.Context, _ time.Time, site fetcher.Site) ([]float64, error) {
	f.calls.Add(1)
	f.site = site
	if f.hook != nil {
		if err := f.hook(ctx); err != nil {
			return nil, err
		}
	}
	return f.values, nil
}

type fakeBattery struct {
	soc float64
	err error
}

func (f fakeBattery) StateOfCharge(context.Context) (float64, error) { return f.soc, f.err }

type recordingNotifier struct {
	messages []alerting.Message
	err      error
}

func (n *recordingNotifier) Notify(_ context.Context, msg alerting.Message) error {
	n.messages = append(n.messages, msg)
	return n.err
}

func repeat(pattern []float64, n int) []float64 {
	out := make([]float64, 0, len(pattern)*n)
	for i := 0; i < n; i++ {
		out = append(out, pattern...)
	}
	return out
}

var (
	testPrices     = repeat([]float64{15, 12, 8, 6, 10, 18}, 4)
	testIrradiance = repeat([]float64{0, 0, 0, 0, 0, 100}, 4)
)

func testConfig() *config.Config {
	return &config.Config{
		Site: config.SiteConfig{
			Latitude: 50.08, Longitude: 14.42, Tilt: 35, Azimuth: -10,
			Timezone: "Europe/Prague", SolarRatio: 0.011509, Currency: "€",
		},
		Policy: config.PolicyConfig{CriticalSoC: 30, OpportunisticSoC: 60, CheapWindowRatio: 0.7, SolarPeakFraction: 0.7},
	}
}

type harness struct {
	svc        *Service
	cache      *memCache
	prices     *fakePrices
	irradiance *fakeIrradiance
	notifier   *recordingNotifier
}

func newHarness(t *testing.T, cfg *config.Config, battery Battery) *harness {
	t.Helper()
	h := &harness{
		cache:      newMemCache(),
		prices:     &fakePrices{prices: testPrices},
		irradiance: &fakeIrradiance{values: testIrradiance},
		notifier:   &recordingNotifier{},
	}
	h.svc = New(cfg, h.cache, h.prices, h.irradiance, battery, h.notifier, zerolog.Nop())
	loc := cfg.Location()
	h.svc.now = func() time.Time { return time.Date(2025, 7, 21, 18, 0, 0, 0, loc) }
	return h
}

func TestDayFetchesOnMissThenHitsCache(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	tomorrow := h.svc.Tomorrow()
	assert.Equal(t, "2025-07-22", storage.DateKey(tomorrow))

	rec, err := h.svc.Day(context.Background(), tomorrow)
	require.NoError(t, err)
	assert.Equal(t, testPrices, rec.Prices)
	assert.Equal(t, testIrradiance, rec.Irradiance)
	assert.Equal(t, "Europe/Prague", h.irradiance.site.Timezone)
	assert.Equal(t, 35.0, h.irradiance.site.Tilt)

	_, err = h.svc.Day(context.Background(), tomorrow)
	require.NoError(t, err)
	assert.EqualValues(t, 1, h.prices.calls.Load())
	assert.EqualValues(t, 1, h.irradiance.calls.Load())
	assert.Equal(t, []string{"2025-07-21", "2025-07-21"}, h.cache.cleanups)
}

func TestDayCleansExpiredRecords(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.cache.records["2025-07-20"] = storage.Record{}
	h.cache.records["2025-07-21"] = storage.Record{Prices: testPrices, Irradiance: testIrradiance}

	_, err := h.svc.Day(context.Background(), h.svc.Today())
	require.NoError(t, err)
	assert.NotContains(t, h.cache.records, "2025-07-20")
	assert.Contains(t, h.cache.records, "2025-07-21")
	assert.Zero(t, h.prices.calls.Load())
}

func TestDayCacheReadFailureFallsBackToFetch(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.cache.getErr = &storage.StorageError{Op: "get", Err: errors.New("disk I/O error")}

	rec, err := h.svc.Day(context.Background(), h.svc.Tomorrow())
	require.NoError(t, err)
	assert.Equal(t, testPrices, rec.Prices)
	assert.EqualValues(t, 1, h.prices.calls.Load())
}

func TestDayCacheWriteFailureKeepsRunning(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.cache.putErr = &storage.StorageError{Op: "put", Err: errors.New("read-only database")}

	rec, err := h.svc.Day(context.Background(), h.svc.Tomorrow())
	require.NoError(t, err)
	assert.Equal(t, testIrradiance, rec.Irradiance)
	assert.Empty(t, h.cache.records)
}

func TestDayFetchFailureNotCached(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.prices.err = &fetcher.TransientNetworkError{URL: "http://ote", StatusCode: 503, Err: errors.New("unavailable")}

	_, err := h.svc.Day(context.Background(), h.svc.Tomorrow())
	assert.True(t, fetcher.IsTransient(err))
	assert.Empty(t, h.cache.records)
}

// waitOrTimeout blocks until ch closes; false after a second.
func waitOrTimeout(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	case <-time.After(time.Second):
		return false
	}
}

func TestDayFetchesConcurrently(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	pricesStarted := make(chan struct{})
	irradianceStarted := make(chan struct{})
	h.prices.hook = func(context.Context) error {
		close(pricesStarted)
		if !waitOrTimeout(irradianceStarted) {
			return errors.New("irradiance fetch never started")
		}
		return nil
	}
	h.irradiance.hook = func(context.Context) error {
		close(irradianceStarted)
		if !waitOrTimeout(pricesStarted) {
			return errors.New("price fetch never started")
		}
		return nil
	}

	rec, err := h.svc.Day(context.Background(), h.svc.Tomorrow())
	require.NoError(t, err)
	assert.Equal(t, testPrices, rec.Prices)
	assert.Equal(t, testIrradiance, rec.Irradiance)
}

func TestDayPriceFailureCancelsIrradiance(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	irradianceStarted := make(chan struct{})
	var cancelled atomic.Bool
	h.prices.hook = func(context.Context) error {
		if !waitOrTimeout(irradianceStarted) {
			return errors.New("irradiance fetch never started")
		}
		return &fetcher.PriceDataNotAvailableError{Reason: "point array is empty"}
	}
	h.irradiance.hook = func(ctx context.Context) error {
		close(irradianceStarted)
		select {
		case <-ctx.Done():
			cancelled.Store(true)
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	}

	_, err := h.svc.Day(context.Background(), h.svc.Tomorrow())
	assert.ErrorIs(t, err, fetcher.ErrPriceDataNotAvailable)
	assert.True(t, cancelled.Load())
	assert.Empty(t, h.cache.records)
}

func TestRecommendNotifiesSummary(t *testing.T) {
	h := newHarness(t, testConfig(), fakeBattery{soc: 25})

	rec, err := h.svc.Recommend(context.Background(), h.svc.Tomorrow())
	require.NoError(t, err)
	assert.True(t, rec.ShouldCharge)
	assert.Equal(t, 2, rec.ChargeWindowStart)

	require.Len(t, h.notifier.messages, 1)
	assert.Equal(t, rec.SummaryText, h.notifier.messages[0].Text)
	assert.Empty(t, h.notifier.messages[0].Attachments)
}

func TestRecommendAttachesCharts(t *testing.T) {
	cfg := testConfig()
	cfg.Alerting.AttachCharts = true
	h := newHarness(t, cfg, fakeBattery{soc: 80})

	_, err := h.svc.Recommend(context.Background(), h.svc.Tomorrow())
	require.NoError(t, err)

	require.Len(t, h.notifier.messages, 1)
	atts := h.notifier.messages[0].Attachments
	require.Len(t, atts, 2)
	assert.Equal(t, "prices-2025-07-22.png", atts[0].Name)
	assert.Equal(t, "💰 Electricity prices for tomorrow", atts[0].Caption)
	assert.NotEmpty(t, atts[0].PNG)
	assert.Contains(t, atts[1].Caption, "Expected generation: ~4.6 kWh")
}

func TestRecommendPricesNotPublished(t *testing.T) {
	h := newHarness(t, testConfig(), fakeBattery{soc: 50})
	h.prices.err = &fetcher.PriceDataNotAvailableError{Date: "2025-07-22", Reason: "empty point array"}

	_, err := h.svc.Recommend(context.Background(), h.svc.Tomorrow())
	assert.ErrorIs(t, err, fetcher.ErrPriceDataNotAvailable)

	require.Len(t, h.notifier.messages, 1)
	assert.Contains(t, h.notifier.messages[0].Text, "⏰ Tomorrow's electricity prices are not yet published.")
	assert.Contains(t, h.notifier.messages[0].Text, "around 3 PM")
}

func TestRecommendGenericFailure(t *testing.T) {
	h := newHarness(t, testConfig(), fakeBattery{soc: 50})
	h.prices.err = &fetcher.HTTPStatusError{URL: "http://ote", StatusCode: 404}

	_, err := h.svc.Recommend(context.Background(), h.svc.Tomorrow())
	assert.Error(t, err)
	require.Len(t, h.notifier.messages, 1)
	assert.Contains(t, h.notifier.messages[0].Text, "❌ Error generating nightly recommendation")
}

func TestRecommendWithoutBattery(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	_, err := h.svc.Recommend(context.Background(), h.svc.Tomorrow())
	assert.ErrorIs(t, err, ErrNoBattery)
	require.Len(t, h.notifier.messages, 1)
}

func TestRecommendBatteryFailure(t *testing.T) {
	h := newHarness(t, testConfig(), fakeBattery{err: errors.New("sign verification error")})
	_, err := h.svc.Recommend(context.Background(), h.svc.Tomorrow())
	assert.ErrorContains(t, err, "sign verification error")
}

func TestRecommendContractViolation(t *testing.T) {
	h := newHarness(t, testConfig(), fakeBattery{soc: 150})
	_, err := h.svc.Recommend(context.Background(), h.svc.Tomorrow())
	assert.Error(t, err)
	require.Len(t, h.notifier.messages, 1)
	assert.Contains(t, h.notifier.messages[0].Text, "❌")
}

func TestRecommendNotifyFailureReturned(t *testing.T) {
	h := newHarness(t, testConfig(), fakeBattery{soc: 70})
	h.notifier.err = alerting.ErrNoRecipient

	rec, err := h.svc.Recommend(context.Background(), h.svc.Tomorrow())
	assert.ErrorIs(t, err, alerting.ErrNoRecipient)
	assert.False(t, rec.ShouldCharge)
}

func TestReportToday(t *testing.T) {
	cfg := testConfig()
	cfg.Alerting.AttachCharts = true
	h := newHarness(t, cfg, nil)

	require.NoError(t, h.svc.Report(context.Background(), h.svc.Today()))
	require.Len(t, h.notifier.messages, 1)
	msg := h.notifier.messages[0]
	assert.Contains(t, msg.Text, "📊 Today's Data:")
	assert.Contains(t, msg.Text, "~4.6 kWh")
	require.Len(t, msg.Attachments, 2)
	assert.Equal(t, "💰 Electricity prices for today", msg.Attachments[0].Caption)
}

func TestNightlyTargetsNextDay(t *testing.T) {
	h := newHarness(t, testConfig(), fakeBattery{soc: 90})
	loc := testConfig().Location()

	require.NoError(t, h.svc.Nightly(context.Background(), time.Date(2025, 7, 21, 18, 0, 0, 0, loc)))
	assert.Contains(t, h.cache.records, "2025-07-22")
}

func TestPendingTextForDate(t *testing.T) {
	assert.Contains(t, pendingText("2025-08-01"), "⏰ 2025-08-01's electricity prices")
	assert.Equal(t, "Tomorrow", capitalize("tomorrow"))
}
