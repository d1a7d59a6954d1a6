package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var prague = Site{Latitude: 50.08, Longitude: 14.42, Tilt: 35, Azimuth: -10, Timezone: "Europe/Prague"}

func openMeteoDay(day string, hours int, value func(h int) any) map[string]any {
	times := make([]string, hours)
	values := make([]any, hours)
	for h := 0; h < hours; h++ {
		times[h] = fmt.Sprintf("%sT%02d:00", day, h)
		values[h] = value(h)
	}
	return map[string]any{
		"hourly": map[string]any{
			"time":                     times,
			"global_tilted_irradiance": values,
		},
	}
}

type meteoServer struct {
	srv        *httptest.Server
	forecast   atomic.Int32
	historical atomic.Int32
	lastQuery  atomic.Value
}

func newMeteoServer(t *testing.T, handler func(w http.ResponseWriter, q url.Values)) *meteoServer {
	m := &meteoServer{}
	m.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/forecast":
			m.forecast.Add(1)
		case "/historical":
			m.historical.Add(1)
		}
		m.lastQuery.Store(r.URL.Query())
		handler(w, r.URL.Query())
	}))
	t.Cleanup(m.srv.Close)
	return m
}

func (m *meteoServer) client(fixedNow time.Time, cacheTTL time.Duration) *Irradiance {
	c := NewIrradiance(IrradianceOptions{
		ForecastURL:   m.srv.URL + "/forecast",
		HistoricalURL: m.srv.URL + "/historical",
		Retry:         fastRetry,
	}, NewHTTPClient(time.Second, "power-butler-test", cacheTTL), noopLogger())
	c.now = func() time.Time { return fixedNow }
	return c
}

func TestFetchIrradianceForecast(t *testing.T) {
	m := newMeteoServer(t, func(w http.ResponseWriter, q url.Values) {
		_ = json.NewEncoder(w).Encode(openMeteoDay(q.Get("start_date"), 24, func(h int) any {
			if h < 6 || h > 18 {
				return 0
			}
			return float64(100 * (h - 5))
		}))
	})
	loc, _ := time.LoadLocation(prague.Timezone)
	now := time.Date(2025, 7, 21, 17, 0, 0, 0, loc)

	values, err := m.client(now, 0).FetchIrradiance(context.Background(), now.AddDate(0, 0, 1), prague)
	require.NoError(t, err)
	require.Len(t, values, HoursPerDay)
	assert.Equal(t, 0.0, values[5])
	assert.Equal(t, 700.0, values[12])
	assert.EqualValues(t, 1, m.forecast.Load())
	assert.Zero(t, m.historical.Load())

	q := m.lastQuery.Load().(url.Values)
	assert.Equal(t, "2025-07-22", q.Get("start_date"))
	assert.Equal(t, "2025-07-22", q.Get("end_date"))
	assert.Equal(t, "global_tilted_irradiance", q.Get("hourly"))
	assert.Equal(t, "35", q.Get("tilt"))
	assert.Equal(t, "-10", q.Get("azimuth"))
	assert.Equal(t, "50.08", q.Get("latitude"))
	assert.Equal(t, "Europe/Prague", q.Get("timezone"))
}

func TestFetchIrradiancePastDateUsesHistorical(t *testing.T) {
	m := newMeteoServer(t, func(w http.ResponseWriter, q url.Values) {
		_ = json.NewEncoder(w).Encode(openMeteoDay(q.Get("start_date"), 24, func(int) any { return 10 }))
	})
	loc, _ := time.LoadLocation(prague.Timezone)
	now := time.Date(2025, 7, 21, 9, 0, 0, 0, loc)

	_, err := m.client(now, 0).FetchIrradiance(context.Background(), now.AddDate(0, 0, -3), prague)
	require.NoError(t, err)
	assert.EqualValues(t, 1, m.historical.Load())
	assert.Zero(t, m.forecast.Load())
}

func TestFetchIrradianceNullsAndDST(t *testing.T) {
	m := newMeteoServer(t, func(w http.ResponseWriter, q url.Values) {
		day := q.Get("start_date")
		// 25 points: hour 02 repeats on the autumn transition.
		times := []string{}
		values := []any{}
		for h := 0; h < 24; h++ {
			times = append(times, fmt.Sprintf("%sT%02d:00", day, h))
			values = append(values, 40)
			if h == 2 {
				times = append(times, fmt.Sprintf("%sT%02d:00", day, h))
				values = append(values, 20)
			}
		}
		values[0] = nil
		_ = json.NewEncoder(w).Encode(map[string]any{"hourly": map[string]any{"time": times, "global_tilted_irradiance": values}})
	})
	loc, _ := time.LoadLocation(prague.Timezone)
	now := time.Date(2025, 10, 25, 12, 0, 0, 0, loc)

	values, err := m.client(now, 0).FetchIrradiance(context.Background(), now.AddDate(0, 0, 1), prague)
	require.NoError(t, err)
	require.Len(t, values, HoursPerDay)
	assert.Equal(t, 0.0, values[0])
	assert.Equal(t, 30.0, values[2])
	assert.Equal(t, 40.0, values[3])
}

func TestFetchIrradianceRejectsNegative(t *testing.T) {
	m := newMeteoServer(t, func(w http.ResponseWriter, q url.Values) {
		_ = json.NewEncoder(w).Encode(openMeteoDay(q.Get("start_date"), 24, func(h int) any { return -1 }))
	})
	_, err := m.client(time.Now(), 0).FetchIrradiance(context.Background(), time.Now(), prague)
	assert.ErrorContains(t, err, "negative irradiance")
}

func TestFetchIrradianceBadRequestReason(t *testing.T) {
	m := newMeteoServer(t, func(w http.ResponseWriter, q url.Values) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": true, "reason": "Latitude must be in range of -90 to 90°."})
	})
	c := m.client(time.Now(), 0)
	_, err := c.FetchIrradiance(context.Background(), time.Now(), prague)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Latitude must be in range")
	assert.EqualValues(t, 1, m.forecast.Load())
}

func TestFetchIrradianceTransportCache(t *testing.T) {
	m := newMeteoServer(t, func(w http.ResponseWriter, q url.Values) {
		_ = json.NewEncoder(w).Encode(openMeteoDay(q.Get("start_date"), 24, func(int) any { return 1 }))
	})
	loc, _ := time.LoadLocation(prague.Timezone)
	now := time.Date(2025, 7, 21, 9, 0, 0, 0, loc)
	c := m.client(now, time.Hour)

	for i := 0; i < 3; i++ {
		_, err := c.FetchIrradiance(context.Background(), now, prague)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, m.forecast.Load())
}

func TestFetchIrradianceRejectsUnknownTimezone(t *testing.T) {
	c := NewIrradiance(IrradianceOptions{}, nil, noopLogger())
	_, err := c.FetchIrradiance(context.Background(), time.Now(), Site{Timezone: "Nowhere/Land"})
	assert.Error(t, err)
}
