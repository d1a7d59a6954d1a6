package storage

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"power-butler/internal/config"
)

// Runs only against a disposable database named by POWERBUTLER_TEST_PG_DSN.
func TestPostgresRoundTripAndCleanup(t *testing.T) {
	dsn := os.Getenv("POWERBUTLER_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("POWERBUTLER_TEST_PG_DSN not set")
	}
	ctx := context.Background()

	store, err := Open(ctx, config.StorageConfig{DSN: dsn, MaxOpenConns: 2})
	require.NoError(t, err)
	defer store.Close()

	today := day(2031, 3, 10)
	prices := series(func(h int) float64 { return float64(h) - 3.25 })
	irradiance := series(func(h int) float64 { return float64(h * 10) })

	for _, d := range []int{-1, 0, 1} {
		require.NoError(t, store.Put(ctx, today.AddDate(0, 0, d), prices, irradiance))
	}

	rec, err := store.Get(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, prices, rec.Prices)
	assert.Equal(t, irradiance, rec.Irradiance)

	removed, err := store.Cleanup(ctx, today)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, removed, int64(1))

	_, err = store.Get(ctx, today.AddDate(0, 0, -1))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SetState(ctx, "test.key", "v"))
	value, err := store.GetState(ctx, "test.key")
	require.NoError(t, err)
	assert.Equal(t, "v", value)

	_, err = store.Cleanup(ctx, today.AddDate(0, 0, 5))
	require.NoError(t, err)
}

func TestPostgresNotConfigured(t *testing.T) {
	var store *Postgres
	_, err := store.Get(context.Background(), day(2025, 1, 1))
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.NoError(t, store.Close())
}
