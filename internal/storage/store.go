package storage

import (
	"context"
	"time"

	"power-butler/internal/config"
)

// DayCache stores one record per calendar date.
type DayCache interface {
	Get(ctx context.Context, date time.Time) (Record, error)
	Put(ctx context.Context, date time.Time, prices, irradiance []float64) error
	// Cleanup deletes every record dated strictly before today and reports how many went.
	Cleanup(ctx context.Context, today time.Time) (int64, error)
	List(ctx context.Context) ([]Record, error)
}

// StateStore is a small key-value store for notifier state.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error
}

// Store aggregates the cache, the state store, and lifecycle.
type Store interface {
	DayCache
	StateStore
	Close() error
}

// Open selects the backend from configuration and prepares its schema.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	if cfg.DSN != "" {
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store := NewPostgres(pool)
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	}
	return OpenSQLite(ctx, cfg.Path)
}
