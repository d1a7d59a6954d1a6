package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"power-butler/internal/config"
)

// ErrNotConfigured indicates the storage pool was not initialised.
var ErrNotConfigured = errors.New("storage: pool not configured")

const (
	pgCreateCacheSQL = `CREATE TABLE IF NOT EXISTS energy_cache (
        date       DATE PRIMARY KEY,
        prices     TEXT NOT NULL,
        irradiance TEXT NOT NULL,
        cached_at  TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	pgCreateStateSQL = `CREATE TABLE IF NOT EXISTS kv_state (
        key        TEXT PRIMARY KEY,
        value      TEXT NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	pgDropLegacySQL = `ALTER TABLE energy_cache
        DROP COLUMN IF EXISTS price_graph,
        DROP COLUMN IF EXISTS irradiance_graph;`

	pgUpsertSQL = `INSERT INTO energy_cache (date, prices, irradiance, cached_at)
    VALUES ($1::date, $2, $3, $4)
    ON CONFLICT (date) DO UPDATE
    SET prices     = EXCLUDED.prices,
        irradiance = EXCLUDED.irradiance,
        cached_at  = EXCLUDED.cached_at;`

	pgGetSQL = `SELECT date::text, prices, irradiance, cached_at
    FROM energy_cache
    WHERE date = $1::date;`

	pgListSQL = `SELECT date::text, prices, irradiance, cached_at
    FROM energy_cache
    ORDER BY date;`

	pgCleanupSQL = `DELETE FROM energy_cache WHERE date < $1::date;`

	pgGetStateSQL = `SELECT value FROM kv_state WHERE key = $1;`
	pgSetStateSQL = `INSERT INTO kv_state (key, value, updated_at) VALUES ($1, $2, now())
    ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at;`
)

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.StorageConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, storageErr("create pgx pool", err)
	}
	return pool, nil
}

// Postgres is the shared-database backend.
type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgres wires a pgx pool into a Postgres store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, now: time.Now}
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *Postgres) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Migrate creates the schema and drops columns left over from chart caching.
func (s *Postgres) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range []string{pgCreateCacheSQL, pgDropLegacySQL, pgCreateStateSQL} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return storageErr("migrate", err)
		}
	}
	return nil
}

// Get returns the record cached for date.
func (s *Postgres) Get(ctx context.Context, date time.Time) (Record, error) {
	pool, err := s.getPool()
	if err != nil {
		return Record{}, err
	}
	rec, err := scanPgRecord(pool.QueryRow(ctx, pgGetSQL, DateKey(date)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, storageErr("get", err)
	}
	return rec, nil
}

// Put replaces the record for date.
func (s *Postgres) Put(ctx context.Context, date time.Time, prices, irradiance []float64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if err := validateSeries(prices, irradiance); err != nil {
		return err
	}
	pricesJSON, err := encodeSeries(prices)
	if err != nil {
		return fmt.Errorf("encode prices: %w", err)
	}
	irradianceJSON, err := encodeSeries(irradiance)
	if err != nil {
		return fmt.Errorf("encode irradiance: %w", err)
	}

	if _, err := pool.Exec(ctx, pgUpsertSQL, DateKey(date), pricesJSON, irradianceJSON, s.now().UTC()); err != nil {
		return storageErr("put", err)
	}
	return nil
}

// Cleanup removes every record dated before today.
func (s *Postgres) Cleanup(ctx context.Context, today time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, err := pool.Exec(ctx, pgCleanupSQL, DateKey(today))
	if err != nil {
		return 0, storageErr("cleanup", err)
	}
	return tag.RowsAffected(), nil
}

// List returns all cached records ordered by date.
func (s *Postgres) List(ctx context.Context) ([]Record, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, pgListSQL)
	if err != nil {
		return nil, storageErr("list", err)
	}
	defer rows.Close()

	records := make([]Record, 0, 2)
	for rows.Next() {
		rec, err := scanPgRecord(rows)
		if err != nil {
			return nil, storageErr("list", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list", err)
	}
	return records, nil
}

// GetState returns the stored value for key, or ErrNotFound.
func (s *Postgres) GetState(ctx context.Context, key string) (string, error) {
	pool, err := s.getPool()
	if err != nil {
		return "", err
	}
	var value string
	err = pool.QueryRow(ctx, pgGetStateSQL, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", storageErr("get state", err)
	}
	return value, nil
}

// SetState upserts key.
func (s *Postgres) SetState(ctx context.Context, key, value string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, pgSetStateSQL, key, value); err != nil {
		return storageErr("set state", err)
	}
	return nil
}

func scanPgRecord(row pgx.Row) (Record, error) {
	var (
		dateKey    string
		prices     string
		irradiance string
		cachedAt   time.Time
	)
	if err := row.Scan(&dateKey, &prices, &irradiance, &cachedAt); err != nil {
		return Record{}, err
	}
	return decodeRecord(dateKey, prices, irradiance, cachedAt)
}

var _ Store = (*Postgres)(nil)
