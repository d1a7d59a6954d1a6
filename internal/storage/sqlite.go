package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	sqliteCreateCacheSQL = `CREATE TABLE IF NOT EXISTS energy_cache (
        date       TEXT PRIMARY KEY,
        prices     TEXT NOT NULL,
        irradiance TEXT NOT NULL,
        cached_at  TEXT NOT NULL
    );`

	sqliteCreateStateSQL = `CREATE TABLE IF NOT EXISTS kv_state (
        key        TEXT PRIMARY KEY,
        value      TEXT NOT NULL,
        updated_at TEXT NOT NULL
    );`

	sqliteUpsertSQL = `INSERT INTO energy_cache (date, prices, irradiance, cached_at)
    VALUES (?, ?, ?, ?)
    ON CONFLICT (date) DO UPDATE
    SET prices     = excluded.prices,
        irradiance = excluded.irradiance,
        cached_at  = excluded.cached_at;`

	sqliteGetSQL     = `SELECT date, prices, irradiance, cached_at FROM energy_cache WHERE date = ?;`
	sqliteListSQL    = `SELECT date, prices, irradiance, cached_at FROM energy_cache ORDER BY date;`
	sqliteCleanupSQL = `DELETE FROM energy_cache WHERE date < ?;`

	sqliteGetStateSQL = `SELECT value FROM kv_state WHERE key = ?;`
	sqliteSetStateSQL = `INSERT INTO kv_state (key, value, updated_at) VALUES (?, ?, ?)
    ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at;`
)

var legacyCacheColumns = []string{"price_graph", "irradiance_graph"}

// Older databases also cached rendered charts; the rebuild keeps the data columns.
var sqliteRebuildCache = []string{
	`CREATE TABLE energy_cache_rebuild (
        date       TEXT PRIMARY KEY,
        prices     TEXT NOT NULL,
        irradiance TEXT NOT NULL,
        cached_at  TEXT NOT NULL
    );`,
	`INSERT INTO energy_cache_rebuild (date, prices, irradiance, cached_at)
        SELECT date, prices, irradiance, COALESCE(cached_at, '')
        FROM energy_cache
        WHERE prices IS NOT NULL AND irradiance IS NOT NULL;`,
	`DROP TABLE energy_cache;`,
	`ALTER TABLE energy_cache_rebuild RENAME TO energy_cache;`,
}

// SQLite is the local single-file backend.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and migrates it.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, storageErr("create directory", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, storageErr("open", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, storageErr("ping", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	columns, err := s.cacheColumns(ctx)
	if err != nil {
		return err
	}
	if hasAny(columns, legacyCacheColumns) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return storageErr("begin migration", err)
		}
		for _, stmt := range sqliteRebuildCache {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return storageErr("rebuild energy_cache", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return storageErr("commit migration", err)
		}
	}

	for _, stmt := range []string{sqliteCreateCacheSQL, sqliteCreateStateSQL} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return storageErr("create schema", err)
		}
	}
	return nil
}

func (s *SQLite) cacheColumns(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `PRAGMA table_info(energy_cache);`)
	if err != nil {
		return nil, storageErr("inspect schema", err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &pk); err != nil {
			return nil, storageErr("inspect schema", err)
		}
		columns[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("inspect schema", err)
	}
	return columns, nil
}

func hasAny(columns map[string]bool, names []string) bool {
	for _, name := range names {
		if columns[name] {
			return true
		}
	}
	return false
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the record cached for date.
func (s *SQLite) Get(ctx context.Context, date time.Time) (Record, error) {
	row := s.db.QueryRowContext(ctx, sqliteGetSQL, DateKey(date))
	rec, err := scanSQLiteRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, storageErr("get", err)
	}
	return rec, nil
}

// Put replaces the record for date.
func (s *SQLite) Put(ctx context.Context, date time.Time, prices, irradiance []float64) error {
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

	cachedAt := s.now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, sqliteUpsertSQL, DateKey(date), pricesJSON, irradianceJSON, cachedAt); err != nil {
		return storageErr("put", err)
	}
	return nil
}

// Cleanup removes every record dated before today.
func (s *SQLite) Cleanup(ctx context.Context, today time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, sqliteCleanupSQL, DateKey(today))
	if err != nil {
		return 0, storageErr("cleanup", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("cleanup", err)
	}
	return n, nil
}

// List returns all cached records ordered by date.
func (s *SQLite) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, sqliteListSQL)
	if err != nil {
		return nil, storageErr("list", err)
	}
	defer rows.Close()

	records := make([]Record, 0, 2)
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
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
func (s *SQLite) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, sqliteGetStateSQL, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", storageErr("get state", err)
	}
	return value, nil
}

// SetState upserts key.
func (s *SQLite) SetState(ctx context.Context, key, value string) error {
	updatedAt := s.now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, sqliteSetStateSQL, key, value, updatedAt); err != nil {
		return storageErr("set state", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row rowScanner) (Record, error) {
	var dateKey, prices, irradiance, cachedAtStr string
	if err := row.Scan(&dateKey, &prices, &irradiance, &cachedAtStr); err != nil {
		return Record{}, err
	}
	cachedAt, err := parseCachedAt(cachedAtStr)
	if err != nil {
		return Record{}, err
	}
	return decodeRecord(dateKey, prices, irradiance, cachedAt)
}

// parseCachedAt also accepts the CURRENT_TIMESTAMP format written by legacy databases.
func parseCachedAt(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.DateTime} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse cached_at %q", value)
}

var _ Store = (*SQLite)(nil)
