package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// HoursPerDay is the length of every stored series.
const HoursPerDay = 24

var (
	// ErrNotFound is returned by Get when no record exists for the date.
	ErrNotFound = errors.New("storage: record not found")
	// ErrInvalidRecord rejects series that are not exactly 24 points long.
	ErrInvalidRecord = errors.New("storage: invalid record")
)

// StorageError wraps a failure of the underlying store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// Record is the cached price and irradiance data of one calendar date.
type Record struct {
	Date       time.Time
	Prices     []float64
	Irradiance []float64
	CachedAt   time.Time
}

// DateKey formats the calendar date of t, in t's own location, as the primary key.
func DateKey(t time.Time) string {
	return t.Format(time.DateOnly)
}

func parseDateKey(key string) (time.Time, error) {
	return time.Parse(time.DateOnly, key)
}

func validateSeries(prices, irradiance []float64) error {
	if len(prices) != HoursPerDay {
		return fmt.Errorf("%w: %d prices, want %d", ErrInvalidRecord, len(prices), HoursPerDay)
	}
	if len(irradiance) != HoursPerDay {
		return fmt.Errorf("%w: %d irradiance values, want %d", ErrInvalidRecord, len(irradiance), HoursPerDay)
	}
	return nil
}

func encodeSeries(values []float64) (string, error) {
	payload, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func decodeSeries(payload string) ([]float64, error) {
	var values []float64
	if err := json.Unmarshal([]byte(payload), &values); err != nil {
		return nil, err
	}
	return values, nil
}

func decodeRecord(dateKey, prices, irradiance string, cachedAt time.Time) (Record, error) {
	date, err := parseDateKey(dateKey)
	if err != nil {
		return Record{}, fmt.Errorf("parse date %q: %w", dateKey, err)
	}
	rec := Record{Date: date, CachedAt: cachedAt}
	if rec.Prices, err = decodeSeries(prices); err != nil {
		return Record{}, fmt.Errorf("decode prices for %s: %w", dateKey, err)
	}
	if rec.Irradiance, err = decodeSeries(irradiance); err != nil {
		return Record{}, fmt.Errorf("decode irradiance for %s: %w", dateKey, err)
	}
	return rec, nil
}
