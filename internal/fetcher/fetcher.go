package fetcher

import (
	"context"
	"time"
)

// HoursPerDay is the length of every series returned by the fetchers.
const HoursPerDay = 24

// PriceFetcher retrieves the hourly day-ahead price curve of one date.
type PriceFetcher interface {
	FetchPrices(ctx context.Context, date time.Time) ([]float64, error)
}

// IrradianceFetcher retrieves hourly tilted irradiance of one local day.
type IrradianceFetcher interface {
	FetchIrradiance(ctx context.Context, date time.Time, site Site) ([]float64, error)
}

// Site locates and orients the panels.
type Site struct {
	Latitude  float64
	Longitude float64
	Tilt      float64
	Azimuth   float64
	Timezone  string
}
