// Package recommend turns battery state and a day's price and irradiance
// series into a charge decision.
package recommend

import (
	"errors"
	"fmt"
	"math"

	"power-butler/internal/calibration"
)

const (
	hoursPerDay = 24
	windowHours = 3
	// Start hours 0..21; the last window covers hours 21-23.
	windowStarts = hoursPerDay - windowHours + 1

	defaultSolarStart = 12
	defaultSolarEnd   = 15
)

// ErrContractViolation marks malformed input to Decide.
var ErrContractViolation = errors.New("recommend: contract violation")

// ActionGridCharge is the control action emitted when charging is advised.
const ActionGridCharge = "grid_charge"

// Policy holds the decision thresholds.
type Policy struct {
	// Below CriticalSoC the battery is always charged.
	CriticalSoC float64
	// Below OpportunisticSoC the battery is charged when the cheapest
	// window mean is under CheapWindowRatio times the day mean.
	OpportunisticSoC float64
	CheapWindowRatio float64
	// Hours above SolarPeakFraction of peak irradiance form the solar window.
	SolarPeakFraction float64
	// SolarRatio converts summed irradiance to kWh.
	SolarRatio float64
	Currency   string
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{
		CriticalSoC:       30,
		OpportunisticSoC:  60,
		CheapWindowRatio:  0.7,
		SolarPeakFraction: 0.7,
		SolarRatio:        0.011509,
		Currency:          "€",
	}
}

// Action is an opaque control descriptor for the inverter side.
type Action struct {
	Kind      string
	StartHour int
	EndHour   int
}

// PriceStats summarises a price series.
type PriceStats struct {
	Min     float64
	MinHour int
	Max     float64
	MaxHour int
	Mean    float64
}

// Recommendation is the derived decision for one day.
type Recommendation struct {
	ShouldCharge          bool
	ChargeWindowStart     int
	ChargeWindowEnd       int
	ChargeWindowMean      float64
	BestSolarWindowStart  int
	BestSolarWindowEnd    int
	DailySolarEstimateKWh float64
	SoC                   float64
	Prices                PriceStats
	SummaryText           string
	ControlActions        []Action
}

// Engine applies a Policy. It holds no mutable state.
type Engine struct {
	policy Policy
}

// NewEngine returns an engine for the given policy.
func NewEngine(policy Policy) *Engine {
	return &Engine{policy: policy}
}

// Policy returns the engine's thresholds.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Decide computes the recommendation. Any well-formed input yields a result;
// malformed input returns an error wrapping ErrContractViolation.
func (e *Engine) Decide(soc float64, prices, irradiance []float64) (Recommendation, error) {
	if err := validate(soc, prices, irradiance); err != nil {
		return Recommendation{}, err
	}

	stats := priceStats(prices)
	start, windowMean := cheapestWindow(prices)
	solarStart, solarEnd := solarWindow(irradiance, e.policy.SolarPeakFraction)

	rec := Recommendation{
		ShouldCharge:          e.shouldCharge(soc, windowMean, stats.Mean),
		ChargeWindowStart:     start,
		ChargeWindowEnd:       (start + windowHours) % hoursPerDay,
		ChargeWindowMean:      windowMean,
		BestSolarWindowStart:  solarStart,
		BestSolarWindowEnd:    solarEnd,
		DailySolarEstimateKWh: calibration.Estimate(irradiance, e.policy.SolarRatio),
		SoC:                   soc,
		Prices:                stats,
	}
	if rec.ShouldCharge {
		rec.ControlActions = []Action{{Kind: ActionGridCharge, StartHour: rec.ChargeWindowStart, EndHour: rec.ChargeWindowEnd}}
	}
	rec.SummaryText = summary(rec, e.policy.Currency)
	return rec, nil
}

func (e *Engine) shouldCharge(soc, windowMean, mean float64) bool {
	if soc < e.policy.CriticalSoC {
		return true
	}
	return soc < e.policy.OpportunisticSoC && windowMean < e.policy.CheapWindowRatio*mean
}

func validate(soc float64, prices, irradiance []float64) error {
	if math.IsNaN(soc) || soc < 0 || soc > 100 {
		return fmt.Errorf("%w: state of charge %v outside [0,100]", ErrContractViolation, soc)
	}
	if len(prices) != hoursPerDay {
		return fmt.Errorf("%w: got %d prices, want %d", ErrContractViolation, len(prices), hoursPerDay)
	}
	if len(irradiance) != hoursPerDay {
		return fmt.Errorf("%w: got %d irradiance values, want %d", ErrContractViolation, len(irradiance), hoursPerDay)
	}
	for h, v := range prices {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: price at hour %d is %v", ErrContractViolation, h, v)
		}
	}
	for h, v := range irradiance {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: irradiance at hour %d is %v", ErrContractViolation, h, v)
		}
	}
	return nil
}

func priceStats(prices []float64) PriceStats {
	stats := PriceStats{Min: prices[0], Max: prices[0]}
	var total float64
	for h, v := range prices {
		total += v
		if v < stats.Min {
			stats.Min, stats.MinHour = v, h
		}
		if v > stats.Max {
			stats.Max, stats.MaxHour = v, h
		}
	}
	stats.Mean = total / float64(len(prices))
	return stats
}

// cheapestWindow returns the first start hour with the lowest 3-hour mean.
func cheapestWindow(prices []float64) (int, float64) {
	best, bestMean := 0, math.Inf(1)
	for start := 0; start < windowStarts; start++ {
		var sum float64
		for _, v := range prices[start : start+windowHours] {
			sum += v
		}
		if mean := sum / windowHours; mean < bestMean {
			best, bestMean = start, mean
		}
	}
	return best, bestMean
}

func solarWindow(irradiance []float64, fraction float64) (int, int) {
	peak := irradiance[0]
	for _, v := range irradiance {
		peak = math.Max(peak, v)
	}
	threshold := peak * fraction

	start, end := -1, -1
	for h, v := range irradiance {
		if v > threshold {
			if start < 0 {
				start = h
			}
			end = h
		}
	}
	if start < 0 {
		return defaultSolarStart, defaultSolarEnd
	}
	return start, end
}
