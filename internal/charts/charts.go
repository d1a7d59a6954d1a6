// Package charts renders hourly day series as PNG images.
package charts

import (
	"bytes"
	"errors"
	"fmt"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

const (
	width  = 1024
	height = 512
)

// ErrEmptySeries is returned for a series without values.
var ErrEmptySeries = errors.New("charts: empty series")

// Prices renders an hourly price curve.
func Prices(title, currency string, prices []float64) ([]byte, error) {
	return render(hourlyChart{
		title:  title,
		yName:  fmt.Sprintf("Price (%s/MWh)", currency),
		format: "%.1f",
		color:  chart.ColorBlue,
		values: prices,
	})
}

// Irradiance renders an hourly tilted-irradiance curve.
func Irradiance(title string, irradiance []float64) ([]byte, error) {
	return render(hourlyChart{
		title:   title,
		yName:   "Irradiance (W/m²)",
		format:  "%.0f",
		color:   chart.ColorOrange,
		values:  irradiance,
		fromNil: true,
	})
}

type hourlyChart struct {
	title  string
	yName  string
	format string
	color  drawing.Color
	values []float64
	// fromNil pins the y axis at zero.
	fromNil bool
}

func render(c hourlyChart) ([]byte, error) {
	if len(c.values) == 0 {
		return nil, ErrEmptySeries
	}

	hours := make([]float64, len(c.values))
	ticks := make([]chart.Tick, 0, len(c.values)/3+1)
	for h := range c.values {
		hours[h] = float64(h)
		if h%3 == 0 {
			ticks = append(ticks, chart.Tick{Value: float64(h), Label: fmt.Sprintf("%02d", h)})
		}
	}

	lo, hi := yRange(c.values, c.fromNil)
	formatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, c.format)
	}
	graph := chart.Chart{
		Title:  c.title,
		Width:  width,
		Height: height,
		XAxis: chart.XAxis{
			Name:  "Hour",
			Ticks: ticks,
		},
		YAxis: chart.YAxis{
			Name:           c.yName,
			Range:          &chart.ContinuousRange{Min: lo, Max: hi},
			ValueFormatter: formatter,
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    c.yName,
				XValues: hours,
				YValues: c.values,
				Style: chart.Style{
					StrokeColor: c.color,
					StrokeWidth: 2,
					FillColor:   c.color.WithAlpha(48),
				},
			},
		},
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render %q: %w", c.title, err)
	}
	return buf.Bytes(), nil
}

// yRange pads the series extremes; a flat series gets a unit band.
func yRange(values []float64, fromNil bool) (float64, float64) {
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	if fromNil && lo > 0 {
		lo = 0
	}
	span := hi - lo
	if span == 0 {
		return lo - 1, hi + 1
	}
	pad := span * 0.05
	if fromNil && lo == 0 {
		return 0, hi + pad
	}
	return lo - pad, hi + pad
}
