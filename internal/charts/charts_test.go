package charts

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPricesPNG(t *testing.T) {
	prices := make([]float64, 24)
	for h := range prices {
		prices[h] = float64(80 + 10*(h%6) - 40)
	}

	img, err := Prices("Electricity prices 2025-07-22", "€", prices)
	require.NoError(t, err)

	cfg, err := png.DecodeConfig(bytes.NewReader(img))
	require.NoError(t, err)
	assert.Equal(t, width, cfg.Width)
	assert.Equal(t, height, cfg.Height)
}

func TestIrradianceFlatZero(t *testing.T) {
	img, err := Irradiance("Solar irradiance", make([]float64, 24))
	require.NoError(t, err)
	_, err = png.DecodeConfig(bytes.NewReader(img))
	assert.NoError(t, err)
}

func TestEmptySeries(t *testing.T) {
	_, err := Prices("x", "€", nil)
	assert.ErrorIs(t, err, ErrEmptySeries)
}

func TestYRange(t *testing.T) {
	lo, hi := yRange([]float64{0, 100}, true)
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 105.0, hi)

	lo, hi = yRange([]float64{-10, 10}, false)
	assert.Equal(t, -11.0, lo)
	assert.Equal(t, 11.0, hi)

	lo, hi = yRange([]float64{5, 5}, false)
	assert.Equal(t, 4.0, lo)
	assert.Equal(t, 6.0, hi)
}
