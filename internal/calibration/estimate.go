// Package calibration maps daily irradiance onto expected PV generation.
//
// The model is a single ratio: kWh per unit of summed hourly W/m². Study
// derives the ratio offline from measured generation.
package calibration

// Estimate returns the expected generation in kWh for an hourly irradiance series.
func Estimate(irradiance []float64, ratio float64) float64 {
	return ratio * Total(irradiance)
}

// Total sums an hourly series.
func Total(series []float64) float64 {
	var total float64
	for _, v := range series {
		total += v
	}
	return total
}
