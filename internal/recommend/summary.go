package recommend

import (
	"fmt"
	"strings"
)

func clock(hour int) string {
	return fmt.Sprintf("%02d:00", hour)
}

func summary(rec Recommendation, currency string) string {
	var b strings.Builder
	p := rec.Prices
	window := clock(rec.ChargeWindowStart) + "-" + clock(rec.ChargeWindowEnd)

	b.WriteString("🔋 Energy Update for Tomorrow\n\n")
	b.WriteString("💰 Electricity Prices:\n")
	fmt.Fprintf(&b, "• Min: %s%.1f/MWh at %s\n", currency, p.Min, clock(p.MinHour))
	fmt.Fprintf(&b, "• Max: %s%.1f/MWh at %s\n", currency, p.Max, clock(p.MaxHour))
	fmt.Fprintf(&b, "• Average: %s%.1f/MWh\n\n", currency, p.Mean)
	fmt.Fprintf(&b, "☀️ Solar Forecast: ~%.1f kWh expected\n\n", rec.DailySolarEstimateKWh)
	fmt.Fprintf(&b, "🔋 Current Battery: %.0f%%\n\n", rec.SoC)

	b.WriteString("⚡ Recommendation:\n")
	if rec.ShouldCharge {
		fmt.Fprintf(&b, "✅ CHARGE %s (cheapest window)\n\n", window)
	} else {
		b.WriteString("⏸️ No charging needed - sufficient battery level\n\n")
	}

	b.WriteString("🚗 Car Charging Advice:\n")
	fmt.Fprintf(&b, "• 💰 Cheapest grid charging: %s (%s%.1f/MWh avg)\n", window, currency, rec.ChargeWindowMean)
	fmt.Fprintf(&b, "• ☀️ Best solar charging: %s-%s (peak sun)", clock(rec.BestSolarWindowStart), clock(rec.BestSolarWindowEnd))
	return b.String()
}
