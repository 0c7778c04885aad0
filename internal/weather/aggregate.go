package weather

import (
	"sort"
	"time"
)

// AggregateReadings combines provider readings into a single Observation.
// Numeric fields are averaged; the condition is picked by majority, ties going
// to the provider that sorts first by name. Description and code come from the
// first reading carrying the chosen condition.
func AggregateReadings(loc Location, readings []ProviderReading, now time.Time) Observation {
	if len(readings) == 0 {
		return Observation{
			Location:  loc,
			Timestamp: now.UTC(),
			Condition: ConditionUnknown,
		}
	}

	sorted := make([]ProviderReading, len(readings))
	copy(sorted, readings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ProviderName < sorted[j].ProviderName
	})

	var (
		sumTemp     float64
		sumHumidity float64
		sumWind     float64
		sumPressure float64
		sumPrecip   float64
	)

	conditionCounts := make(map[Condition]int)
	providers := make([]ProviderContribution, 0, len(sorted))
	var newestTS time.Time

	for _, r := range sorted {
		sumTemp += r.TemperatureC
		sumHumidity += r.HumidityPct
		sumWind += r.WindSpeedMS
		sumPressure += r.PressureHpa
		sumPrecip += r.PrecipMm

		conditionCounts[r.Condition]++

		if r.Timestamp.After(newestTS) {
			newestTS = r.Timestamp
		}

		providers = append(providers, ProviderContribution{
			ProviderName: r.ProviderName,
			Timestamp:    r.Timestamp,
		})
	}

	n := float64(len(sorted))

	best := sorted[0]
	bestCount := 0
	for _, r := range sorted {
		if c := conditionCounts[r.Condition]; c > bestCount {
			bestCount = c
			best = r
		}
	}

	if newestTS.IsZero() {
		newestTS = now
	}

	return Observation{
		Location:      loc,
		Timestamp:     newestTS.UTC(),
		Temperature:   sumTemp / n,
		Humidity:      sumHumidity / n,
		WindSpeed:     sumWind / n,
		Pressure:      sumPressure / n,
		PrecipMM:      sumPrecip / n,
		Condition:     best.Condition,
		Description:   best.Description,
		ConditionCode: best.ConditionCode,
		Providers:     providers,
	}
}
