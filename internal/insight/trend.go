// Package insight derives discrete labels and human-readable advice from
// continuous readings. Everything here is pure and deterministic.
package insight

import (
	"math"

	"github.com/i474232898/agro-forecast/internal/agro"
)

// DefaultTrendThreshold is the relative change, as a fraction of |current|, that
// separates a real move from noise.
const DefaultTrendThreshold = 0.05

// TrendOf labels the move from current to predicted. The move must exceed
// threshold*|current| in either direction to count.
func TrendOf(current, predicted, threshold float64) agro.Trend {
	delta := predicted - current
	limit := math.Abs(current) * threshold
	switch {
	case delta > limit:
		return agro.TrendAscending
	case delta < -limit:
		return agro.TrendDescending
	default:
		return agro.TrendStable
	}
}

// Bounds separates low from optimal (Low) and optimal from high (High).
// Both boundaries belong to the optimal band.
type Bounds struct {
	Low  float64
	High float64
}

// Classify places value against b.
func Classify(value float64, b Bounds) agro.Level {
	switch {
	case value < b.Low:
		return agro.LevelLow
	case value > b.High:
		return agro.LevelHigh
	default:
		return agro.LevelOptimal
	}
}

// Thresholds holds per-variable bounds. Nutrients have distinct bounds.
type Thresholds map[agro.Variable]Bounds

// DefaultThresholds returns the agronomic bounds used unless configured otherwise.
func DefaultThresholds() Thresholds {
	return Thresholds{
		agro.PH:          {Low: 6.0, High: 8.0},
		agro.Nitrogen:    {Low: 30, High: 60},
		agro.Phosphorus:  {Low: 15, High: 40},
		agro.Potassium:   {Low: 20, High: 50},
		agro.Moisture:    {Low: 20, High: 60},
		agro.Temperature: {Low: 10, High: 32},
		agro.Humidity:    {Low: 40, High: 80},
	}
}
