package insight

import (
	"github.com/i474232898/agro-forecast/internal/agro"
)

// Analyzer applies the configured thresholds. The zero value is not usable; use New.
type Analyzer struct {
	trendThreshold float64
	thresholds     Thresholds
}

// New creates an Analyzer. A non-positive trendThreshold selects the default, and
// a nil thresholds map selects DefaultThresholds.
func New(trendThreshold float64, thresholds Thresholds) *Analyzer {
	if trendThreshold <= 0 {
		trendThreshold = DefaultTrendThreshold
	}
	if thresholds == nil {
		thresholds = DefaultThresholds()
	}
	return &Analyzer{trendThreshold: trendThreshold, thresholds: thresholds}
}

// Trends labels every variable present in both current and predicted.
func (a *Analyzer) Trends(current, predicted agro.Values) map[agro.Variable]agro.Trend {
	out := make(map[agro.Variable]agro.Trend, len(predicted))
	for v, p := range predicted {
		c, ok := current[v]
		if !ok {
			continue
		}
		out[v] = TrendOf(c, p, a.trendThreshold)
	}
	return out
}

// Levels classifies every variable of values that has configured bounds.
func (a *Analyzer) Levels(values agro.Values) map[agro.Variable]agro.Level {
	out := make(map[agro.Variable]agro.Level, len(values))
	for v, x := range values {
		b, ok := a.thresholds[v]
		if !ok {
			continue
		}
		out[v] = Classify(x, b)
	}
	return out
}
