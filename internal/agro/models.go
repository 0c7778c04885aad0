// Package agro holds the domain types shared by the series generator, the
// prediction gateway, the insight rules and the orchestrator.
package agro

import "time"

// Domain identifies one snapshot pipeline. It doubles as the cache key.
type Domain string

const (
	DomainWeather Domain = "weather"
	DomainSoil    Domain = "soil"
)

// Valid reports whether d is a known domain.
func (d Domain) Valid() bool {
	return d == DomainWeather || d == DomainSoil
}

// Tracked returns the predicted variables of the domain in inference vector order.
func (d Domain) Tracked() []Variable {
	switch d {
	case DomainWeather:
		return []Variable{Temperature, Humidity}
	case DomainSoil:
		return []Variable{PH, Nitrogen, Phosphorus, Potassium}
	default:
		return nil
	}
}

// Reported returns every variable in the current reading of the domain, the
// tracked ones first.
func (d Domain) Reported() []Variable {
	if d == DomainSoil {
		return append(d.Tracked(), Moisture, OrganicMatter)
	}
	return d.Tracked()
}

// Trend is the direction of change between a current and a predicted value.
type Trend string

const (
	TrendAscending  Trend = "ascending"
	TrendDescending Trend = "descending"
	TrendStable     Trend = "stable"
)

// Level is the classification of a raw value against domain thresholds.
type Level string

const (
	LevelLow     Level = "low"
	LevelOptimal Level = "optimal"
	LevelHigh    Level = "high"
)

// Values maps variables to their readings.
type Values map[Variable]float64

// Clone returns an independent copy of v.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, x := range v {
		out[k] = x
	}
	return out
}

// Point is one timestamped sample of a series.
type Point struct {
	Time   time.Time `json:"time"`
	Values Values    `json:"values"`
}

// Series is a chronologically ordered sequence of points.
type Series []Point

// Last returns the most recent point, or false for an empty series.
func (s Series) Last() (Point, bool) {
	if len(s) == 0 {
		return Point{}, false
	}
	return s[len(s)-1], true
}

// PredictionSource tells whether a prediction came from the model or the local heuristic.
type PredictionSource string

const (
	SourceModel    PredictionSource = "model"
	SourceFallback PredictionSource = "fallback"
)

// Prediction is the forecast for the tracked variables of one domain.
// Values holds the next step; Steps holds every predicted step starting with Values.
type Prediction struct {
	Values     Values             `json:"values"`
	Steps      []Values           `json:"-"`
	Confidence float64            `json:"confidence"`
	Trend      map[Variable]Trend `json:"trend"`
	Source     PredictionSource   `json:"source"`
}

// Conditions carries the weather-only descriptive fields of an observation.
type Conditions struct {
	// Condition is the normalized category: clear, cloudy, rain, snow, storm or mist.
	Condition     string  `json:"condition"`
	Description   string  `json:"description"`
	ConditionCode int     `json:"conditionCode"`
	Pressure      float64 `json:"pressureHpa"`
	WindSpeed     float64 `json:"windSpeed"`
}

// ForecastStep is one future hour in the forecast list.
type ForecastStep struct {
	Time   time.Time `json:"time"`
	Values Values    `json:"values"`
}

// Snapshot is the complete result for one domain at a point in time.
// It is never mutated after construction and may be shared between callers.
type Snapshot struct {
	Domain          Domain             `json:"domain"`
	GeneratedAt     time.Time          `json:"generatedAt"`
	Current         Values             `json:"current"`
	Prediction      Prediction         `json:"prediction"`
	Levels          map[Variable]Level `json:"levels"`
	Alerts          []string           `json:"alerts"`
	Recommendations []string           `json:"recommendations"`
	Conditions      *Conditions        `json:"conditions,omitempty"`
	Forecast        []ForecastStep     `json:"forecast,omitempty"`
	Degraded        bool               `json:"degraded"`
}
