package weather

import (
	"context"
	"time"
)

// ProviderReading represents a single provider's normalized reading
// that can be aggregated into an Observation.
type ProviderReading struct {
	ProviderName string
	Timestamp    time.Time

	TemperatureC  float64
	HumidityPct   float64
	WindSpeedMS   float64
	PressureHpa   float64
	PrecipMm      float64
	Condition     Condition
	Description   string
	ConditionCode int
}

// Provider abstracts a current-weather source (e.g. OpenWeatherMap, Open-Meteo).
type Provider interface {
	Name() string
	Fetch(ctx context.Context, loc Location) (ProviderReading, error)
}

// Store keeps the observation history of a location.
type Store interface {
	SaveObservation(loc Location, obs Observation)
	GetLatest(loc Location) (Observation, error)
	GetRange(loc Location, from, to time.Time) ([]Observation, error)
}
