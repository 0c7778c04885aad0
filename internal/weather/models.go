package weather

import (
	"strconv"
	"time"

	"github.com/i474232898/agro-forecast/internal/agro"
)

// Condition represents a normalized high-level weather condition.
type Condition string

const (
	ConditionUnknown Condition = "unknown"
	ConditionClear   Condition = "clear"
	ConditionCloudy  Condition = "cloudy"
	ConditionRain    Condition = "rain"
	ConditionSnow    Condition = "snow"
	ConditionStorm   Condition = "storm"
	ConditionMist    Condition = "mist"
)

// Location is the fixed field the service observes.
type Location struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// Key returns a canonical string key for indexing this location in stores.
func (l Location) Key() string {
	return strconv.FormatFloat(l.Lat, 'f', 4, 64) + "," + strconv.FormatFloat(l.Lon, 'f', 4, 64)
}

// Observation is the normalized, aggregated current weather at a point in time.
type Observation struct {
	Location      Location  `json:"location"`
	Timestamp     time.Time `json:"timestamp"` // always UTC
	Temperature   float64   `json:"temperatureC"`
	Humidity      float64   `json:"humidityPercent"`
	WindSpeed     float64   `json:"windSpeed"`
	Pressure      float64   `json:"pressureHpa"`
	PrecipMM      float64   `json:"precipMm"`
	Condition     Condition `json:"condition"`
	Description   string    `json:"description"`
	ConditionCode int       `json:"conditionCode"`
	FetchedAt     time.Time `json:"fetchedAt"`

	// Providers contributing to this observation.
	Providers []ProviderContribution `json:"providers,omitempty"`
}

// Values returns the tracked weather variables of the observation.
func (o Observation) Values() agro.Values {
	return agro.Values{
		agro.Temperature: o.Temperature,
		agro.Humidity:    o.Humidity,
	}
}

// Conditions returns the descriptive part of the observation for snapshots.
func (o Observation) Conditions() *agro.Conditions {
	return &agro.Conditions{
		Condition:     string(o.Condition),
		Description:   o.Description,
		ConditionCode: o.ConditionCode,
		Pressure:      o.Pressure,
		WindSpeed:     o.WindSpeed,
	}
}

// ProviderContribution describes data coming from a single provider used in aggregation.
type ProviderContribution struct {
	ProviderName string    `json:"provider"`
	Timestamp    time.Time `json:"timestamp"`
}
