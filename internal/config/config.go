package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type AppConfig struct {
	Port       string `envconfig:"PORT" default:"8080" validate:"required,numeric"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogConsole bool   `envconfig:"LOG_CONSOLE" default:"false"`

	// Observed field.
	FieldName string  `envconfig:"FIELD_NAME" default:"home field" validate:"required"`
	FieldLat  float64 `envconfig:"FIELD_LAT" default:"48.1374" validate:"gte=-90,lte=90"`
	FieldLon  float64 `envconfig:"FIELD_LON" default:"11.5755" validate:"gte=-180,lte=180"`

	// Weather providers. Open-Meteo needs no key and is always enabled.
	OpenWeatherAPIKey string        `envconfig:"OPENWEATHER_API_KEY"`
	WeatherAPIKey     string        `envconfig:"WEATHERAPI_API_KEY"`
	HTTPTimeout       time.Duration `envconfig:"HTTP_TIMEOUT" default:"10s" validate:"gt=0"`

	WeatherPollInterval time.Duration `envconfig:"WEATHER_POLL_INTERVAL" default:"15m" validate:"gt=0"`
	WeatherFreshness    time.Duration `envconfig:"WEATHER_FRESHNESS" default:"10m" validate:"gt=0"`

	// In-memory observation retention.
	StoreMaxHistory int           `envconfig:"STORE_MAX_HISTORY" default:"96" validate:"gte=0"` // roughly 24h at 15-minute intervals
	StoreMaxAge     time.Duration `envconfig:"STORE_MAX_AGE" default:"24h" validate:"gte=0"`

	// Inference service. An empty base URL serves fallback predictions only.
	InferenceBaseURL     string        `envconfig:"INFERENCE_BASE_URL" validate:"omitempty,url"`
	InferenceWeatherPath string        `envconfig:"INFERENCE_WEATHER_PATH" default:"/predict/weather" validate:"startswith=/"`
	InferenceSoilPath    string        `envconfig:"INFERENCE_SOIL_PATH" default:"/predict/soil" validate:"startswith=/"`
	InferenceToken       string        `envconfig:"INFERENCE_TOKEN"`
	InferenceTimeout     time.Duration `envconfig:"INFERENCE_TIMEOUT" default:"15s" validate:"gt=0"`
	ForecastHorizon      int           `envconfig:"FORECAST_HORIZON" default:"6" validate:"gte=1,lte=24"`

	// Snapshot cache.
	CacheSweepInterval time.Duration `envconfig:"CACHE_SWEEP_INTERVAL" default:"1m" validate:"gt=0"`
	WeatherCacheTTL    time.Duration `envconfig:"WEATHER_CACHE_TTL" default:"10m" validate:"gt=0"`
	SoilCacheTTL       time.Duration `envconfig:"SOIL_CACHE_TTL" default:"5m" validate:"gt=0"`

	// Simulated soil sensors. A zero seed draws a random one.
	SeriesSeed            uint64  `envconfig:"SERIES_SEED" default:"0"`
	SoilBasePH            float64 `envconfig:"SOIL_BASE_PH" default:"6.8" validate:"gte=5.5,lte=8.5"`
	SoilBaseNitrogen      float64 `envconfig:"SOIL_BASE_NITROGEN" default:"45" validate:"gte=0"`
	SoilBasePhosphorus    float64 `envconfig:"SOIL_BASE_PHOSPHORUS" default:"25" validate:"gte=0"`
	SoilBasePotassium     float64 `envconfig:"SOIL_BASE_POTASSIUM" default:"35" validate:"gte=0"`
	SoilBaseMoisture      float64 `envconfig:"SOIL_BASE_MOISTURE" default:"35" validate:"gte=0,lte=100"`
	SoilBaseOrganicMatter float64 `envconfig:"SOIL_BASE_ORGANIC_MATTER" default:"3.2" validate:"gte=0,lte=10"`

	TrendThreshold float64 `envconfig:"TREND_THRESHOLD" default:"0.05" validate:"gt=0,lt=1"`
}

var validate = validator.New()

// Load reads configuration from the environment (and an optional .env file),
// applies defaults and validates the result.
func Load() (*AppConfig, error) {
	// A missing .env file is fine; real environment variables take precedence.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
