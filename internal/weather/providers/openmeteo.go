package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/agro-forecast/internal/weather"
)

// OpenMeteoProvider implements the weather.Provider interface for Open-Meteo.
type OpenMeteoProvider struct {
	name    string
	baseURL string
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
}

func NewOpenMeteoProvider(client *http.Client, opts ...Option) *OpenMeteoProvider {
	s := applyOptions("https://api.open-meteo.com/v1/forecast", opts)
	return &OpenMeteoProvider{
		name:    "openmeteo",
		baseURL: s.baseURL,
		client:  client,
		circuit: newBreaker("openmeteo"),
	}
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

func (p *OpenMeteoProvider) Fetch(ctx context.Context, loc weather.Location) (weather.ProviderReading, error) {
	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", strconv.FormatFloat(loc.Lat, 'f', -1, 64))
		values.Set("longitude", strconv.FormatFloat(loc.Lon, 'f', -1, 64))
		values.Set("current", "temperature_2m,relative_humidity_2m,surface_pressure,wind_speed_10m,precipitation,weather_code")
		values.Set("wind_speed_unit", "ms")
		values.Set("timezone", "UTC")

		return http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+values.Encode(), nil)
	}

	resp, err := doRequest(ctx, p.client, p.circuit, buildRequest)
	if err != nil {
		return weather.ProviderReading{}, err
	}

	var payload struct {
		Current struct {
			Time          string  `json:"time"`
			Temperature   float64 `json:"temperature_2m"`
			Humidity      float64 `json:"relative_humidity_2m"`
			Pressure      float64 `json:"surface_pressure"`
			WindSpeed     float64 `json:"wind_speed_10m"`
			Precipitation float64 `json:"precipitation"`
			WeatherCode   int     `json:"weather_code"`
		} `json:"current"`
	}

	if err := decodeJSON(resp, &payload); err != nil {
		return weather.ProviderReading{}, fmt.Errorf("decode openmeteo response: %w", err)
	}

	// Open-Meteo reports ISO8601 local time without seconds or offset.
	ts, err := time.ParseInLocation("2006-01-02T15:04", payload.Current.Time, time.UTC)
	if err != nil {
		ts = time.Now().UTC()
	}

	code := payload.Current.WeatherCode
	return weather.ProviderReading{
		ProviderName:  p.name,
		Timestamp:     ts,
		TemperatureC:  payload.Current.Temperature,
		HumidityPct:   payload.Current.Humidity,
		WindSpeedMS:   payload.Current.WindSpeed,
		PressureHpa:   payload.Current.Pressure,
		PrecipMm:      payload.Current.Precipitation,
		Condition:     mapOpenMeteoCondition(code),
		Description:   wmoDescription(code),
		ConditionCode: code,
	}, nil
}

func mapOpenMeteoCondition(code int) weather.Condition {
	// WMO weather interpretation codes, simplified.
	switch {
	case code == 0:
		return weather.ConditionClear
	case code >= 1 && code <= 3:
		return weather.ConditionCloudy
	case code == 45 || code == 48:
		return weather.ConditionMist
	case (code >= 51 && code <= 67) || (code >= 80 && code <= 82):
		return weather.ConditionRain
	case (code >= 71 && code <= 77) || code == 85 || code == 86:
		return weather.ConditionSnow
	case code >= 95:
		return weather.ConditionStorm
	default:
		return weather.ConditionUnknown
	}
}

var wmoDescriptions = map[int]string{
	0:  "clear sky",
	1:  "mainly clear",
	2:  "partly cloudy",
	3:  "overcast",
	45: "fog",
	48: "depositing rime fog",
	51: "light drizzle",
	53: "moderate drizzle",
	55: "dense drizzle",
	56: "light freezing drizzle",
	57: "dense freezing drizzle",
	61: "slight rain",
	63: "moderate rain",
	65: "heavy rain",
	66: "light freezing rain",
	67: "heavy freezing rain",
	71: "slight snow fall",
	73: "moderate snow fall",
	75: "heavy snow fall",
	77: "snow grains",
	80: "slight rain showers",
	81: "moderate rain showers",
	82: "violent rain showers",
	85: "slight snow showers",
	86: "heavy snow showers",
	95: "thunderstorm",
	96: "thunderstorm with slight hail",
	99: "thunderstorm with heavy hail",
}

func wmoDescription(code int) string {
	if d, ok := wmoDescriptions[code]; ok {
		return d
	}
	return "unknown"
}
