package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/agro-forecast/internal/common"
	"github.com/i474232898/agro-forecast/internal/weather"
)

// WeatherAPIProvider implements the weather.Provider interface for WeatherAPI.com.
type WeatherAPIProvider struct {
	name    string
	apiKey  string
	baseURL string
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
}

func NewWeatherAPIProvider(client *http.Client, apiKey string, opts ...Option) *WeatherAPIProvider {
	s := applyOptions("https://api.weatherapi.com/v1/current.json", opts)
	return &WeatherAPIProvider{
		name:    "weatherapi",
		apiKey:  apiKey,
		baseURL: s.baseURL,
		client:  client,
		circuit: newBreaker("weatherapi"),
	}
}

func (p *WeatherAPIProvider) Name() string {
	return p.name
}

func (p *WeatherAPIProvider) Fetch(ctx context.Context, loc weather.Location) (weather.ProviderReading, error) {
	if p.apiKey == "" {
		return weather.ProviderReading{}, fmt.Errorf("weatherapi api key is not configured")
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("key", p.apiKey)
		values.Set("q", fmt.Sprintf("%.4f,%.4f", loc.Lat, loc.Lon))

		return http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+values.Encode(), nil)
	}

	resp, err := doRequest(ctx, p.client, p.circuit, buildRequest)
	if err != nil {
		return weather.ProviderReading{}, err
	}

	var payload struct {
		Current struct {
			LastUpdatedEpoch int64   `json:"last_updated_epoch"`
			TempC            float64 `json:"temp_c"`
			Humidity         float64 `json:"humidity"`
			WindKph          float64 `json:"wind_kph"`
			PressureMb       float64 `json:"pressure_mb"`
			PrecipMm         float64 `json:"precip_mm"`
			Condition        struct {
				Text string `json:"text"`
				Code int    `json:"code"`
			} `json:"condition"`
		} `json:"current"`
	}

	if err := decodeJSON(resp, &payload); err != nil {
		return weather.ProviderReading{}, fmt.Errorf("decode weatherapi response: %w", err)
	}

	ts := time.Now().UTC()
	if payload.Current.LastUpdatedEpoch > 0 {
		ts = time.Unix(payload.Current.LastUpdatedEpoch, 0).UTC()
	}

	text := payload.Current.Condition.Text
	return weather.ProviderReading{
		ProviderName:  p.name,
		Timestamp:     ts,
		TemperatureC:  payload.Current.TempC,
		HumidityPct:   payload.Current.Humidity,
		WindSpeedMS:   payload.Current.WindKph / 3.6,
		PressureHpa:   payload.Current.PressureMb,
		PrecipMm:      payload.Current.PrecipMm,
		Condition:     mapWeatherAPICondition(text),
		Description:   strings.ToLower(strings.TrimSpace(text)),
		ConditionCode: payload.Current.Condition.Code,
	}, nil
}

func mapWeatherAPICondition(text string) weather.Condition {
	switch {
	case text == "":
		return weather.ConditionUnknown
	case common.ContainsAnyFold(text, "thunder", "storm"):
		return weather.ConditionStorm
	case common.ContainsAnyFold(text, "snow", "sleet", "blizzard", "ice pellets"):
		return weather.ConditionSnow
	case common.ContainsAnyFold(text, "rain", "shower", "drizzle"):
		return weather.ConditionRain
	case common.ContainsAnyFold(text, "mist", "fog"):
		return weather.ConditionMist
	case common.ContainsAnyFold(text, "cloud", "overcast"):
		return weather.ConditionCloudy
	case common.ContainsAnyFold(text, "sunny", "clear"):
		return weather.ConditionClear
	default:
		return weather.ConditionUnknown
	}
}
