package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/kelvins/geocoder"
	"github.com/sony/gobreaker"
)

// OpenMeteoProvider looks up current weather on Open-Meteo. The API is
// keyless but coordinate-based, so city names are geocoded first.
type OpenMeteoProvider struct {
	name    string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

// NewOpenMeteoProvider creates the provider. googleAPIKey feeds the geocoder;
// without it every Fetch fails fast.
func NewOpenMeteoProvider(client *http.Client, googleAPIKey string) *OpenMeteoProvider {
	geocoder.ApiKey = googleAPIKey

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openmeteo",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &OpenMeteoProvider{
		name:    "openmeteo",
		baseURL: "https://api.open-meteo.com/v1/forecast",
		httpCfg: HTTPClientConfig{
			Client: client,
			Backoff: BackoffConfig{
				MaxRetries:      3,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     5 * time.Second,
			},
		},
		circuit: cb,
	}
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

func (p *OpenMeteoProvider) Fetch(ctx context.Context, city string) (Observation, error) {
	if geocoder.ApiKey == "" {
		return Observation{}, fmt.Errorf("geocoder api key is not configured")
	}

	location, err := geocoder.Geocoding(geocoder.Address{City: city})
	if err != nil {
		return Observation{}, fmt.Errorf("geocoding %s failed: %w", city, err)
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", fmt.Sprintf("%f", location.Latitude))
		values.Set("longitude", fmt.Sprintf("%f", location.Longitude))
		values.Set("current_weather", "true")

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		return req, nil
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return Observation{}, err
	}
	defer resp.Body.Close()

	var payload struct {
		CurrentWeather struct {
			Temperature float64 `json:"temperature"`
			WindSpeed   float64 `json:"windspeed"`
			WeatherCode int     `json:"weathercode"`
		} `json:"current_weather"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Observation{}, err
	}

	return Observation{
		Temperature: payload.CurrentWeather.Temperature,
		Description: describeWeatherCode(payload.CurrentWeather.WeatherCode),
		WindSpeed:   payload.CurrentWeather.WindSpeed,
	}, nil
}

// describeWeatherCode maps WMO weather codes to a short description.
func describeWeatherCode(code int) string {
	switch {
	case code == 0:
		return "clear sky"
	case code <= 3:
		return "partly cloudy"
	case code == 45 || code == 48:
		return "fog"
	case code >= 51 && code <= 57:
		return "drizzle"
	case code >= 61 && code <= 67:
		return "rain"
	case code >= 71 && code <= 77:
		return "snow"
	case code >= 80 && code <= 82:
		return "rain showers"
	case code >= 85 && code <= 86:
		return "snow showers"
	case code >= 95:
		return "thunderstorm"
	default:
		return "unknown"
	}
}
