package worker

import (
	"context"
)

// Observation is a provider's normalized answer for one city, matching the
// fields carried on the response topic.
type Observation struct {
	Temperature float64
	Description string
	Humidity    int
	WindSpeed   float64
}

// Provider abstracts a weather data source (e.g. OpenWeatherMap, Open-Meteo).
type Provider interface {
	Name() string
	Fetch(ctx context.Context, city string) (Observation, error)
}
