package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"golang.org/x/time/rate"

	"github.com/i474232898/weather-fanout/internal/bus"
	"github.com/i474232898/weather-fanout/internal/weather"
)

// Worker consumes per-city request messages, performs the cached and
// rate-limited weather lookup, and publishes a response message. A failed
// lookup publishes success=false instead of staying silent, so the
// aggregator never has to wait out its timeout for a deterministic failure.
type Worker struct {
	providers   []Provider
	cache       *ResponseCache
	limiter     *rate.Limiter
	pub         bus.Publisher
	responseKey string
}

// New creates a Worker. Providers are tried in order until one succeeds.
func New(providers []Provider, cache *ResponseCache, limiter *rate.Limiter, pub bus.Publisher, responseKey string) *Worker {
	return &Worker{
		providers:   providers,
		cache:       cache,
		limiter:     limiter,
		pub:         pub,
		responseKey: responseKey,
	}
}

// HandleRequest processes one request-queue delivery. A decode failure is
// returned as an error so the delivery dead-letters; lookup failures are
// absorbed into a failure response.
func (w *Worker) HandleRequest(ctx context.Context, body []byte) error {
	var req weather.RequestMessage
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("decode request message: %w", err)
	}
	if req.City == "" || req.CorrelationID == "" {
		return fmt.Errorf("request message missing city or correlation id")
	}

	log.Printf("INFO: processing weather request for city %s (correlation id %s)", req.City, req.CorrelationID)

	resp := weather.ResponseMessage{
		CorrelationID: req.CorrelationID,
		City:          req.City,
		TotalCities:   req.TotalCities,
	}

	obs, err := w.lookup(ctx, req.City)
	if err != nil {
		log.Printf("ERROR: weather lookup failed for city %s: %v", req.City, err)
		resp.Success = false
		resp.ErrorMessage = classifyLookupError(req.City, err)
	} else {
		resp.Success = true
		resp.Temperature = obs.Temperature
		resp.Description = obs.Description
		resp.Humidity = obs.Humidity
		resp.WindSpeed = obs.WindSpeed
	}

	if err := w.pub.Publish(ctx, w.responseKey, resp); err != nil {
		return fmt.Errorf("publish response for city %s: %w", req.City, err)
	}
	return nil
}

// lookup consults the cache first; on a miss it waits for the rate limiter
// and tries each provider in order.
func (w *Worker) lookup(ctx context.Context, city string) (Observation, error) {
	if obs, ok := w.cache.Get(city); ok {
		log.Printf("DEBUG: cache hit for city %s", city)
		return obs, nil
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return Observation{}, fmt.Errorf("rate limiter wait: %w", err)
	}

	var lastErr error
	for _, p := range w.providers {
		obs, err := p.Fetch(ctx, city)
		if err != nil {
			log.Printf("WARN: provider %s failed for city %s: %v", p.Name(), city, err)
			lastErr = err
			continue
		}
		w.cache.Put(city, obs)
		return obs, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no weather providers configured")
	}
	return Observation{}, lastErr
}

// classifyLookupError turns provider errors into the caller-facing message
// carried on the failure response.
func classifyLookupError(city string, err error) string {
	msg := err.Error()
	switch {
	case hasAny(msg, "404", "not found", "geocoding"):
		return fmt.Sprintf("City not found: %s", city)
	case hasAny(msg, "rate limited", "429"):
		return "Weather provider rate limit exceeded"
	case hasAny(msg, "circuit breaker"):
		return "Weather provider temporarily unavailable"
	case hasAny(msg, "context deadline", "timeout"):
		return "Weather lookup timed out"
	default:
		return fmt.Sprintf("Failed to fetch weather data for %s", city)
	}
}

// hasAny returns true if s contains any of the substrings.
func hasAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
