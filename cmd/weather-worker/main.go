package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"golang.org/x/time/rate"

	"github.com/i474232898/weather-fanout/internal/bus"
	"github.com/i474232898/weather-fanout/internal/config"
	"github.com/i474232898/weather-fanout/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	b, err := bus.Connect(cfg.Bus)
	if err != nil {
		log.Fatalf("failed to connect to message bus: %v", err)
	}
	defer b.Close()

	if err := b.DeclareTopology(); err != nil {
		log.Fatalf("failed to declare bus topology: %v", err)
	}

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	var providers []worker.Provider
	if cfg.OpenWeatherAPIKey != "" {
		providers = append(providers, worker.NewOpenWeatherProvider(httpClient, cfg.OpenWeatherAPIKey))
	}
	if cfg.GoogleAPIKey != "" {
		providers = append(providers, worker.NewOpenMeteoProvider(httpClient, cfg.GoogleAPIKey))
	}
	if len(providers) == 0 {
		log.Fatalf("no weather providers configured; set OPENWEATHER_API_KEY or GOOGLE_API_KEY")
	}

	cache := worker.NewResponseCache(cfg.CacheTTL)
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), 1)

	w := worker.New(providers, cache, limiter, bus.NewPublisher(b), cfg.Bus.ResponseKey)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Passive dead-letter sink alongside the main consumer.
	go func() {
		if err := b.Consume(ctx, cfg.Bus.DeadLetterQueue, "worker-dlq", worker.HandleDeadLetter); err != nil && ctx.Err() == nil {
			log.Printf("ERROR: dead-letter consumer stopped: %v", err)
		}
	}()

	log.Printf("INFO: weather-worker started (%d providers, rate limit %.1f req/s)", len(providers), cfg.RateLimitPerSec)

	if err := b.Consume(ctx, cfg.Bus.RequestQueue, "worker-request", w.HandleRequest); err != nil && ctx.Err() == nil {
		log.Fatalf("request consumer stopped: %v", err)
	}
}
