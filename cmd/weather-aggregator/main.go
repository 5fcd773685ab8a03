package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/i474232898/weather-fanout/internal/aggregator"
	"github.com/i474232898/weather-fanout/internal/bus"
	"github.com/i474232898/weather-fanout/internal/config"
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

	engine := aggregator.NewEngine(cfg.AggregationTimeout)
	service := aggregator.NewService(engine, bus.NewPublisher(b), cfg.Bus.IndividualKey, cfg.Bus.AggregatedKey)

	reaper := aggregator.NewReaper(service, cfg.SweepInterval)
	if err := reaper.Start(); err != nil {
		log.Fatalf("failed to start timeout reaper: %v", err)
	}
	defer reaper.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("INFO: weather-aggregator started (timeout %s, sweep %s)", cfg.AggregationTimeout, cfg.SweepInterval)

	if err := b.Consume(ctx, cfg.Bus.ResponseQueue, "aggregator-response", service.HandleResponse); err != nil && ctx.Err() == nil {
		log.Fatalf("response consumer stopped: %v", err)
	}
}
