package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/i474232898/weather-fanout/internal/api/http"
	"github.com/i474232898/weather-fanout/internal/api/ws"
	"github.com/i474232898/weather-fanout/internal/bus"
	"github.com/i474232898/weather-fanout/internal/config"
	"github.com/i474232898/weather-fanout/internal/delivery"
	"github.com/i474232898/weather-fanout/internal/dispatch"
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

	pub := bus.NewPublisher(b)
	registry := delivery.NewRegistry()
	bridge := delivery.NewBridge(registry, cfg.SessionCloseGrace)
	dispatcher := dispatch.New(pub, bridge, cfg.Bus.RequestKey)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Feed engine outputs back into the delivery bridge.
	go func() {
		if err := b.Consume(ctx, cfg.Bus.IndividualQueue, "gateway-individual", bridge.HandleIndividual); err != nil && ctx.Err() == nil {
			log.Printf("ERROR: individual-result consumer stopped: %v", err)
			stop()
		}
	}()
	go func() {
		if err := b.Consume(ctx, cfg.Bus.AggregatedQueue, "gateway-aggregated", bridge.HandleReport); err != nil && ctx.Err() == nil {
			log.Printf("ERROR: aggregated-report consumer stopped: %v", err)
			stop()
		}
	}()

	app := fiber.New(fiber.Config{
		AppName:               "weather-gateway",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	// Basic health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "weather-gateway",
		})
	})

	httpapi.RegisterRoutes(app, &httpapi.Gateway{
		Dispatcher:   dispatcher,
		Bridge:       bridge,
		BlockingWait: cfg.BlockingWait,
	})
	ws.NewHandler(dispatcher, bridge).Register(app)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
