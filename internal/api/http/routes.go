package httpapi

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-fanout/internal/delivery"
	"github.com/i474232898/weather-fanout/internal/dispatch"
)

var validate = validator.New()

// Gateway bundles what the blocking-mode endpoint needs.
type Gateway struct {
	Dispatcher *dispatch.Dispatcher
	Bridge     *delivery.Bridge

	// BlockingWait bounds the caller-side wait for the aggregated report.
	BlockingWait time.Duration
}

// weatherRequest is the blocking-mode request body.
type weatherRequest struct {
	Cities []string `json:"cities" validate:"required,min=1,dive,required"`
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, gw *Gateway) {
	v1 := app.Group("/api/v1")

	v1.Post("/weather", func(c *fiber.Ctx) error {
		var req weatherRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		correlationID, promise, err := gw.Dispatcher.DispatchBlocking(c.Context(), req.Cities)
		if err != nil {
			if errors.Is(err, dispatch.ErrEmptyCities) {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to dispatch weather request")
		}
		defer gw.Bridge.ReleasePromise(correlationID)

		report, err := promise.Await(gw.BlockingWait)
		if err != nil {
			if errors.Is(err, delivery.ErrDeliveryTimeout) {
				return fiber.NewError(fiber.StatusGatewayTimeout, "timed out waiting for weather report")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to deliver weather report")
		}

		return c.JSON(report)
	})
}
