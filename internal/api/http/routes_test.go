package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-fanout/internal/delivery"
	"github.com/i474232898/weather-fanout/internal/dispatch"
	"github.com/i474232898/weather-fanout/internal/weather"
)

// echoPublisher answers every dispatched request with a canned aggregated
// report fed back through the bridge, simulating the aggregator round trip.
type echoPublisher struct {
	bridge *delivery.Bridge

	mu   sync.Mutex
	seen map[string]bool
}

func (p *echoPublisher) Publish(_ context.Context, _ string, payload any) error {
	msg := payload.(weather.RequestMessage)

	p.mu.Lock()
	already := p.seen[msg.CorrelationID]
	p.seen[msg.CorrelationID] = true
	p.mu.Unlock()
	if already {
		return nil
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		report := weather.AggregatedReport{
			CorrelationID: msg.CorrelationID,
			TotalCities:   msg.TotalCities,
			SuccessCount:  msg.TotalCities,
			Timestamp:     time.Now().UTC(),
		}
		body, _ := json.Marshal(report)
		_ = p.bridge.HandleReport(context.Background(), body)
	}()
	return nil
}

// silentPublisher accepts every publish and never answers.
type silentPublisher struct{}

func (silentPublisher) Publish(context.Context, string, any) error { return nil }

func newTestApp(pub interface {
	Publish(context.Context, string, any) error
}, wait time.Duration) (*fiber.App, *delivery.Bridge) {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": true, "message": err.Error()})
		},
	})

	bridge := delivery.NewBridge(delivery.NewRegistry(), time.Millisecond)
	dispatcher := dispatch.New(pub, bridge, "weather.request")
	RegisterRoutes(app, &Gateway{Dispatcher: dispatcher, Bridge: bridge, BlockingWait: wait})
	return app, bridge
}

func TestWeatherEndpointReturnsReport(t *testing.T) {
	bridgeHolder := &echoPublisher{seen: make(map[string]bool)}
	app, bridge := newTestApp(bridgeHolder, 2*time.Second)
	bridgeHolder.bridge = bridge

	req := httptest.NewRequest(http.MethodPost, "/api/v1/weather",
		strings.NewReader(`{"cities":["London","Paris"]}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var report weather.AggregatedReport
	if err := json.Unmarshal(body, &report); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if report.TotalCities != 2 || report.SuccessCount != 2 {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestWeatherEndpointRejectsEmptyCities(t *testing.T) {
	app, _ := newTestApp(silentPublisher{}, time.Second)

	for _, payload := range []string{`{"cities":[]}`, `{}`, `not json`} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/weather", strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("payload %q: expected status %d, got %d", payload, http.StatusBadRequest, resp.StatusCode)
		}
	}
}

func TestWeatherEndpointTimesOut(t *testing.T) {
	app, _ := newTestApp(silentPublisher{}, 30*time.Millisecond)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/weather",
		strings.NewReader(`{"cities":["London"]}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("expected status %d, got %d", http.StatusGatewayTimeout, resp.StatusCode)
	}
}
