package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/weather-fanout/internal/bus"
	"github.com/i474232898/weather-fanout/internal/delivery"
	"github.com/i474232898/weather-fanout/internal/weather"
)

// ErrEmptyCities rejects a request with no cities before anything is
// published or registered.
var ErrEmptyCities = errors.New("cities list cannot be empty")

// Dispatcher splits a caller request into per-city messages sharing one
// correlation id and registers the delivery target before publishing, so a
// fast worker reply can never arrive ahead of the registration.
type Dispatcher struct {
	pub        bus.Publisher
	bridge     *delivery.Bridge
	requestKey string
}

// New creates a Dispatcher publishing on requestKey.
func New(pub bus.Publisher, bridge *delivery.Bridge, requestKey string) *Dispatcher {
	return &Dispatcher{pub: pub, bridge: bridge, requestKey: requestKey}
}

// DispatchBlocking registers a promise for the request and publishes one
// message per city. The caller awaits the returned promise and must call
// ReleasePromise on the bridge when done.
func (d *Dispatcher) DispatchBlocking(ctx context.Context, cities []string) (string, *delivery.Promise, error) {
	if len(cities) == 0 {
		return "", nil, ErrEmptyCities
	}

	correlationID := uuid.NewString()
	log.Printf("INFO: [blocking] dispatching weather request %s for cities %v", correlationID, cities)

	promise := d.bridge.RegisterPromise(correlationID)
	if err := d.publishAll(ctx, correlationID, cities); err != nil {
		d.bridge.ReleasePromise(correlationID)
		return "", nil, err
	}
	return correlationID, promise, nil
}

// DispatchStreaming binds the session to a fresh correlation id, sends the
// PROCESSING_STARTED frame synchronously, then publishes one message per
// city. The frame send precedes every publish, so it is guaranteed to reach
// the client before any INDIVIDUAL_RESULT.
func (d *Dispatcher) DispatchStreaming(ctx context.Context, cities []string, s delivery.Session) (string, error) {
	if len(cities) == 0 {
		return "", ErrEmptyCities
	}

	correlationID := uuid.NewString()
	log.Printf("INFO: [streaming] dispatching weather request %s for cities %v (session %s)",
		correlationID, cities, s.ID())

	d.bridge.BindSession(correlationID, s)

	if err := d.bridge.Registry().SendTo(correlationID, delivery.ProcessingStarted(correlationID, cities)); err != nil {
		d.bridge.Registry().Remove(correlationID)
		return "", fmt.Errorf("send PROCESSING_STARTED: %w", err)
	}

	if err := d.publishAll(ctx, correlationID, cities); err != nil {
		d.bridge.Registry().Remove(correlationID)
		return "", err
	}
	return correlationID, nil
}

func (d *Dispatcher) publishAll(ctx context.Context, correlationID string, cities []string) error {
	total := len(cities)
	now := time.Now().UTC()

	for _, city := range cities {
		msg := weather.RequestMessage{
			CorrelationID: correlationID,
			City:          city,
			TotalCities:   total,
			Timestamp:     now,
		}
		if err := d.pub.Publish(ctx, d.requestKey, msg); err != nil {
			return fmt.Errorf("publish request for city %s: %w", city, err)
		}
	}

	log.Printf("INFO: all %d request messages published for correlation id %s", total, correlationID)
	return nil
}
