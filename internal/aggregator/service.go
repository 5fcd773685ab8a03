package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/i474232898/weather-fanout/internal/bus"
	"github.com/i474232898/weather-fanout/internal/weather"
)

// Service is the result ingress: it feeds per-city responses into the
// engine, republishes each as an individual result, and publishes the
// aggregated report when a context completes or expires.
type Service struct {
	engine        *Engine
	pub           bus.Publisher
	individualKey string
	aggregatedKey string
}

// NewService wires the engine to the publisher.
func NewService(engine *Engine, pub bus.Publisher, individualKey, aggregatedKey string) *Service {
	return &Service{
		engine:        engine,
		pub:           pub,
		individualKey: individualKey,
		aggregatedKey: aggregatedKey,
	}
}

// HandleResponse processes one response-queue delivery. Stale and duplicate
// responses are dropped with a warning; publish failures are logged and
// skipped so one city's trouble never stalls the rest of the aggregate.
func (s *Service) HandleResponse(ctx context.Context, body []byte) error {
	var resp weather.ResponseMessage
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode response message: %w", err)
	}

	log.Printf("INFO: received weather response for city %s (correlation id %s)", resp.City, resp.CorrelationID)

	entry, report, err := s.engine.ApplyResult(resp)
	if err != nil {
		if errors.Is(err, ErrStaleCorrelation) || errors.Is(err, ErrDuplicateCity) {
			log.Printf("WARN: dropping response for city %s (correlation id %s): %v", resp.City, resp.CorrelationID, err)
			return nil
		}
		return err
	}

	// Fan the individual result out immediately, before completion handling,
	// so streaming callers see it even when this response finishes the set.
	if err := s.pub.Publish(ctx, s.individualKey, entry); err != nil {
		log.Printf("ERROR: publishing individual result for city %s failed: %v", entry.City, err)
	}

	if report == nil {
		return nil
	}

	log.Printf("INFO: aggregation complete for correlation id %s: %d total, %d successful, %d failed",
		report.CorrelationID, report.TotalCities, report.SuccessCount, report.FailureCount)

	if err := s.pub.Publish(ctx, s.aggregatedKey, report); err != nil {
		log.Printf("ERROR: publishing aggregated report for correlation id %s failed: %v", report.CorrelationID, err)
	}
	return nil
}

// PublishExpired sweeps expired contexts and publishes their partial
// reports. Invoked by the reaper on its fixed interval.
func (s *Service) PublishExpired(ctx context.Context) {
	for _, report := range s.engine.SweepExpired() {
		if err := s.pub.Publish(ctx, s.aggregatedKey, report); err != nil {
			log.Printf("ERROR: publishing partial report for correlation id %s failed: %v", report.CorrelationID, err)
			continue
		}
		log.Printf("INFO: partial report sent for correlation id %s (%d successful, %d failed)",
			report.CorrelationID, report.SuccessCount, report.FailureCount)
	}
}
