package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/i474232898/weather-fanout/internal/weather"
)

// Bridge routes engine outputs to whichever delivery strategy a correlation
// id was dispatched with: a blocking promise or a streaming session. The
// ingress paths only know "deliver to correlation id"; the bridge decides
// how.
type Bridge struct {
	mu      sync.RWMutex
	pending map[string]*Promise

	registry   *Registry
	closeGrace time.Duration
}

// NewBridge creates a Bridge using the given session registry. closeGrace is
// the delay between sending a FINAL_REPORT and closing the session.
func NewBridge(registry *Registry, closeGrace time.Duration) *Bridge {
	return &Bridge{
		pending:    make(map[string]*Promise),
		registry:   registry,
		closeGrace: closeGrace,
	}
}

// RegisterPromise creates and tracks a blocking-mode promise. Must be called
// before any request message is published so a fast reply cannot beat the
// registration.
func (b *Bridge) RegisterPromise(correlationID string) *Promise {
	p := NewPromise()
	b.mu.Lock()
	b.pending[correlationID] = p
	b.mu.Unlock()
	return p
}

// ReleasePromise drops a blocking-mode promise once the caller is done
// waiting, resolved or not.
func (b *Bridge) ReleasePromise(correlationID string) {
	b.mu.Lock()
	delete(b.pending, correlationID)
	b.mu.Unlock()
}

// BindSession attaches a streaming session to a correlation id. Must be
// called before any request message is published.
func (b *Bridge) BindSession(correlationID string, s Session) {
	b.registry.Register(correlationID, s)
}

// Registry exposes the session registry for transport-side cleanup.
func (b *Bridge) Registry() *Registry {
	return b.registry
}

func (b *Bridge) promiseFor(correlationID string) (*Promise, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.pending[correlationID]
	return p, ok
}

// HandleIndividual processes one individual-result delivery. Blocking-mode
// requests have no incremental channel, so entries for them are ignored;
// entries for unknown correlation ids are dropped with a warning.
func (b *Bridge) HandleIndividual(ctx context.Context, body []byte) error {
	var entry weather.ResultEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		return fmt.Errorf("decode individual result: %w", err)
	}

	if err := b.registry.SendTo(entry.CorrelationID, IndividualResult(entry)); err != nil {
		if errors.Is(err, ErrNoSession) {
			if _, blocking := b.promiseFor(entry.CorrelationID); !blocking {
				log.Printf("WARN: no delivery target for individual result (correlation id %s, city %s)",
					entry.CorrelationID, entry.City)
			}
			return nil
		}
		// Send failures are absorbed; the final report path owns cleanup.
		return nil
	}

	log.Printf("INFO: pushed individual result for city %s (correlation id %s)", entry.City, entry.CorrelationID)
	return nil
}

// HandleReport processes one aggregated-report delivery: resolve the promise
// in blocking mode, or push FINAL_REPORT and schedule an orderly close in
// streaming mode.
func (b *Bridge) HandleReport(ctx context.Context, body []byte) error {
	var report weather.AggregatedReport
	if err := json.Unmarshal(body, &report); err != nil {
		return fmt.Errorf("decode aggregated report: %w", err)
	}

	corrID := report.CorrelationID
	log.Printf("INFO: received aggregated report for correlation id %s (partial: %t)", corrID, report.Partial)

	if p, ok := b.promiseFor(corrID); ok {
		p.Resolve(report)
		return nil
	}

	if err := b.registry.SendTo(corrID, FinalReport(report)); err != nil {
		if errors.Is(err, ErrNoSession) {
			log.Printf("WARN: no pending request found for correlation id %s", corrID)
		}
		return nil
	}

	// Close after a grace delay so the final frame can flush; the timer also
	// unbinds the correlation id to stop further sends.
	time.AfterFunc(b.closeGrace, func() {
		b.closeSession(corrID)
	})
	return nil
}

func (b *Bridge) closeSession(correlationID string) {
	s, ok := b.registry.Get(correlationID)
	if !ok {
		return
	}

	_ = b.registry.SendTo(correlationID, ConnectionClosing())
	b.registry.Remove(correlationID)

	if err := s.Close(); err != nil {
		log.Printf("ERROR: closing session %s failed: %v", s.ID(), err)
		return
	}
	log.Printf("INFO: closed session for correlation id %s", correlationID)
}
