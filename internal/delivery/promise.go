package delivery

import (
	"errors"
	"sync"
	"time"

	"github.com/i474232898/weather-fanout/internal/weather"
)

// ErrDeliveryTimeout is returned when a blocking caller's wait expires
// before the aggregated report arrives. Independent of the engine's own
// aggregation deadline.
var ErrDeliveryTimeout = errors.New("timed out waiting for aggregated report")

// Promise is a single-resolution future bridging the async report to a
// synchronous caller. Resolve wins exactly once; later calls are no-ops.
type Promise struct {
	once sync.Once
	ch   chan weather.AggregatedReport
}

// NewPromise creates an unresolved Promise.
func NewPromise() *Promise {
	return &Promise{ch: make(chan weather.AggregatedReport, 1)}
}

// Resolve fulfills the promise. Only the first call has any effect.
func (p *Promise) Resolve(report weather.AggregatedReport) {
	p.once.Do(func() {
		p.ch <- report
	})
}

// Await blocks until the promise resolves or wait elapses.
func (p *Promise) Await(wait time.Duration) (weather.AggregatedReport, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case report := <-p.ch:
		return report, nil
	case <-timer.C:
		return weather.AggregatedReport{}, ErrDeliveryTimeout
	}
}
