package aggregator

import (
	"errors"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/i474232898/weather-fanout/internal/weather"
)

var (
	// ErrStaleCorrelation marks a response for a correlation id that is no
	// longer tracked (already completed or timed out).
	ErrStaleCorrelation = errors.New("correlation id no longer tracked")

	// ErrDuplicateCity marks a redelivered response for a city already
	// recorded under the same correlation id.
	ErrDuplicateCity = errors.New("duplicate response for city")
)

const shardCount = 32

// shard owns a slice of the live correlation-id space. The shard lock guards
// map access only; context state mutates under the per-context lock, and the
// two are never held at the same time. Tombstones remember recently
// finalized ids so a late redelivery cannot recreate a context.
type shard struct {
	mu         sync.RWMutex
	contexts   map[string]*Context
	tombstones map[string]time.Time
}

func (s *shard) bury(correlationID string, now time.Time) {
	s.mu.Lock()
	delete(s.contexts, correlationID)
	s.tombstones[correlationID] = now
	s.mu.Unlock()
}

// Engine owns the correlation-id -> context map and the exactly-once
// finalization guarantee. Lookups shard by FNV hash of the correlation id.
type Engine struct {
	shards  [shardCount]*shard
	timeout time.Duration
}

// NewEngine creates an Engine whose contexts expire after timeout.
func NewEngine(timeout time.Duration) *Engine {
	e := &Engine{timeout: timeout}
	for i := range e.shards {
		e.shards[i] = &shard{
			contexts:   make(map[string]*Context),
			tombstones: make(map[string]time.Time),
		}
	}
	return e
}

func (e *Engine) shardFor(correlationID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(correlationID))
	return e.shards[h.Sum32()%shardCount]
}

// ApplyResult records one per-city response. It returns the appended entry
// and, when this response completed the aggregation, the final report. A
// stale or duplicate response returns ErrStaleCorrelation/ErrDuplicateCity
// and must be dropped by the caller without side effects.
func (e *Engine) ApplyResult(resp weather.ResponseMessage) (weather.ResultEntry, *weather.AggregatedReport, error) {
	if resp.CorrelationID == "" {
		return weather.ResultEntry{}, nil, errors.New("response missing correlation id")
	}

	s := e.shardFor(resp.CorrelationID)

	s.mu.Lock()
	if _, dead := s.tombstones[resp.CorrelationID]; dead {
		s.mu.Unlock()
		return weather.ResultEntry{}, nil, ErrStaleCorrelation
	}
	ctx, ok := s.contexts[resp.CorrelationID]
	if !ok {
		log.Printf("INFO: creating aggregation context for correlation id %s (%d cities)",
			resp.CorrelationID, resp.TotalCities)
		ctx = newContext(resp.CorrelationID, resp.TotalCities)
		s.contexts[resp.CorrelationID] = ctx
	}
	s.mu.Unlock()

	entry, complete, err := ctx.add(resp)
	if err != nil {
		return weather.ResultEntry{}, nil, err
	}

	if !complete {
		return entry, nil, nil
	}

	// This caller won the finalization; the context is dead for every other
	// writer, so removing it from the map can happen outside its lock.
	s.bury(resp.CorrelationID, time.Now().UTC())

	report := ctx.buildReport(false, "")
	return entry, &report, nil
}

// SweepExpired finalizes every context past the deadline and returns their
// partial reports. Contexts finalized concurrently by the completion path
// are skipped; only the winner of the finalized flip produces a report.
func (e *Engine) SweepExpired() []weather.AggregatedReport {
	now := time.Now().UTC()
	var reports []weather.AggregatedReport

	// Tombstones older than this no longer protect against late deliveries;
	// a redelivered message that stale would start a fresh aggregation that
	// itself times out, which is harmless.
	tombstoneRetention := 2 * e.timeout

	for _, s := range e.shards {
		s.mu.RLock()
		candidates := make([]*Context, 0, len(s.contexts))
		for _, ctx := range s.contexts {
			candidates = append(candidates, ctx)
		}
		s.mu.RUnlock()

		for _, ctx := range candidates {
			if !ctx.expire(now, e.timeout) {
				continue
			}

			s.bury(ctx.correlationID, now)

			reason := ctx.partialReason(e.timeout)
			log.Printf("WARN: aggregation timeout for correlation id %s: %s", ctx.correlationID, reason)
			reports = append(reports, ctx.buildReport(true, reason))
		}

		s.mu.Lock()
		for id, buriedAt := range s.tombstones {
			if now.Sub(buriedAt) > tombstoneRetention {
				delete(s.tombstones, id)
			}
		}
		s.mu.Unlock()
	}

	return reports
}

// Live reports the number of in-flight contexts, for logging and tests.
func (e *Engine) Live() int {
	total := 0
	for _, s := range e.shards {
		s.mu.RLock()
		total += len(s.contexts)
		s.mu.RUnlock()
	}
	return total
}
