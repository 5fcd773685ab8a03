package aggregator

import (
	"fmt"
	"sync"
	"time"

	"github.com/i474232898/weather-fanout/internal/weather"
)

// Context tracks the in-flight aggregation state for one correlation id.
// All mutation happens under mu; finalized flips to true exactly once, after
// which every writer treats the context as dead.
type Context struct {
	mu sync.Mutex

	correlationID string
	totalExpected int
	entries       []weather.ResultEntry
	seenCities    map[string]struct{}
	successCount  int
	failureCount  int
	createdAt     time.Time
	finalized     bool
}

func newContext(correlationID string, totalExpected int) *Context {
	return &Context{
		correlationID: correlationID,
		totalExpected: totalExpected,
		seenCities:    make(map[string]struct{}, totalExpected),
		createdAt:     time.Now().UTC(),
	}
}

// add records one response. Returns the appended entry, whether the context
// just became complete (and was finalized by this caller), and an error when
// the response cannot be recorded.
func (c *Context) add(resp weather.ResponseMessage) (weather.ResultEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finalized {
		return weather.ResultEntry{}, false, ErrStaleCorrelation
	}
	if _, dup := c.seenCities[resp.City]; dup {
		return weather.ResultEntry{}, false, ErrDuplicateCity
	}

	entry := weather.EntryFromResponse(resp)
	c.entries = append(c.entries, entry)
	c.seenCities[resp.City] = struct{}{}
	if entry.Success {
		c.successCount++
	} else {
		c.failureCount++
	}

	if len(c.entries) >= c.totalExpected {
		c.finalized = true
		return entry, true, nil
	}
	return entry, false, nil
}

// expire finalizes the context if it is older than timeout. Returns true
// only for the caller that won the flip, making timeout and completion
// mutually exclusive.
func (c *Context) expire(now time.Time, timeout time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finalized || now.Sub(c.createdAt) <= timeout {
		return false
	}
	c.finalized = true
	return true
}

// buildReport snapshots the context into a report. Callers must have
// finalized the context first; entries no longer change after that.
func (c *Context) buildReport(partial bool, partialReason string) weather.AggregatedReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]weather.ResultEntry, len(c.entries))
	copy(entries, c.entries)

	return weather.AggregatedReport{
		CorrelationID: c.correlationID,
		TotalCities:   c.totalExpected,
		SuccessCount:  c.successCount,
		FailureCount:  c.failureCount,
		Reports:       entries,
		Timestamp:     time.Now().UTC(),
		Partial:       partial,
		PartialReason: partialReason,
	}
}

func (c *Context) partialReason(timeout time.Duration) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	missing := c.totalExpected - len(c.entries)
	return fmt.Sprintf("Timeout after %ds: received only %d/%d responses. %d responses missing.",
		int(timeout.Seconds()), len(c.entries), c.totalExpected, missing)
}
