package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/weather-fanout/internal/weather"
)

// fakePublisher records publishes and can fail selected routing keys.
type fakePublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	failKeys  map[string]bool
}

type publishedMessage struct {
	key     string
	payload any
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{failKeys: make(map[string]bool)}
}

func (f *fakePublisher) Publish(_ context.Context, routingKey string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failKeys[routingKey] {
		return errors.New("publish rejected")
	}
	f.published = append(f.published, publishedMessage{key: routingKey, payload: payload})
	return nil
}

func (f *fakePublisher) byKey(key string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, m := range f.published {
		if m.key == key {
			out = append(out, m.payload)
		}
	}
	return out
}

func encodeResponse(t *testing.T, resp weather.ResponseMessage) []byte {
	t.Helper()
	body, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return body
}

func TestServicePublishesIndividualThenReport(t *testing.T) {
	pub := newFakePublisher()
	svc := NewService(NewEngine(time.Minute), pub, "individual", "aggregated")
	corrID := uuid.NewString()

	for _, city := range []string{"London", "Paris"} {
		if err := svc.HandleResponse(context.Background(), encodeResponse(t, response(corrID, city, 2, true))); err != nil {
			t.Fatalf("unexpected error for %s: %v", city, err)
		}
	}

	if got := len(pub.byKey("individual")); got != 2 {
		t.Errorf("expected 2 individual publishes, got %d", got)
	}

	reports := pub.byKey("aggregated")
	if len(reports) != 1 {
		t.Fatalf("expected 1 aggregated publish, got %d", len(reports))
	}
	report, ok := reports[0].(*weather.AggregatedReport)
	if !ok {
		t.Fatalf("unexpected aggregated payload type %T", reports[0])
	}
	if report.Partial || report.SuccessCount != 2 {
		t.Errorf("unexpected report: partial=%t success=%d", report.Partial, report.SuccessCount)
	}
}

func TestServiceIndividualPublishFailureDoesNotAbort(t *testing.T) {
	pub := newFakePublisher()
	pub.failKeys["individual"] = true
	svc := NewService(NewEngine(time.Minute), pub, "individual", "aggregated")
	corrID := uuid.NewString()

	for _, city := range []string{"London", "Paris"} {
		if err := svc.HandleResponse(context.Background(), encodeResponse(t, response(corrID, city, 2, true))); err != nil {
			t.Fatalf("unexpected error for %s: %v", city, err)
		}
	}

	// The aggregated report must go out even though every individual
	// republish was rejected.
	if got := len(pub.byKey("aggregated")); got != 1 {
		t.Errorf("expected 1 aggregated publish, got %d", got)
	}
}

func TestServiceDropsStaleAndDuplicateSilently(t *testing.T) {
	pub := newFakePublisher()
	svc := NewService(NewEngine(time.Minute), pub, "individual", "aggregated")
	corrID := uuid.NewString()

	body := encodeResponse(t, response(corrID, "London", 1, true))
	if err := svc.HandleResponse(context.Background(), body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Redelivery after completion: dropped, acked, nothing new published.
	if err := svc.HandleResponse(context.Background(), body); err != nil {
		t.Fatalf("redelivery must not error: %v", err)
	}
	if got := len(pub.byKey("individual")); got != 1 {
		t.Errorf("expected 1 individual publish, got %d", got)
	}
	if got := len(pub.byKey("aggregated")); got != 1 {
		t.Errorf("expected 1 aggregated publish, got %d", got)
	}
}

func TestServiceRejectsMalformedBody(t *testing.T) {
	svc := NewService(NewEngine(time.Minute), newFakePublisher(), "individual", "aggregated")
	if err := svc.HandleResponse(context.Background(), []byte("{not json")); err == nil {
		t.Fatal("expected a decode error")
	}
}

func TestServicePublishExpired(t *testing.T) {
	pub := newFakePublisher()
	svc := NewService(NewEngine(10*time.Millisecond), pub, "individual", "aggregated")
	corrID := uuid.NewString()

	if err := svc.HandleResponse(context.Background(), encodeResponse(t, response(corrID, "London", 3, true))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(25 * time.Millisecond)
	svc.PublishExpired(context.Background())

	reports := pub.byKey("aggregated")
	if len(reports) != 1 {
		t.Fatalf("expected 1 partial report publish, got %d", len(reports))
	}
	report, ok := reports[0].(weather.AggregatedReport)
	if !ok {
		t.Fatalf("unexpected aggregated payload type %T", reports[0])
	}
	if !report.Partial {
		t.Error("expected partial=true")
	}
	if len(report.Reports) != 1 {
		t.Errorf("expected 1 entry, got %d", len(report.Reports))
	}
}
