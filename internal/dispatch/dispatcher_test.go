package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/i474232898/weather-fanout/internal/delivery"
	"github.com/i474232898/weather-fanout/internal/weather"
)

type fakePublisher struct {
	mu       sync.Mutex
	messages []weather.RequestMessage
	fail     bool
}

func (f *fakePublisher) Publish(_ context.Context, _ string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("publish rejected")
	}
	f.messages = append(f.messages, payload.(weather.RequestMessage))
	return nil
}

func (f *fakePublisher) sent() []weather.RequestMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]weather.RequestMessage, len(f.messages))
	copy(out, f.messages)
	return out
}

type fakeSession struct {
	id string

	mu     sync.Mutex
	frames []delivery.Envelope
	closed bool
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, v.(delivery.Envelope))
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) sent() []delivery.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]delivery.Envelope, len(s.frames))
	copy(out, s.frames)
	return out
}

func TestDispatchBlockingPublishesPerCity(t *testing.T) {
	pub := &fakePublisher{}
	bridge := delivery.NewBridge(delivery.NewRegistry(), time.Millisecond)
	d := New(pub, bridge, "weather.request")

	corrID, promise, err := d.DispatchBlocking(context.Background(), []string{"London", "Paris"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if promise == nil {
		t.Fatal("expected a promise")
	}

	msgs := pub.sent()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 request messages, got %d", len(msgs))
	}
	for _, msg := range msgs {
		if msg.CorrelationID != corrID {
			t.Errorf("message carries correlation id %s, want %s", msg.CorrelationID, corrID)
		}
		if msg.TotalCities != 2 {
			t.Errorf("message carries totalCities %d, want 2", msg.TotalCities)
		}
	}
}

func TestDispatchEmptyCitiesFailsBeforePublishing(t *testing.T) {
	pub := &fakePublisher{}
	bridge := delivery.NewBridge(delivery.NewRegistry(), time.Millisecond)
	d := New(pub, bridge, "weather.request")

	if _, _, err := d.DispatchBlocking(context.Background(), nil); !errors.Is(err, ErrEmptyCities) {
		t.Fatalf("expected ErrEmptyCities, got %v", err)
	}
	if len(pub.sent()) != 0 {
		t.Error("nothing may be published for an empty request")
	}

	session := &fakeSession{id: "s1"}
	if _, err := d.DispatchStreaming(context.Background(), nil, session); !errors.Is(err, ErrEmptyCities) {
		t.Fatalf("expected ErrEmptyCities, got %v", err)
	}
	if len(session.sent()) != 0 {
		t.Error("no frames may be sent for an empty request")
	}
}

func TestDispatchBlockingPublishFailureReleasesPromise(t *testing.T) {
	pub := &fakePublisher{fail: true}
	bridge := delivery.NewBridge(delivery.NewRegistry(), time.Millisecond)
	d := New(pub, bridge, "weather.request")

	if _, _, err := d.DispatchBlocking(context.Background(), []string{"London"}); err == nil {
		t.Fatal("expected a publish error")
	}
}

func TestDispatchStreamingSendsProcessingStartedBeforePublishing(t *testing.T) {
	pub := &fakePublisher{}
	bridge := delivery.NewBridge(delivery.NewRegistry(), time.Millisecond)
	d := New(pub, bridge, "weather.request")
	session := &fakeSession{id: "s1"}

	corrID, err := d.DispatchStreaming(context.Background(), []string{"London", "Paris"}, session)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	frames := session.sent()
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0].Type != delivery.TypeProcessingStarted {
		t.Errorf("expected %s, got %s", delivery.TypeProcessingStarted, frames[0].Type)
	}
	if frames[0].CorrelationID != corrID || frames[0].TotalCities != 2 {
		t.Errorf("unexpected frame: %+v", frames[0])
	}
	if len(pub.sent()) != 2 {
		t.Errorf("expected 2 request messages, got %d", len(pub.sent()))
	}
}

// TestStreamingEnvelopeOrder drives a full streaming round trip through the
// dispatcher and bridge and checks the per-correlation frame order:
// PROCESSING_STARTED, INDIVIDUAL_RESULT*, FINAL_REPORT, CONNECTION_CLOSING.
func TestStreamingEnvelopeOrder(t *testing.T) {
	pub := &fakePublisher{}
	bridge := delivery.NewBridge(delivery.NewRegistry(), 5*time.Millisecond)
	d := New(pub, bridge, "weather.request")
	session := &fakeSession{id: "s1"}

	corrID, err := d.DispatchStreaming(context.Background(), []string{"London", "Paris"}, session)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, city := range []string{"London", "Paris"} {
		entry, _ := json.Marshal(weather.ResultEntry{CorrelationID: corrID, City: city, Success: true})
		if err := bridge.HandleIndividual(context.Background(), entry); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	report, _ := json.Marshal(weather.AggregatedReport{CorrelationID: corrID, TotalCities: 2, SuccessCount: 2})
	if err := bridge.HandleReport(context.Background(), report); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	var types []string
	for _, frame := range session.sent() {
		types = append(types, frame.Type)
	}

	want := []string{
		delivery.TypeProcessingStarted,
		delivery.TypeIndividualResult,
		delivery.TypeIndividualResult,
		delivery.TypeFinalReport,
		delivery.TypeConnectionClosing,
	}
	if len(types) != len(want) {
		t.Fatalf("expected %d frames, got %v", len(want), types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("frame %d is %s, want %s (full order %v)", i, types[i], want[i], types)
		}
	}
}
