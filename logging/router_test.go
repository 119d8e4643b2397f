package logging

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	fail   bool
	closed bool
}

func (s *recordingSink) Write(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("disk full")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) recorded() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestRouterFiltersStampsAndFlushesOnClose(t *testing.T) {
	sink := &recordingSink{}
	cfg := DefaultConfig()
	cfg.MinimumSeverity = SeverityWarn
	cfg.Fields = map[string]any{"service": "vitals", "zone": "default"}
	router := NewRouter(cfg, []NamedSink{{Name: "recording", Sink: sink}})

	ctx := context.Background()
	router.Publish(ctx, Event{Type: "health.damaged", Severity: SeverityInfo, Actor: ActorRef("hero")})
	router.Publish(ctx, Event{Type: "death.replay_rejected", Severity: SeverityWarn, Actor: ActorRef("hero"), Extra: map[string]any{"zone": "arena"}})
	router.Publish(ctx, Event{Severity: SeverityError})

	if err := router.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !sink.closed {
		t.Fatalf("expected sink to be closed")
	}

	events := sink.recorded()
	if len(events) != 1 {
		t.Fatalf("expected only the warn event, got %d", len(events))
	}
	event := events[0]
	if event.Time.IsZero() {
		t.Fatalf("expected the router to stamp the event time")
	}
	if event.Extra["service"] != "vitals" || event.Extra["zone"] != "arena" {
		t.Fatalf("expected static fields without overriding the event's own, got %v", event.Extra)
	}

	router.Publish(ctx, Event{Type: "death.started", Severity: SeverityError})
	if len(sink.recorded()) != 1 {
		t.Fatalf("expected publishes after close to be ignored")
	}
	if err := router.Close(ctx); err != nil {
		t.Fatalf("expected second close to be a no-op, got %v", err)
	}
}

func TestRouterKeepsDeliveringAfterSinkFailure(t *testing.T) {
	failing := &recordingSink{fail: true}
	healthy := &recordingSink{}
	router := NewRouter(DefaultConfig(), []NamedSink{
		{Name: "failing", Sink: failing},
		{Name: "healthy", Sink: healthy},
		{Name: "missing"},
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		router.Publish(ctx, Event{Type: "health.healed", Severity: SeverityInfo, Tick: uint64(i)})
	}
	if err := router.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	events := healthy.recorded()
	if len(events) != 3 {
		t.Fatalf("expected 3 events on the healthy sink, got %d", len(events))
	}
	for i, event := range events {
		if event.Tick != uint64(i) {
			t.Fatalf("expected events in publish order, got tick %d at %d", event.Tick, i)
		}
	}
}
