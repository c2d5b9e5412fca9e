package eventbus

import (
	"errors"
	"sync"
	"testing"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	fail   bool
}

func (r *recordingSink) Send(e Event) error {
	if r.fail {
		return errors.New("sink closed")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestPublishFansOutToAllSinks(t *testing.T) {
	bus := New()
	a := &recordingSink{}
	b := &recordingSink{}
	_ = bus.Subscribe("a", a, false)
	_ = bus.Subscribe("b", b, false)

	bus.Publish(Event{Type: TypeExchangeStarted, ExchangeID: "ex-1"})

	if a.count() != 1 || b.count() != 1 {
		t.Fatalf("expected both sinks to receive the event, got a=%d b=%d", a.count(), b.count())
	}
}

func TestPublishEvictsDeadSink(t *testing.T) {
	bus := New()
	dead := &recordingSink{fail: true}
	alive := &recordingSink{}
	_ = bus.Subscribe("dead", dead, false)
	_ = bus.Subscribe("alive", alive, false)

	bus.Publish(Event{Type: TypeExchangeStarted})

	if bus.SubscriberCount() != 1 {
		t.Fatalf("expected dead sink to be evicted, subscriber count = %d", bus.SubscriberCount())
	}
	if alive.count() != 1 {
		t.Fatalf("expected surviving sink to still receive events")
	}
}

func TestSubscribeReplaysBufferedHistory(t *testing.T) {
	bus := New()
	bus.Publish(Event{Type: TypeExchangeStarted, ExchangeID: "ex-1"})
	bus.Publish(Event{Type: TypeExchangeCompleted, ExchangeID: "ex-1"})

	sink := &recordingSink{}
	if err := bus.Subscribe("late", sink, true); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if sink.count() != 2 {
		t.Fatalf("expected replay of 2 buffered events, got %d", sink.count())
	}
}

func TestSubscribeWithoutReplaySeesNoBacklog(t *testing.T) {
	bus := New()
	bus.Publish(Event{Type: TypeExchangeStarted})

	sink := &recordingSink{}
	_ = bus.Subscribe("late", sink, false)

	if sink.count() != 0 {
		t.Fatalf("expected no replay, got %d events", sink.count())
	}
}

func TestHistoryBoundedByCapacity(t *testing.T) {
	bus := New()
	for i := 0; i < bufferCapacity+50; i++ {
		bus.Publish(Event{Type: TypeExchangeStarted})
	}
	if len(bus.history) != bufferCapacity {
		t.Fatalf("expected history capped at %d, got %d", bufferCapacity, len(bus.history))
	}
}

func TestHistoryDropsNewEventsOncefull(t *testing.T) {
	bus := New()
	for i := 0; i < bufferCapacity; i++ {
		bus.Publish(Event{Type: TypeExchangeStarted, ExchangeID: "kept"})
	}
	bus.Publish(Event{Type: TypeExchangeCompleted, ExchangeID: "overflow"})

	if len(bus.history) != bufferCapacity {
		t.Fatalf("expected history to stay at %d, got %d", bufferCapacity, len(bus.history))
	}
	for i, e := range bus.history {
		if e.ExchangeID != "kept" {
			t.Fatalf("event %d: expected original buffered event to survive, got %q", i, e.ExchangeID)
		}
	}
}

func TestDebugSinkReceivesEventsWithNoSubscribers(t *testing.T) {
	bus := New()
	sink := &recordingSink{}
	bus.SetDebugSink(sink)

	bus.Publish(Event{Type: TypeExchangeStarted, ExchangeID: "ex-1"})

	if sink.count() != 1 {
		t.Fatalf("expected debug sink to receive the event, got %d", sink.count())
	}
}

func TestDebugSinkSilentOnceASubscriberConnects(t *testing.T) {
	bus := New()
	debug := &recordingSink{}
	bus.SetDebugSink(debug)
	live := &recordingSink{}
	_ = bus.Subscribe("live", live, false)

	bus.Publish(Event{Type: TypeExchangeStarted})

	if debug.count() != 0 {
		t.Fatalf("expected debug sink to stay silent while a real subscriber is connected, got %d", debug.count())
	}
	if live.count() != 1 {
		t.Fatalf("expected the live subscriber to receive the event")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New()
	sink := &recordingSink{}
	_ = bus.Subscribe("s", sink, false)
	bus.Unsubscribe("s")

	bus.Publish(Event{Type: TypeExchangeStarted})

	if sink.count() != 0 {
		t.Fatalf("expected no events after unsubscribe, got %d", sink.count())
	}
}
