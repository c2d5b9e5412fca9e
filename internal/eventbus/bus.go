package eventbus

import (
	"log"
	"sync"
)

// bufferCapacity bounds the pre-subscription replay buffer. A route can
// start producing events (e.g. during crash recovery) before the first
// SSE client connects; without a buffer those events would be lost.
const bufferCapacity = 1000

// Sink receives published events. Send must not block for long; a sink
// that returns an error is treated as dead and evicted from the bus.
type Sink interface {
	Send(Event) error
}

// Bus fans out events to every subscribed Sink and keeps a bounded FIFO
// history so subscribers that connect after publication still see earlier
// events (spec.md §6.5's SSE reconnect behavior). The history holds the
// first bufferCapacity events published; later events are not kept.
type Bus struct {
	mu      sync.RWMutex
	sinks   map[string]Sink
	history []Event
	debug   Sink
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		sinks: make(map[string]Sink),
	}
}

// SetDebugSink installs a fallback sink that receives every event published
// while no subscriber is connected, so activity is still observable before
// the first SSE client attaches or after the last one disconnects.
func (b *Bus) SetDebugSink(sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.debug = sink
}

// Publish appends event to the replay buffer and fans it out to every
// live sink, evicting any sink whose Send fails. Once the replay buffer is
// full, new events are dropped (with a warning) rather than evicting
// already-buffered ones, so a late subscriber still replays history in its
// original order (spec.md §4.6).
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	if len(b.history) < bufferCapacity {
		b.history = append(b.history, event)
	} else {
		log.Printf("eventbus: replay buffer full at %d events, dropping %s", bufferCapacity, event.Type)
	}
	sinks := make(map[string]Sink, len(b.sinks))
	for id, s := range b.sinks {
		sinks[id] = s
	}
	debug := b.debug
	b.mu.Unlock()

	if len(sinks) == 0 {
		if debug != nil {
			_ = debug.Send(event)
		}
		return
	}

	var dead []string
	for id, s := range sinks {
		if err := s.Send(event); err != nil {
			dead = append(dead, id)
		}
	}
	if len(dead) > 0 {
		b.mu.Lock()
		for _, id := range dead {
			delete(b.sinks, id)
		}
		b.mu.Unlock()
	}
}

// Subscribe registers sink under id, replacing any prior sink with the
// same id. If replay is true, every buffered event is delivered to the
// new sink before it starts receiving live events. A non-nil error from
// a replay send aborts the subscription and returns the error.
func (b *Bus) Subscribe(id string, sink Sink, replay bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if replay {
		for _, event := range b.history {
			if err := sink.Send(event); err != nil {
				return err
			}
		}
	}
	b.sinks[id] = sink
	return nil
}

// Unsubscribe removes a sink. Safe to call for an id that is not
// registered or was already evicted.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sinks, id)
}

// SubscriberCount reports the number of live sinks, used by metrics.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sinks)
}
