package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/durableflow/durableflow/internal/eventbus"
	"github.com/durableflow/durableflow/internal/ids"
)

// sseClient is an eventbus.Sink backed by a bounded channel; Send never
// blocks the publisher, and a dead/full client is evicted by the bus
// exactly like any other sink (spec.md §4.6's "dead-sink eviction").
type sseClient struct {
	ch chan eventbus.Event
}

func newSSEClient() *sseClient {
	// Room for a full replay of the bus history (up to 1000 events) plus
	// 256 live events, so subscribing with replay does not overflow.
	return &sseClient{ch: make(chan eventbus.Event, 1000+256)}
}

func (c *sseClient) Send(e eventbus.Event) error {
	select {
	case c.ch <- e:
		return nil
	default:
		return fmt.Errorf("sse client buffer full")
	}
}

type connectedFrame struct {
	Message  string `json:"message"`
	ClientID string `json:"clientId"`
}

// handleEventStream implements `GET /api/events/stream` (spec.md §6): a
// Server-Sent Events connection. The first frame is "connected", carrying
// the new client id; subsequent frames replay any buffered history before
// switching to live events.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	clientID := ids.New()
	client := newSSEClient()
	if err := s.bus.Subscribe(clientID, client, true); err != nil {
		writeError(w, err)
		return
	}
	defer s.bus.Unsubscribe(clientID)

	if s.metrics != nil {
		s.metrics.SetSSESubscribers(float64(s.bus.SubscriberCount()))
		defer s.metrics.SetSSESubscribers(float64(s.bus.SubscriberCount() - 1))
	}

	writeSSEFrame(w, "connected", connectedFrame{Message: "connected", ClientID: clientID})
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-client.ch:
			writeSSEFrame(w, event.Type, event)
			flusher.Flush()
		}
	}
}

func writeSSEFrame(w http.ResponseWriter, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
}

type eventsHealthDTO struct {
	Status      string `json:"status"`
	Subscribers int    `json:"subscribers"`
}

// handleEventsHealth implements `GET /api/events/health`.
func (s *Server) handleEventsHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, eventsHealthDTO{Status: "ok", Subscribers: s.bus.SubscriberCount()})
}

type clientsCountDTO struct {
	Count int `json:"count"`
}

// handleClientsCount implements `GET /api/events/clients/count`.
func (s *Server) handleClientsCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, clientsCountDTO{Count: s.bus.SubscriberCount()})
}
