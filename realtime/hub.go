// Package realtime fans domain events out to live consumers (WebSocket
// clients, SSE streams). Delivery is best effort: a subscriber whose buffer
// is full misses the event rather than stalling the ledger pipeline.
package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"loyaltyledger/core"
)

type subscriber struct {
	ch    chan core.Event
	types map[core.EventType]struct{}
}

func (s *subscriber) wants(typ core.EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[typ]
	return ok
}

// Hub is a broadcast pub/sub for domain events.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]*subscriber
	next int
}

func NewHub() *Hub { return &Hub{subs: map[int]*subscriber{}} }

// Subscribe registers a consumer. With no types given every event is
// delivered; otherwise only the listed types are.
func (h *Hub) Subscribe(buffer int, types ...core.EventType) (int, <-chan core.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	sub := &subscriber{ch: make(chan core.Event, buffer)}
	if len(types) > 0 {
		sub.types = make(map[core.EventType]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}
	h.subs[id] = sub
	return id, sub.ch
}

func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

func (h *Hub) Broadcast(_ context.Context, ev core.Event) {
	h.mu.RLock()
	// copy to avoid holding the lock during sends
	receivers := make([]*subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.wants(ev.Type) {
			receivers = append(receivers, sub)
		}
	}
	h.mu.RUnlock()
	for _, sub := range receivers {
		select {
		case sub.ch <- ev:
		default: /* drop if full */
		}
	}
}

// MarshalJSON converts an event to JSON bytes for WebSocket/SSE frames.
func MarshalJSON(ev core.Event) []byte {
	b, _ := json.Marshal(ev)
	return b
}
