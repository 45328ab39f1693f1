// Package events fans TransactionAdded notifications out to in-process
// subscribers and to Kafka.
package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/warp/food-ledger/ledger"
)

const defaultBuffer = 64

// Subscription is a live feed of TransactionAdded events. Close it when done.
type Subscription struct {
	ID     uuid.UUID
	Events <-chan ledger.TransactionAdded

	hub *Hub
	ch  chan ledger.TransactionAdded
}

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s.ID)
}

// Hub is an in-process ledger.Publisher. Delivery never blocks the writer:
// a subscriber whose buffer is full misses the event and must refresh.
type Hub struct {
	log *slog.Logger

	mu     sync.RWMutex
	subs   map[uuid.UUID]*Subscription
	closed bool
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:  log.With(slog.String("component", "event_hub")),
		subs: make(map[uuid.UUID]*Subscription),
	}
}

// Subscribe registers a new subscriber. buffer <= 0 uses a default size.
// On a closed hub the returned subscription's channel is already closed.
func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan ledger.TransactionAdded, buffer)
	sub := &Subscription{ID: uuid.New(), Events: ch, hub: h, ch: ch}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return sub
	}
	h.subs[sub.ID] = sub
	h.mu.Unlock()

	h.log.Debug("subscribed", slog.String("subscription", sub.ID.String()))
	return sub
}

func (h *Hub) unsubscribe(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Close detaches every subscriber and closes its channel, ending any
// stream that reads from it. Later subscriptions start closed. Safe to call
// more than once.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
	h.log.Debug("hub closed")
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish implements ledger.Publisher.
func (h *Hub) Publish(_ context.Context, ev ledger.TransactionAdded) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			h.log.Warn("subscriber buffer full, event dropped",
				slog.String("subscription", id.String()),
				slog.Uint64("position", ev.Position))
		}
	}
	return nil
}
