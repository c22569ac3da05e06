// Package events fans committed protocol events out to live subscribers.
package events

import (
	"sync"

	"govtoken/internal/domain"
	"govtoken/pkg/logger"
)

// Hub delivers events to subscribers. Slow subscribers lose events rather
// than block the publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*subscription]struct{}
	buffer int
	logger logger.Logger
}

type subscription struct {
	ch     chan domain.Event
	filter map[domain.EventType]bool
}

func NewHub(buffer int, log logger.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subs: make(map[*subscription]struct{}), buffer: buffer, logger: log}
}

// Subscribe returns a channel of events restricted to types (all when
// empty) and a cancel func that closes it.
func (h *Hub) Subscribe(types ...domain.EventType) (<-chan domain.Event, func()) {
	sub := &subscription{ch: make(chan domain.Event, h.buffer)}
	if len(types) > 0 {
		sub.filter = make(map[domain.EventType]bool, len(types))
		for _, t := range types {
			sub.filter[t] = true
		}
	}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Publish delivers evs to every matching subscriber.
func (h *Hub) Publish(evs []domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		for _, ev := range evs {
			if sub.filter != nil && !sub.filter[ev.Type] {
				continue
			}
			select {
			case sub.ch <- ev:
			default:
				h.logger.Warn("Event dropped for slow subscriber", map[string]interface{}{
					"event_id": ev.ID.String(),
					"type":     string(ev.Type),
				})
			}
		}
	}
}

// Subscribers is the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
