package notify

import (
	"context"
	"sync"
)

// Hub fans events out to in-process subscribers of one restaurant, e.g. SSE
// streams. Slow subscribers miss events instead of stalling delivery.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{})}
}

func (h *Hub) Name() string {
	return "sse"
}

func (h *Hub) Subscribe(restaurantID string) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	h.mu.Lock()
	if h.subs[restaurantID] == nil {
		h.subs[restaurantID] = make(map[chan Event]struct{})
	}
	h.subs[restaurantID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[restaurantID], ch)
			if len(h.subs[restaurantID]) == 0 {
				delete(h.subs, restaurantID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Handle(_ context.Context, event Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[event.RestaurantID] {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}
