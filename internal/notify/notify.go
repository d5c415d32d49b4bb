// Package notify delivers order events to post-commit integrations. Delivery
// is asynchronous and best effort: a failing sink is retried with backoff and
// then logged, never reported back to the request that changed the order.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mesa/backend/internal/domain"
)

const (
	EventOrderCreated = "order.created"
	EventOrderChanged = "order.changed"
)

type Event struct {
	Type         string       `json:"type"`
	RestaurantID string       `json:"restaurant_id"`
	OrderID      string       `json:"order_id"`
	Status       string       `json:"status"`
	Order        domain.Order `json:"order"`
	At           time.Time    `json:"at"`
}

type Sink interface {
	Name() string
	Handle(ctx context.Context, event Event) error
}

type Dispatcher struct {
	sinks       []Sink
	workers     int
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	mu     sync.RWMutex
	queue  chan Event
	closed bool
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewDispatcher(workers int, maxAttempts int, sinks ...Sink) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Dispatcher{
		sinks:       sinks,
		workers:     workers,
		maxAttempts: maxAttempts,
		baseBackoff: 200 * time.Millisecond,
		maxBackoff:  5 * time.Second,
		queue:       make(chan Event, 256),
	}
}

// Start launches the workers. They run until Close.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for event := range d.queue {
				d.deliver(ctx, event)
			}
		}()
	}
}

// Close stops accepting events, lets the workers drain the queue and waits for them.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Dispatcher) OnOrderCreated(order domain.Order) {
	d.enqueue(newEvent(EventOrderCreated, order))
}

func (d *Dispatcher) OnOrderChanged(order domain.Order) {
	d.enqueue(newEvent(EventOrderChanged, order))
}

func newEvent(kind string, order domain.Order) Event {
	return Event{
		Type:         kind,
		RestaurantID: order.RestaurantID,
		OrderID:      order.ID,
		Status:       order.Status,
		Order:        order,
		At:           time.Now().UTC(),
	}
}

// enqueue never blocks the caller; when the queue is full the event is dropped.
func (d *Dispatcher) enqueue(event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- event:
	default:
		slog.Warn("notify queue full, event dropped",
			slog.String("order_id", event.OrderID), slog.String("type", event.Type))
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event Event) {
	for _, sink := range d.sinks {
		d.deliverTo(ctx, sink, event)
	}
}

func (d *Dispatcher) deliverTo(ctx context.Context, sink Sink, event Event) {
	backoff := d.baseBackoff
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		err := sink.Handle(ctx, event)
		if err == nil {
			return
		}
		slog.Warn("notify sink failed",
			slog.String("order_id", event.OrderID),
			slog.String("sink", sink.Name()),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
		if attempt == d.maxAttempts {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > d.maxBackoff {
			backoff = d.maxBackoff
		}
	}
}
