package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	publishTimeout   = 5 * time.Second
	minRedialBackoff = 500 * time.Millisecond
	maxRedialBackoff = 30 * time.Second
)

var errBrokerUnavailable = errors.New("amqp broker unavailable")

// Publisher mirrors order events to a RabbitMQ topic exchange for third-party
// POS and chat integrations. Publishes wait for the broker confirm of their
// own delivery tag. A dropped connection is redialed lazily on the next
// publish, with exponential backoff between failed dials.
type Publisher struct {
	url      string
	exchange string

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	acks     <-chan amqp.Confirmation
	failures int
	retryAt  time.Time
	closed   bool
}

func NewPublisher(url string, exchange string) (*Publisher, error) {
	p := &Publisher{url: url, exchange: exchange}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

// connect dials the broker and prepares a confirm-mode channel. Callers hold mu
// or own p exclusively.
func (p *Publisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}
	p.conn = conn
	p.ch = ch
	p.acks = ch.NotifyPublish(make(chan amqp.Confirmation, 16))
	return nil
}

// ensureConnected reopens the channel, or the whole connection, when either
// has gone away. Failed dials push the next attempt out exponentially.
func (p *Publisher) ensureConnected(now time.Time) error {
	if p.closed {
		return errors.New("amqp publisher closed")
	}
	if p.conn != nil && !p.conn.IsClosed() && p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	if now.Before(p.retryAt) {
		return errBrokerUnavailable
	}
	p.teardown()
	if err := p.connect(); err != nil {
		p.failures++
		p.retryAt = now.Add(redialBackoff(p.failures))
		slog.Warn("amqp reconnect failed",
			slog.Int("attempt", p.failures), slog.Time("retry_at", p.retryAt), slog.Any("error", err))
		return fmt.Errorf("%w: %v", errBrokerUnavailable, err)
	}
	if p.failures > 0 {
		slog.Info("amqp reconnected", slog.Int("after_attempts", p.failures))
	}
	p.failures = 0
	p.retryAt = time.Time{}
	return nil
}

// teardown drops the channel and connection. A fresh channel restarts the
// confirm sequence, so confirms still in flight for the old one are discarded.
func (p *Publisher) teardown() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil && !p.conn.IsClosed() {
		_ = p.conn.Close()
	}
	p.conn, p.ch, p.acks = nil, nil, nil
}

func redialBackoff(failures int) time.Duration {
	delay := minRedialBackoff
	for i := 1; i < failures && delay < maxRedialBackoff; i++ {
		delay *= 2
	}
	if delay > maxRedialBackoff {
		delay = maxRedialBackoff
	}
	return delay
}

func (p *Publisher) Name() string {
	return "amqp"
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil && !p.conn.IsClosed() {
		errs = append(errs, p.conn.Close())
	}
	p.conn, p.ch, p.acks = nil, nil, nil
	return errors.Join(errs...)
}

func (p *Publisher) Handle(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureConnected(time.Now()); err != nil {
		return err
	}

	tag := p.ch.GetNextPublishSeqNo()
	if err := p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(event), false, false, amqp.Publishing{
		DeliveryMode:  amqp.Persistent,
		ContentType:   "application/json",
		MessageId:     fmt.Sprintf("%s-%d", event.OrderID, event.At.UnixNano()),
		CorrelationId: event.OrderID,
		Timestamp:     event.At,
		Headers:       amqp.Table{"x-source": "mesa-backend"},
		Body:          body,
	}); err != nil {
		p.teardown()
		return err
	}

	if err := waitConfirm(ctx, p.acks, tag); err != nil {
		// The confirm may still arrive later; a new channel keeps it from
		// being read as the answer to the next publish.
		p.teardown()
		return err
	}
	return nil
}

// waitConfirm blocks until the broker answers for tag. Confirms for earlier
// tags are stale leftovers and are skipped.
func waitConfirm(ctx context.Context, acks <-chan amqp.Confirmation, tag uint64) error {
	for {
		select {
		case conf, ok := <-acks:
			if !ok {
				return errors.New("amqp channel closed before confirm")
			}
			if conf.DeliveryTag < tag {
				continue
			}
			if conf.DeliveryTag > tag {
				return fmt.Errorf("amqp confirm for tag %d skipped past %d", conf.DeliveryTag, tag)
			}
			if !conf.Ack {
				return errors.New("publish nacked by broker")
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RoutingKey is order.created.<restaurant> for new orders and
// order.changed.<status> for every later change.
func RoutingKey(event Event) string {
	if event.Type == EventOrderCreated {
		return EventOrderCreated + "." + event.RestaurantID
	}
	return EventOrderChanged + "." + strings.ToLower(event.Status)
}
