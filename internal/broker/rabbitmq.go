package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"pharmacy-order-status/internal/realtime"
)

// RabbitRelay fans status events out through a RabbitMQ fanout exchange.
// Each instance consumes from its own exclusive, auto-deleted queue. A dropped
// connection is redialed on the next Publish or Run.
type RabbitRelay struct {
	url      string
	exchange string
	log      *zap.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	pub    *amqp.Channel
	closed bool
}

// DialRabbit connects to RabbitMQ and declares the fanout exchange.
func DialRabbit(url, exchange string, log *zap.Logger) (*RabbitRelay, error) {
	r := &RabbitRelay{url: url, exchange: exchange, log: log}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.connectLocked(); err != nil {
		return nil, err
	}
	return r, nil
}

// connectLocked (re)opens the connection and the publish channel when either is gone.
func (r *RabbitRelay) connectLocked() error {
	if r.closed {
		return amqp.ErrClosed
	}
	if r.conn != nil && !r.conn.IsClosed() && r.pub != nil && !r.pub.IsClosed() {
		return nil
	}

	if r.conn == nil || r.conn.IsClosed() {
		conn, err := amqp.Dial(r.url)
		if err != nil {
			return fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}
		if r.conn != nil {
			r.log.Info("rabbitmq connection re-established", zap.String("exchange", r.exchange))
		}
		r.conn = conn
		r.pub = nil
	}

	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(r.exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("failed to declare exchange %q: %w", r.exchange, err)
	}
	r.pub = ch
	return nil
}

func (r *RabbitRelay) Publish(ctx context.Context, ev realtime.StatusEvent) error {
	body, err := encodeEvent(ev)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.connectLocked(); err != nil {
		return err
	}
	return r.pub.PublishWithContext(ctx, r.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now().UTC(),
		Body:        body,
	})
}

func (r *RabbitRelay) Run(ctx context.Context, deliver func(realtime.StatusEvent)) error {
	r.mu.Lock()
	err := r.connectLocked()
	conn := r.conn
	r.mu.Unlock()
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", r.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %q: %w", q.Name, err)
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume from %q: %w", q.Name, err)
	}

	r.log.Info("rabbitmq relay consuming", zap.String("exchange", r.exchange), zap.String("queue", q.Name))
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("rabbitmq delivery channel closed")
			}
			ev, err := decodeEvent(d.Body)
			if err != nil {
				r.log.Warn("dropping malformed status event", zap.Error(err))
				continue
			}
			deliver(ev)
		}
	}
}

func (r *RabbitRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	if r.pub != nil {
		_ = r.pub.Close()
	}
	if r.conn == nil || r.conn.IsClosed() {
		return nil
	}
	return r.conn.Close()
}
