package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"pharmacy-order-status/config"
	"pharmacy-order-status/internal/realtime"
)

// ErrNotRunning is returned by Publish before Run has registered a receiver.
var ErrNotRunning = errors.New("relay is not running")

// Relay carries status events from the publisher to the hub of every
// server instance. Delivery is best effort.
type Relay interface {
	Publish(ctx context.Context, ev realtime.StatusEvent) error
	// Run blocks, handing every received event to deliver, until ctx is done.
	Run(ctx context.Context, deliver func(realtime.StatusEvent)) error
	Close() error
}

// New builds the relay selected by cfg.Kind.
func New(cfg config.BrokerConfig, log *zap.Logger) (Relay, error) {
	switch cfg.Kind {
	case "", "local":
		return NewLocalRelay(), nil
	case "rabbitmq":
		return DialRabbit(cfg.RabbitURL, cfg.Exchange, log)
	case "redis":
		return NewRedisRelay(cfg.RedisAddr, cfg.RedisDB, cfg.RedisChannel, log)
	default:
		return nil, fmt.Errorf("unknown broker kind %q", cfg.Kind)
	}
}

// stableRun is how long Run must stay up before the retry delay starts over.
const stableRun = time.Minute

// NewBackOff is the reconnect schedule used by RunWithRetry in production.
func NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	return b
}

// RunWithRetry keeps the relay consuming until ctx is done. When Run returns
// early, usually because the broker connection dropped, it is started again
// after the next delay from b. Relays reconnect or resubscribe inside Run.
func RunWithRetry(ctx context.Context, relay Relay, deliver func(realtime.StatusEvent), b backoff.BackOff, log *zap.Logger) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		started := time.Now()
		err := relay.Run(ctx, deliver)
		if ctx.Err() != nil {
			return struct{}{}, nil
		}
		if err == nil {
			err = errors.New("relay stopped unexpectedly")
		}
		if time.Since(started) >= stableRun {
			b.Reset()
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("broker relay stopped, restarting", zap.Error(err), zap.Duration("retry_in", next))
		}),
	)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func encodeEvent(ev realtime.StatusEvent) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode status event: %w", err)
	}
	return body, nil
}

func decodeEvent(body []byte) (realtime.StatusEvent, error) {
	var ev realtime.StatusEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return realtime.StatusEvent{}, fmt.Errorf("failed to decode status event: %w", err)
	}
	if ev.OrderID <= 0 {
		return realtime.StatusEvent{}, fmt.Errorf("status event has no order id")
	}
	return ev, nil
}
