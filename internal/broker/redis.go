package broker

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pharmacy-order-status/internal/realtime"
)

// RedisRelay fans status events out over a Redis Pub/Sub channel.
type RedisRelay struct {
	rdb     *redis.Client
	channel string
	log     *zap.Logger
}

// NewRedisRelay connects to Redis and checks it is reachable.
func NewRedisRelay(addr string, db int, channel string, log *zap.Logger) (*RedisRelay, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return newRedisRelay(rdb, channel, log), nil
}

func newRedisRelay(rdb *redis.Client, channel string, log *zap.Logger) *RedisRelay {
	return &RedisRelay{rdb: rdb, channel: channel, log: log}
}

func (r *RedisRelay) Publish(ctx context.Context, ev realtime.StatusEvent) error {
	body, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, body).Err()
}

func (r *RedisRelay) Run(ctx context.Context, deliver func(realtime.StatusEvent)) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before reporting readiness.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %q: %w", r.channel, err)
	}

	r.log.Info("redis relay subscribed", zap.String("channel", r.channel))
	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("redis subscription to %q closed", r.channel)
			}
			ev, err := decodeEvent([]byte(msg.Payload))
			if err != nil {
				r.log.Warn("dropping malformed status event", zap.Error(err))
				continue
			}
			deliver(ev)
		}
	}
}

func (r *RedisRelay) Close() error {
	return r.rdb.Close()
}
