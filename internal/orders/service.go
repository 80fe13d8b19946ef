package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"pharmacy-order-status/internal/model"
	"pharmacy-order-status/internal/notification"
	"pharmacy-order-status/internal/realtime"
	"pharmacy-order-status/internal/store"
)

// ErrInvalidStatus is returned when a publish request carries a status outside the closed set.
var ErrInvalidStatus = errors.New("invalid order status")

// Publisher hands a status event to the real-time channel. broker.Relay satisfies it.
type Publisher interface {
	Publish(ctx context.Context, ev realtime.StatusEvent) error
}

// PushDispatcher queues web push notifications.
type PushDispatcher interface {
	Dispatch(job notification.Job) bool
}

// Broadcaster fans a status event out to this instance's websocket clients. realtime.Hub satisfies it.
type Broadcaster interface {
	Broadcast(ev realtime.StatusEvent) int
}

// CacheInvalidator drops cached responses whose key starts with prefix.
type CacheInvalidator interface {
	Invalidate(prefix string) int
}

// Service is the publisher side of order status changes.
type Service struct {
	store store.Store
	log   *zap.Logger
	now   func() time.Time
	push  PushDispatcher
	cache CacheInvalidator

	mu    sync.RWMutex
	relay Publisher
}

// Option configures a Service.
type Option func(*Service)

// WithPush enables web push notifications on every status change.
func WithPush(d PushDispatcher) Option {
	return func(s *Service) { s.push = d }
}

// WithCache lets the service drop stale cached order responses.
func WithCache(c CacheInvalidator) Option {
	return func(s *Service) { s.cache = c }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an order service. Broadcasting stays disabled until AttachRelay is called.
func NewService(st store.Store, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store: st,
		log:   log,
		now:   func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AttachRelay enables broadcasting once the real-time server is up.
func (s *Service) AttachRelay(p Publisher) {
	s.mu.Lock()
	s.relay = p
	s.mu.Unlock()
}

// CacheKeyPrefix is the prefix of every cached GET response for an order.
func CacheKeyPrefix(orderID int64) string {
	return fmt.Sprintf("/api/orders/%d", orderID)
}

// UpdateStatus persists a new status for the order and broadcasts it to the order's room.
// The write is not rolled back when the broadcast fails.
func (s *Service) UpdateStatus(ctx context.Context, orderID int64, raw, source string) (model.Order, error) {
	status, err := model.ParseOrderStatus(raw)
	if err != nil {
		return model.Order{}, fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}

	at := s.now()
	order, err := s.store.UpdateOrderStatus(ctx, orderID, status, source, at)
	if err != nil {
		return model.Order{}, err
	}

	if s.cache != nil {
		s.cache.Invalidate(CacheKeyPrefix(orderID))
	}

	s.broadcast(ctx, realtime.NewStatusEvent(orderID, status, at))

	if s.push != nil {
		s.push.Dispatch(notification.Job{OrderID: orderID, Status: status})
	}

	s.log.Info("order status updated",
		zap.Int64("order_id", orderID), zap.String("status", status.String()), zap.String("source", source))
	return order, nil
}

// Deliver returns the callback a relay runs for every status event it receives,
// including events published by other instances. Cached reads of the order are
// dropped before local clients are told about the change.
func (s *Service) Deliver(b Broadcaster) func(realtime.StatusEvent) {
	return func(ev realtime.StatusEvent) {
		if s.cache != nil {
			s.cache.Invalidate(CacheKeyPrefix(ev.OrderID))
		}
		b.Broadcast(ev)
	}
}

func (s *Service) broadcast(ctx context.Context, ev realtime.StatusEvent) {
	s.mu.RLock()
	relay := s.relay
	s.mu.RUnlock()

	if relay == nil {
		s.log.Warn("real-time server not initialized, skipping broadcast", zap.Int64("order_id", ev.OrderID))
		return
	}
	if err := relay.Publish(ctx, ev); err != nil {
		s.log.Error("failed to broadcast order status", zap.Int64("order_id", ev.OrderID), zap.Error(err))
	}
}

// GetOrder returns the persisted order.
func (s *Service) GetOrder(ctx context.Context, orderID int64) (model.Order, error) {
	return s.store.GetOrder(ctx, orderID)
}

// Timeline returns the order's status history, newest first.
func (s *Service) Timeline(ctx context.Context, orderID int64, limit int) ([]model.OrderStatusEvent, error) {
	if _, err := s.store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.store.ListStatusEvents(ctx, orderID, limit)
}
