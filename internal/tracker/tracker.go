package tracker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"pharmacy-order-status/internal/model"
	"pharmacy-order-status/internal/realtime"
)

const (
	defaultReconcileInterval = time.Minute
	fetchTimeout             = 10 * time.Second
	updatesBuffer            = 16
)

// StatusFetcher reads the persisted status of an order.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, orderID int64) (Snapshot, error)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithReconcileInterval sets how often the persisted status is polled.
func WithReconcileInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(t *Tracker) { t.log = log }
}

// Tracker keeps the displayed status of one order current. Live events are
// applied as they arrive; the persisted status is re-read after every
// reconnect and on a fixed interval, so missed events heal.
type Tracker struct {
	mgr      *Manager
	fetcher  StatusFetcher
	orderID  int64
	interval time.Duration
	log      *zap.Logger

	mu      sync.RWMutex
	status  model.OrderStatus
	seenAt  time.Time // newest change time applied so far
	updates chan model.OrderStatus
	started bool
	stopped bool

	reconcileNow chan struct{}
	unsubscribe  func()
	unhook       func()
	cancel       context.CancelFunc
	done         chan struct{}
	stopOnce     sync.Once
}

// NewTracker creates a tracker showing initial until something newer is known.
func NewTracker(mgr *Manager, fetcher StatusFetcher, orderID int64, initial model.OrderStatus, opts ...Option) *Tracker {
	t := &Tracker{
		mgr:          mgr,
		fetcher:      fetcher,
		orderID:      orderID,
		interval:     defaultReconcileInterval,
		log:          zap.NewNop(),
		status:       initial,
		updates:      make(chan model.OrderStatus, updatesBuffer),
		reconcileNow: make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start joins the order's room and begins reconciling. It fails only if no
// connection to the order channel can be opened.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	t.mu.Unlock()

	t.unsubscribe = t.mgr.Subscribe(t.handle)
	t.unhook = t.mgr.OnReconnect(t.Reconcile)
	t.mgr.Join(t.orderID)

	if _, err := t.mgr.Connection(ctx); err != nil {
		t.unsubscribe()
		t.unhook()
		t.mgr.Leave(t.orderID)
		t.mu.Lock()
		t.started = false
		t.mu.Unlock()
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	go t.reconcileLoop(loopCtx)
	return nil
}

// Stop leaves the room and stops reconciling. Updates is closed afterwards.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		t.mu.RLock()
		started := t.started
		t.mu.RUnlock()

		if started {
			t.cancel()
			<-t.done
			t.unsubscribe()
			t.unhook()
			t.mgr.Leave(t.orderID)
		}

		t.mu.Lock()
		t.stopped = true
		close(t.updates)
		t.mu.Unlock()
	})
}

// Status returns the status currently displayed.
func (t *Tracker) Status() model.OrderStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Updates delivers every change of the displayed status. When the reader
// falls behind, the oldest pending change is discarded.
func (t *Tracker) Updates() <-chan model.OrderStatus {
	return t.updates
}

// Reconcile asks for the persisted status to be fetched now.
func (t *Tracker) Reconcile() {
	select {
	case t.reconcileNow <- struct{}{}:
	default:
	}
}

func (t *Tracker) handle(frame realtime.Frame) {
	if frame.Event != realtime.EventStatus {
		return
	}

	var ev realtime.StatusEvent
	if err := json.Unmarshal(frame.Data, &ev); err != nil {
		return
	}
	if ev.OrderID != t.orderID {
		return
	}

	status := model.OrderStatus(ev.Status)
	if !status.Valid() {
		t.log.Debug("ignoring unknown order status", zap.Int64("order_id", t.orderID), zap.String("status", ev.Status))
		return
	}
	t.set(status, ev.ChangedAt)
}

// set displays status unless something newer than at has already been shown.
// A zero at is always applied.
func (t *Tracker) set(status model.OrderStatus, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	if !at.IsZero() {
		if at.Before(t.seenAt) {
			t.log.Debug("ignoring outdated order status",
				zap.Int64("order_id", t.orderID), zap.String("status", status.String()), zap.Time("changed_at", at))
			return
		}
		t.seenAt = at
	}
	if t.status == status {
		return
	}
	t.status = status

	select {
	case t.updates <- status:
		return
	default:
	}
	select {
	case <-t.updates:
	default:
	}
	select {
	case t.updates <- status:
	default:
	}
}

func (t *Tracker) reconcileLoop(ctx context.Context) {
	defer close(t.done)

	timer := time.NewTimer(t.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-t.reconcileNow:
		}
		t.reconcile(ctx)
		timer.Reset(t.interval)
	}
}

func (t *Tracker) reconcile(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	snap, err := t.fetcher.FetchStatus(ctx, t.orderID)
	if err != nil {
		t.log.Warn("failed to reconcile order status", zap.Int64("order_id", t.orderID), zap.Error(err))
		return
	}
	t.set(snap.Status, snap.UpdatedAt)
}
