package broker

import (
	"context"
	"sync"

	"pharmacy-order-status/internal/realtime"
)

// LocalRelay delivers events in-process, synchronously. Used for single-instance deployments.
type LocalRelay struct {
	mu      sync.RWMutex
	deliver func(realtime.StatusEvent)
}

// NewLocalRelay creates an idle in-process relay.
func NewLocalRelay() *LocalRelay {
	return &LocalRelay{}
}

func (r *LocalRelay) Publish(ctx context.Context, ev realtime.StatusEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.RLock()
	deliver := r.deliver
	r.mu.RUnlock()

	if deliver == nil {
		return ErrNotRunning
	}
	deliver(ev)
	return nil
}

func (r *LocalRelay) Run(ctx context.Context, deliver func(realtime.StatusEvent)) error {
	r.mu.Lock()
	r.deliver = deliver
	r.mu.Unlock()

	<-ctx.Done()

	r.mu.Lock()
	r.deliver = nil
	r.mu.Unlock()
	return nil
}

func (r *LocalRelay) Close() error {
	return nil
}
