package pipeline

import (
	"context"
	"sync"
)

// DefaultWorkerConcurrency is the stage-3 fan-out cap when none is
// configured.
const DefaultWorkerConcurrency = 3

// Limiter is a bounded concurrency limiter with strict FIFO queuing.
//
// Operations wait in arrival order without holding a slot; a slot is held
// only between a successful Acquire and the matching Release. Run wraps the
// pair so release is guaranteed on every exit path, including panics and
// cancellation of the wrapped function.
//
// Release hands the slot directly to the oldest waiter instead of
// decrementing and letting waiters race; that transfer is what makes the
// queue strictly FIFO.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	inUse   int
	waiters []chan struct{}
}

// NewLimiter creates a limiter admitting at most limit concurrent
// operations. A non-positive limit is treated as 1.
func NewLimiter(limit int) *Limiter {
	if limit < 1 {
		limit = 1
	}
	return &Limiter{limit: limit}
}

// Acquire blocks until a slot is free or ctx is done. Waiters are served in
// FIFO order. Returns ctx.Err() on cancellation; in that case no slot is
// held.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.inUse < l.limit {
		l.inUse++
		l.mu.Unlock()
		return nil
	}
	grant := make(chan struct{})
	l.waiters = append(l.waiters, grant)
	l.mu.Unlock()

	select {
	case <-grant:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, w := range l.waiters {
			if w == grant {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				l.mu.Unlock()
				return ctx.Err()
			}
		}
		l.mu.Unlock()
		// The grant raced with cancellation: Release already handed us the
		// slot, so give it back before reporting cancellation.
		l.Release()
		return ctx.Err()
	}
}

// Release frees a slot, handing it to the oldest waiter if any.
func (l *Limiter) Release() {
	l.mu.Lock()
	if len(l.waiters) > 0 {
		grant := l.waiters[0]
		l.waiters = l.waiters[1:]
		l.mu.Unlock()
		close(grant)
		return
	}
	if l.inUse > 0 {
		l.inUse--
	}
	l.mu.Unlock()
}

// Run executes fn under a slot: acquire, execute, release. Release happens
// on success, error and panic alike. The queued wait respects ctx.
func (l *Limiter) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn(ctx)
}

// InUse returns the number of currently held slots.
func (l *Limiter) InUse() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inUse
}

// Waiting returns the number of queued operations.
func (l *Limiter) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}
