// Package fairlock provides a FIFO lock guarding the shared browser.
//
// Two kinds of waiters share one queue:
//   - Acquire waiters take ownership when their turn comes.
//   - WaitTurn waiters are only woken in order; they never own the lock.
//
// Release hands off to the queue head. Turn waiters ahead of the first
// Acquire waiter are all woken; the Acquire waiter becomes the owner and the
// hand-off stops there. There are no timeouts and no forced reclamation.
package fairlock

import (
	"context"
	"sync"
)

type waiter struct {
	take  bool
	ready chan struct{}
}

type Lock struct {
	mu     sync.Mutex
	locked bool
	queue  []*waiter
}

func New() *Lock { return &Lock{} }

// Acquire blocks until the caller owns the lock or ctx is done.
func (l *Lock) Acquire(ctx context.Context) error {
	return l.wait(ctx, true)
}

// WaitTurn blocks until every earlier Acquire caller has released the lock.
// The caller does not own the lock afterwards.
func (l *Lock) WaitTurn(ctx context.Context) error {
	return l.wait(ctx, false)
}

func (l *Lock) wait(ctx context.Context, take bool) error {
	l.mu.Lock()
	if !l.locked {
		if take {
			l.locked = true
		}
		l.mu.Unlock()
		return nil
	}
	w := &waiter{take: take, ready: make(chan struct{})}
	l.queue = append(l.queue, w)
	l.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	for i, q := range l.queue {
		if q == w {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			l.mu.Unlock()
			return ctx.Err()
		}
	}
	l.mu.Unlock()

	// Woken concurrently with cancellation. An owner must pass the lock on.
	if take {
		l.Release()
	}
	return ctx.Err()
}

// Release unlocks and wakes queued waiters in FIFO order.
// Releasing an unlocked Lock is a no-op.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.locked {
		return
	}
	l.locked = false
	for len(l.queue) > 0 {
		w := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		if w.take {
			l.locked = true
			close(w.ready)
			return
		}
		close(w.ready)
	}
}

// Locked reports whether some caller currently owns the lock.
func (l *Lock) Locked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}

// Waiting is the number of queued callers.
func (l *Lock) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}
