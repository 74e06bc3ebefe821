package executor

import (
	"context"
	"sync"
	"sync/atomic"
)

// MemoryBudget is a counted semaphore over byte units. Reservations are
// tracked with an atomic counter; blocked reservations queue and are
// served in FIFO order.
//
// A limit of 0 means unbounded: reservations always succeed immediately
// but usage is still tracked.
type MemoryBudget struct {
	limit int
	used  atomic.Int64

	mu      sync.Mutex
	waiters []*budgetWaiter
}

type budgetWaiter struct {
	bytes   int
	ready   chan *Permit
	granted bool
}

// NewMemoryBudget creates a budget with the given byte limit.
func NewMemoryBudget(limit int) *MemoryBudget {
	return &MemoryBudget{limit: limit}
}

// Limit returns the configured limit (0 = unbounded).
func (b *MemoryBudget) Limit() int { return b.limit }

// Used returns the currently reserved byte count.
func (b *MemoryBudget) Used() int { return int(b.used.Load()) }

// TryReserve attempts an atomic compare-and-increment reservation.
// Returns nil when the reservation would exceed the limit.
func (b *MemoryBudget) TryReserve(bytes int) *Permit {
	for {
		current := b.used.Load()
		next := current + int64(bytes)
		if b.limit > 0 && next > int64(b.limit) {
			return nil
		}
		if b.used.CompareAndSwap(current, next) {
			return &Permit{budget: b, bytes: bytes}
		}
	}
}

// Reserve blocks until the reservation fits, serving waiters in FIFO
// order. It fails immediately when the request can never fit, and
// returns ErrCancelled when ctx fires first.
func (b *MemoryBudget) Reserve(ctx context.Context, bytes int) (*Permit, error) {
	if b.limit > 0 && bytes > b.limit {
		return nil, &MemoryLimitError{Needed: bytes, Limit: b.limit}
	}

	b.mu.Lock()
	// Only barge past the queue when nobody is waiting; otherwise FIFO
	// order would be violated.
	if len(b.waiters) == 0 {
		if permit := b.TryReserve(bytes); permit != nil {
			b.mu.Unlock()
			return permit, nil
		}
	}
	w := &budgetWaiter{bytes: bytes, ready: make(chan *Permit, 1)}
	b.waiters = append(b.waiters, w)
	b.mu.Unlock()

	select {
	case permit := <-w.ready:
		return permit, nil
	case <-ctx.Done():
		b.mu.Lock()
		if w.granted {
			// Lost the race: the grant arrived while we were cancelling.
			b.mu.Unlock()
			permit := <-w.ready
			permit.Release()
			return nil, ErrCancelled
		}
		for i, queued := range b.waiters {
			if queued == w {
				b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		return nil, ErrCancelled
	}
}

// release returns bytes to the budget and grants queued reservations in
// FIFO order, stopping at the first waiter that still does not fit.
func (b *MemoryBudget) release(bytes int) {
	b.used.Add(-int64(bytes))

	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.waiters) > 0 {
		head := b.waiters[0]
		permit := b.TryReserve(head.bytes)
		if permit == nil {
			return
		}
		head.granted = true
		head.ready <- permit
		b.waiters = b.waiters[1:]
	}
}

// Permit is a move-only acquisition receipt: it releases its reserved
// bytes exactly once, either through Release or at the end of the scope
// that deferred it. A permit must be acquired before the allocation it
// represents and must not outlive its budget.
type Permit struct {
	budget *MemoryBudget
	bytes  int
	once   sync.Once
}

// Bytes returns the reserved count.
func (p *Permit) Bytes() int { return p.bytes }

// Release returns the reservation to the budget and wakes a waiter.
// Safe to call more than once; only the first call has an effect.
func (p *Permit) Release() {
	p.once.Do(func() {
		p.budget.release(p.bytes)
	})
}
