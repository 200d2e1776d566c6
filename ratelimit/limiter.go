// Package ratelimit implements a partitioned fixed-window limiter with a
// bounded FIFO wait queue per partition.
//
// Each partition (normally one per client IP) owns PermitLimit permits per
// Window. When they are spent, up to QueueLimit callers are queued in arrival
// order and admitted when the window rolls over; anyone arriving at a full
// queue is rejected immediately.
//
//	lim, _ := ratelimit.New(ratelimit.Options{PermitLimit: 5, Window: time.Minute, QueueLimit: 2}, nil)
//	res := lim.TryAcquire(ratelimit.PartitionKey(ip))
//	if err := res.Wait(r.Context()); err != nil {
//		// 429
//	}
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMaxPartitions bounds the partition store when New is given none.
const DefaultMaxPartitions = 10000

var (
	// ErrRejected is returned by Reservation.Wait for a rejected attempt.
	ErrRejected = errors.New("ratelimit: rejected")
	// ErrInvalidOptions wraps every Options validation failure.
	ErrInvalidOptions = errors.New("ratelimit: invalid options")
)

// Options configures every partition of a Limiter.
type Options struct {
	// PermitLimit is the number of admissions per window.
	PermitLimit int
	// Window is the fixed window length.
	Window time.Duration
	// QueueLimit is the maximum number of callers waiting for the next window.
	// Zero disables queueing.
	QueueLimit int
}

// Validate reports whether o can drive a Limiter.
func (o Options) Validate() error {
	switch {
	case o.PermitLimit <= 0:
		return fmt.Errorf("%w: permit limit must be positive, got %d", ErrInvalidOptions, o.PermitLimit)
	case o.Window <= 0:
		return fmt.Errorf("%w: window must be positive, got %s", ErrInvalidOptions, o.Window)
	case o.QueueLimit < 0:
		return fmt.Errorf("%w: queue limit must not be negative, got %d", ErrInvalidOptions, o.QueueLimit)
	}
	return nil
}

// Decision is the outcome of a single acquisition attempt.
type Decision int

const (
	// Rejected means the window is exhausted and the queue is full.
	Rejected Decision = iota
	// Admitted means a permit was taken.
	Admitted
	// Queued means the caller holds a place in the wait queue.
	Queued
)

func (d Decision) String() string {
	switch d {
	case Admitted:
		return "admitted"
	case Queued:
		return "queued"
	default:
		return "rejected"
	}
}

// Limiter hands out permits per partition key. Partitions are created on
// first use and kept in the injected Store. Safe for concurrent use; callers
// on different keys only contend on the short get-or-create section.
type Limiter struct {
	opts   Options
	store  Store
	now    func() time.Time
	mu     sync.Mutex // serialises get-or-create and removal against the store
	closed atomic.Bool
}

// LimiterOption customises a Limiter.
type LimiterOption func(*Limiter)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) { l.now = now }
}

// New validates opts and returns a Limiter backed by store. A nil store is
// replaced by an LRU store of DefaultMaxPartitions entries.
func New(opts Options, store Store, options ...LimiterOption) (*Limiter, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		s, err := NewLRUStore(DefaultMaxPartitions, nil)
		if err != nil {
			return nil, err
		}
		store = s
	}
	l := &Limiter{opts: opts, store: store, now: time.Now}
	for _, o := range options {
		o(l)
	}
	return l, nil
}

// Options returns the limiter configuration.
func (l *Limiter) Options() Options { return l.opts }

// TryAcquire makes one attempt on the partition for key. Window rollover,
// permit accounting and enqueueing happen in a single critical section.
//
// When the store is full and every tracked partition has queued callers, a
// new key is rejected for one window rather than displacing them.
func (l *Limiter) TryAcquire(key string) Reservation {
	p := l.lockPartition(key)
	if p == nil {
		return Reservation{decision: Rejected, key: key, retryAfter: l.opts.Window}
	}
	defer p.mu.Unlock()

	now := l.now()
	p.lastSeen = now
	p.rollover(now)

	if p.permits > 0 {
		p.permits--
		return Reservation{decision: Admitted, key: key}
	}
	if p.queue.Len() < l.opts.QueueLimit {
		w := &waiter{ready: make(chan struct{})}
		w.elem = p.queue.PushBack(w)
		p.schedule(now)
		return Reservation{decision: Queued, key: key, p: p, w: w}
	}
	return Reservation{decision: Rejected, key: key, retryAfter: p.windowEnd().Sub(now)}
}

// lockPartition returns the live partition for key with its mutex held, or
// nil when no room can be made for a new partition.
func (l *Limiter) lockPartition(key string) *Partition {
	for {
		l.mu.Lock()
		p, ok := l.store.Get(key)
		if !ok {
			if !l.makeRoom() {
				l.mu.Unlock()
				return nil
			}
			p = newPartition(l, l.now())
			l.store.Add(key, p)
		}
		l.mu.Unlock()

		p.mu.Lock()
		if !p.removed {
			return p
		}
		// pruned between lookup and lock; look again
		p.mu.Unlock()
	}
}

// makeRoom frees one slot in a full store by removing the least recently
// used partition that has no queued callers. Partitions with callers are
// marked used and skipped. Caller holds l.mu.
func (l *Limiter) makeRoom() bool {
	for tries := l.store.Len(); l.store.Len() >= l.store.Cap(); tries-- {
		if tries == 0 {
			return false
		}
		key, p, ok := l.store.Oldest()
		if !ok {
			return true
		}
		p.mu.Lock()
		busy := p.queue.Len() > 0
		if !busy {
			p.removed = true
			l.store.Remove(key)
		}
		p.mu.Unlock()
		if busy {
			l.store.Get(key)
		}
	}
	return true
}

// PartitionState is a point-in-time view of one partition.
type PartitionState struct {
	PermitsRemaining int
	WindowStart      time.Time
	QueueLength      int
	LastSeen         time.Time
}

// State returns the current state of key without touching recency or
// rolling the window over.
func (l *Limiter) State(key string) (PartitionState, bool) {
	l.mu.Lock()
	p, ok := l.store.Peek(key)
	l.mu.Unlock()
	if !ok {
		return PartitionState{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return PartitionState{
		PermitsRemaining: p.permits,
		WindowStart:      p.windowStart,
		QueueLength:      p.queue.Len(),
		LastSeen:         p.lastSeen,
	}, true
}

// Len returns the number of tracked partitions.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Len()
}

// Prune removes partitions not seen since olderThan whose queue is empty and
// returns how many were removed.
func (l *Limiter) Prune(olderThan time.Time) int {
	l.mu.Lock()
	keys := l.store.Keys()
	l.mu.Unlock()

	pruned := 0
	for _, key := range keys {
		l.mu.Lock()
		if p, ok := l.store.Peek(key); ok {
			p.mu.Lock()
			if p.idle(olderThan) {
				p.removed = true
				l.store.Remove(key)
				pruned++
			}
			p.mu.Unlock()
		}
		l.mu.Unlock()
	}
	return pruned
}

// Run prunes partitions idle for longer than retention every interval until
// ctx is done.
func (l *Limiter) Run(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Prune(l.now().Add(-retention))
		case <-ctx.Done():
			return
		}
	}
}

// Close stops all rollover timers. Queued callers are left to their own
// context cancellation.
func (l *Limiter) Close() {
	l.closed.Store(true)
	l.mu.Lock()
	keys := l.store.Keys()
	l.mu.Unlock()
	for _, key := range keys {
		l.mu.Lock()
		p, ok := l.store.Peek(key)
		l.mu.Unlock()
		if !ok {
			continue
		}
		p.mu.Lock()
		if p.timer != nil {
			p.timer.Stop()
			p.timer = nil
		}
		p.mu.Unlock()
	}
}
