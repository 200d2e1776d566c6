package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Partition is the fixed-window state of one partition key. All fields are
// guarded by mu and only mutated through the owning Limiter.
type Partition struct {
	lim *Limiter

	mu          sync.Mutex
	permits     int
	windowStart time.Time
	lastSeen    time.Time
	queue       list.List // of *waiter, oldest first
	timer       *time.Timer
	removed     bool
}

type waiter struct {
	ready    chan struct{}
	admitted bool
	window   time.Time // windowStart of the window that admitted it
	elem     *list.Element
}

func newPartition(l *Limiter, now time.Time) *Partition {
	return &Partition{
		lim:         l,
		permits:     l.opts.PermitLimit,
		windowStart: now,
		lastSeen:    now,
	}
}

func (p *Partition) windowEnd() time.Time {
	return p.windowStart.Add(p.lim.opts.Window)
}

// rollover starts a new window once the current one has elapsed and admits
// queued waiters in order. Caller holds mu.
func (p *Partition) rollover(now time.Time) {
	if now.Sub(p.windowStart) < p.lim.opts.Window {
		return
	}
	p.permits = p.lim.opts.PermitLimit
	p.windowStart = now
	p.admitWaiters()
}

// admitWaiters hands free permits to the oldest waiters. Caller holds mu.
func (p *Partition) admitWaiters() {
	for p.permits > 0 {
		front := p.queue.Front()
		if front == nil {
			return
		}
		w := p.queue.Remove(front).(*waiter)
		w.elem = nil
		w.admitted = true
		w.window = p.windowStart
		p.permits--
		close(w.ready)
	}
}

// schedule arms a timer for the end of the current window so queued callers
// are admitted without waiting for another arrival. Caller holds mu.
func (p *Partition) schedule(now time.Time) {
	if p.timer != nil || p.lim.closed.Load() {
		return
	}
	d := p.windowEnd().Sub(now)
	if d <= 0 {
		d = p.lim.opts.Window
	}
	p.timer = time.AfterFunc(d, p.tick)
}

func (p *Partition) tick() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timer = nil
	if p.lim.closed.Load() {
		return
	}
	now := p.lim.now()
	p.rollover(now)
	if p.queue.Len() > 0 {
		p.schedule(now)
	}
}

// idle reports whether the partition can be dropped. Caller holds mu.
func (p *Partition) idle(olderThan time.Time) bool {
	return p.queue.Len() == 0 && p.lastSeen.Before(olderThan)
}

// cancel withdraws w after its caller gave up. A permit already handed to w
// in the current window goes back to the next waiter.
func (p *Partition) cancel(w *waiter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !w.admitted {
		if w.elem != nil {
			p.queue.Remove(w.elem)
			w.elem = nil
		}
		return
	}
	if w.window.Equal(p.windowStart) && p.permits < p.lim.opts.PermitLimit {
		p.permits++
		p.admitWaiters()
	}
}

// Reservation is the result of Limiter.TryAcquire. A Queued reservation must
// be resolved with exactly one call to Wait.
type Reservation struct {
	decision   Decision
	key        string
	retryAfter time.Duration
	p          *Partition
	w          *waiter
}

// Decision returns the immediate outcome of the attempt.
func (r Reservation) Decision() Decision { return r.decision }

// Key returns the partition key the attempt was made on.
func (r Reservation) Key() string { return r.key }

// RetryAfter returns, for a rejected attempt, the time left in the current window.
func (r Reservation) RetryAfter() time.Duration {
	if r.decision != Rejected || r.retryAfter < 0 {
		return 0
	}
	return r.retryAfter
}

// Wait blocks a queued caller until it is admitted or ctx is done. On
// cancellation the caller leaves the queue without disturbing the order of
// the others and ctx.Err() is returned. Admitted reservations return nil at
// once and rejected ones ErrRejected.
func (r Reservation) Wait(ctx context.Context) error {
	switch r.decision {
	case Admitted:
		return nil
	case Rejected:
		return ErrRejected
	}
	select {
	case <-r.w.ready:
		return nil
	case <-ctx.Done():
		r.p.cancel(r.w)
		return ctx.Err()
	}
}
