package middleware

import (
	"context"
	"time"

	"github.com/goflash/gatekeeper"
)

type queueDeadlineKey struct{}

// QueueTimeout returns middleware that bounds how long a request may wait in
// a rate limit queue. The deadline is recorded on the request context and
// honoured by RateLimit while it waits; an admitted request runs without it.
// A non-positive d disables the bound.
func QueueTimeout(d time.Duration) gatekeeper.Middleware {
	return func(next gatekeeper.Handler) gatekeeper.Handler {
		if d <= 0 {
			return next
		}
		return func(c gatekeeper.Ctx) error {
			c.Set(queueDeadlineKey{}, time.Now().Add(d))
			return next(c)
		}
	}
}

// queueContext returns the context a queued request waits on.
func queueContext(parent context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := parent.Value(queueDeadlineKey{}).(time.Time); ok {
		return context.WithDeadline(parent, deadline)
	}
	return context.WithCancel(parent)
}
