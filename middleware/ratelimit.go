package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/goflash/gatekeeper"
	"github.com/goflash/gatekeeper/clientip"
	"github.com/goflash/gatekeeper/ctx"
	"github.com/goflash/gatekeeper/metrics"
	"github.com/goflash/gatekeeper/ratelimit"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures the RateLimit middleware.
type RateLimitConfig struct {
	// Limiter is required.
	Limiter *ratelimit.Limiter
	// KeyFunc picks the partition. Defaults to the resolved client address.
	KeyFunc func(gatekeeper.Ctx) string
	// Reporter receives one call per decision.
	Reporter metrics.Reporter
	// LogSampler thins out rejection logs. Defaults to the first 10 then one
	// per second.
	LogSampler *rate.Sometimes
}

// RateLimit returns middleware that admits, queues or rejects each request
// through the limiter. Queued requests wait for the next window, bounded by
// QueueTimeout and the client going away. Rejected and abandoned requests get
// 429 Too Many Requests; rejections carry Retry-After.
func RateLimit(cfg RateLimitConfig) gatekeeper.Middleware {
	if cfg.Limiter == nil {
		panic("middleware: RateLimit requires a Limiter")
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientPartition
	}
	if cfg.Reporter == nil {
		cfg.Reporter = metrics.NullReporter{}
	}
	if cfg.LogSampler == nil {
		cfg.LogSampler = &rate.Sometimes{First: 10, Interval: time.Second}
	}
	return func(next gatekeeper.Handler) gatekeeper.Handler {
		return func(c gatekeeper.Ctx) error {
			res := cfg.Limiter.TryAcquire(cfg.KeyFunc(c))
			switch res.Decision() {
			case ratelimit.Admitted:
				cfg.Reporter.Admitted(false, 0)
				return next(c)

			case ratelimit.Rejected:
				cfg.Reporter.Rejected()
				cfg.LogSampler.Do(func() {
					ctx.LoggerFromContext(c.Context()).Warn("rate limit rejected",
						"partition", res.Key(), "retry_after", res.RetryAfter())
				})
				c.Header("Retry-After", formatSeconds(res.RetryAfter()))
				return c.String(http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests))
			}

			start := time.Now()
			waitCtx, cancel := queueContext(c.Context())
			err := res.Wait(waitCtx)
			cancel()
			waited := time.Since(start)
			if err != nil {
				cfg.Reporter.Abandoned(waited)
				ctx.LoggerFromContext(c.Context()).Info("queued request abandoned",
					"partition", res.Key(), "waited", waited, "err", err)
				return c.String(http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests))
			}
			cfg.Reporter.Admitted(true, waited)
			return next(c)
		}
	}
}

// ClientPartition keys requests by the identity ForwardedHeaders resolved,
// falling back to the peer address.
func ClientPartition(c gatekeeper.Ctx) string {
	if id, ok := clientip.IdentityFrom(c.Context()); ok {
		return ratelimit.PartitionKey(id.IP)
	}
	return ratelimit.PartitionKey(clientip.PeerAddr(c.Request()))
}

func formatSeconds(d time.Duration) string {
	sec := int((d + time.Second - 1) / time.Second)
	if sec < 1 {
		sec = 1
	}
	return strconv.Itoa(sec)
}
