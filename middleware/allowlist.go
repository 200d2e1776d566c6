package middleware

import (
	"net/http"

	"github.com/goflash/gatekeeper"
	"github.com/goflash/gatekeeper/clientip"
	"github.com/goflash/gatekeeper/ctx"
	"github.com/goflash/gatekeeper/metrics"
)

// AllowlistConfig configures the Allowlist middleware.
type AllowlistConfig struct {
	// Allowlist holds the permitted networks. Nil or empty allows everyone.
	Allowlist *clientip.Allowlist
	// Status is written for refused clients. Defaults to 403.
	Status int
	// Reporter receives a Denied call per refusal.
	Reporter metrics.Reporter
}

// Allowlist returns middleware that refuses clients outside the allowlist
// before any rate limiting happens. The client address is the identity
// resolved by ForwardedHeaders, or the peer address when that stage did not
// run.
func Allowlist(cfg AllowlistConfig) gatekeeper.Middleware {
	if cfg.Status == 0 {
		cfg.Status = http.StatusForbidden
	}
	if cfg.Reporter == nil {
		cfg.Reporter = metrics.NullReporter{}
	}
	return func(next gatekeeper.Handler) gatekeeper.Handler {
		if cfg.Allowlist == nil || cfg.Allowlist.Len() == 0 {
			return next
		}
		return func(c gatekeeper.Ctx) error {
			ip := clientip.PeerAddr(c.Request())
			if id, ok := clientip.IdentityFrom(c.Context()); ok {
				ip = id.IP
			}
			if cfg.Allowlist.IsAllowed(ip) {
				return next(c)
			}
			cfg.Reporter.Denied()
			ctx.LoggerFromContext(c.Context()).Warn("ip allowlist rejected", "ip", ip.String())
			return c.String(cfg.Status, http.StatusText(cfg.Status))
		}
	}
}
