package middleware

import (
	"strings"

	"github.com/goflash/gatekeeper"
	"github.com/goflash/gatekeeper/clientip"
	"github.com/goflash/gatekeeper/ctx"
)

const (
	headerForwardedProto = "X-Forwarded-Proto"
	headerForwardedHost  = "X-Forwarded-Host"
)

// ForwardedHeadersConfig configures the ForwardedHeaders middleware.
type ForwardedHeadersConfig struct {
	// Resolver decides the client address. Defaults to trusting loopback
	// proxies only, reading X-Forwarded-For.
	Resolver *clientip.Resolver
}

// ForwardedHeaders returns middleware that resolves the client identity once
// per request and stores it for later stages (clientip.IdentityFrom).
//
// When the peer is a trusted proxy, X-Forwarded-Proto and X-Forwarded-Host
// replace the request scheme and host. Forwarded headers from untrusted
// peers are ignored.
func ForwardedHeaders(cfgs ...ForwardedHeadersConfig) gatekeeper.Middleware {
	var cfg ForwardedHeadersConfig
	if len(cfgs) > 0 {
		cfg = cfgs[0]
	}
	if cfg.Resolver == nil {
		cfg.Resolver = clientip.NewResolver(clientip.NewTruster(clientip.DefaultTrustedProxies), "")
	}
	return func(next gatekeeper.Handler) gatekeeper.Handler {
		return func(c gatekeeper.Ctx) error {
			r := c.Request()
			id := cfg.Resolver.Resolve(r)

			r = r.WithContext(clientip.WithIdentity(r.Context(), id))
			if id.Trusted {
				if proto := firstToken(r.Header.Get(headerForwardedProto)); proto == "http" || proto == "https" {
					u := *r.URL
					u.Scheme = proto
					r.URL = &u
				}
				if host := firstToken(r.Header.Get(headerForwardedHost)); host != "" {
					r.Host = host
				}
			}
			c.SetRequest(r)

			l := ctx.WithLogAttrs(c, "client_ip", id.String())
			if id.Trusted && id.Source == clientip.SourceDirectConnection && r.Header.Get(cfg.Resolver.Header()) != "" {
				l.Debug("forwarded header ignored", "header", cfg.Resolver.Header())
			}
			return next(c)
		}
	}
}

func firstToken(v string) string {
	first, _, _ := strings.Cut(v, ",")
	return strings.ToLower(strings.TrimSpace(first))
}
