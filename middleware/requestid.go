package middleware

import (
	"github.com/goflash/gatekeeper"
	"github.com/goflash/gatekeeper/correlation"
	"github.com/goflash/gatekeeper/ctx"
)

// RequestIDConfig configures the RequestID middleware.
type RequestIDConfig struct {
	// Header is read for a caller-supplied id and echoed on the response.
	// Defaults to X-Request-Id.
	Header string
	// Generator produces the fallback token. Defaults to correlation.NewToken.
	Generator func() string
}

// RequestID returns middleware that derives the correlation context of each
// request, stores it on the request context, echoes the request id header and
// adds request_id and trace_id to the request logger.
//
// Place it after the tracing stage so an incoming trace id is picked up.
func RequestID(cfgs ...RequestIDConfig) gatekeeper.Middleware {
	cfg := RequestIDConfig{Header: correlation.DefaultHeader, Generator: correlation.NewToken}
	if len(cfgs) > 0 {
		if cfgs[0].Header != "" {
			cfg.Header = cfgs[0].Header
		}
		if cfgs[0].Generator != nil {
			cfg.Generator = cfgs[0].Generator
		}
	}
	return func(next gatekeeper.Handler) gatekeeper.Handler {
		return func(c gatekeeper.Ctx) error {
			cc := correlation.Derive(c.Request(), cfg.Header, cfg.Generator())
			c.SetRequest(c.Request().WithContext(correlation.NewContext(c.Context(), cc)))
			c.Header(cfg.Header, cc.RequestID)
			ctx.WithLogAttrs(c, "request_id", cc.RequestID, "trace_id", cc.TraceID)
			return next(c)
		}
	}
}
