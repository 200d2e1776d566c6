package middleware

import (
	"runtime/debug"

	"github.com/goflash/gatekeeper"
)

// PanicError carries a recovered panic to the App error handler.
type PanicError = gatekeeper.PanicError

// RecoverConfig configures the panic recovery middleware.
type RecoverConfig struct {
	// EnableStack captures the goroutine stack into PanicError.Stack. It is
	// logged by the error handler, never sent to clients.
	EnableStack bool
	// OnPanic is called synchronously with the recovered panic.
	OnPanic func(gatekeeper.Ctx, *PanicError)
}

// Recover returns middleware that turns a panic in a later stage or handler
// into a *PanicError returned up the chain, so it ends at the App error
// handler like any other unhandled error.
//
// It sits after rate limiting, directly around the route handler; stages
// before it see the converted error rather than the panic. A panic in an
// earlier stage is recovered by the App and reaches the same handler.
func Recover(cfgs ...RecoverConfig) gatekeeper.Middleware {
	var cfg RecoverConfig
	if len(cfgs) > 0 {
		cfg = cfgs[0]
	}
	return func(next gatekeeper.Handler) gatekeeper.Handler {
		return func(c gatekeeper.Ctx) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				pe := &PanicError{Value: r}
				if cfg.EnableStack {
					pe.Stack = debug.Stack()
				}
				if cfg.OnPanic != nil {
					cfg.OnPanic(c, pe)
				}
				err = pe
			}()
			return next(c)
		}
	}
}
