package app

import (
	"net/http"
	"runtime/debug"

	"github.com/goflash/gatekeeper/ctx"
	"github.com/julienschmidt/httprouter"
)

// GET registers a handler for HTTP GET requests on path, with optional
// route-specific middleware.
//
//	a.GET("/demo/forecast", Forecast)
func (a *DefaultApp) GET(path string, h Handler, mws ...Middleware) {
	a.handle(http.MethodGet, path, h, mws...)
}

// POST registers a handler for HTTP POST requests on path.
func (a *DefaultApp) POST(path string, h Handler, mws ...Middleware) {
	a.handle(http.MethodPost, path, h, mws...)
}

// Handle registers a handler for an arbitrary HTTP method on path.
func (a *DefaultApp) Handle(method, path string, h Handler, mws ...Middleware) {
	a.handle(method, path, h, mws...)
}

// handle composes route middleware then global middleware around h (right to
// left, so the first registered runs outermost) and adapts the result to the
// httprouter signature.
//
// Per request: inject the app logger into the request context, acquire a
// pooled context, run the chain, hand any error to the ErrorHandler, and
// return the context to the pool. A panic anywhere in the chain reaches the
// ErrorHandler as a *PanicError; http.ErrAbortHandler is re-raised.
func (a *DefaultApp) handle(method, path string, h Handler, mws ...Middleware) {
	final := h
	for i := len(mws) - 1; i >= 0; i-- {
		final = mws[i](final)
	}
	for i := len(a.middleware) - 1; i >= 0; i-- {
		final = a.middleware[i](final)
	}

	pattern := path
	a.router.Handle(method, path, func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		r = r.WithContext(ctx.ContextWithLogger(r.Context(), a.Logger()))
		concrete := a.pool.Get().(*ctx.DefaultContext)
		concrete.Reset(w, r, pattern)
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				a.ErrorHandler()(concrete, &PanicError{Value: v, Stack: debug.Stack()})
			}
			concrete.Finish()
			a.pool.Put(concrete)
		}()
		if err := final(concrete); err != nil {
			a.ErrorHandler()(concrete, err)
		}
	})
}
