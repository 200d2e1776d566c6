// Package app is the HTTP host: an httprouter-backed router with composable
// middleware, a single error handler and a request-scoped logger.
package app

import (
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/goflash/gatekeeper/ctx"
	"github.com/julienschmidt/httprouter"
)

// Handler is the function signature for route handlers (and the output of
// composed middleware). Returning a non-nil error delegates to the App's
// ErrorHandler.
//
//	func forecast(c app.Ctx) error {
//		if c.QueryInt("days") < 0 {
//			return result.Known(http.StatusBadRequest, "400", "only future dates can be forecast")
//		}
//		return c.JSON(result.Success(f))
//	}
type Handler func(ctx.Ctx) error

// Middleware transforms a Handler. A middleware can short-circuit by
// returning without calling next.
type Middleware func(Handler) Handler

// ErrorHandler translates an error returned by a handler into a response.
type ErrorHandler func(ctx.Ctx, error)

// Ctx is re-exported for package-local convenience.
type Ctx = ctx.Ctx

// DefaultApp implements App. Request contexts are pooled.
type DefaultApp struct {
	router     *httprouter.Router
	middleware []Middleware
	pool       sync.Pool
	OnError    ErrorHandler
	NotFound   http.Handler
	MethodNA   http.Handler
	logger     *slog.Logger
}

// New creates an App with a JSON slog logger at info level, plain 404/405
// handlers and a 500 fallback error handler.
//
// Global middleware is composed into each route when it is registered, so
// call Use before registering routes.
func New() App {
	a := &DefaultApp{
		router: httprouter.New(),
	}
	a.pool.New = func() any { return &ctx.DefaultContext{} }

	a.router.HandleMethodNotAllowed = true
	a.SetErrorHandler(defaultErrorHandler)
	a.SetNotFoundHandler(http.NotFoundHandler())
	a.SetMethodNotAllowedHandler(methodNotAllowedHandler())
	a.SetLogger(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	a.router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.NotFoundHandler().ServeHTTP(w, r)
	})
	a.router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.MethodNotAllowedHandler().ServeHTTP(w, r)
	})
	return a
}

// SetLogger sets the logger injected into every request context.
func (a *DefaultApp) SetLogger(l *slog.Logger) { a.logger = l }

// Logger returns the configured application logger, or slog.Default if none is set.
func (a *DefaultApp) Logger() *slog.Logger {
	if a.logger != nil {
		return a.logger
	}
	return slog.Default()
}

// Use registers global middleware. The first registered runs outermost.
//
//	a.Use(Log, Recover)
//	a.GET("/", Home, Auth) // execution order: Log -> Recover -> Auth -> Home
func (a *DefaultApp) Use(mw ...Middleware) {
	if len(mw) == 0 {
		return
	}
	a.middleware = append(a.middleware, mw...)
}

// ServeHTTP implements http.Handler by delegating to the internal router.
func (a *DefaultApp) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *DefaultApp) SetErrorHandler(h ErrorHandler)    { a.OnError = h }
func (a *DefaultApp) SetNotFoundHandler(h http.Handler) { a.NotFound = h }
func (a *DefaultApp) SetMethodNotAllowedHandler(h http.Handler) {
	a.MethodNA = h
}

func (a *DefaultApp) ErrorHandler() ErrorHandler            { return a.OnError }
func (a *DefaultApp) NotFoundHandler() http.Handler         { return a.NotFound }
func (a *DefaultApp) MethodNotAllowedHandler() http.Handler { return a.MethodNA }
