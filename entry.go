// Package gatekeeper re-exports the HTTP host types so applications can build
// on the request pipeline with a single import.
package gatekeeper

import (
	"github.com/goflash/gatekeeper/app"
	"github.com/goflash/gatekeeper/ctx"
)

// Group is a route group. Re-exported from app.Group.
type Group = app.Group

// App is the main application/router. Implements http.Handler.
type App = app.App

// Handler is the signature of route handlers and composed middleware.
type Handler = app.Handler

// Middleware transforms a Handler.
type Middleware = app.Middleware

// ErrorHandler handles errors returned from handlers.
type ErrorHandler = app.ErrorHandler

// PanicError is a recovered panic handed to the ErrorHandler.
type PanicError = app.PanicError

// Ctx is the request context.
type Ctx = ctx.Ctx

// New creates a new App with defaults. Re-exported from app.New.
func New() App { return app.New() }
