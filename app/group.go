package app

import "net/http"

// Group is a set of routes sharing a URL prefix and middleware.
//
// Middleware order: global, then parent group, then child group, then
// route-specific, then the handler.
//
//	demo := a.Group("/demo")
//	demo.GET("/forecast", Forecast) // registered at /demo/forecast
type Group struct {
	app        *DefaultApp
	prefix     string
	middleware []Middleware
}

// Group creates a route group with the given prefix and optional middleware.
func (a *DefaultApp) Group(prefix string, mw ...Middleware) *Group {
	return &Group{app: a, prefix: cleanPath(prefix), middleware: mw}
}

// Use adds middleware to the group. It only affects routes registered after the call.
func (g *Group) Use(mw ...Middleware) { g.middleware = append(g.middleware, mw...) }

// Group creates a nested group inheriting the parent's prefix and middleware.
func (g *Group) Group(prefix string, mw ...Middleware) *Group {
	child := &Group{app: g.app, prefix: joinPath(g.prefix, prefix)}
	child.middleware = append(child.middleware, g.middleware...)
	child.middleware = append(child.middleware, mw...)
	return child
}

func (g *Group) handle(method, p string, h Handler, mws ...Middleware) {
	all := append([]Middleware{}, g.middleware...)
	all = append(all, mws...)
	g.app.handle(method, joinPath(g.prefix, p), h, all...)
}

func (g *Group) GET(p string, h Handler, mws ...Middleware) { g.handle(http.MethodGet, p, h, mws...) }

func (g *Group) POST(p string, h Handler, mws ...Middleware) { g.handle(http.MethodPost, p, h, mws...) }
