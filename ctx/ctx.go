// Package ctx defines the per-request context handed to handlers and
// middleware, and helpers for carrying a request-scoped logger.
package ctx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
)

// Ctx is the request/response context interface exposed to handlers and
// middleware. It is implemented by *DefaultContext.
//
//	app.GET("/demo/forecast", func(c ctx.Ctx) error {
//		days := c.QueryInt("days", 0)
//		return c.Status(http.StatusOK).JSON(forecastFor(days))
//	})
//
// Ctx is not safe for concurrent writes to the underlying http.ResponseWriter.
type Ctx interface {
	// Request returns the underlying *http.Request.
	Request() *http.Request
	// SetRequest replaces the underlying *http.Request, typically to attach
	// a derived context:
	//
	//	c.SetRequest(c.Request().WithContext(ctx))
	SetRequest(*http.Request)
	// ResponseWriter returns the underlying http.ResponseWriter.
	ResponseWriter() http.ResponseWriter

	// Context returns the request-scoped context.Context.
	Context() context.Context
	// Method returns the HTTP method (e.g., "GET").
	Method() string
	// Path returns the raw request URL path.
	Path() string
	// Route returns the route pattern (e.g., "/demo/forecast") when available.
	Route() string
	// Query returns a query string parameter by key ("" if not present).
	Query(key string) string
	// QueryInt returns a query parameter parsed as int, or def (or 0).
	QueryInt(key string, def ...int) int

	// Header sets a response header key/value.
	Header(key, value string)
	// Status stages the HTTP status code to be written.
	Status(code int) Ctx
	// StatusCode returns the status that will be written (or 200 after header write, or 0 if unset).
	StatusCode() int
	// JSON serializes v with Content-Type application/json.
	JSON(v any) error
	// JSONAs serializes v with the given content type, e.g. application/problem+json.
	JSONAs(contentType string, v any) error
	// String writes a text/plain body with the provided status code.
	String(status int, body string) error
	// WroteHeader reports whether the header has already been written to the client.
	WroteHeader() bool

	// Get retrieves a value from the request context by key, with optional default.
	Get(key any, def ...any) any
	// Set stores a value into a derived request context and replaces the underlying request.
	Set(key, value any) Ctx
}

// DefaultContext is the concrete implementation of Ctx.
type DefaultContext struct {
	w           http.ResponseWriter
	r           *http.Request
	status      int
	wroteHeader bool
	wroteBytes  int
	route       string
}

// Reset prepares the context for a new request. Used internally by the App.
func (c *DefaultContext) Reset(w http.ResponseWriter, r *http.Request, route string) {
	c.w = w
	c.r = r
	c.status = 0
	c.wroteHeader = false
	c.wroteBytes = 0
	c.route = route
}

// Finish releases per-request references before the context is pooled.
func (c *DefaultContext) Finish() {
	c.w = nil
	c.r = nil
}

func (c *DefaultContext) Request() *http.Request { return c.r }

func (c *DefaultContext) SetRequest(r *http.Request) { c.r = r }

func (c *DefaultContext) ResponseWriter() http.ResponseWriter { return c.w }

// WroteHeader reports whether the response header has been written.
// After the header is written, changing headers or status has no effect.
func (c *DefaultContext) WroteHeader() bool { return c.wroteHeader }

func (c *DefaultContext) Context() context.Context { return c.r.Context() }

// Set stores a value in the request context and replaces the request with a
// clone carrying the new context. Prefer unexported key types.
func (c *DefaultContext) Set(key, value any) Ctx {
	ctx := context.WithValue(c.Context(), key, value)
	c.SetRequest(c.Request().WithContext(ctx))
	return c
}

// Get returns a value from the request context by key, or def when absent.
func (c *DefaultContext) Get(key any, def ...any) any {
	if v := c.Context().Value(key); v != nil {
		return v
	}
	if len(def) > 0 {
		return def[0]
	}
	return nil
}

func (c *DefaultContext) Method() string { return c.r.Method }

func (c *DefaultContext) Path() string { return c.r.URL.Path }

func (c *DefaultContext) Route() string { return c.route }

func (c *DefaultContext) Query(key string) string { return c.r.URL.Query().Get(key) }

// QueryInt returns the query parameter parsed as int.
// Returns def (or 0) on missing or parse error.
func (c *DefaultContext) QueryInt(key string, def ...int) int {
	fallback := 0
	if len(def) > 0 {
		fallback = def[0]
	}
	s := c.Query(key)
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

// Status stages the response status code without writing the header.
//
//	return c.Status(http.StatusAccepted).JSON(payload)
func (c *DefaultContext) Status(code int) Ctx {
	c.status = code
	return c
}

// StatusCode returns the status code that will be written.
// If not set yet and header hasn't been written, returns 0. If the header has
// already been written without an explicit status, returns 200.
func (c *DefaultContext) StatusCode() int {
	if c.status != 0 {
		return c.status
	}
	if c.wroteHeader {
		return http.StatusOK
	}
	return 0
}

// Header sets a header on the response. Has no effect after the header is written.
func (c *DefaultContext) Header(key, value string) { c.w.Header().Set(key, value) }

var jsonBufPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// JSON writes v as "application/json; charset=utf-8". If Status() has not
// been called yet, it defaults to 200 OK.
func (c *DefaultContext) JSON(v any) error {
	return c.JSONAs("application/json; charset=utf-8", v)
}

// JSONAs writes v as JSON under contentType.
func (c *DefaultContext) JSONAs(contentType string, v any) error {
	buf := jsonBufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer jsonBufPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		if !c.wroteHeader {
			c.w.WriteHeader(http.StatusInternalServerError)
			c.wroteHeader = true
		}
		return err
	}
	b := buf.Bytes()
	// trim trailing newline added by Encoder
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	if c.status == 0 {
		c.status = http.StatusOK
	}
	_, err := c.send(c.status, contentType, b)
	return err
}

// String writes a plain text response with the given status and body.
func (c *DefaultContext) String(status int, body string) error {
	if !c.wroteHeader {
		c.status = status
		c.Header("Content-Type", "text/plain; charset=utf-8")
		c.Header("Content-Length", strconv.Itoa(len(body)))
		c.w.WriteHeader(status)
		c.wroteHeader = true
	}
	n, err := io.WriteString(c.w, body)
	c.wroteBytes += n
	return err
}

// send writes raw bytes with the given status and content type.
// If contentType is empty, no Content-Type header is set.
func (c *DefaultContext) send(status int, contentType string, b []byte) (int, error) {
	if !c.wroteHeader {
		c.status = status
		if contentType != "" {
			c.Header("Content-Type", contentType)
		}
		c.Header("Content-Length", strconv.Itoa(len(b)))
		c.w.WriteHeader(status)
		c.wroteHeader = true
	}
	n, err := c.w.Write(b)
	c.wroteBytes += n
	return n, err
}
