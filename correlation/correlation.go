// Package correlation derives the identifiers that tie a request's log lines
// and error responses together: a request id supplied by the caller and the
// trace id of the active distributed trace.
package correlation

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// DefaultHeader is the request header carrying a caller-supplied request id.
const DefaultHeader = "X-Request-Id"

// Context is the pair of identifiers attached to one request.
type Context struct {
	RequestID string
	TraceID   string
}

// Derive computes the correlation identifiers of r.
//
// RequestID is the first value of header that is not blank, trimmed. TraceID
// is the trace id of the span context on r.Context(), local or remote, when
// one is valid. Either falls back to fallback. A nil request yields the zero
// Context. header defaults to DefaultHeader.
func Derive(r *http.Request, header, fallback string) Context {
	if r == nil {
		return Context{}
	}
	if header == "" {
		header = DefaultHeader
	}
	fallback = strings.TrimSpace(fallback)

	cc := Context{RequestID: fallback, TraceID: fallback}
	for _, v := range r.Header.Values(header) {
		if v = strings.TrimSpace(v); v != "" {
			cc.RequestID = v
			break
		}
	}
	if sc := trace.SpanContextFromContext(r.Context()); sc.TraceID().IsValid() {
		cc.TraceID = sc.TraceID().String()
	}
	return cc
}

// NewToken returns a fresh random identifier for requests that carry none.
func NewToken() string {
	return uuid.NewString()
}

type contextKey struct{}

// NewContext returns a copy of parent carrying cc.
func NewContext(parent context.Context, cc Context) context.Context {
	return context.WithValue(parent, contextKey{}, cc)
}

// FromContext returns the Context stored by NewContext, if any.
func FromContext(c context.Context) (Context, bool) {
	cc, ok := c.Value(contextKey{}).(Context)
	return cc, ok
}
