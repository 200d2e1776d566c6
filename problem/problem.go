// Package problem turns unhandled errors into RFC 9457 problem details
// responses that carry the request's correlation identifiers.
package problem

import (
	"log/slog"
	"net/http"

	"github.com/goflash/gatekeeper/clientip"
	"github.com/goflash/gatekeeper/correlation"
	"github.com/goflash/gatekeeper/ctx"
)

const (
	// ContentType is the media type of problem responses.
	ContentType = "application/problem+json"
	// TypeServerError identifies the 500 Internal Server Error problem type.
	TypeServerError = "https://www.rfc-editor.org/rfc/rfc9110#section-15.6.1"
	// TitleServerError is the title of every unhandled error response.
	TitleServerError = "Server Error"
	// DefaultDetail is sent when no detail override is configured. The
	// error text itself is never sent to the client.
	DefaultDetail = "An unexpected error occurred while processing the request."
)

// Details is the body of a problem response.
type Details struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail"`
	Instance  string `json:"instance"`
	RequestID string `json:"requestId"`
	TraceID   string `json:"traceId"`
}

// Reporter logs unhandled errors and answers them with a 500 problem response.
type Reporter struct {
	detail string
	header string
	logger *slog.Logger
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithDetail sets the detail text returned to clients.
func WithDetail(detail string) Option {
	return func(r *Reporter) {
		if detail != "" {
			r.detail = detail
		}
	}
}

// WithHeader sets the request id header consulted when the request carries
// no correlation context yet.
func WithHeader(header string) Option {
	return func(r *Reporter) { r.header = header }
}

// WithLogger logs through l instead of the request-scoped logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reporter) { r.logger = l }
}

// New returns a Reporter.
func New(opts ...Option) *Reporter {
	r := &Reporter{detail: DefaultDetail, header: correlation.DefaultHeader}
	for _, o := range opts {
		o(r)
	}
	return r
}

// correlate returns the request's correlation context and whether it was
// already attached by the request-id stage.
func (r *Reporter) correlate(c ctx.Ctx) (correlation.Context, bool) {
	if cc, ok := correlation.FromContext(c.Context()); ok {
		return cc, true
	}
	return correlation.Derive(c.Request(), r.header, correlation.NewToken()), false
}

// Build returns the problem details for err without writing anything.
func (r *Reporter) Build(c ctx.Ctx, err error) Details {
	cc, _ := r.correlate(c)
	return r.details(c, cc)
}

func (r *Reporter) details(c ctx.Ctx, cc correlation.Context) Details {
	return Details{
		Type:      TypeServerError,
		Title:     TitleServerError,
		Status:    http.StatusInternalServerError,
		Detail:    r.detail,
		Instance:  c.Path(),
		RequestID: cc.RequestID,
		TraceID:   cc.TraceID,
	}
}

// Handle logs err at error level and writes the problem response. If the
// response has already started, it only logs.
func (r *Reporter) Handle(c ctx.Ctx, err error) {
	cc, attached := r.correlate(c)

	l := r.logger
	if l == nil {
		l = ctx.LoggerFromContext(c.Context())
	}
	attrs := []any{"err", err, "method", c.Method(), "path", c.Path()}
	if !attached || r.logger != nil {
		attrs = append(attrs, "request_id", cc.RequestID, "trace_id", cc.TraceID)
	}
	if id, ok := clientip.IdentityFrom(c.Context()); !ok || r.logger != nil {
		ip := clientip.PeerAddr(c.Request())
		if ok {
			ip = id.IP
		}
		attrs = append(attrs, "client_ip", ip.String())
	}

	if c.WroteHeader() {
		l.Error("unhandled error after response started", attrs...)
		return
	}
	l.Error("unhandled error", attrs...)

	d := r.details(c, cc)
	if werr := c.Status(d.Status).JSONAs(ContentType, d); werr != nil {
		l.Error("write problem response", "err", werr)
	}
}

// ErrorHandler adapts Handle to the App error handler signature.
func (r *Reporter) ErrorHandler() func(ctx.Ctx, error) {
	return r.Handle
}
