package middleware

import (
	"net/http"
	"time"

	"github.com/goflash/gatekeeper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/goflash/gatekeeper/middleware"

// OTelConfig configures the tracing middleware.
type OTelConfig struct {
	// Tracer defaults to the global provider's tracer.
	Tracer trace.Tracer
	// Propagator extracts the caller's trace context. Defaults to the global
	// propagator, which is a no-op unless one was installed.
	Propagator propagation.TextMapPropagator
	// ServiceName is recorded as service.name on every span.
	ServiceName string
	// SpanName overrides the "METHOD route" span name when it returns non-empty.
	SpanName func(gatekeeper.Ctx) string
	// Attributes adds per-request attributes at span start.
	Attributes func(gatekeeper.Ctx) []attribute.KeyValue
	// ExtraAttributes are added to every span.
	ExtraAttributes []attribute.KeyValue
	// Status maps the response to a span status. By default errors and 5xx
	// are codes.Error and everything else is left unset.
	Status func(code int, err error) (codes.Code, string)
	// RecordDuration adds http.server.duration_ms to the span.
	RecordDuration bool
	// Filter skips tracing for requests it returns true for.
	Filter func(gatekeeper.Ctx) bool
}

// OTel returns tracing middleware with default settings.
func OTel(serviceName string) gatekeeper.Middleware {
	return OTelWithConfig(OTelConfig{ServiceName: serviceName})
}

// OTelWithConfig returns middleware that continues the caller's trace (per
// Propagator) and wraps the rest of the pipeline in a server span. The span
// context is stored on the request context, so later stages see its trace id.
func OTelWithConfig(cfg OTelConfig) gatekeeper.Middleware {
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(instrumentationName)
	}
	if cfg.Propagator == nil {
		cfg.Propagator = otel.GetTextMapPropagator()
	}
	if cfg.Status == nil {
		cfg.Status = defaultSpanStatus
	}
	return func(next gatekeeper.Handler) gatekeeper.Handler {
		return func(c gatekeeper.Ctx) error {
			if cfg.Filter != nil && cfg.Filter(c) {
				return next(c)
			}
			start := time.Now()
			r := c.Request()
			parent := cfg.Propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			name := ""
			if cfg.SpanName != nil {
				name = cfg.SpanName(c)
			}
			if name == "" {
				route := c.Route()
				if route == "" {
					route = c.Path()
				}
				name = c.Method() + " " + route
			}

			attrs := []attribute.KeyValue{
				attribute.String("http.request.method", c.Method()),
				attribute.String("url.path", c.Path()),
				attribute.String("http.route", c.Route()),
			}
			if cfg.ServiceName != "" {
				attrs = append(attrs, attribute.String("service.name", cfg.ServiceName))
			}
			if cfg.Attributes != nil {
				attrs = append(attrs, cfg.Attributes(c)...)
			}
			attrs = append(attrs, cfg.ExtraAttributes...)

			spanCtx, span := cfg.Tracer.Start(parent, name,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
			)
			defer span.End()
			c.SetRequest(r.WithContext(spanCtx))

			err := next(c)

			code := c.StatusCode()
			if code == 0 {
				code = http.StatusOK
				if err != nil {
					code = http.StatusInternalServerError
				}
			}
			span.SetAttributes(attribute.Int("http.response.status_code", code))
			if cfg.RecordDuration {
				span.SetAttributes(attribute.Float64("http.server.duration_ms", float64(time.Since(start).Microseconds())/1000.0))
			}
			if err != nil {
				span.RecordError(err)
			}
			if sc, desc := cfg.Status(code, err); sc != codes.Unset {
				span.SetStatus(sc, desc)
			}
			return err
		}
	}
}

func defaultSpanStatus(code int, err error) (codes.Code, string) {
	if err != nil || code >= http.StatusInternalServerError {
		return codes.Error, http.StatusText(code)
	}
	return codes.Unset, ""
}
