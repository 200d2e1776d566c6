package ctx

import (
	"context"
	"log/slog"
)

type loggerContextKey struct{}

// ContextWithLogger returns a new context carrying the provided slog.Logger.
//
// The App injects its logger into every request; middleware enriches it with
// request fields and stores it back:
//
//	l := ctx.LoggerFromContext(c.Context()).With("request_id", id)
//	c.SetRequest(c.Request().WithContext(ctx.ContextWithLogger(c.Context(), l)))
func ContextWithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, l)
}

// LoggerFromContext returns a slog.Logger from the context, or slog.Default if
// none is found.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if v := ctx.Value(loggerContextKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}

// WithLogAttrs replaces the request logger of c with one carrying args.
func WithLogAttrs(c Ctx, args ...any) *slog.Logger {
	l := LoggerFromContext(c.Context()).With(args...)
	c.SetRequest(c.Request().WithContext(ContextWithLogger(c.Context(), l)))
	return l
}
