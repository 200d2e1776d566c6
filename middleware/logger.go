package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/goflash/gatekeeper"
	"github.com/goflash/gatekeeper/ctx"
	"github.com/goflash/gatekeeper/result"
)

// LoggerConfig configures the Logger middleware.
type LoggerConfig struct {
	// Skip suppresses the log line for requests it returns true for.
	Skip func(gatekeeper.Ctx) bool
}

// Logger returns middleware that writes one line per request with method,
// path, route, status, duration and user agent. The level follows the
// outcome: error for unhandled errors and 5xx, warn for 4xx, info otherwise.
//
// The request logger already carries the correlation and client ip fields
// added by earlier stages.
func Logger(cfgs ...LoggerConfig) gatekeeper.Middleware {
	var cfg LoggerConfig
	if len(cfgs) > 0 {
		cfg = cfgs[0]
	}
	return func(next gatekeeper.Handler) gatekeeper.Handler {
		return func(c gatekeeper.Ctx) error {
			start := time.Now()
			err := next(c)
			if cfg.Skip != nil && cfg.Skip(c) {
				return err
			}
			dur := time.Since(start)

			status := responseStatus(c, err)
			attrs := []any{
				"method", c.Method(),
				"path", c.Path(),
				"route", c.Route(),
				"status", status,
				"duration_ms", float64(dur.Microseconds()) / 1000.0,
				"user_agent", c.Request().UserAgent(),
			}
			if err != nil {
				attrs = append(attrs, "err", err)
			}
			ctx.LoggerFromContext(c.Context()).Log(c.Context(), levelFor(status, err), "request", attrs...)
			return err
		}
	}
}

// responseStatus returns the status the client receives. Errors are rendered
// by the App after the chain returns, so their status is inferred.
func responseStatus(c gatekeeper.Ctx, err error) int {
	if status := c.StatusCode(); status != 0 {
		return status
	}
	if err == nil {
		return http.StatusOK
	}
	var known *result.KnownError
	if errors.As(err, &known) {
		return known.Status
	}
	return http.StatusInternalServerError
}

func levelFor(status int, err error) slog.Level {
	var known *result.KnownError
	switch {
	case err != nil && !errors.As(err, &known):
		return slog.LevelError
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
