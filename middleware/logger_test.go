package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"testing"

	"github.com/goflash/gatekeeper"
	"github.com/goflash/gatekeeper/result"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerLevelFollowsOutcome(t *testing.T) {
	tests := []struct {
		name   string
		h      gatekeeper.Handler
		status int64
		level  slog.Level
	}{
		{"ok", ok, 200, slog.LevelInfo},
		{"no write defaults to 200", func(c gatekeeper.Ctx) error { return nil }, 200, slog.LevelInfo},
		{"too many requests", func(c gatekeeper.Ctx) error { return c.String(http.StatusTooManyRequests, "") }, 429, slog.LevelWarn},
		{"written 5xx", func(c gatekeeper.Ctx) error { return c.String(http.StatusBadGateway, "") }, 502, slog.LevelError},
		{"unhandled error", func(c gatekeeper.Ctx) error { return errors.New("boom") }, 500, slog.LevelError},
		{"known client error", func(c gatekeeper.Ctx) error { return result.Known(http.StatusBadRequest, "400", "bad days") }, 400, slog.LevelWarn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newCaptureHandler()
			a := newTestApp(h)
			a.SetErrorHandler(func(gatekeeper.Ctx, error) {})
			a.Use(RequestID(), ForwardedHeaders(), Logger())
			a.GET("/x", tt.h)

			r := get("/x", "192.0.2.1:1")
			r.Header.Set("User-Agent", "test-agent")
			serve(a, r)

			line, found := h.find("request")
			require.True(t, found)
			assert.Equal(t, tt.level, line.Level)
			assert.Equal(t, tt.status, line.Attrs["status"])
			assert.Equal(t, "/x", line.Attrs["route"])
			assert.Equal(t, "test-agent", line.Attrs["user_agent"])
			assert.Equal(t, "192.0.2.1", line.Attrs["client_ip"])
			assert.NotEmpty(t, line.Attrs["request_id"])
		})
	}
}

func TestLoggerSkip(t *testing.T) {
	h := newCaptureHandler()
	a := newTestApp(h)
	a.Use(Logger(LoggerConfig{Skip: func(c gatekeeper.Ctx) bool { return c.Path() == "/healthz" }}))
	a.GET("/healthz", ok)
	a.GET("/x", ok)

	serve(a, get("/healthz", ""))
	assert.Equal(t, 0, h.count("request"))
	serve(a, get("/x", ""))
	assert.Equal(t, 1, h.count("request"))
}
