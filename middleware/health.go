package middleware

import (
	"net/http"
	"time"

	"github.com/goflash/gatekeeper"
	"github.com/goflash/gatekeeper/ctx"
)

// HealthCheckFunc reports whether the service is healthy.
type HealthCheckFunc func() error

// HealthCheckConfig configures the health endpoint.
type HealthCheckConfig struct {
	// Path defaults to "/healthz".
	Path string
	// HealthCheckFunc defaults to always healthy.
	HealthCheckFunc HealthCheckFunc
	// Details adds fields to the response body, e.g. tracked partitions.
	Details func() map[string]any
	// ServiceName defaults to "gatekeeper".
	ServiceName string
}

func healthCheckHandler(cfg HealthCheckConfig) gatekeeper.Handler {
	return func(c gatekeeper.Ctx) error {
		var err error
		if cfg.HealthCheckFunc != nil {
			err = cfg.HealthCheckFunc()
		}

		status, code := "healthy", http.StatusOK
		if err != nil {
			status, code = "unhealthy", http.StatusServiceUnavailable
			ctx.LoggerFromContext(c.Context()).Error("health check failed", "err", err)
		}

		body := map[string]any{
			"status":    status,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"service":   cfg.ServiceName,
		}
		if cfg.Details != nil {
			for k, v := range cfg.Details() {
				body[k] = v
			}
		}
		if err != nil {
			body["error"] = err.Error()
		}
		return c.Status(code).JSON(body)
	}
}

// RegisterHealthCheck registers a GET health endpoint on app. Routes see
// the global middleware registered before this call.
func RegisterHealthCheck(app gatekeeper.App, cfg HealthCheckConfig) {
	if cfg.Path == "" {
		cfg.Path = "/healthz"
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "gatekeeper"
	}
	app.GET(cfg.Path, healthCheckHandler(cfg))
}
