package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheckHealthy(t *testing.T) {
	a := newTestApp(newCaptureHandler())
	RegisterHealthCheck(a, HealthCheckConfig{
		Details: func() map[string]any { return map[string]any{"partitions": 3} },
	})

	rec := serve(a, get("/healthz", ""))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "gatekeeper", body["service"])
	assert.EqualValues(t, 3, body["partitions"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestHealthCheckUnhealthy(t *testing.T) {
	h := newCaptureHandler()
	a := newTestApp(h)
	RegisterHealthCheck(a, HealthCheckConfig{
		Path:            "/health",
		ServiceName:     "svc",
		HealthCheckFunc: func() error { return errors.New("limiter closed") },
	})

	rec := serve(a, get("/health", ""))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "limiter closed")
	_, logged := h.find("health check failed")
	assert.True(t, logged)
}
