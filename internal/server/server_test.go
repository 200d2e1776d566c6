package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"

	"github.com/goflash/gatekeeper/internal/config"
	"github.com/goflash/gatekeeper/pipeline"
	"github.com/goflash/gatekeeper/problem"
	"github.com/goflash/gatekeeper/ratelimit"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, config.Validate(&cfg))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(&cfg, logger, nil, WithPropagator(propagation.TraceContext{}))
	require.NoError(t, err)
	t.Cleanup(s.Limiter().Close)
	return s
}

func do(s *Server, target, remote string, headers ...string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, target, nil)
	r.RemoteAddr = remote
	for i := 0; i+1 < len(headers); i += 2 {
		r.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, r)
	return rec
}

func TestPipelineOrder(t *testing.T) {
	s := newTestServer(t, nil)
	assert.Equal(t, []string{
		pipeline.Tracing, pipeline.RequestID, pipeline.ForwardedHeaders, pipeline.RequestLog,
		pipeline.Allowlist, pipeline.QueueTimeout, pipeline.RateLimit, pipeline.Recover,
	}, s.Pipeline().Names())
}

func TestForecastEchoesRequestID(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(s, "/demo/forecast?days=1", "192.0.2.10:5000", "X-Request-Id", "  abc-123 ")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-Id"))
	assert.Contains(t, rec.Body.String(), `"code":"0"`)
}

func TestAllowlistDeniesBeforeLimiter(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.Allowlist.Ranges = []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	})

	rec := do(s, "/demo/forecast", "203.0.113.9:1000")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 0, s.Limiter().Len(), "denied requests do not create partitions")

	// Spoofed header from an untrusted peer is ignored.
	rec = do(s, "/demo/forecast", "203.0.113.9:1000", "X-Forwarded-For", "10.1.2.3")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The same header through a trusted proxy is believed.
	rec = do(s, "/demo/forecast", "127.0.0.1:1000", "X-Forwarded-For", "10.1.2.3, 127.0.0.1")
	assert.Equal(t, http.StatusOK, rec.Code)
	_, tracked := s.Limiter().State("10.1.2.3")
	assert.True(t, tracked)
}

func TestRateLimitQueueAndReject(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.RateLimit.PermitLimit = 2
		c.RateLimit.QueueLimit = 1
		c.RateLimit.QueueTimeout = 100 * time.Millisecond
	})
	const remote = "198.51.100.7:4000"

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, do(s, "/demo/forecast", remote).Code)
	}

	var wg sync.WaitGroup
	var queued *httptest.ResponseRecorder
	wg.Add(1)
	go func() {
		defer wg.Done()
		queued = do(s, "/demo/forecast", remote)
	}()
	require.Eventually(t, func() bool {
		st, _ := s.Limiter().State("198.51.100.7")
		return st.QueueLength == 1
	}, time.Second, 5*time.Millisecond)

	rejected := do(s, "/demo/forecast", remote)
	assert.Equal(t, http.StatusTooManyRequests, rejected.Code)
	assert.NotEmpty(t, rejected.Header().Get("Retry-After"))

	// Other clients have their own partition.
	assert.Equal(t, http.StatusOK, do(s, "/demo/forecast", "198.51.100.8:4000").Code)

	wg.Wait()
	assert.Equal(t, http.StatusTooManyRequests, queued.Code, "queue timeout abandons the wait")
	st, _ := s.Limiter().State("198.51.100.7")
	assert.Equal(t, 0, st.QueueLength)
}

func TestKnownErrorRendersEnvelope(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(s, "/demo/known-error", "192.0.2.1:1")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"data":null,"message":"backend unreachable","code":"500"}`, rec.Body.String())
}

func TestUnknownErrorRendersProblem(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Problem.Detail = "try again later" })
	rec := do(s, "/demo/unknown-error?zero=0", "192.0.2.1:1",
		"X-Request-Id", "req-42",
		"traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, problem.ContentType, rec.Header().Get("Content-Type"))

	var d problem.Details
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, problem.Details{
		Type:      problem.TypeServerError,
		Title:     problem.TitleServerError,
		Status:    http.StatusInternalServerError,
		Detail:    "try again later",
		Instance:  "/demo/unknown-error",
		RequestID: "req-42",
		TraceID:   "4bf92f3577b34da6a3ce929d0e0e4736",
	}, d)
	assert.NotContains(t, rec.Body.String(), "divide by zero")
}

func TestHealthReportsPartitions(t *testing.T) {
	s := newTestServer(t, nil)
	do(s, "/demo/forecast", "192.0.2.1:1")
	do(s, "/demo/forecast", "192.0.2.2:1")

	rec := do(s, "/healthz", "192.0.2.3:1")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 3, body["partitions"], "health checks pass through the pipeline")
}

func TestNewRejectsInvalidLimiterOptions(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimit.PermitLimit = 0
	_, err := New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ratelimit.ErrInvalidOptions)
}

func TestRunServesUntilCancelled(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	s := newTestServer(t, func(c *config.Config) {
		c.Server.Address = addr
		c.Server.ShutdownTimeout = time.Second
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
