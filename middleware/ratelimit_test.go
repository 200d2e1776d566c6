package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goflash/gatekeeper"
	"github.com/goflash/gatekeeper/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newRateLimitedApp(t *testing.T, opts ratelimit.Options, clock *fakeClock, rep *countingReporter, extra ...gatekeeper.Middleware) (gatekeeper.App, *ratelimit.Limiter) {
	t.Helper()
	var lopts []ratelimit.LimiterOption
	if clock != nil {
		lopts = append(lopts, ratelimit.WithClock(clock.Now))
	}
	lim, err := ratelimit.New(opts, nil, lopts...)
	require.NoError(t, err)
	t.Cleanup(lim.Close)

	a := newTestApp(newCaptureHandler())
	a.Use(ForwardedHeaders())
	a.Use(extra...)
	a.Use(RateLimit(RateLimitConfig{Limiter: lim, Reporter: rep}))
	a.GET("/", ok)
	return a, lim
}

func TestRateLimitAdmitQueueReject(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	rep := &countingReporter{}
	a, lim := newRateLimitedApp(t, ratelimit.Options{PermitLimit: 5, Window: 60 * time.Second, QueueLimit: 2}, clock, rep)

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, serve(a, get("/", "1.2.3.4:1")).Code)
	}

	queued := make(chan *httptest.ResponseRecorder, 2)
	for i := 0; i < 2; i++ {
		go func() { queued <- serve(a, get("/", "1.2.3.4:1")) }()
	}
	require.Eventually(t, func() bool {
		st, _ := lim.State("1.2.3.4")
		return st.QueueLength == 2
	}, 2*time.Second, 5*time.Millisecond)

	clock.Advance(10 * time.Second)
	rec := serve(a, get("/", "1.2.3.4:1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "50", rec.Header().Get("Retry-After"))

	clock.Advance(50 * time.Second)
	assert.Equal(t, http.StatusOK, serve(a, get("/", "1.2.3.4:1")).Code)
	for i := 0; i < 2; i++ {
		select {
		case rec := <-queued:
			assert.Equal(t, http.StatusOK, rec.Code)
		case <-time.After(2 * time.Second):
			t.Fatal("queued request was not admitted after rollover")
		}
	}

	assert.EqualValues(t, 6, rep.admitted.Load())
	assert.EqualValues(t, 2, rep.queued.Load())
	assert.EqualValues(t, 1, rep.rejected.Load())
}

func TestRateLimitPartitionsByClient(t *testing.T) {
	a, lim := newRateLimitedApp(t, ratelimit.Options{PermitLimit: 1, Window: time.Hour}, nil, &countingReporter{})

	assert.Equal(t, http.StatusOK, serve(a, get("/", "1.1.1.1:1")).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(a, get("/", "1.1.1.1:2")).Code)
	assert.Equal(t, http.StatusOK, serve(a, get("/", "2.2.2.2:1")).Code)

	r := get("/", "127.0.0.1:1")
	r.Header.Set("X-Forwarded-For", "3.3.3.3")
	assert.Equal(t, http.StatusOK, serve(a, r).Code)
	_, ok := lim.State("3.3.3.3")
	assert.True(t, ok, "forwarded identity is the partition key")

	assert.Equal(t, http.StatusOK, serve(a, get("/", "garbage")).Code)
	_, ok = lim.State(ratelimit.FallbackPartition)
	assert.True(t, ok)
}

func TestRateLimitQueueTimeoutAbandons(t *testing.T) {
	rep := &countingReporter{}
	a, lim := newRateLimitedApp(t, ratelimit.Options{PermitLimit: 1, Window: time.Hour, QueueLimit: 1}, nil, rep, QueueTimeout(20*time.Millisecond))

	assert.Equal(t, http.StatusOK, serve(a, get("/", "1.2.3.4:1")).Code)
	start := time.Now()
	rec := serve(a, get("/", "1.2.3.4:1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
	assert.EqualValues(t, 1, rep.abandoned.Load())

	st, _ := lim.State("1.2.3.4")
	assert.Equal(t, 0, st.QueueLength, "abandoned waiter left the queue")
}

func TestRateLimitQueuedRequestAdmittedByTimer(t *testing.T) {
	a, _ := newRateLimitedApp(t, ratelimit.Options{PermitLimit: 1, Window: 30 * time.Millisecond, QueueLimit: 1}, nil, &countingReporter{})

	assert.Equal(t, http.StatusOK, serve(a, get("/", "1.2.3.4:1")).Code)
	assert.Equal(t, http.StatusOK, serve(a, get("/", "1.2.3.4:1")).Code, "waits for the next window")
}

func TestRateLimitRequiresLimiter(t *testing.T) {
	assert.Panics(t, func() { RateLimit(RateLimitConfig{}) })
}

func TestFormatSeconds(t *testing.T) {
	assert.Equal(t, "1", formatSeconds(0))
	assert.Equal(t, "1", formatSeconds(200*time.Millisecond))
	assert.Equal(t, "2", formatSeconds(1500*time.Millisecond))
	assert.Equal(t, "60", formatSeconds(time.Minute))
}
