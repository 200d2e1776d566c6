package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goflash/gatekeeper"
)

type logRecord struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// captureHandler records every log line together with the attributes added
// through Logger.With.
type captureHandler struct {
	mu    *sync.Mutex
	recs  *[]logRecord
	attrs []slog.Attr
}

func newCaptureHandler() *captureHandler {
	return &captureHandler{mu: &sync.Mutex{}, recs: &[]logRecord{}}
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	rec := logRecord{Level: r.Level, Message: r.Message, Attrs: map[string]any{}}
	for _, a := range h.attrs {
		rec.Attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.Attrs[a.Key] = a.Value.Any()
		return true
	})
	h.mu.Lock()
	*h.recs = append(*h.recs, rec)
	h.mu.Unlock()
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &captureHandler{mu: h.mu, recs: h.recs, attrs: merged}
}

func (h *captureHandler) WithGroup(string) slog.Handler { return h }

func (h *captureHandler) find(msg string) (logRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(*h.recs) - 1; i >= 0; i-- {
		if (*h.recs)[i].Message == msg {
			return (*h.recs)[i], true
		}
	}
	return logRecord{}, false
}

func (h *captureHandler) count(msg string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range *h.recs {
		if r.Message == msg {
			n++
		}
	}
	return n
}

func newTestApp(h slog.Handler) gatekeeper.App {
	a := gatekeeper.New()
	a.SetLogger(slog.New(h))
	return a
}

func serve(a gatekeeper.App, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, r)
	return rec
}

func get(target, remote string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, target, nil)
	if remote != "" {
		r.RemoteAddr = remote
	}
	return r
}

func ok(c gatekeeper.Ctx) error { return c.String(http.StatusOK, "ok") }

type countingReporter struct {
	admitted, queued, rejected, abandoned, denied, evicted atomic.Int64
	partitions                                             atomic.Int64
}

func (r *countingReporter) Admitted(queued bool, _ time.Duration) {
	if queued {
		r.queued.Add(1)
		return
	}
	r.admitted.Add(1)
}
func (r *countingReporter) Rejected()               { r.rejected.Add(1) }
func (r *countingReporter) Abandoned(time.Duration) { r.abandoned.Add(1) }
func (r *countingReporter) Denied()                 { r.denied.Add(1) }
func (r *countingReporter) Partitions(n int)        { r.partitions.Store(int64(n)) }
func (r *countingReporter) PartitionEvicted()       { r.evicted.Add(1) }
