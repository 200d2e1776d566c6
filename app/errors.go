package app

import (
	"net/http"

	"github.com/goflash/gatekeeper/ctx"
)

// defaultErrorHandler logs err and writes a bare 500 unless the response has
// already started.
func defaultErrorHandler(c ctx.Ctx, err error) {
	ctx.LoggerFromContext(c.Context()).Error("unhandled error", "err", err)
	if c.WroteHeader() {
		return
	}
	_ = c.String(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
}

func methodNotAllowedHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
		_, _ = w.Write([]byte(http.StatusText(http.StatusMethodNotAllowed)))
	})
}
