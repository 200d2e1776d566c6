// Package demo holds sample endpoints that exercise each response path of
// the pipeline: a successful envelope, a known failure and an unexpected
// fault.
package demo

import (
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/goflash/gatekeeper"
	"github.com/goflash/gatekeeper/ctx"
	"github.com/goflash/gatekeeper/result"
)

var summaries = []string{
	"Freezing", "Bracing", "Chilly", "Cool", "Mild", "Warm", "Balmy", "Hot", "Sweltering", "Scorching",
}

// Forecast is a generated weather forecast.
type Forecast struct {
	Date         string `json:"date"`
	TemperatureC int    `json:"temperatureC"`
	TemperatureF int    `json:"temperatureF"`
	Summary      string `json:"summary"`
}

// Handlers serves the demo routes.
type Handlers struct {
	now  func() time.Time
	rand func(n int) int
}

// Option customises Handlers.
type Option func(*Handlers)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(h *Handlers) { h.now = now } }

// WithRand replaces the random source; it must return a value in [0, n).
func WithRand(fn func(n int) int) Option { return func(h *Handlers) { h.rand = fn } }

// New returns demo handlers using the wall clock and math/rand.
func New(opts ...Option) *Handlers {
	h := &Handlers{now: time.Now, rand: rand.IntN}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register mounts the demo routes under /demo.
func (h *Handlers) Register(app gatekeeper.App) {
	g := app.Group("/demo")
	g.GET("/forecast", h.Forecast)
	g.GET("/known-error", h.KnownError)
	g.GET("/unknown-error", h.UnknownError)
}

// Forecast returns a forecast for today plus ?days. Negative days are a
// validation failure reported in the envelope with status 200.
func (h *Handlers) Forecast(c gatekeeper.Ctx) error {
	days := c.QueryInt("days")
	if days < 0 {
		return c.JSON(result.Failure("400", "only future dates can be forecast"))
	}
	tempC := h.rand(75) - 20
	f := Forecast{
		Date:         h.now().AddDate(0, 0, days).Format(time.DateOnly),
		TemperatureC: tempC,
		TemperatureF: 32 + int(float64(tempC)/0.5556),
		Summary:      summaries[h.rand(len(summaries))],
	}
	return c.JSON(result.Success(f))
}

// KnownError simulates a handled backend failure.
func (h *Handlers) KnownError(c gatekeeper.Ctx) error {
	ctx.LoggerFromContext(c.Context()).Error("backend call failed", "code", "500")
	return result.Known(http.StatusInternalServerError, "500", "backend unreachable")
}

// UnknownError divides by ?zero, which panics with the default of 0.
func (h *Handlers) UnknownError(c gatekeeper.Ctx) error {
	zero := c.QueryInt("zero")
	quotient := 100 / zero
	return c.JSON(result.Success(quotient))
}
