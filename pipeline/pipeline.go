// Package pipeline declares the ordered list of request stages and checks
// the ordering rules they depend on before any of them is registered.
package pipeline

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/goflash/gatekeeper"
)

// Stage names used by the ordering rules.
const (
	Tracing          = "tracing"
	RequestID        = "request-id"
	ForwardedHeaders = "forwarded-headers"
	RequestLog       = "request-log"
	Allowlist        = "allowlist"
	QueueTimeout     = "queue-timeout"
	RateLimit        = "rate-limit"
	Recover          = "recover"
)

// ErrInvalidPipeline is returned by New for a stage list that breaks an
// ordering rule.
var ErrInvalidPipeline = errors.New("invalid pipeline")

// Stage is one named middleware in the pipeline.
type Stage struct {
	Name       string
	Middleware gatekeeper.Middleware
}

// rules lists pairs that must appear in this order when both are present.
var rules = [][2]string{
	{ForwardedHeaders, Allowlist},
	{ForwardedHeaders, RateLimit},
	{Allowlist, RateLimit},
	{QueueTimeout, RateLimit},
	{RequestID, RequestLog},
}

// Pipeline is a validated, immutable stage list.
type Pipeline struct {
	stages []Stage
}

// New validates stages and returns the pipeline. Names must be unique and
// non-empty, every stage needs a middleware, and the ordering rules must
// hold: client identity is resolved before the allowlist and the rate
// limiter, and the allowlist runs before the limiter so denied requests
// never consume capacity.
func New(stages ...Stage) (*Pipeline, error) {
	pos := make(map[string]int, len(stages))
	for i, s := range stages {
		if s.Name == "" {
			return nil, errors.Wrapf(ErrInvalidPipeline, "stage %d has no name", i)
		}
		if s.Middleware == nil {
			return nil, errors.Wrapf(ErrInvalidPipeline, "stage %q has no middleware", s.Name)
		}
		if _, dup := pos[s.Name]; dup {
			return nil, errors.Wrapf(ErrInvalidPipeline, "duplicate stage %q", s.Name)
		}
		pos[s.Name] = i
	}
	for _, r := range rules {
		before, okBefore := pos[r[0]]
		after, okAfter := pos[r[1]]
		if okBefore && okAfter && before > after {
			return nil, errors.Wrapf(ErrInvalidPipeline, "%s must run before %s", r[0], r[1])
		}
	}
	if _, ok := pos[RateLimit]; ok {
		if _, ok := pos[ForwardedHeaders]; !ok {
			return nil, errors.Wrapf(ErrInvalidPipeline, "%s requires %s", RateLimit, ForwardedHeaders)
		}
	}
	return &Pipeline{stages: append([]Stage(nil), stages...)}, nil
}

// Names returns the stage names in execution order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

// Middleware returns the stage middlewares in execution order.
func (p *Pipeline) Middleware() []gatekeeper.Middleware {
	mw := make([]gatekeeper.Middleware, len(p.stages))
	for i, s := range p.stages {
		mw[i] = s.Middleware
	}
	return mw
}

// Apply registers the stages as global middleware. It must be called before
// any route is registered.
func (p *Pipeline) Apply(app gatekeeper.App) {
	app.Use(p.Middleware()...)
}

func (p *Pipeline) String() string {
	return fmt.Sprintf("pipeline[%s]", strings.Join(p.Names(), " -> "))
}
