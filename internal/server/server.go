// Package server assembles the request pipeline from configuration and runs
// the HTTP listener.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel/propagation"

	"github.com/goflash/gatekeeper"
	"github.com/goflash/gatekeeper/clientip"
	"github.com/goflash/gatekeeper/ctx"
	"github.com/goflash/gatekeeper/internal/config"
	"github.com/goflash/gatekeeper/internal/demo"
	"github.com/goflash/gatekeeper/metrics"
	"github.com/goflash/gatekeeper/middleware"
	"github.com/goflash/gatekeeper/pipeline"
	"github.com/goflash/gatekeeper/problem"
	"github.com/goflash/gatekeeper/ratelimit"
	"github.com/goflash/gatekeeper/result"
)

// Server owns the App, the limiter and the background janitor.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	reporter metrics.Reporter
	app      gatekeeper.App
	limiter  *ratelimit.Limiter
	pipeline *pipeline.Pipeline
	problems *problem.Reporter
}

type options struct {
	clock      func() time.Time
	propagator propagation.TextMapPropagator
	demo       []demo.Option
}

// Option customises New.
type Option func(*options)

// WithClock drives the limiter from now instead of time.Now.
func WithClock(now func() time.Time) Option { return func(o *options) { o.clock = now } }

// WithPropagator sets the trace context propagator. Defaults to the global one.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(o *options) { o.propagator = p }
}

// WithDemoOptions passes options to the demo handlers.
func WithDemoOptions(opts ...demo.Option) Option {
	return func(o *options) { o.demo = append(o.demo, opts...) }
}

// New builds the limiter, the client ip policy and the stage list from cfg
// and registers the routes. A nil reporter disables metrics.
func New(cfg *config.Config, logger *slog.Logger, reporter metrics.Reporter, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if reporter == nil {
		reporter = metrics.NullReporter{}
	}

	store, err := ratelimit.NewLRUStore(cfg.RateLimit.MaxPartitions, func(key string) {
		reporter.PartitionEvicted()
		logger.Debug("rate limit partition evicted", "partition", key)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "creating partition store")
	}
	var limiterOpts []ratelimit.LimiterOption
	if o.clock != nil {
		limiterOpts = append(limiterOpts, ratelimit.WithClock(o.clock))
	}
	limiter, err := ratelimit.New(cfg.RateLimit.Options(), store, limiterOpts...)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "creating rate limiter")
	}

	problemOpts := []problem.Option{problem.WithHeader(cfg.Correlation.Header)}
	if cfg.Problem.Detail != "" {
		problemOpts = append(problemOpts, problem.WithDetail(cfg.Problem.Detail))
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		reporter: reporter,
		limiter:  limiter,
		problems: problem.New(problemOpts...),
	}

	resolver := clientip.NewResolver(clientip.NewTruster(cfg.Proxy.TrustedProxies), cfg.Proxy.ForwardedForHeader)
	p, err := pipeline.New(
		pipeline.Stage{Name: pipeline.Tracing, Middleware: middleware.OTelWithConfig(middleware.OTelConfig{
			ServiceName: cfg.Tracing.ServiceName,
			Propagator:  o.propagator,
		})},
		pipeline.Stage{Name: pipeline.RequestID, Middleware: middleware.RequestID(middleware.RequestIDConfig{
			Header: cfg.Correlation.Header,
		})},
		pipeline.Stage{Name: pipeline.ForwardedHeaders, Middleware: middleware.ForwardedHeaders(middleware.ForwardedHeadersConfig{
			Resolver: resolver,
		})},
		pipeline.Stage{Name: pipeline.RequestLog, Middleware: middleware.Logger()},
		pipeline.Stage{Name: pipeline.Allowlist, Middleware: middleware.Allowlist(middleware.AllowlistConfig{
			Allowlist: clientip.NewAllowlist(cfg.Allowlist.Ranges),
			Status:    cfg.Allowlist.Status,
			Reporter:  reporter,
		})},
		pipeline.Stage{Name: pipeline.QueueTimeout, Middleware: middleware.QueueTimeout(cfg.RateLimit.QueueTimeout)},
		pipeline.Stage{Name: pipeline.RateLimit, Middleware: middleware.RateLimit(middleware.RateLimitConfig{
			Limiter:  limiter,
			Reporter: reporter,
		})},
		pipeline.Stage{Name: pipeline.Recover, Middleware: middleware.Recover(middleware.RecoverConfig{EnableStack: true})},
	)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "building pipeline")
	}
	s.pipeline = p

	app := gatekeeper.New()
	app.SetLogger(logger)
	app.SetErrorHandler(s.handleError)
	p.Apply(app)
	middleware.RegisterHealthCheck(app, middleware.HealthCheckConfig{
		ServiceName: cfg.Tracing.ServiceName,
		Details:     func() map[string]any { return map[string]any{"partitions": limiter.Len()} },
	})
	demo.New(o.demo...).Register(app)
	s.app = app

	logger.Info("pipeline ready", "stages", p.Names(),
		"permit_limit", cfg.RateLimit.PermitLimit,
		"window_seconds", cfg.RateLimit.WindowSeconds,
		"queue_limit", cfg.RateLimit.QueueLimit,
		"allowlist_ranges", len(cfg.Allowlist.Ranges))
	return s, nil
}

// Handler returns the App serving every route.
func (s *Server) Handler() http.Handler { return s.app }

// Limiter returns the rate limiter shared by all routes.
func (s *Server) Limiter() *ratelimit.Limiter { return s.limiter }

// Pipeline returns the validated stage list.
func (s *Server) Pipeline() *pipeline.Pipeline { return s.pipeline }

// handleError renders known failures as a Result envelope with their status
// and hands everything else to the problem reporter.
func (s *Server) handleError(c gatekeeper.Ctx, err error) {
	var known *result.KnownError
	if errors.As(err, &known) {
		ctx.LoggerFromContext(c.Context()).Warn("known error",
			"status", known.Status, "code", known.Code, "message", known.Message)
		if c.WroteHeader() {
			return
		}
		if werr := c.Status(known.Status).JSON(known.Envelope()); werr != nil {
			ctx.LoggerFromContext(c.Context()).Error("write known error response", "err", werr)
		}
		return
	}
	var pe *middleware.PanicError
	if errors.As(err, &pe) && pe.Stack != nil {
		ctx.LoggerFromContext(c.Context()).Debug("panic stack", "stack", string(pe.Stack))
	}
	s.problems.Handle(c, err)
}

// Run serves on the configured address until ctx is done, then shuts down
// within the configured timeout. The partition janitor runs for the same
// lifetime.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Address,
		Handler:           s.app,
		ReadHeaderTimeout: 10 * time.Second,
	}

	bg, stop := context.WithCancel(ctx)
	defer stop()
	go s.limiter.Run(bg, s.cfg.RateLimit.PruneInterval, s.cfg.RateLimit.IdleRetention)
	go s.reportPartitions(bg)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.limiter.Close()
		return pkgerrors.Wrapf(err, "listening on %s", srv.Addr)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.limiter.Close()
	if err != nil {
		return pkgerrors.Wrap(err, "shutting down")
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) reportPartitions(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RateLimit.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.reporter.Partitions(s.limiter.Len())
		case <-ctx.Done():
			return
		}
	}
}
