package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/goflash/gatekeeper/internal/config"
	"github.com/goflash/gatekeeper/internal/server"
	"github.com/goflash/gatekeeper/metrics"
)

// overrideFlags maps config keys to flags. Unset flags leave the file value
// or the default in place.
var overrideFlags = []struct {
	key, name, envar, help string
}{
	{"server.address", "address", "ADDRESS", "host:port to listen on."},
	{"server.shutdownTimeout", "shutdown-timeout", "SHUTDOWN_TIMEOUT", "graceful shutdown timeout."},
	{"log.level", "log-level", "LOG_LEVEL", "log level: debug, info, warn or error."},
	{"log.format", "log-format", "LOG_FORMAT", "log format: json or text."},
	{"proxy.trustedProxies", "trusted-proxies", "TRUSTED_PROXIES", "comma separated CIDRs whose forwarded headers are trusted."},
	{"proxy.forwardedForHeader", "forwarded-for-header", "FORWARDED_FOR_HEADER", "header carrying the client address chain."},
	{"allowlist.ranges", "allowlist", "ALLOWLIST", "comma separated CIDRs allowed to call the service. empty allows all."},
	{"rateLimit.permitLimit", "permit-limit", "PERMIT_LIMIT", "requests admitted per client per window."},
	{"rateLimit.windowSeconds", "window-seconds", "WINDOW_SECONDS", "fixed window length in seconds."},
	{"rateLimit.queueLimit", "queue-limit", "QUEUE_LIMIT", "requests queued per client once the window is exhausted."},
	{"rateLimit.queueTimeout", "queue-timeout", "QUEUE_TIMEOUT", "maximum time a queued request waits. 0 waits for the client."},
	{"rateLimit.maxPartitions", "max-partitions", "MAX_PARTITIONS", "maximum number of tracked clients."},
	{"correlation.header", "request-id-header", "REQUEST_ID_HEADER", "correlation id header."},
	{"metrics.statsdAddress", "dogstatsd-address", "DOGSTATSD_ADDRESS", "host:port of dogstatsd. empty disables metrics."},
	{"metrics.tags", "dogstatsd-tags", "DOGSTATSD_TAGS", "comma separated tags added to every metric."},
	{"tracing.serviceName", "service-name", "SERVICE_NAME", "service name on spans and health responses."},
	{"tracing.stdout", "trace-stdout", "TRACE_STDOUT", "export spans to stdout."},
}

func main() {
	configPath := kingpin.Flag("config", "path to a YAML config file.").Short('c').OverrideDefaultFromEnvar("GATEKEEPER_CONFIG").String()
	values := make([]*string, len(overrideFlags))
	for i, f := range overrideFlags {
		values[i] = kingpin.Flag(f.name, f.help).OverrideDefaultFromEnvar("GATEKEEPER_" + f.envar).String()
	}
	kingpin.Parse()

	overrides := map[string]any{}
	for i, f := range overrideFlags {
		if v := strings.TrimSpace(*values[i]); v != "" {
			overrides[f.key] = v
		}
	}

	cfg, err := config.Load(*configPath, overrides)
	if err != nil {
		slog.Error("could not load configuration", "err", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
	logger.Info("goodbye")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	if cfg.Tracing.Stdout {
		shutdown, err := setupTracer(cfg.Tracing.ServiceName)
		if err != nil {
			return errors.Wrap(err, "setting up tracer")
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	reporter, closeReporter, err := newReporter(cfg.Metrics)
	if err != nil {
		return err
	}
	defer closeReporter()

	s, err := server.New(cfg, logger, reporter)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func newReporter(cfg config.MetricsConfig) (metrics.Reporter, func(), error) {
	if cfg.StatsdAddress == "" {
		return metrics.NullReporter{}, func() {}, nil
	}
	client, err := statsd.NewBuffered(cfg.StatsdAddress, 1000)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "creating dogstatsd client for %s", cfg.StatsdAddress)
	}
	client.Namespace = cfg.Namespace
	return metrics.NewDataDogReporter(client, cfg.Tags), func() { _ = client.Close() }, nil
}

func setupTracer(service string) (func(context.Context) error, error) {
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	r, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", service),
	))
	if err != nil {
		return nil, err
	}
	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(r),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
