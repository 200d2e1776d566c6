// Package config loads the process configuration once at startup. Values
// come from an optional YAML file, then from command line and environment
// overrides, and are validated before anything listens.
package config

import (
	"net/netip"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/goflash/gatekeeper/clientip"
	"github.com/goflash/gatekeeper/correlation"
	"github.com/goflash/gatekeeper/ratelimit"
)

// Config is the complete process configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Proxy       ProxyConfig       `mapstructure:"proxy"`
	Allowlist   AllowlistConfig   `mapstructure:"allowlist"`
	RateLimit   RateLimitConfig   `mapstructure:"rateLimit"`
	Correlation CorrelationConfig `mapstructure:"correlation"`
	Problem     ProblemConfig     `mapstructure:"problem"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
}

type ServerConfig struct {
	Address         string        `mapstructure:"address" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout" validate:"gt=0"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// ProxyConfig lists the peers whose forwarded headers are believed.
type ProxyConfig struct {
	TrustedProxies     []netip.Prefix `mapstructure:"trustedProxies"`
	ForwardedForHeader string         `mapstructure:"forwardedForHeader" validate:"required"`
}

// AllowlistConfig lists permitted client ranges. Empty allows everyone.
type AllowlistConfig struct {
	Ranges []netip.Prefix `mapstructure:"ranges"`
	Status int            `mapstructure:"status" validate:"gte=400,lte=499"`
}

// RateLimitConfig drives the fixed window limiter.
type RateLimitConfig struct {
	PermitLimit   int           `mapstructure:"permitLimit" validate:"gt=0"`
	WindowSeconds int           `mapstructure:"windowSeconds" validate:"gt=0"`
	QueueLimit    int           `mapstructure:"queueLimit" validate:"gt=0"`
	QueueTimeout  time.Duration `mapstructure:"queueTimeout" validate:"gte=0"`
	MaxPartitions int           `mapstructure:"maxPartitions" validate:"gt=0"`
	IdleRetention time.Duration `mapstructure:"idleRetention" validate:"gt=0"`
	PruneInterval time.Duration `mapstructure:"pruneInterval" validate:"gt=0"`
}

// Options converts the configuration into limiter options.
func (c RateLimitConfig) Options() ratelimit.Options {
	return ratelimit.Options{
		PermitLimit: c.PermitLimit,
		Window:      time.Duration(c.WindowSeconds) * time.Second,
		QueueLimit:  c.QueueLimit,
	}
}

type CorrelationConfig struct {
	Header string `mapstructure:"header" validate:"required"`
}

type ProblemConfig struct {
	// Detail replaces the generic problem detail text.
	Detail string `mapstructure:"detail"`
}

type MetricsConfig struct {
	// StatsdAddress enables dogstatsd reporting when set.
	StatsdAddress string   `mapstructure:"statsdAddress" validate:"omitempty,hostname_port"`
	Namespace     string   `mapstructure:"namespace"`
	Tags          []string `mapstructure:"tags"`
}

type TracingConfig struct {
	ServiceName string `mapstructure:"serviceName" validate:"required"`
	// Stdout exports spans to standard output.
	Stdout bool `mapstructure:"stdout"`
}

// Default returns the configuration used for keys absent from every source.
func Default() Config {
	return Config{
		Server: ServerConfig{Address: ":8080", ShutdownTimeout: 10 * time.Second},
		Log:    LogConfig{Level: "info", Format: "json"},
		Proxy: ProxyConfig{
			TrustedProxies:     append([]netip.Prefix(nil), clientip.DefaultTrustedProxies...),
			ForwardedForHeader: clientip.DefaultForwardedForHeader,
		},
		Allowlist: AllowlistConfig{Status: 403},
		RateLimit: RateLimitConfig{
			PermitLimit:   5,
			WindowSeconds: 60,
			QueueLimit:    2,
			QueueTimeout:  30 * time.Second,
			MaxPartitions: ratelimit.DefaultMaxPartitions,
			IdleRetention: 10 * time.Minute,
			PruneInterval: time.Minute,
		},
		Correlation: CorrelationConfig{Header: correlation.DefaultHeader},
		Metrics:     MetricsConfig{Namespace: "gatekeeper."},
		Tracing:     TracingConfig{ServiceName: "gatekeeper"},
	}
}

// Load reads the YAML file at path (skipped when empty), applies overrides
// keyed by dotted path such as "rateLimit.permitLimit", and validates the
// result. Override values may be strings; they are converted to the field
// type.
func Load(path string, overrides map[string]any) (*Config, error) {
	raw := map[string]any{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading config %s", path)
		}
		var doc map[interface{}]interface{}
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return nil, errors.Wrapf(err, "parsing config %s", path)
		}
		if m, ok := normalize(doc).(map[string]any); ok {
			raw = m
		}
	}
	for key, v := range overrides {
		setPath(raw, strings.Split(key, "."), v)
	}

	cfg := Default()
	if err := Decode(raw, &cfg); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Decode merges raw into cfg. Slices present in raw replace the defaults.
func Decode(raw map[string]any, cfg *Config) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToTimeDurationHookFunc(),
			stringToPrefixHook,
		),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		ZeroFields:       true,
		Result:           cfg,
	})
	if err != nil {
		return errors.Wrap(err, "building config decoder")
	}
	return errors.Wrap(dec.Decode(raw), "decoding config")
}

var validate = validator.New()

// Validate checks field constraints. Any failure is fatal at startup.
func Validate(cfg *Config) error {
	return errors.Wrap(validate.Struct(cfg), "invalid config")
}

var prefixType = reflect.TypeOf(netip.Prefix{})

// stringToPrefixHook parses CIDR ranges. A bare address becomes a single
// host prefix.
func stringToPrefixHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != prefixType {
		return data, nil
	}
	s := strings.TrimSpace(data.(string))
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid CIDR %q", s)
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid address %q", s)
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// normalize turns yaml.v2 maps into string keyed maps mapstructure can
// match against field names. Keys with no value are dropped so an empty
// section keeps its defaults.
func normalize(v any) any {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if val == nil {
				continue
			}
			out[toString(k)] = normalize(val)
		}
		return out
	case []interface{}:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}

func toString(k any) string {
	if s, ok := k.(string); ok {
		return s
	}
	b, _ := yaml.Marshal(k)
	return strings.TrimSpace(string(b))
}

func setPath(m map[string]any, path []string, v any) {
	if len(path) == 1 {
		m[path[0]] = v
		return
	}
	child, ok := m[path[0]].(map[string]any)
	if !ok {
		child = map[string]any{}
		m[path[0]] = child
	}
	setPath(child, path[1:], v)
}
