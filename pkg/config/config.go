// Package config loads and validates the Converge runtime configuration.
//
// Configuration is a YAML file layered over built-in defaults, with a small
// set of environment overrides for secrets that should not live on disk
// (CONVERGE_STORE_DSN, CONVERGE_LOG_LEVEL).
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/convergehq/converge/pkg/engine"
	"github.com/convergehq/converge/pkg/telemetry"
)

// Environment variable overrides.
const (
	EnvStoreDSN = "CONVERGE_STORE_DSN"
	EnvLogLevel = "CONVERGE_LOG_LEVEL"
)

// Duration wraps time.Duration with YAML string parsing ("30s", "5m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full Converge runtime configuration.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Store     StoreConfig     `yaml:"store"`
	Provider  ProviderConfig  `yaml:"provider"`
	Drift     DriftConfig     `yaml:"drift"`
	Policy    PolicyConfig    `yaml:"policy"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// EngineConfig tunes the reconciler.
type EngineConfig struct {
	MaxAttempts int      `yaml:"maxAttempts" validate:"min=1,max=25"`
	BaseDelay   Duration `yaml:"baseDelay"`
	MaxDelay    Duration `yaml:"maxDelay"`
	CallTimeout Duration `yaml:"callTimeout"`
	PassTimeout Duration `yaml:"passTimeout"`
	MaxParallel int      `yaml:"maxParallel" validate:"min=1,max=256"`
}

// Options converts the engine section to reconciler options.
func (c EngineConfig) Options() engine.Options {
	return engine.Options{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay.Std(),
		MaxDelay:    c.MaxDelay.Std(),
		CallTimeout: c.CallTimeout.Std(),
		PassTimeout: c.PassTimeout.Std(),
		MaxParallel: c.MaxParallel,
	}
}

// StoreConfig selects and configures the state store backend.
type StoreConfig struct {
	// Driver is the backend: sqlite, postgres, or memory.
	Driver string `yaml:"driver" validate:"required,oneof=sqlite postgres memory"`

	// Path is the database file path for the sqlite driver.
	Path string `yaml:"path"`

	// DSN is the connection string for the postgres driver. Overridden by
	// CONVERGE_STORE_DSN.
	DSN string `yaml:"dsn"`
}

// ProviderConfig selects the provider adapter.
type ProviderConfig struct {
	// Adapter is the registered adapter name resolved at startup.
	Adapter string `yaml:"adapter" validate:"required"`
}

// DriftConfig configures the background drift detector.
type DriftConfig struct {
	// Enabled turns the periodic scan on.
	Enabled bool `yaml:"enabled"`

	// Interval between scans. Mutually exclusive with Cron.
	Interval Duration `yaml:"interval"`

	// Cron is a five-field cron expression. Mutually exclusive with Interval.
	Cron string `yaml:"cron"`

	// Timezone for cron evaluation; defaults to UTC.
	Timezone string `yaml:"timezone"`
}

// PolicyConfig configures the admission policy gate.
type PolicyConfig struct {
	// Mode is enforcing or advisory.
	Mode string `yaml:"mode" validate:"omitempty,oneof=enforcing advisory"`

	// Paths are extra .rego or .json policy files or directories, loaded on
	// top of the built-ins.
	Paths []string `yaml:"paths"`

	// Watch hot-reloads policies when the files change.
	Watch bool `yaml:"watch"`
}

// TelemetryConfig is the YAML-facing telemetry section. It maps onto
// telemetry.Config defaults.
type TelemetryConfig struct {
	Environment     string `yaml:"environment"`
	LogLevel        string `yaml:"logLevel" validate:"omitempty,oneof=trace debug info warn error fatal"`
	LogFormat       string `yaml:"logFormat" validate:"omitempty,oneof=console json"`
	MetricsEnabled  *bool  `yaml:"metricsEnabled"`
	MetricsAddress  string `yaml:"metricsAddress"`
	TracingEnabled  bool   `yaml:"tracingEnabled"`
	TracingExporter string `yaml:"tracingExporter" validate:"omitempty,oneof=otlp stdout none"`
	TracingEndpoint string `yaml:"tracingEndpoint"`
}

// Build maps the section onto a full telemetry configuration.
func (c TelemetryConfig) Build(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	if c.Environment != "" {
		cfg.Environment = c.Environment
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}
	if c.LogFormat != "" {
		cfg.Logging.Format = c.LogFormat
	}
	if c.MetricsEnabled != nil {
		cfg.Metrics.Enabled = *c.MetricsEnabled
	}
	if c.MetricsAddress != "" {
		cfg.Metrics.ListenAddress = c.MetricsAddress
	}
	cfg.Tracing.Enabled = c.TracingEnabled
	if c.TracingExporter != "" {
		cfg.Tracing.Exporter = c.TracingExporter
	}
	if c.TracingEndpoint != "" {
		cfg.Tracing.Endpoint = c.TracingEndpoint
	}
	return cfg
}

// Default returns the built-in configuration: sim adapter, sqlite store in
// the working directory, enforcing policy, hourly drift scans.
func Default() *Config {
	opts := engine.DefaultOptions()
	return &Config{
		Engine: EngineConfig{
			MaxAttempts: opts.MaxAttempts,
			BaseDelay:   Duration(opts.BaseDelay),
			MaxDelay:    Duration(opts.MaxDelay),
			CallTimeout: Duration(opts.CallTimeout),
			PassTimeout: Duration(opts.PassTimeout),
			MaxParallel: opts.MaxParallel,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "converge.db",
		},
		Provider: ProviderConfig{
			Adapter: "sim",
		},
		Drift: DriftConfig{
			Enabled:  true,
			Interval: Duration(time.Hour),
			Timezone: "UTC",
		},
		Policy: PolicyConfig{
			Mode: "enforcing",
		},
		Telemetry: TelemetryConfig{},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides, and validates the result. An empty path loads defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies environment variable overrides.
func (c *Config) applyEnv() {
	if dsn := os.Getenv(EnvStoreDSN); dsn != "" {
		c.Store.DSN = dsn
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.Telemetry.LogLevel = level
	}
}

// Validate checks the configuration for structural and cross-field errors.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn (or %s) is required for the postgres driver", EnvStoreDSN)
		}
	}

	if c.Drift.Enabled {
		hasInterval := c.Drift.Interval > 0
		hasCron := c.Drift.Cron != ""
		if hasInterval == hasCron {
			return fmt.Errorf("drift requires exactly one of interval or cron")
		}
	}

	return nil
}
