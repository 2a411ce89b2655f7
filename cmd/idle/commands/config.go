package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/idlecore/idle/pkg/engine"
	"github.com/idlecore/idle/pkg/telemetry"
)

// Config is the CLI configuration file. Top-level keys are operator-facing
// snake_case; engine-owned payloads (retry profiles) keep the engine's
// PascalCase wire names.
type Config struct {
	// DataDir is the working directory for the store and scaffolding.
	DataDir string `yaml:"data_dir"`

	Database  DatabaseConfig  `yaml:"database"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Policy    PolicyConfig    `yaml:"policy"`
	Providers ProvidersConfig `yaml:"providers"`
	Locks     LocksConfig     `yaml:"locks"`
	Execution ExecutionConfig `yaml:"execution"`
}

// DatabaseConfig locates the run-history store.
type DatabaseConfig struct {
	// Path is the SQLite database file. Empty derives <data_dir>/idle.db.
	Path string `yaml:"path"`
}

// TelemetryConfig is the CLI view onto the telemetry stack.
type TelemetryConfig struct {
	LogLevel        string `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error fatal"`
	LogFormat       string `yaml:"log_format" validate:"omitempty,oneof=console json"`
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	MetricsListen   string `yaml:"metrics_listen"`
	TracingExporter string `yaml:"tracing_exporter" validate:"omitempty,oneof=otlp stdout none"`
	TracingEndpoint string `yaml:"tracing_endpoint"`
	EventsEnabled   bool   `yaml:"events_enabled"`
}

// PolicyConfig configures the admission gate.
type PolicyConfig struct {
	// Environment reaches Rego as input.Context.Environment.
	Environment string `yaml:"environment"`

	// Paths lists extra .rego files or directories loaded on top of the
	// builtin policies.
	Paths []string `yaml:"paths"`

	// Disabled skips the gate entirely. The run command's --no-policy flag
	// does the same for a single invocation.
	Disabled bool `yaml:"disabled"`
}

// ProvidersConfig locates the provider wiring document.
type ProvidersConfig struct {
	// Wiring is the wiring file path. Empty wires a single in-memory
	// provider under the "default" alias.
	Wiring string `yaml:"wiring"`
}

// LocksConfig configures the per-identity run lock.
type LocksConfig struct {
	// RedisAddr enables locking when set, e.g. "localhost:6379". The run
	// command's --lock-redis flag overrides it.
	RedisAddr string `yaml:"redis_addr"`

	// Prefix namespaces lock keys. Empty uses "idle:lock:".
	Prefix string `yaml:"prefix"`

	// TTLSeconds bounds how long a crashed run can hold its lock.
	TTLSeconds int `yaml:"ttl_seconds" validate:"omitempty,min=1"`
}

// ExecutionConfig carries run tuning into engine.ExecutionOptions.
type ExecutionConfig struct {
	DefaultRetryProfile string                         `yaml:"default_retry_profile"`
	RetryProfiles       map[string]engine.RetryProfile `yaml:"retry_profiles"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		Telemetry: TelemetryConfig{
			LogLevel:        "info",
			LogFormat:       "console",
			MetricsListen:   ":9090",
			TracingExporter: "none",
			EventsEnabled:   true,
		},
		Policy: PolicyConfig{
			Environment: "development",
		},
		Locks: LocksConfig{
			TTLSeconds: 300,
		},
		Execution: ExecutionConfig{
			DefaultRetryProfile: "standard",
			RetryProfiles: map[string]engine.RetryProfile{
				"standard": {
					MaxAttempts:              3,
					InitialDelayMilliseconds: 200,
					BackoffFactor:            2.0,
					MaxDelayMilliseconds:     5000,
					JitterRatio:              0.2,
				},
			},
		},
	}
}

// loadConfig reads the configuration from the --config path, falling back to
// ./idle.yaml, falling back to defaults when neither exists.
func loadConfig() (*Config, error) {
	cfg := DefaultConfig()

	path := configPath
	if path == "" {
		if _, err := os.Stat("idle.yaml"); err == nil {
			path = "idle.yaml"
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// DatabasePath resolves the store location.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.DataDir, "idle.db")
}

// LockTTL resolves the run-lock TTL.
func (c *Config) LockTTL() time.Duration {
	if c.Locks.TTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Locks.TTLSeconds) * time.Second
}

// TelemetryConfig maps the CLI view onto the full telemetry configuration.
// The --verbose flag wins over the configured log level.
func (c *Config) TelemetryConfig() *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.Environment = c.Policy.Environment

	if c.Telemetry.LogLevel != "" {
		cfg.Logging.Level = c.Telemetry.LogLevel
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if c.Telemetry.LogFormat != "" {
		cfg.Logging.Format = c.Telemetry.LogFormat
	}

	cfg.Metrics.Enabled = c.Telemetry.MetricsEnabled
	if c.Telemetry.MetricsListen != "" {
		cfg.Metrics.ListenAddress = c.Telemetry.MetricsListen
	}

	cfg.Tracing.Enabled = c.Telemetry.TracingExporter != "" && c.Telemetry.TracingExporter != "none"
	if c.Telemetry.TracingExporter != "" {
		cfg.Tracing.Exporter = c.Telemetry.TracingExporter
	}
	cfg.Tracing.Endpoint = c.Telemetry.TracingEndpoint

	cfg.Events.Enabled = c.Telemetry.EventsEnabled

	return cfg
}

// ExecutionOptions maps the execution section onto engine options.
func (c *Config) ExecutionOptions() engine.ExecutionOptions {
	return engine.ExecutionOptions{
		RetryProfiles:       c.Execution.RetryProfiles,
		DefaultRetryProfile: c.Execution.DefaultRetryProfile,
	}
}
