// Package config loads and validates application configuration from YAML
// files and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Workflow      WorkflowConfig      `yaml:"workflow"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Inference     InferenceConfig     `yaml:"inference"`
	Store         StoreConfig         `yaml:"store"`
	Idempotency   IdempotencyConfig   `yaml:"idempotency"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes the operational HTTP endpoint settings (health,
// readiness, metrics).
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// WorkflowConfig describes the workflow worker settings.
type WorkflowConfig struct {
	// ExecutionTimeout is the wall-clock ceiling for a whole execution.
	ExecutionTimeout time.Duration `yaml:"execution_timeout"`
	// JobPollInterval is how often the worker polls an executor-spawned
	// job while waiting for it to reach a terminal state.
	JobPollInterval time.Duration `yaml:"job_poll_interval"`
	// MaxConcurrentExecutions bounds in-flight executions; zero means
	// unbounded.
	MaxConcurrentExecutions int `yaml:"max_concurrent_executions"`
}

// JobsConfig describes streaming-job session and registry settings.
type JobsConfig struct {
	// FrameStride processes every Nth frame through inference; 1 means
	// every frame.
	FrameStride int `yaml:"frame_stride"`
	// StatsUpdateEvery throttles incremental stats persistence to every
	// Nth processed frame. Finalize recomputes exact numbers regardless.
	StatsUpdateEvery int `yaml:"stats_update_every"`
	// InactivityTimeout marks a manual session inactive after this long
	// without capture or heartbeat activity. Advisory only.
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
	// SweepInterval is how often the registry evicts handles whose
	// goroutine has exited.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// CaptureBaseURL is the capture sidecar that fronts video files, RTSP
	// streams, and webcams.
	CaptureBaseURL string `yaml:"capture_base_url"`
	// SourceTimeout bounds a single frame fetch from the capture sidecar.
	SourceTimeout time.Duration `yaml:"source_timeout"`
}

// InferenceConfig describes the model server client settings.
type InferenceConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// StoreConfig describes durable state persistence.
type StoreConfig struct {
	// Driver is "postgres" or "memory".
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxConns        int           `yaml:"max_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// IdempotencyConfig describes trigger deduplication settings.
type IdempotencyConfig struct {
	Enabled bool `yaml:"enabled"`
	// Driver is "redis" or "memory".
	Driver     string        `yaml:"driver"`
	AddrEnv    string        `yaml:"addr_env"`
	DB         int           `yaml:"db"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            9090,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Workflow: WorkflowConfig{
			ExecutionTimeout:        30 * time.Minute,
			JobPollInterval:         2 * time.Second,
			MaxConcurrentExecutions: 32,
		},
		Jobs: JobsConfig{
			FrameStride:       1,
			StatsUpdateEvery:  10,
			InactivityTimeout: 5 * time.Minute,
			SweepInterval:     30 * time.Second,
			CaptureBaseURL:    "http://localhost:8600",
			SourceTimeout:     30 * time.Second,
		},
		Inference: InferenceConfig{
			BaseURL: "http://localhost:8500",
			Timeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Driver:          "memory",
			DSNEnv:          "KESTREL_DB_DSN",
			MaxConns:        25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Idempotency: IdempotencyConfig{
			Driver:     "memory",
			AddrEnv:    "KESTREL_REDIS_ADDR",
			DefaultTTL: 24 * time.Hour,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Workflow.ExecutionTimeout <= 0 {
		errs = append(errs, "workflow.execution_timeout must be positive")
	}
	if c.Workflow.JobPollInterval <= 0 {
		errs = append(errs, "workflow.job_poll_interval must be positive")
	}
	if c.Jobs.FrameStride < 1 {
		errs = append(errs, "jobs.frame_stride must be at least 1")
	}
	if c.Jobs.StatsUpdateEvery < 1 {
		errs = append(errs, "jobs.stats_update_every must be at least 1")
	}
	switch c.Store.Driver {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported (memory, postgres)", c.Store.Driver))
	}
	switch c.Idempotency.Driver {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("idempotency.driver %q is not supported (memory, redis)", c.Idempotency.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads KESTREL_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KESTREL_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("KESTREL_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("KESTREL_INFERENCE_URL"); v != "" {
		cfg.Inference.BaseURL = v
	}
	if v := os.Getenv("KESTREL_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("KESTREL_EXECUTION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Workflow.ExecutionTimeout = d
		}
	}
}
