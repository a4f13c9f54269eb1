// Package config loads the settings of a coroutine runner stack from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Dispatcher kinds accepted in runner.dispatcher.
const (
	DispatcherEventLoop = "event_loop"
	DispatcherPool      = "pool"
)

// Config is the root configuration.
type Config struct {
	Runner  RunnerConfig  `yaml:"runner"`
	Pool    PoolConfig    `yaml:"pool"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// RunnerConfig configures the coroutine runner.
type RunnerConfig struct {
	Name            string        `yaml:"name"`
	Dispatcher      string        `yaml:"dispatcher"`
	HistoryCapacity int           `yaml:"history_capacity"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// PoolConfig configures the worker pool used by the "pool" dispatcher.
type PoolConfig struct {
	Workers  int  `yaml:"workers"`
	Priority bool `yaml:"priority"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Namespace    string        `yaml:"namespace"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Listen       string        `yaml:"listen"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Runner: RunnerConfig{
			Name:            "main",
			Dispatcher:      DispatcherEventLoop,
			HistoryCapacity: 100,
			ShutdownTimeout: 5 * time.Second,
		},
		Pool: PoolConfig{
			Workers: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Namespace:    "coroutine",
			PollInterval: 5 * time.Second,
			Listen:       ":9090",
		},
		Tracing: TracingConfig{
			ServiceName: "go-coroutine",
		},
	}
}

// Load reads a YAML file on top of Default. Keys missing from the file keep their default.
func Load(path string) (*Config, error) {
	cfg := Default()

	// #nosec G304 -- the path comes from the operator.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}
	return cfg, nil
}

// LoadWithEnv loads path (Default when path is empty), applies PREFIX_* environment
// overrides and validates the result.
func LoadWithEnv(path, prefix string) (*Config, error) {
	cfg := Default()
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := ApplyEnvOverrides(prefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Runner.Name) == "" {
		errs = append(errs, errors.New("runner.name must not be empty"))
	}
	switch c.Runner.Dispatcher {
	case DispatcherEventLoop, DispatcherPool:
	default:
		errs = append(errs, fmt.Errorf("runner.dispatcher must be %q or %q, got %q",
			DispatcherEventLoop, DispatcherPool, c.Runner.Dispatcher))
	}
	if c.Runner.HistoryCapacity < 0 {
		errs = append(errs, fmt.Errorf("runner.history_capacity must be >= 0, got %d", c.Runner.HistoryCapacity))
	}
	if c.Runner.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("runner.shutdown_timeout must be positive, got %s", c.Runner.ShutdownTimeout))
	}
	if c.Runner.Dispatcher == DispatcherPool && c.Pool.Workers < 1 {
		errs = append(errs, fmt.Errorf("pool.workers must be >= 1, got %d", c.Pool.Workers))
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}
	if c.Metrics.Enabled && c.Metrics.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("metrics.poll_interval must be positive, got %s", c.Metrics.PollInterval))
	}
	if c.Tracing.Enabled && c.Tracing.ServiceName == "" {
		errs = append(errs, errors.New("tracing.service_name must not be empty"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", level)
	}
}
