// Package config loads and validates the overseer application
// configuration: orchestration bounds, retry policy, store location, and
// backend endpoints. Values come from an optional YAML file with
// environment-variable overrides on top.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for orchestration bounds and the retry policy.
const (
	DefaultCheckpointInterval = 5
	DefaultMaxIterations      = 1000
	DefaultRetryAttempts      = 3
	DefaultRetryBaseDelay     = time.Second
)

// RetryConfig bounds backend call retries.
type RetryConfig struct {
	Attempts  int           `yaml:"attempts" json:"attempts"`
	BaseDelay time.Duration `yaml:"base_delay" json:"base_delay"`
}

// ManagerConfig configures the planning backend client.
type ManagerConfig struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
	Model   string `yaml:"model" json:"model"`
	APIKey  string `yaml:"-" json:"-"` // env only, never persisted
}

// ExecutorConfig configures the coding backend client.
type ExecutorConfig struct {
	Binary  string        `yaml:"binary" json:"binary"`
	Model   string        `yaml:"model" json:"model"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// Config is the root application configuration.
type Config struct {
	StateDir           string         `yaml:"state_dir" json:"state_dir"`
	CheckpointInterval int            `yaml:"checkpoint_interval" json:"checkpoint_interval"`
	MaxIterations      int            `yaml:"max_iterations" json:"max_iterations"`
	Retry              RetryConfig    `yaml:"retry" json:"retry"`
	Manager            ManagerConfig  `yaml:"manager" json:"manager"`
	Executor           ExecutorConfig `yaml:"executor" json:"executor"`
}

// Default returns the configuration with every optional field defaulted.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		StateDir:           home + "/.overseer/sessions",
		CheckpointInterval: DefaultCheckpointInterval,
		MaxIterations:      DefaultMaxIterations,
		Retry: RetryConfig{
			Attempts:  DefaultRetryAttempts,
			BaseDelay: DefaultRetryBaseDelay,
		},
	}
}

// Load reads the YAML config file (when path is non-empty), applies
// environment overrides, fills defaults, and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Strict decoding rejects unknown options at construction time.
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides layers OVERSEER_* environment variables over the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OVERSEER_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("OVERSEER_MANAGER_URL"); v != "" {
		cfg.Manager.BaseURL = v
	}
	if v := os.Getenv("OVERSEER_MANAGER_MODEL"); v != "" {
		cfg.Manager.Model = v
	}
	if v := os.Getenv("OVERSEER_MANAGER_API_KEY"); v != "" {
		cfg.Manager.APIKey = v
	}
	if v := os.Getenv("OVERSEER_EXECUTOR_BINARY"); v != "" {
		cfg.Executor.Binary = v
	}
	if v := os.Getenv("OVERSEER_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxIterations = n
		}
	}
	if v := os.Getenv("OVERSEER_CHECKPOINT_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CheckpointInterval = n
		}
	}
}

// applyDefaults fills zero-valued optional fields.
func applyDefaults(cfg *Config) {
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = DefaultCheckpointInterval
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry.Attempts = DefaultRetryAttempts
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = DefaultRetryBaseDelay
	}
}

// Validate rejects out-of-range values.
func (c *Config) Validate() error {
	if c.CheckpointInterval < 1 {
		return fmt.Errorf("checkpoint_interval must be >= 1, got %d", c.CheckpointInterval)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be >= 1, got %d", c.MaxIterations)
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry.attempts must be >= 1, got %d", c.Retry.Attempts)
	}
	if c.Retry.BaseDelay < 0 {
		return fmt.Errorf("retry.base_delay must be >= 0, got %v", c.Retry.BaseDelay)
	}
	if c.StateDir == "" {
		return fmt.Errorf("state_dir required")
	}
	return nil
}
