// Package config loads the engine configuration from YAML with environment
// variable overrides. Configuration is read once at startup and treated as
// immutable afterwards; components receive the loaded struct by reference
// instead of consulting process-wide state.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// SystemConfig describes one external financial aid system.
type SystemConfig struct {
	Type               string  `yaml:"type"`
	Enabled            bool    `yaml:"enabled"`
	BaseURL            string  `yaml:"base_url"`
	APIKey             string  `yaml:"api_key"`
	Username           string  `yaml:"username"`
	Password           string  `yaml:"password"`
	TimeoutSeconds     int     `yaml:"timeout_seconds"`
	RetryAttempts      int     `yaml:"retry_attempts"`
	RetryDelaySeconds  int     `yaml:"retry_delay_seconds"`
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
}

// Timeout returns the per-call timeout for the system.
func (s SystemConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// RetryDelay returns the delay between resubmission attempts.
func (s SystemConfig) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelaySeconds) * time.Second
}

// IntegrationConfig is the integration-wide policy block.
type IntegrationConfig struct {
	DefaultSystem             string `yaml:"default_system"`
	AutoSubmitEnabled         bool   `yaml:"auto_submit_enabled"`
	RequireManualApproval     bool   `yaml:"require_manual_approval"`
	BatchSize                 int    `yaml:"batch_size"`
	BatchWorkers              int    `yaml:"batch_workers"`
	Schedule                  string `yaml:"schedule"`
	StatusPollIntervalSeconds int    `yaml:"status_poll_interval_seconds"`
	AuditFile                 string `yaml:"audit_file"`
}

// StatusPollInterval returns how often the status poller wakes up.
func (c IntegrationConfig) StatusPollInterval() time.Duration {
	return time.Duration(c.StatusPollIntervalSeconds) * time.Second
}

// ServerConfig configures the operational HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host" env:"SERVER_HOST"`
	Port int    `yaml:"port" env:"SERVER_PORT"`
}

// LoggingConfig configures the shared logger.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
	Output string `yaml:"output" env:"LOG_OUTPUT"`
}

// DatabaseConfig configures PostgreSQL persistence. An empty URL selects the
// in-memory store, which is only suitable for development and dry runs.
type DatabaseConfig struct {
	URL string `yaml:"url" env:"DATABASE_URL"`
}

// Config is the root configuration document.
type Config struct {
	Server      ServerConfig            `yaml:"server"`
	Logging     LoggingConfig           `yaml:"logging"`
	Database    DatabaseConfig          `yaml:"database"`
	Systems     map[string]SystemConfig `yaml:"systems"`
	Integration IntegrationConfig       `yaml:"integration"`
}

// adapterTypes lists the adapter implementations selectable by the `type`
// key of a system entry.
var adapterTypes = map[string]bool{
	"banner":  true,
	"workday": true,
}

// Load reads the configuration file at path, applies environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document, applies environment overrides, defaults and
// validation.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// envdecode errors only when a required variable is missing; all our
	// env tags are optional overrides.
	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Integration.BatchSize <= 0 {
		c.Integration.BatchSize = 100
	}
	if c.Integration.BatchWorkers <= 0 {
		c.Integration.BatchWorkers = 4
	}
	if c.Integration.StatusPollIntervalSeconds <= 0 {
		c.Integration.StatusPollIntervalSeconds = 60
	}

	for name, sys := range c.Systems {
		if sys.TimeoutSeconds <= 0 {
			sys.TimeoutSeconds = 30
		}
		if sys.RetryAttempts <= 0 {
			sys.RetryAttempts = 3
		}
		if sys.RetryDelaySeconds <= 0 {
			sys.RetryDelaySeconds = 300
		}
		c.Systems[name] = sys
	}
}

func (c *Config) validate() error {
	for name, sys := range c.Systems {
		if !adapterTypes[strings.ToLower(sys.Type)] {
			return fmt.Errorf("system %s: unknown adapter type %q", name, sys.Type)
		}
	}
	if d := c.Integration.DefaultSystem; d != "" {
		if _, ok := c.Systems[d]; !ok {
			return fmt.Errorf("integration.default_system %q is not a configured system", d)
		}
	}
	return nil
}

// RetryPolicyFor derives the retry settings for a system, falling back to
// three attempts five minutes apart.
func (c *Config) RetryPolicyFor(system string) (maxAttempts int, delay time.Duration) {
	if sys, ok := c.Systems[system]; ok {
		return sys.RetryAttempts, sys.RetryDelay()
	}
	return 3, 5 * time.Minute
}
