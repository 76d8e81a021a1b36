package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Listen    string          `mapstructure:"listen" yaml:"listen"`
	DBPath    string          `mapstructure:"db_path" yaml:"db_path"`
	ReportDir string          `mapstructure:"report_dir" yaml:"report_dir"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Scope     ScopeConfig     `mapstructure:"scope" yaml:"scope"`
	Generator GeneratorConfig `mapstructure:"generator" yaml:"generator"`
	Executor  ExecutorConfig  `mapstructure:"executor" yaml:"executor"`
	Session   SessionConfig   `mapstructure:"session" yaml:"session"`

	// WebhookURL receives a JSON completion notification for every session
	// that reaches a terminal status. Empty disables notifications.
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url"`
}

// LogConfig controls structured logging output
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	File       string `mapstructure:"file" yaml:"file"` // empty = stderr only
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// ScopeConfig restricts which targets sessions may be started against.
// Empty lists allow any well-formed target.
type ScopeConfig struct {
	AllowedDomains []string `mapstructure:"allowed_domains" yaml:"allowed_domains"`
	AllowedCIDRs   []string `mapstructure:"allowed_cidrs" yaml:"allowed_cidrs"`
}

// GeneratorConfig points at the command generator endpoint
type GeneratorConfig struct {
	BaseURL           string `mapstructure:"base_url" yaml:"base_url"`
	Model             string `mapstructure:"model" yaml:"model"`
	APIKeyEnv         string `mapstructure:"api_key_env" yaml:"api_key_env"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Timeout           string `mapstructure:"timeout" yaml:"timeout"`
}

// ExecutorConfig controls local command execution
type ExecutorConfig struct {
	Shell         string `mapstructure:"shell" yaml:"shell"`
	Timeout       string `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries    uint64 `mapstructure:"max_retries" yaml:"max_retries"`
	RetryInterval string `mapstructure:"retry_interval" yaml:"retry_interval"`
}

// SessionConfig holds per-session policy defaults
type SessionConfig struct {
	DefaultIterations int `mapstructure:"default_iterations" yaml:"default_iterations"`
	// ApprovalTimeout bounds how long attended sessions wait for an
	// operator decision. "0" waits forever.
	ApprovalTimeout string `mapstructure:"approval_timeout" yaml:"approval_timeout"`
}

// Load reads and parses configuration from a YAML file
// If path is empty, searches for autostrike.yaml in current directory and ~/.config/autostrike/
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if path != "" {
		// Use explicit path
		v.SetConfigFile(path)
	} else {
		// Search for config in default locations
		v.SetConfigName("autostrike")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")

		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".config", "autostrike"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, errors.New("listen cannot be empty"))
	}

	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path cannot be empty"))
	}

	if c.ReportDir == "" {
		errs = append(errs, errors.New("report_dir cannot be empty"))
	}

	if c.Session.DefaultIterations <= 0 {
		errs = append(errs, errors.New("session.default_iterations must be positive"))
	}

	if _, err := parseDuration(c.Session.ApprovalTimeout); err != nil {
		errs = append(errs, fmt.Errorf("session.approval_timeout: %w", err))
	}

	if _, err := parseDuration(c.Executor.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("executor.timeout: %w", err))
	}

	if _, err := parseDuration(c.Executor.RetryInterval); err != nil {
		errs = append(errs, fmt.Errorf("executor.retry_interval: %w", err))
	}

	if _, err := parseDuration(c.Generator.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("generator.timeout: %w", err))
	}

	if c.Generator.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("generator.requests_per_minute must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// ApprovalTimeout returns the parsed session approval timeout.
func (c *Config) ApprovalTimeout() time.Duration {
	d, _ := parseDuration(c.Session.ApprovalTimeout)
	return d
}

// ExecutorTimeout returns the parsed per-command execution timeout.
func (c *Config) ExecutorTimeout() time.Duration {
	d, _ := parseDuration(c.Executor.Timeout)
	return d
}

// RetryInterval returns the parsed initial executor retry delay.
func (c *Config) RetryInterval() time.Duration {
	d, _ := parseDuration(c.Executor.RetryInterval)
	return d
}

// GeneratorTimeout returns the parsed generator round-trip timeout.
func (c *Config) GeneratorTimeout() time.Duration {
	d, _ := parseDuration(c.Generator.Timeout)
	return d
}

// APIKey resolves the generator API key from the configured environment
// variable. Keys never live in the config file itself.
func (c *Config) APIKey() string {
	if c.Generator.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Generator.APIKeyEnv)
}

// parseDuration accepts "", "0", or a time.Duration string.
func parseDuration(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", s)
	}
	return d, nil
}
