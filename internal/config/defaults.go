package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		Listen:    "127.0.0.1:8480",
		DBPath:    "autostrike.db",
		ReportDir: "reports",
		Log: LogConfig{
			Level:      "info",
			File:       "",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
		Scope: ScopeConfig{
			AllowedDomains: []string{},
			AllowedCIDRs:   []string{},
		},
		Generator: GeneratorConfig{
			BaseURL:           "http://127.0.0.1:11434/v1",
			Model:             "llama3.1",
			APIKeyEnv:         "AUTOSTRIKE_API_KEY",
			RequestsPerMinute: 20,
			Timeout:           "2m",
		},
		Executor: ExecutorConfig{
			Shell:         "/bin/sh",
			Timeout:       "10m",
			MaxRetries:    0,
			RetryInterval: "2s",
		},
		Session: SessionConfig{
			DefaultIterations: 3,
			ApprovalTimeout:   "0",
		},
	}
}

// WriteDefault writes a default configuration to the specified path
func WriteDefault(path string) error {
	cfg := DefaultConfig()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
