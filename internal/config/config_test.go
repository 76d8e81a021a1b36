package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:8480", cfg.Listen)
	assert.Equal(t, 3, cfg.Session.DefaultIterations)
	assert.Equal(t, time.Duration(0), cfg.ApprovalTimeout(), "attended sessions wait forever by default")
	assert.Equal(t, 10*time.Minute, cfg.ExecutorTimeout())
	assert.Equal(t, 2*time.Minute, cfg.GeneratorTimeout())
	assert.Zero(t, cfg.Executor.MaxRetries, "fatal on first failure by default")
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autostrike.yaml")
	require.NoError(t, WriteDefault(path))

	cfg, err := Load(path)
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, def.Listen, cfg.Listen)
	assert.Equal(t, def.DBPath, cfg.DBPath)
	assert.Equal(t, def.ReportDir, cfg.ReportDir)
	assert.Equal(t, def.Log, cfg.Log)
	assert.Equal(t, def.Generator, cfg.Generator)
	assert.Equal(t, def.Executor, cfg.Executor)
	assert.Equal(t, def.Session, cfg.Session)
	assert.Empty(t, cfg.Scope.AllowedDomains)
	assert.Empty(t, cfg.Scope.AllowedCIDRs)
}

func TestLoadExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autostrike.yaml")
	content := `
listen: "0.0.0.0:9000"
db_path: "scans.db"
report_dir: "out"
log:
  level: debug
scope:
  allowed_cidrs: ["10.0.0.0/8"]
generator:
  base_url: "http://model:8000/v1"
  model: "custom"
  timeout: "90s"
executor:
  shell: "/bin/bash"
  timeout: "5m"
  max_retries: 2
  retry_interval: "3s"
session:
  default_iterations: 7
  approval_timeout: "10m"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, []string{"10.0.0.0/8"}, cfg.Scope.AllowedCIDRs)
	assert.Equal(t, 7, cfg.Session.DefaultIterations)
	assert.Equal(t, 10*time.Minute, cfg.ApprovalTimeout())
	assert.Equal(t, 3*time.Second, cfg.RetryInterval())
	assert.Equal(t, uint64(2), cfg.Executor.MaxRetries)
	assert.Equal(t, 90*time.Second, cfg.GeneratorTimeout())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Listen = ""
	cfg.DBPath = ""
	cfg.Session.DefaultIterations = 0
	cfg.Session.ApprovalTimeout = "banana"
	cfg.Executor.Timeout = "-5s"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen cannot be empty")
	assert.Contains(t, err.Error(), "db_path cannot be empty")
	assert.Contains(t, err.Error(), "default_iterations must be positive")
	assert.Contains(t, err.Error(), `invalid duration "banana"`)
	assert.Contains(t, err.Error(), "must not be negative")
}

func TestAPIKeyFromEnvironment(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Generator.APIKeyEnv = "AUTOSTRIKE_TEST_KEY"

	t.Setenv("AUTOSTRIKE_TEST_KEY", "sk-test")
	assert.Equal(t, "sk-test", cfg.APIKey())

	cfg.Generator.APIKeyEnv = ""
	assert.Empty(t, cfg.APIKey())
}

func TestParseDurationZeroForms(t *testing.T) {
	for _, s := range []string{"", "0"} {
		d, err := parseDuration(s)
		require.NoError(t, err)
		assert.Zero(t, d)
	}
}
