package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"codeberg.org/mutker/nvtuner/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tempDir := t.TempDir()

	configContent := []byte(`
interval = 2
mode = "performance"
time_budget = 15
max_temperature = 80
history_size = 600
telemetry = true
telemetry_db = "/path/to/telemetry.db"
profile_db = "/path/to/profiles.db"
log_level = "debug"
`)
	configPath := filepath.Join(tempDir, "nvtuner.toml")
	err := os.WriteFile(configPath, configContent, 0o600)
	require.NoError(t, err)

	t.Setenv("NVTUNER_CONFIG", configPath)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Interval, "Expected Interval 2")
	assert.Equal(t, "performance", cfg.Mode, "Expected Mode performance")
	assert.Equal(t, 15, cfg.TimeBudget, "Expected TimeBudget 15")
	assert.Equal(t, 80, cfg.MaxTemperature, "Expected MaxTemperature 80")
	assert.Equal(t, 600, cfg.HistorySize, "Expected HistorySize 600")
	assert.True(t, cfg.Telemetry, "Expected Telemetry true")
	assert.Equal(t, "/path/to/telemetry.db", cfg.TelemetryDB)
	assert.Equal(t, "/path/to/profiles.db", cfg.ProfileDB)
	assert.Equal(t, "debug", cfg.LogLevel, "Expected LogLevel debug")
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("NVTUNER_CONFIG", filepath.Join(t.TempDir(), "does-not-exist.toml"))

	cfg, err := config.Load()
	require.NoError(t, err, "Failed to load config")

	assert.Equal(t, 1, cfg.Interval, "Expected default Interval 1")
	assert.Equal(t, "balanced", cfg.Mode, "Expected default Mode balanced")
	assert.Equal(t, 10, cfg.TimeBudget, "Expected default TimeBudget 10")
	assert.Equal(t, 83, cfg.MaxTemperature, "Expected default MaxTemperature 83")
	assert.Equal(t, 300, cfg.HistorySize, "Expected default HistorySize 300")
	assert.False(t, cfg.Telemetry, "Expected default Telemetry false")
	assert.False(t, cfg.DryRun, "Expected default DryRun false")
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel, "Expected default LogLevel info")
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	tempDir := t.TempDir()

	configContent := []byte(`
This is not a valid TOML file
`)
	configPath := filepath.Join(tempDir, "nvtuner.toml")
	err := os.WriteFile(configPath, configContent, 0o600)
	require.NoError(t, err)

	t.Setenv("NVTUNER_CONFIG", configPath)

	_, err = config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to read config file")
}

func TestInvalidLogLevel(t *testing.T) {
	tempDir := t.TempDir()

	configContent := []byte(`
log_level = "invalid"
`)
	configPath := filepath.Join(tempDir, "nvtuner.toml")
	err := os.WriteFile(configPath, configContent, 0o600)
	require.NoError(t, err)

	t.Setenv("NVTUNER_CONFIG", configPath)

	_, err = config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_log_level")
}

func TestInvalidMode(t *testing.T) {
	tempDir := t.TempDir()

	configContent := []byte(`
mode = "ludicrous"
`)
	configPath := filepath.Join(tempDir, "nvtuner.toml")
	err := os.WriteFile(configPath, configContent, 0o600)
	require.NoError(t, err)

	t.Setenv("NVTUNER_CONFIG", configPath)

	_, err = config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid mode")
}
