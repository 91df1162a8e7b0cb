package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
klaviyo:
  rate_tier: large
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "large", cfg.Klaviyo.RateTier)
	assert.Equal(t, 30, cfg.Klaviyo.TimeoutSeconds)
	assert.Equal(t, 30, cfg.Audit.WindowDays)
	assert.Equal(t, 6, cfg.Audit.GrowthMonths)
	assert.Equal(t, "./data", cfg.Storage.DataDir)
}

func TestAPIKeyNeverFromYAML(t *testing.T) {
	path := writeConfig(t, `
klaviyo:
  apikey: pk_from_yaml
  api_key: pk_from_yaml
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Klaviyo.APIKey)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
`)
	t.Setenv("KLAVIYO_API_KEY", "pk_test_123")
	t.Setenv("KLAVIYO_RATE_TIER", "xl")
	t.Setenv("SERVER_PORT", "7070")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)

	assert.Equal(t, "pk_test_123", cfg.Klaviyo.APIKey)
	assert.Equal(t, "xl", cfg.Klaviyo.RateTier)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadFromEnvMissingFile(t *testing.T) {
	t.Setenv("KLAVIYO_API_KEY", "pk_test_123")

	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	assert.Error(t, cfg.Validate())

	cfg.Klaviyo.APIKey = "pk_test"
	assert.NoError(t, cfg.Validate())

	cfg.Klaviyo.RateTier = "enterprise"
	assert.Error(t, cfg.Validate())
}
