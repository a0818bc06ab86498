package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, DefaultBaseURL, cfg.API.BaseURL)
	assert.Equal(t, 120*time.Second, cfg.API.Timeout)
	assert.Equal(t, "file", cfg.Storage.Type)
	assert.NotEmpty(t, cfg.Storage.File.Path)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "en", cfg.I18n.DefaultLanguage)
	assert.Equal(t, 5*time.Second, cfg.UI.AmbientPollInterval)
	assert.Equal(t, "file", cfg.Logging.Output)
}

func TestLoadConfigMissingFileIsIgnored(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, cfg.API.BaseURL)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  base_url: https://assistant.example.org/api/
  max_retries: 0
storage:
  type: memory
rate_limit:
  enabled: false
ui:
  wrap_width: 100
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://assistant.example.org/api", cfg.API.BaseURL, "trailing slash is trimmed")
	assert.Equal(t, 0, cfg.API.MaxRetries)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 100, cfg.UI.WrapWidth)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("API_BASE_URL", "http://10.0.0.5:9000")
	t.Setenv("STORAGE_TYPE", "redis")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "http://10.0.0.5:9000", cfg.API.BaseURL)
	assert.Equal(t, "redis", cfg.Storage.Type)
	assert.Equal(t, "cache:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidation(t *testing.T) {
	t.Run("storage type", func(t *testing.T) {
		t.Setenv("STORAGE_TYPE", "etcd")
		_, err := LoadConfig("")
		assert.ErrorContains(t, err, "unsupported storage type")
	})

	t.Run("base url", func(t *testing.T) {
		t.Setenv("API_BASE_URL", "not a url")
		_, err := LoadConfig("")
		assert.ErrorContains(t, err, "invalid api base url")
	})

	t.Run("unreadable file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("api: [unclosed"), 0644))
		_, err := LoadConfig(path)
		assert.ErrorContains(t, err, "failed to read config file")
	})
}
