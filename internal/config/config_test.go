package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8600", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)

	assert.True(t, cfg.Remote.Enabled)
	assert.Equal(t, 2, cfg.Remote.RetryMax)

	assert.Equal(t, ".sessionsync/cache", cfg.Cache.Dir)

	assert.Equal(t, time.Second, cfg.Engine.CreateDebounce)
	assert.Equal(t, 3*time.Second, cfg.Engine.RemoteTimeout)
	assert.Equal(t, 10*time.Second, cfg.Engine.FlushTimeout)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":            "9600",
		"HOST":            "0.0.0.0",
		"REMOTE_BASE_URL": "https://sync.example.com",
		"REMOTE_API_KEY":  "key-123",
		"CACHE_DIR":       "/tmp/sync-cache",
		"JWT_SECRET":      "s3cret",
		"CREATE_DEBOUNCE": "500ms",
		"LOG_LEVEL":       "debug",
		"LOG_DEV":         "true",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9600", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "https://sync.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, "key-123", cfg.Remote.APIKey)
	assert.Equal(t, "/tmp/sync-cache", cfg.Cache.Dir)
	assert.Equal(t, "s3cret", cfg.Identity.JWTSecret)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.CreateDebounce)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
}

func TestLoadFileOverlaysEnvironment(t *testing.T) {
	t.Setenv("PORT", "9600")
	t.Setenv("LOG_LEVEL", "warn")

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "server:\n  port: \"7000\"\nremote:\n  base_url: https://sync.example.com\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	// File wins where it speaks, env stands where it is silent.
	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, "https://sync.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadOrDefault(t *testing.T) {
	cfg := LoadOrDefault()
	assert.NotNil(t, cfg)
	assert.NotEmpty(t, cfg.Server.Port)
}
