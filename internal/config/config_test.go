package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	t.Setenv("STASH_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.True(t, cfg.IsDev())
	assert.False(t, cfg.IsProd())
	assert.Equal(t, "default", cfg.Namespace)
	assert.Equal(t, time.Minute, cfg.Maintenance.FlushInterval)
	assert.Equal(t, 10, cfg.Maintenance.AppendRetries)
	assert.Equal(t, 5*time.Second, cfg.Maintenance.AppendRetryDelay)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestLoadOverrides(t *testing.T) {
	viper.Reset()
	dir := t.TempDir()
	t.Setenv("STASH_ENV", "prod")
	t.Setenv("STASH_DIR", dir)
	t.Setenv("STASH_NAMESPACE", "sessions")
	t.Setenv("STASH_FLUSH_INTERVAL", "30s")
	t.Setenv("STASH_APPEND_RETRIES", "3")
	t.Setenv("STASH_APPEND_RETRY_DELAY", "100ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProd())
	assert.Equal(t, "sessions", cfg.Namespace)
	assert.Equal(t, 30*time.Second, cfg.Maintenance.FlushInterval)
	assert.Equal(t, 3, cfg.Maintenance.AppendRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Maintenance.AppendRetryDelay)
	assert.Equal(t, filepath.Join(dir, "sessions", "stash.log"), cfg.LogPath())
}

func TestLoadRejectsInvalidEnv(t *testing.T) {
	viper.Reset()
	t.Setenv("STASH_ENV", "staging")
	t.Setenv("STASH_DIR", t.TempDir())

	_, err := Load()
	assert.Error(t, err)
}
