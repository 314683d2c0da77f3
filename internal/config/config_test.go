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

	require.NotNil(t, cfg)
	assert.Empty(t, cfg.Listen)
	assert.False(t, cfg.Verbose)
	assert.Equal(t, 100*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 60*time.Second, cfg.DefaultTimeout)
	assert.Equal(t, 3*time.Second, cfg.LivenessInterval)
}

func TestLoad(t *testing.T) {
	t.Run("returns defaults when no config file exists", func(t *testing.T) {
		tmpDir := t.TempDir()
		origDir, _ := os.Getwd()
		os.Chdir(tmpDir)
		defer os.Chdir(origDir)
		t.Setenv("HOME", tmpDir)

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 100*time.Millisecond, cfg.PollInterval)
	})

	t.Run("loads config from the working directory", func(t *testing.T) {
		tmpDir := t.TempDir()
		origDir, _ := os.Getwd()
		os.Chdir(tmpDir)
		defer os.Chdir(origDir)
		t.Setenv("HOME", tmpDir)

		content := "listen: \"127.0.0.1:4711\"\nverbose: true\npoll_interval: 50ms\n"
		require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".revdbg.yaml"), []byte(content), 0o644))

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:4711", cfg.Listen)
		assert.True(t, cfg.Verbose)
		assert.Equal(t, 50*time.Millisecond, cfg.PollInterval)
		// Unspecified keys keep their defaults.
		assert.Equal(t, 60*time.Second, cfg.DefaultTimeout)
	})

	t.Run("environment overrides", func(t *testing.T) {
		tmpDir := t.TempDir()
		origDir, _ := os.Getwd()
		os.Chdir(tmpDir)
		defer os.Chdir(origDir)
		t.Setenv("HOME", tmpDir)
		t.Setenv("REVDBG_LISTEN", "127.0.0.1:9999")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:9999", cfg.Listen)
	})
}
