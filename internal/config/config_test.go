package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, DefaultProxy, cfg.Tools.Proxy)
	assert.Empty(t, cfg.Tools.Pager)
}

func TestLoadFromMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadFromOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "logging:\n  level: debug\ntools:\n  pager: bat\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "bat", cfg.Tools.Pager)
	// unspecified fields keep defaults
	assert.Equal(t, DefaultProxy, cfg.Tools.Proxy)
}

func TestLoadFromRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging: [unclosed"), 0o644))

	_, err := LoadFrom(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.Logging.Level = "info"
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestPathHonorsEnv(t *testing.T) {
	t.Setenv("MKRK_CONFIG", "/tmp/custom.yaml")
	p, err := Path()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.yaml", p)
}
