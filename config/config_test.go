package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yml"))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, DefaultArtnetRefreshMs, cfg.ArtnetRefreshMs)
	assert.Equal(t, "data", cfg.DataDir)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().LogLevel, cfg.LogLevel)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chaser.yml")
	require.NoError(t, os.WriteFile(path, []byte("logLevel: warn\ndataDir: /srv/chaser-data\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "/srv/chaser-data", cfg.DataDir)
	assert.Equal(t, DefaultArtnetRefreshMs, cfg.ArtnetRefreshMs)
}

func TestArtnetRefreshMsFloorsAt20(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chaser.yml")
	require.NoError(t, os.WriteFile(path, []byte("artnetRefreshMs: 5\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ArtnetRefreshFloorMs, cfg.ArtnetRefreshMs)
}

func TestDebugEnvOverridesLogLevel(t *testing.T) {
	t.Setenv("CHASER_DEBUG", "1")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestArtnetRefreshEnvOverridesFile(t *testing.T) {
	t.Setenv("CHASER_ARTNET_REFRESH_MS", "100")
	path := filepath.Join(t.TempDir(), "chaser.yml")
	require.NoError(t, os.WriteFile(path, []byte("artnetRefreshMs: 40\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.ArtnetRefreshMs)
}
