package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glorpus-work/gvm/pkg/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.NotEmpty(t, cfg.Settings.RootDir)
	assert.Equal(t, DefaultConcurrency, cfg.Settings.Concurrency)
	assert.Equal(t, int64(DefaultMinChunkSize), cfg.Settings.MinChunkSize)
	assert.Equal(t, DefaultMaxRetries, cfg.Settings.MaxRetries)
	assert.Equal(t, DefaultLogLevel, cfg.Settings.LogLevel)
}

func TestDefaultRootDirHonoursEnv(t *testing.T) {
	t.Setenv(RootEnvVar, "/custom/root")
	assert.Equal(t, "/custom/root", DefaultRootDir())
}

func TestRootDirEnvOverridesFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Settings.RootDir = "/from/file"

	t.Setenv(RootEnvVar, "/from/env")
	assert.Equal(t, "/from/env", cfg.RootDir())
}

func TestLoadConfigMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConcurrency, cfg.Settings.Concurrency)
}

func TestLoadConfigSparseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `settings:
  root_dir: /srv/gvm
  download_concurrency: 8
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/gvm", cfg.Settings.RootDir)
	assert.Equal(t, 8, cfg.Settings.Concurrency)
	// Unset fields keep their defaults.
	assert.Equal(t, DefaultHTTPTimeout, cfg.Settings.HTTPTimeout)
	assert.Equal(t, DefaultMaxRetries, cfg.Settings.MaxRetries)
}

func TestLoadConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\n  - ["), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigRejectsInvalidConcurrency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `settings:
  download_concurrency: 1000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, errors.ErrConfigValidation)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.Settings.RootDir = "/srv/gvm"
	cfg.Settings.HTTPTimeout = 30 * time.Second

	require.NoError(t, cfg.Save(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/gvm", loaded.Settings.RootDir)
	assert.Equal(t, 30*time.Second, loaded.Settings.HTTPTimeout)
}
