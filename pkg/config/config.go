// Package config provides configuration management for gvm. It handles
// loading and validating application settings from a YAML file, with
// sensible defaults and a GVM_ROOT environment override for the version
// root directory.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/glorpus-work/gvm/pkg/errors"
	"github.com/glorpus-work/gvm/pkg/fsutil"
)

// RootEnvVar selects the version root; absence falls back to the platform
// default.
const RootEnvVar = "GVM_ROOT"

// Config represents the application configuration.
type Config struct {
	Settings Settings `yaml:"settings"`
}

// Settings represents general application settings.
type Settings struct {
	// RootDir is the version root; everything gvm persists lives under it.
	RootDir string `yaml:"root_dir,omitempty"`

	// DownloadBaseURL overrides the upstream download base (mirrors).
	DownloadBaseURL string `yaml:"download_base_url,omitempty"`

	// Network settings.
	HTTPTimeout    time.Duration `yaml:"http_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// Download tuning.
	Concurrency  int   `yaml:"download_concurrency"`
	MinChunkSize int64 `yaml:"min_chunk_size"`
	MaxRetries   int   `yaml:"max_retries"`

	// Output settings.
	LogLevel string `yaml:"log_level"` // panic, fatal, error, warn, info, debug, trace
}

// Default configuration values.
const (
	DefaultHTTPTimeout    = 60 * time.Second
	DefaultConnectTimeout = 15 * time.Second
	DefaultConcurrency    = 4
	DefaultMinChunkSize   = 8 << 20
	DefaultMaxRetries     = 3
	DefaultLogLevel       = "info"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Settings: Settings{
			RootDir:        DefaultRootDir(),
			HTTPTimeout:    DefaultHTTPTimeout,
			ConnectTimeout: DefaultConnectTimeout,
			Concurrency:    DefaultConcurrency,
			MinChunkSize:   DefaultMinChunkSize,
			MaxRetries:     DefaultMaxRetries,
			LogLevel:       DefaultLogLevel,
		},
	}
}

// DefaultRootDir resolves the version root: GVM_ROOT when set, otherwise
// $HOME/.gvm on Unix-like systems and %LOCALAPPDATA%\gvm on Windows.
func DefaultRootDir() string {
	if root := os.Getenv(RootEnvVar); root != "" {
		return root
	}
	if runtime.GOOS == "windows" {
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, "gvm")
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gvm"
	}
	return filepath.Join(home, ".gvm")
}

// DefaultConfigPath returns the per-user config file location.
func DefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "could not determine user config dir")
	}
	return filepath.Join(configDir, "gvm", "config.yaml"), nil
}

// LoadConfig loads a configuration file, layering it over the defaults. A
// missing file yields the defaults; a malformed one is an error.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not read config file %s", path)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.Wrapf(err, "could not parse config file %s", path)
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyDefaults fills zero values left by a sparse config file.
func (c *Config) applyDefaults() {
	def := DefaultConfig().Settings
	s := &c.Settings
	if s.RootDir == "" {
		s.RootDir = def.RootDir
	}
	if s.HTTPTimeout <= 0 {
		s.HTTPTimeout = def.HTTPTimeout
	}
	if s.ConnectTimeout <= 0 {
		s.ConnectTimeout = def.ConnectTimeout
	}
	if s.Concurrency <= 0 {
		s.Concurrency = def.Concurrency
	}
	if s.MinChunkSize <= 0 {
		s.MinChunkSize = def.MinChunkSize
	}
	if s.MaxRetries < 0 {
		s.MaxRetries = def.MaxRetries
	}
	if s.LogLevel == "" {
		s.LogLevel = def.LogLevel
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Settings.Concurrency > 64 {
		return errors.Wrapf(errors.ErrConfigValidation, "download_concurrency %d is out of range", c.Settings.Concurrency)
	}
	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := fsutil.EnsureFileDir(path); err != nil {
		return errors.Wrap(err, "could not create config directory")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "could not encode config")
	}
	return os.WriteFile(path, data, fsutil.FileModeDefault)
}

// RootDir returns the effective version root. The environment override wins
// over the config file so a shell-scoped root behaves predictably.
func (c *Config) RootDir() string {
	if root := os.Getenv(RootEnvVar); root != "" {
		return root
	}
	return c.Settings.RootDir
}
