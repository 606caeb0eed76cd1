// Package cli implements the gvm subcommands. Each command wires the
// configuration into the core managers and runs one orchestrator operation.
package cli

import (
	"fmt"

	"github.com/glorpus-work/gvm/pkg/archive"
	"github.com/glorpus-work/gvm/pkg/config"
	"github.com/glorpus-work/gvm/pkg/download"
	"github.com/glorpus-work/gvm/pkg/index"
	"github.com/glorpus-work/gvm/pkg/orchestrator"
	"github.com/glorpus-work/gvm/pkg/platform"
	"github.com/glorpus-work/gvm/pkg/store"
)

// These variables will be set by the main package.
var (
	ConfigPath *string
	Verbose    *bool
	NoColor    *bool
)

func loadConfig() (*config.Config, error) {
	path := ""
	if ConfigPath != nil {
		path = *ConfigPath
	}
	if path == "" {
		defaultPath, err := config.DefaultConfigPath()
		if err == nil {
			path = defaultPath
		}
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// components bundles the managers a command needs.
type components struct {
	cfg      *config.Config
	platform platform.Descriptor
	store    *store.Manager
	index    *index.Manager
	dl       *download.Manager
}

func loadComponents() (*components, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	desc, err := platform.Current()
	if err != nil {
		return nil, err
	}

	st, err := store.NewManager(cfg.RootDir(), desc)
	if err != nil {
		return nil, fmt.Errorf("failed to open version root: %w", err)
	}

	idx := index.NewManagerWithBaseURL(desc, cfg.Settings.HTTPTimeout, cfg.Settings.DownloadBaseURL)

	dl := download.NewManager(download.Config{
		Concurrency:    cfg.Settings.Concurrency,
		MinChunkSize:   cfg.Settings.MinChunkSize,
		MaxRetries:     cfg.Settings.MaxRetries,
		ConnectTimeout: cfg.Settings.ConnectTimeout,
	})

	return &components{cfg: cfg, platform: desc, store: st, index: idx, dl: dl}, nil
}

func (c *components) newOrchestrator() *orchestrator.Orchestrator {
	reporter := newReporter(noColor())
	return orchestrator.New(
		c.index,
		c.dl,
		orchestrator.ExtractorFunc(archive.Extract),
		c.store,
		c.platform,
		orchestrator.Hooks{
			OnEvent:    reporter.onEvent,
			OnProgress: reporter.onProgress,
		},
	)
}

func noColor() bool {
	return NoColor != nil && *NoColor
}

func verbose() bool {
	return Verbose != nil && *Verbose
}
