//go:generate mockgen -destination=./mocks/orchestrator.go -package=mocks . Resolver,Fetcher,Extractor,VersionStore

package orchestrator

import (
	"context"
	"time"

	"github.com/glorpus-work/gvm/pkg/download"
	"github.com/glorpus-work/gvm/pkg/model"
)

// Resolver is the subset of the index manager used by the orchestrator.
type Resolver interface {
	ListAvailable(ctx context.Context, includeUnstable bool) ([]string, error)
	Resolve(ctx context.Context, version string) (model.FileDescriptor, error)
}

// Fetcher is the subset of the download manager used by the orchestrator.
type Fetcher interface {
	Fetch(ctx context.Context, url, expectedSHA256, outPath string, progress download.Progress) error
}

// Extractor unpacks an archive into a staging directory and returns the
// extracted root.
type Extractor interface {
	Extract(ctx context.Context, archivePath, kind, stagingDir string) (string, error)
}

// ExtractorFunc adapts a plain function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, archivePath, kind, stagingDir string) (string, error)

// Extract implements Extractor.
func (f ExtractorFunc) Extract(ctx context.Context, archivePath, kind, stagingDir string) (string, error) {
	return f(ctx, archivePath, kind, stagingDir)
}

// VersionStore is the subset of the version store used by the orchestrator.
// Mutating methods assume the caller holds the root lock obtained via Lock.
type VersionStore interface {
	Lock(ctx context.Context) (func(), error)
	IsInstalled(version string) bool
	CachePath(filename string) string
	NewStagingDir(version string) (string, error)
	Commit(extractedRoot, version string, force bool) error
	ReapTransients()
	Activate(version string) error
	Uninstall(version string, allowActive bool) error
	CleanCache(all bool) error
}

// Event phases emitted during operations.
const (
	PhaseResolving   = "resolving"
	PhaseDownloading = "downloading"
	PhaseVerifying   = "verifying"
	PhaseExtracting  = "extracting"
	PhaseInstalling  = "installing"
	PhaseActivating  = "activating"
	PhaseCleaning    = "cleaning"
	PhaseDone        = "done"
)

// Event represents a simple progress notification.
type Event struct {
	Phase   string
	Version string
	Msg     string
}

// Hooks carries the callbacks the CLI implements. The core holds no
// process-wide UI state; everything flows through these sinks.
type Hooks struct {
	OnEvent    func(Event)
	OnProgress func(done, total int64, elapsed time.Duration)
}

// InstallOptions control an install operation.
type InstallOptions struct {
	Force    bool
	Activate bool
}

// UninstallOptions control an uninstall operation.
type UninstallOptions struct {
	AllowActive bool
}
