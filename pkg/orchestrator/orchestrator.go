// Package orchestrator ties the index, download, archive and store
// components together into the install, switch, uninstall and clean flows.
package orchestrator

import (
	"context"
	stderrors "errors"
	"os"

	"github.com/glorpus-work/gvm/pkg/download"
	"github.com/glorpus-work/gvm/pkg/errors"
	"github.com/glorpus-work/gvm/pkg/platform"
)

// Orchestrator executes the user-facing operations. All collaborators are
// injected; see types.go for the interfaces.
type Orchestrator struct {
	Index     Resolver
	DL        Fetcher
	Extractor Extractor
	Store     VersionStore
	Platform  platform.Descriptor
	Hooks     Hooks
}

// New assembles an orchestrator.
func New(index Resolver, dl Fetcher, extractor Extractor, store VersionStore, desc platform.Descriptor, hooks Hooks) *Orchestrator {
	return &Orchestrator{
		Index:     index,
		DL:        dl,
		Extractor: extractor,
		Store:     store,
		Platform:  desc,
		Hooks:     hooks,
	}
}

func (o *Orchestrator) emit(e Event) {
	if o.Hooks.OnEvent != nil {
		o.Hooks.OnEvent(e)
	}
}

// Install downloads, verifies, unpacks and commits a version. The root lock
// is held for the whole operation; the commit rename is the point where the
// new version becomes observable. An interrupted install leaves no
// installed version, only reapable residue and a resumable partial
// download.
func (o *Orchestrator) Install(ctx context.Context, version string, opts InstallOptions) error {
	unlock, err := o.Store.Lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if o.Store.IsInstalled(version) && !opts.Force {
		return errors.Wrapf(errors.ErrAlreadyInstalled, "go%s", version)
	}

	o.emit(Event{Phase: PhaseResolving, Version: version})
	fd, err := o.Index.Resolve(ctx, version)
	if err != nil {
		return err
	}

	archivePath, err := o.fetchArchive(ctx, version, fd.URL, fd.SHA256, fd.Filename)
	if err != nil {
		return err
	}

	o.emit(Event{Phase: PhaseExtracting, Version: version, Msg: fd.Filename})
	staging, err := o.Store.NewStagingDir(version)
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(staging) }()

	extractedRoot, err := o.Extractor.Extract(ctx, archivePath, o.Platform.ArchiveKind, staging)
	if err != nil {
		// An archive that fails the extractor's integrity checks is not kept
		// for reuse.
		if stderrors.Is(err, errors.ErrArchiveCorrupt) || stderrors.Is(err, errors.ErrPathTraversal) ||
			stderrors.Is(err, errors.ErrUnexpectedArchiveLayout) {
			_ = os.Remove(archivePath)
		}
		return err
	}

	o.emit(Event{Phase: PhaseInstalling, Version: version})
	if err := o.Store.Commit(extractedRoot, version, opts.Force); err != nil {
		return err
	}
	o.Store.ReapTransients()

	if opts.Activate {
		o.emit(Event{Phase: PhaseActivating, Version: version})
		if err := o.Store.Activate(version); err != nil {
			return err
		}
	}

	o.emit(Event{Phase: PhaseDone, Version: version})
	return nil
}

// fetchArchive returns a verified local archive path, reusing a cache entry
// when its checksum still matches and discarding it when it does not.
func (o *Orchestrator) fetchArchive(ctx context.Context, version, url, sha256, filename string) (string, error) {
	cachePath := o.Store.CachePath(filename)

	if _, err := os.Stat(cachePath); err == nil {
		o.emit(Event{Phase: PhaseVerifying, Version: version, Msg: filename})
		if err := download.VerifyFile(cachePath, sha256); err == nil {
			return cachePath, nil
		}
		// A stale cache entry is never silently used.
		if err := os.Remove(cachePath); err != nil {
			return "", errors.Wrapf(err, "could not discard stale cache entry %s", filename)
		}
	}

	o.emit(Event{Phase: PhaseDownloading, Version: version, Msg: url})
	if err := o.DL.Fetch(ctx, url, sha256, cachePath, o.Hooks.OnProgress); err != nil {
		return "", err
	}
	return cachePath, nil
}

// Switch retargets the active link to an installed version.
func (o *Orchestrator) Switch(ctx context.Context, version string) error {
	unlock, err := o.Store.Lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	o.emit(Event{Phase: PhaseActivating, Version: version})
	if err := o.Store.Activate(version); err != nil {
		return err
	}
	o.emit(Event{Phase: PhaseDone, Version: version})
	return nil
}

// Uninstall removes an installed version, refusing the active one unless
// explicitly allowed.
func (o *Orchestrator) Uninstall(ctx context.Context, version string, opts UninstallOptions) error {
	unlock, err := o.Store.Lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := o.Store.Uninstall(version, opts.AllowActive); err != nil {
		return err
	}
	o.emit(Event{Phase: PhaseDone, Version: version})
	return nil
}

// Clean removes cache entries (all of them with all set, otherwise only
// transient partial state) and reaps staging/trash residue.
func (o *Orchestrator) Clean(ctx context.Context, all bool) error {
	unlock, err := o.Store.Lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	o.emit(Event{Phase: PhaseCleaning})
	if err := o.Store.CleanCache(all); err != nil {
		return err
	}
	o.Store.ReapTransients()
	o.emit(Event{Phase: PhaseDone})
	return nil
}
