// Package store owns the on-disk version root: the per-version directories,
// the download cache, the active link and the advisory root lock. All
// mutating operations on a root are serialised by that lock; the read-only
// queries never take it.
package store

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/glorpus-work/gvm/pkg/errors"
	"github.com/glorpus-work/gvm/pkg/fsutil"
	"github.com/glorpus-work/gvm/pkg/model"
	"github.com/glorpus-work/gvm/pkg/platform"
)

// Well-known names inside the version root.
const (
	VersionsDirName = "versions"
	CacheDirName    = "cache"
	CurrentLinkName = "current"
	LockFileName    = ".lock"

	stagingPrefix = ".staging-"
	trashPrefix   = ".trash-"
)

// Manager provides the version-store operations over one root directory.
// Mutating methods do not take the root lock themselves; they require the
// caller to hold it via Lock.
type Manager struct {
	root     string
	platform platform.Descriptor
}

// NewManager creates a store for the given root. The root and its standard
// subdirectories are created on first use.
func NewManager(root string, desc platform.Descriptor) (*Manager, error) {
	if root == "" || !filepath.IsAbs(root) {
		return nil, errors.Wrapf(errors.ErrInvalidPath, "version root must be absolute: %q", root)
	}
	m := &Manager{root: root, platform: desc}
	for _, dir := range []string{root, m.VersionsDir(), m.CacheDir()} {
		if err := fsutil.EnsureDir(dir); err != nil {
			return nil, errors.Wrapf(err, "could not create %s", dir)
		}
	}
	return m, nil
}

// Root returns the version root path.
func (m *Manager) Root() string { return m.root }

// VersionsDir returns the directory holding one subdirectory per installed
// version.
func (m *Manager) VersionsDir() string { return filepath.Join(m.root, VersionsDirName) }

// CacheDir returns the archive cache directory.
func (m *Manager) CacheDir() string { return filepath.Join(m.root, CacheDirName) }

// CurrentLink returns the path of the active link.
func (m *Manager) CurrentLink() string { return filepath.Join(m.root, CurrentLinkName) }

// VersionDir returns the directory a version installs into.
func (m *Manager) VersionDir(version string) string {
	return filepath.Join(m.VersionsDir(), version)
}

// CachePath returns the cache location of an archive by filename.
func (m *Manager) CachePath(filename string) string {
	return filepath.Join(m.CacheDir(), filename)
}

// IsInstalled reports whether a version directory exists with the bin/go
// sentinel in place. A directory without the sentinel is a damaged or
// foreign tree, not an installed version.
func (m *Manager) IsInstalled(version string) bool {
	sentinel := filepath.Join(m.VersionDir(version), "bin", m.platform.GoExecutable())
	info, err := os.Stat(sentinel)
	return err == nil && info.Mode().IsRegular()
}

// ListInstalled enumerates installed versions, newest first. Transient
// entries (.staging-*, .trash-*) and trees without the sentinel are skipped.
func (m *Manager) ListInstalled() ([]string, error) {
	entries, err := os.ReadDir(m.VersionsDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading versions directory")
	}

	var versions []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if m.IsInstalled(entry.Name()) {
			versions = append(versions, entry.Name())
		}
	}
	model.SortDesc(versions)
	return versions, nil
}

// ActiveVersion resolves the active link to a version name. The second
// return is false when no version is active. A link pointing at a
// since-removed directory still reports its version; Status surfaces the
// dangling state.
func (m *Manager) ActiveVersion() (string, bool, error) {
	target, err := readActiveLink(m.CurrentLink())
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, errors.Wrap(err, "reading active link")
	}

	rel, err := filepath.Rel(m.VersionsDir(), target)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false, errors.Wrapf(errors.ErrInvalidPath,
			"active link points outside the versions directory: %s", target)
	}
	// One level of dereference is sufficient: versions/<V>[/...].
	parts := strings.SplitN(filepath.ToSlash(rel), "/", 2)
	return parts[0], true, nil
}

// Status describes the store for the status operation.
type Status struct {
	RootPath    string
	Active      string
	HasActive   bool
	ActiveValid bool // the active target still carries the bin/go sentinel
	Installed   []string
}

// Status reports the root path, the installed set and the resolved active
// version. Read-only; takes no lock.
func (m *Manager) Status() (Status, error) {
	installed, err := m.ListInstalled()
	if err != nil {
		return Status{}, err
	}
	st := Status{RootPath: m.root, Installed: installed}

	active, ok, err := m.ActiveVersion()
	if err != nil {
		return Status{}, err
	}
	if ok {
		st.Active = active
		st.HasActive = true
		st.ActiveValid = m.IsInstalled(active)
	}
	return st, nil
}

// NewStagingDir creates a fresh staging directory for an install under the
// versions directory, so the commit rename stays on one filesystem.
// Caller must hold the root lock.
func (m *Manager) NewStagingDir(version string) (string, error) {
	dir, err := os.MkdirTemp(m.VersionsDir(), stagingPrefix+version+"-")
	if err != nil {
		return "", errors.Wrap(err, "could not create staging directory")
	}
	return dir, nil
}

// Commit publishes an extracted tree as a version: the rename of
// extractedRoot onto versions/<version> is the linearisation point. With
// force set, an existing version directory is moved aside first and
// reaped after the commit. Caller must hold the root lock.
func (m *Manager) Commit(extractedRoot, version string, force bool) error {
	target := m.VersionDir(version)

	if _, err := os.Stat(target); err == nil {
		if !force {
			return errors.Wrapf(errors.ErrAlreadyInstalled, "go%s", version)
		}
		trash := m.newTrashPath()
		if err := os.Rename(target, trash); err != nil {
			return errors.Wrapf(err, "could not move aside %s", target)
		}
	}

	if err := os.Rename(extractedRoot, target); err != nil {
		return errors.Wrapf(err, "could not commit %s", target)
	}
	return nil
}

func (m *Manager) newTrashPath() string {
	return filepath.Join(m.VersionsDir(), fmt.Sprintf("%s%08x", trashPrefix, rand.Uint32()))
}

// ReapTransients deletes leftover staging and trash directories under the
// versions directory. Partial downloads and chunk maps in the cache are left
// in place; CleanCache removes those. Safe to run at any time under the root
// lock; interrupted operations leave only reapable residue.
func (m *Manager) ReapTransients() {
	entries, err := os.ReadDir(m.VersionsDir())
	if err == nil {
		for _, entry := range entries {
			name := entry.Name()
			if strings.HasPrefix(name, stagingPrefix) || strings.HasPrefix(name, trashPrefix) {
				_ = os.RemoveAll(filepath.Join(m.VersionsDir(), name))
			}
		}
	}
}

// Activate atomically redirects the active link to a version. Readers
// observing current/bin/go see either the old target or the new one, never
// a partial state. Caller must hold the root lock.
func (m *Manager) Activate(version string) error {
	if !m.IsInstalled(version) {
		return errors.Wrapf(errors.ErrVersionNotInstalled, "go%s", version)
	}
	if err := switchActiveLink(m.CurrentLink(), m.VersionDir(version)); err != nil {
		return errors.Wrapf(err, "could not activate go%s", version)
	}
	return nil
}

// Uninstall removes a version. Removing the active version requires
// allowActive; the default refusal protects the running toolchain. Caller
// must hold the root lock.
func (m *Manager) Uninstall(version string, allowActive bool) error {
	if !m.IsInstalled(version) {
		return errors.Wrapf(errors.ErrVersionNotInstalled, "go%s", version)
	}

	active, hasActive, err := m.ActiveVersion()
	if err != nil {
		return err
	}
	if hasActive && active == version {
		if !allowActive {
			return errors.Wrapf(errors.ErrActiveVersion, "go%s", version)
		}
		if err := removeActiveLink(m.CurrentLink()); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "removing active link")
		}
	}

	// Rename first so listers observe the removal atomically.
	trash := m.newTrashPath()
	if err := os.Rename(m.VersionDir(version), trash); err != nil {
		return errors.Wrapf(err, "could not remove go%s", version)
	}
	if err := os.RemoveAll(trash); err != nil {
		return errors.Wrapf(err, "could not delete %s", trash)
	}
	return nil
}

// CleanCache removes cached archives. With all unset only transient partial
// state (.part, .part.map) is removed; with all set every cache entry goes.
// Caller must hold the root lock.
func (m *Manager) CleanCache(all bool) error {
	entries, err := os.ReadDir(m.CacheDir())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "reading cache directory")
	}
	for _, entry := range entries {
		name := entry.Name()
		transient := strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".part.map") ||
			strings.HasSuffix(name, ".tmp")
		if all || transient {
			if err := os.RemoveAll(filepath.Join(m.CacheDir(), name)); err != nil {
				return errors.Wrapf(err, "could not remove cache entry %s", name)
			}
		}
	}
	return nil
}
