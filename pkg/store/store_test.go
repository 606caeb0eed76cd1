package store

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glorpus-work/gvm/pkg/errors"
	"github.com/glorpus-work/gvm/pkg/platform"
)

func testPlatform() platform.Descriptor {
	desc, _ := platform.ForTarget(runtime.GOOS, runtime.GOARCH)
	if desc.OS == "" {
		desc = platform.Descriptor{OS: "linux", Arch: "amd64", ArchiveKind: "tar.gz"}
	}
	return desc
}

func newTestStore(t *testing.T) *Manager {
	t.Helper()
	mgr, err := NewManager(t.TempDir(), testPlatform())
	require.NoError(t, err)
	return mgr
}

// fakeInstall plants a minimal installed tree for a version.
func fakeInstall(t *testing.T, m *Manager, version string) {
	t.Helper()
	binDir := filepath.Join(m.VersionDir(version), "bin")
	require.NoError(t, os.MkdirAll(binDir, 0o755))
	exe := filepath.Join(binDir, m.platform.GoExecutable())
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755))
}

// stageTree builds an extracted go/ root inside a staging dir.
func stageTree(t *testing.T, m *Manager, version string) string {
	t.Helper()
	staging, err := m.NewStagingDir(version)
	require.NoError(t, err)
	root := filepath.Join(staging, "go")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bin"), 0o755))
	exe := filepath.Join(root, "bin", m.platform.GoExecutable())
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755))
	return root
}

func TestNewManagerCreatesLayout(t *testing.T) {
	mgr := newTestStore(t)
	assert.DirExists(t, mgr.VersionsDir())
	assert.DirExists(t, mgr.CacheDir())
}

func TestNewManagerRejectsRelativeRoot(t *testing.T) {
	_, err := NewManager("relative/root", testPlatform())
	assert.ErrorIs(t, err, errors.ErrInvalidPath)
}

func TestCommitPublishesVersion(t *testing.T) {
	mgr := newTestStore(t)
	root := stageTree(t, mgr, "1.21.3")

	require.NoError(t, mgr.Commit(root, "1.21.3", false))

	assert.True(t, mgr.IsInstalled("1.21.3"))
	installed, err := mgr.ListInstalled()
	require.NoError(t, err)
	assert.Equal(t, []string{"1.21.3"}, installed)
}

func TestCommitRefusesExistingWithoutForce(t *testing.T) {
	mgr := newTestStore(t)
	fakeInstall(t, mgr, "1.21.3")

	root := stageTree(t, mgr, "1.21.3")
	err := mgr.Commit(root, "1.21.3", false)
	assert.ErrorIs(t, err, errors.ErrAlreadyInstalled)

	// The original tree is untouched.
	assert.True(t, mgr.IsInstalled("1.21.3"))
}

func TestCommitForceReplaces(t *testing.T) {
	mgr := newTestStore(t)
	fakeInstall(t, mgr, "1.21.3")
	marker := filepath.Join(mgr.VersionDir("1.21.3"), "old-marker")
	require.NoError(t, os.WriteFile(marker, []byte("old"), 0o644))

	root := stageTree(t, mgr, "1.21.3")
	require.NoError(t, mgr.Commit(root, "1.21.3", true))
	mgr.ReapTransients()

	assert.True(t, mgr.IsInstalled("1.21.3"))
	assert.NoFileExists(t, marker)

	// No trash or staging residue survives the reap.
	entries, err := os.ReadDir(mgr.VersionsDir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, "1.21.3", e.Name())
	}
}

func TestListInstalledSkipsTransientsAndDamaged(t *testing.T) {
	mgr := newTestStore(t)
	fakeInstall(t, mgr, "1.21.3")
	fakeInstall(t, mgr, "1.20.5")

	// Damaged tree without the sentinel.
	require.NoError(t, os.MkdirAll(filepath.Join(mgr.VersionDir("1.19.0"), "bin"), 0o755))
	// Transient residue.
	require.NoError(t, os.MkdirAll(filepath.Join(mgr.VersionsDir(), ".staging-1.22.0-x"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(mgr.VersionsDir(), ".trash-abc"), 0o755))

	installed, err := mgr.ListInstalled()
	require.NoError(t, err)
	assert.Equal(t, []string{"1.21.3", "1.20.5"}, installed)
}

func TestActivateAndStatus(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("junction creation requires a Windows shell")
	}
	mgr := newTestStore(t)
	fakeInstall(t, mgr, "1.20.5")
	fakeInstall(t, mgr, "1.21.3")

	require.NoError(t, mgr.Activate("1.20.5"))

	active, ok, err := mgr.ActiveVersion()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1.20.5", active)

	// Switching retargets atomically; the sentinel stays reachable.
	require.NoError(t, mgr.Activate("1.21.3"))
	_, err = os.Stat(filepath.Join(mgr.CurrentLink(), "bin", mgr.platform.GoExecutable()))
	require.NoError(t, err)

	st, err := mgr.Status()
	require.NoError(t, err)
	assert.True(t, st.HasActive)
	assert.Equal(t, "1.21.3", st.Active)
	assert.True(t, st.ActiveValid)
	assert.Equal(t, []string{"1.21.3", "1.20.5"}, st.Installed)
}

func TestActivateNotInstalled(t *testing.T) {
	mgr := newTestStore(t)
	err := mgr.Activate("1.21.3")
	assert.ErrorIs(t, err, errors.ErrVersionNotInstalled)
}

func TestUninstallGuardsActiveVersion(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("junction creation requires a Windows shell")
	}
	mgr := newTestStore(t)
	fakeInstall(t, mgr, "1.21.3")
	require.NoError(t, mgr.Activate("1.21.3"))

	err := mgr.Uninstall("1.21.3", false)
	assert.ErrorIs(t, err, errors.ErrActiveVersion)

	// Both the link and the tree are unchanged.
	assert.True(t, mgr.IsInstalled("1.21.3"))
	active, ok, err := mgr.ActiveVersion()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1.21.3", active)
}

func TestUninstallActiveAllowed(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("junction creation requires a Windows shell")
	}
	mgr := newTestStore(t)
	fakeInstall(t, mgr, "1.21.3")
	require.NoError(t, mgr.Activate("1.21.3"))

	require.NoError(t, mgr.Uninstall("1.21.3", true))

	assert.False(t, mgr.IsInstalled("1.21.3"))
	_, ok, err := mgr.ActiveVersion()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUninstallInactive(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("junction creation requires a Windows shell")
	}
	mgr := newTestStore(t)
	fakeInstall(t, mgr, "1.20.5")
	fakeInstall(t, mgr, "1.21.3")
	require.NoError(t, mgr.Activate("1.21.3"))

	require.NoError(t, mgr.Uninstall("1.20.5", false))

	assert.False(t, mgr.IsInstalled("1.20.5"))
	active, ok, err := mgr.ActiveVersion()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1.21.3", active)
}

func TestUninstallNotInstalled(t *testing.T) {
	mgr := newTestStore(t)
	err := mgr.Uninstall("1.21.3", false)
	assert.ErrorIs(t, err, errors.ErrVersionNotInstalled)
}

func TestLockSerialisesMutations(t *testing.T) {
	mgr := newTestStore(t)

	release, err := mgr.Lock(context.Background())
	require.NoError(t, err)

	// A second manager on the same root must wait; with a short deadline it
	// reports the contention instead.
	other, err := NewManager(mgr.Root(), testPlatform())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err = other.Lock(ctx)
	require.Error(t, err)

	release()

	// After release the lock is immediately available again.
	release2, err := other.Lock(context.Background())
	require.NoError(t, err)
	release2()
}

func TestCleanCache(t *testing.T) {
	mgr := newTestStore(t)
	archive := mgr.CachePath("go1.21.3.linux-amd64.tar.gz")
	require.NoError(t, os.WriteFile(archive, []byte("data"), 0o644))
	require.NoError(t, os.WriteFile(archive+".part", []byte("partial"), 0o644))
	require.NoError(t, os.WriteFile(archive+".part.map", []byte("{}"), 0o644))

	// Default clean removes only transient state.
	require.NoError(t, mgr.CleanCache(false))
	assert.FileExists(t, archive)
	assert.NoFileExists(t, archive+".part")
	assert.NoFileExists(t, archive+".part.map")

	// Full clean removes everything.
	require.NoError(t, mgr.CleanCache(true))
	assert.NoFileExists(t, archive)
}

func TestStatusReportsDanglingActive(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("junction creation requires a Windows shell")
	}
	mgr := newTestStore(t)
	fakeInstall(t, mgr, "1.21.3")
	require.NoError(t, mgr.Activate("1.21.3"))

	// Remove the tree behind the link's back.
	require.NoError(t, os.RemoveAll(mgr.VersionDir("1.21.3")))

	st, err := mgr.Status()
	require.NoError(t, err)
	assert.True(t, st.HasActive)
	assert.Equal(t, "1.21.3", st.Active)
	assert.False(t, st.ActiveValid)
	assert.Empty(t, st.Installed)
}
