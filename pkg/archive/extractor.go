// Package archive unpacks Go release archives (zip on Windows, gzip-TAR
// elsewhere) into a staging directory, guarding against path traversal and
// resolving the canonical go/ root. It also creates archives, used by the
// repository's fixture tooling.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/glorpus-work/gvm/pkg/errors"
	"github.com/glorpus-work/gvm/pkg/fsutil"
	"github.com/glorpus-work/gvm/pkg/platform"
)

// GoRootDir is the single top-level directory Go archives contain.
const GoRootDir = "go"

// Extract unpacks archivePath of the given kind into stagingDir and returns
// the extracted root (stagingDir/go). Extraction is not atomic; callers use
// a throwaway staging directory and commit only on success. Cancellation is
// honoured at entry boundaries.
func Extract(ctx context.Context, archivePath, kind, stagingDir string) (string, error) {
	if err := fsutil.EnsureDir(stagingDir); err != nil {
		return "", errors.Wrap(err, "could not create staging directory")
	}

	var err error
	switch kind {
	case platform.ArchiveZip:
		err = extractZip(ctx, archivePath, stagingDir)
	case platform.ArchiveTarGz:
		err = extractTarGz(ctx, archivePath, stagingDir)
	default:
		err = errors.Wrapf(errors.ErrArchiveCorrupt, "unsupported archive kind %q", kind)
	}
	if err != nil {
		return "", err
	}

	return resolveRoot(stagingDir)
}

// resolveRoot confirms the archive produced exactly the canonical go/ layout.
func resolveRoot(stagingDir string) (string, error) {
	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		return "", errors.Wrap(err, "reading staging directory")
	}
	if len(entries) != 1 || !entries[0].IsDir() || entries[0].Name() != GoRootDir {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		return "", errors.Wrapf(errors.ErrUnexpectedArchiveLayout,
			"want a single top-level %s/ directory, got %v", GoRootDir, names)
	}
	return filepath.Join(stagingDir, GoRootDir), nil
}

// securePath joins an archive entry name onto the staging directory and
// rejects anything that escapes it after cleaning.
func securePath(stagingDir, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." {
		return "", nil
	}
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		return "", errors.Wrapf(errors.ErrPathTraversal, "%s", name)
	}
	target := filepath.Join(stagingDir, clean)
	rel, err := filepath.Rel(stagingDir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", errors.Wrapf(errors.ErrPathTraversal, "%s", name)
	}
	return target, nil
}

// secureLinkTarget validates a symlink inside the archive: the target must be
// relative and must not resolve outside the staging directory.
func secureLinkTarget(stagingDir, entryPath, linkTarget string) error {
	if linkTarget == "" || filepath.IsAbs(filepath.FromSlash(linkTarget)) {
		return errors.Wrapf(errors.ErrPathTraversal, "symlink %s -> %s", entryPath, linkTarget)
	}
	resolved := filepath.Clean(filepath.Join(filepath.Dir(entryPath), filepath.FromSlash(linkTarget)))
	rel, err := filepath.Rel(stagingDir, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return errors.Wrapf(errors.ErrPathTraversal, "symlink %s -> %s", entryPath, linkTarget)
	}
	return nil
}

func extractTarGz(ctx context.Context, archivePath, stagingDir string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return errors.Wrapf(err, "opening %s", archivePath)
	}
	defer func() { _ = file.Close() }()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return errors.Wrapf(errors.ErrArchiveCorrupt, "gzip: %s", err)
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(errors.ErrArchiveCorrupt, "tar: %s", err)
		}
		if err := extractTarEntry(stagingDir, header, tr); err != nil {
			return err
		}
	}
}

func extractTarEntry(stagingDir string, header *tar.Header, tr *tar.Reader) error {
	target, err := securePath(stagingDir, header.Name)
	if err != nil {
		return err
	}
	if target == "" {
		return nil
	}

	switch header.Typeflag {
	case tar.TypeDir:
		return errors.Wrap(os.MkdirAll(target, safeFileMode(header.Mode, fsutil.DirModeDefault)), "creating directory")
	case tar.TypeReg:
		return writeFileFromTar(target, header, tr)
	case tar.TypeSymlink:
		if err := secureLinkTarget(stagingDir, target, header.Linkname); err != nil {
			return err
		}
		if err := fsutil.EnsureFileDir(target); err != nil {
			return errors.Wrap(err, "creating symlink parent")
		}
		_ = os.Remove(target)
		return errors.Wrapf(os.Symlink(header.Linkname, target), "symlink %s", header.Name)
	case tar.TypeXGlobalHeader:
		return nil
	default:
		return errors.Wrapf(errors.ErrArchiveCorrupt, "unsupported tar entry type %d for %s", header.Typeflag, header.Name)
	}
}

func writeFileFromTar(target string, header *tar.Header, tr *tar.Reader) error {
	if err := fsutil.EnsureFileDir(target); err != nil {
		return errors.Wrap(err, "creating parent directory")
	}
	// Honour archive modes: go and gofmt must come out executable.
	file, err := fsutil.CreateFilePerm(target, safeFileMode(header.Mode, fsutil.FileModeDefault))
	if err != nil {
		return errors.Wrapf(err, "creating %s", target)
	}
	defer func() { _ = file.Close() }()

	if _, err := io.Copy(file, tr); err != nil {
		return errors.Wrapf(errors.ErrArchiveCorrupt, "writing %s: %s", target, err)
	}
	// Re-assert the mode; the process umask may have masked the create.
	return errors.Wrapf(os.Chmod(target, safeFileMode(header.Mode, fsutil.FileModeDefault)), "chmod %s", target)
}

// safeFileMode converts a tar header mode to os.FileMode, falling back to a
// default when the recorded mode is out of bounds.
func safeFileMode(mode int64, fallback os.FileMode) os.FileMode {
	if mode > 0 && mode <= int64(fsutil.FileModeMask) {
		return os.FileMode(mode)
	}
	return fallback
}

func extractZip(ctx context.Context, archivePath, stagingDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return errors.Wrapf(errors.ErrArchiveCorrupt, "zip: %s", err)
	}
	defer func() { _ = reader.Close() }()

	for _, entry := range reader.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := extractZipEntry(stagingDir, entry); err != nil {
			return err
		}
	}
	return nil
}

func extractZipEntry(stagingDir string, entry *zip.File) error {
	target, err := securePath(stagingDir, entry.Name)
	if err != nil {
		return err
	}
	if target == "" {
		return nil
	}

	if entry.FileInfo().IsDir() {
		return errors.Wrap(os.MkdirAll(target, fsutil.DirModeDefault), "creating directory")
	}

	if err := fsutil.EnsureFileDir(target); err != nil {
		return errors.Wrap(err, "creating parent directory")
	}

	src, err := entry.Open()
	if err != nil {
		return errors.Wrapf(errors.ErrArchiveCorrupt, "opening zip entry %s: %s", entry.Name, err)
	}
	defer func() { _ = src.Close() }()

	// Zip entries carry no Unix modes worth trusting; default permissions.
	file, err := fsutil.CreateFilePerm(target, fsutil.FileModeDefault)
	if err != nil {
		return errors.Wrapf(err, "creating %s", target)
	}
	defer func() { _ = file.Close() }()

	if _, err := io.Copy(file, src); err != nil {
		return errors.Wrapf(errors.ErrArchiveCorrupt, "writing %s: %s", target, err)
	}
	return nil
}
