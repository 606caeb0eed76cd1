package archive

import (
	"context"
	"fmt"
	"os"

	"github.com/mholt/archives"
)

// Create builds a tar.gz or zip archive from the contents of sourceDir. The
// directory itself becomes the archive's top-level entry, matching the
// go/<tree> layout upstream archives use. Used by the fixture tooling and
// the test suite; installs never create archives.
func Create(ctx context.Context, sourceDir, archivePath, kind string) error {
	files, err := archives.FilesFromDisk(ctx, nil, map[string]string{
		sourceDir: GoRootDir,
	})
	if err != nil {
		return fmt.Errorf("failed to read files from disk: %w", err)
	}

	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create output file %s: %w", archivePath, err)
	}
	defer func() {
		_ = out.Sync()
		_ = out.Close()
	}()

	var format archives.Archiver
	switch kind {
	case "zip":
		format = archives.Zip{}
	default:
		format = archives.CompressedArchive{
			Compression: archives.Gz{},
			Archival:    archives.Tar{},
		}
	}

	if err := format.Archive(ctx, out, files); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	return nil
}
