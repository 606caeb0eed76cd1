//go:build !windows

package store

import (
	"os"
	"path/filepath"
)

// createActiveLink creates a relative-target symlink so the root can be
// relocated without rewriting the link.
func createActiveLink(target, link string) error {
	rel, err := filepath.Rel(filepath.Dir(link), target)
	if err != nil {
		rel = target
	}
	return os.Symlink(rel, link)
}

// removeActiveLink deletes the symlink itself, never its target.
func removeActiveLink(link string) error {
	return os.Remove(link)
}

// readActiveLink resolves one level of the link and returns an absolute
// target path.
func readActiveLink(link string) (string, error) {
	target, err := os.Readlink(link)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(link), target)
	}
	return filepath.Clean(target), nil
}

// switchActiveLink atomically replaces the active link: the new link is
// built next to it and renamed over it in one step.
func switchActiveLink(link, target string) error {
	tmp := link + ".new"
	_ = os.Remove(tmp)
	if err := createActiveLink(target, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, link); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
