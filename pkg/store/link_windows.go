//go:build windows

package store

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// createActiveLink creates a directory junction. Junctions are reparse
// points that need no elevated privileges, unlike NTFS symbolic links.
func createActiveLink(target, link string) error {
	absLink, err := filepath.Abs(link)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for link: %w", err)
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for target: %w", err)
	}
	absLink = strings.ReplaceAll(filepath.Clean(absLink), "/", `\`)
	absTarget = strings.ReplaceAll(filepath.Clean(absTarget), "/", `\`)

	cmd := exec.Command("cmd", "/c", "mklink", "/J", absLink, absTarget)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to create junction %s -> %s: %w (output: %s)",
			absLink, absTarget, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// removeActiveLink removes the junction without touching its target.
func removeActiveLink(link string) error {
	if _, err := os.Lstat(link); err != nil {
		return err
	}
	// rmdir deletes the reparse point only, never the target contents.
	if err := exec.Command("cmd", "/c", "rmdir", link).Run(); err != nil {
		return fmt.Errorf("failed to remove junction %s: %w", link, err)
	}
	return nil
}

// readActiveLink resolves the junction target.
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

// switchActiveLink replaces the active junction. A junction cannot be
// renamed over an existing one, so the old link is removed first; the
// remove+create pair stays within the root lock's critical section.
func switchActiveLink(link, target string) error {
	if _, err := os.Lstat(link); err == nil {
		if err := removeActiveLink(link); err != nil {
			return err
		}
	}
	return createActiveLink(target, link)
}
