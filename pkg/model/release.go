// Package model provides the value types shared between the index client,
// the downloader and the version store: release manifest entries, per-file
// descriptors and version string handling.
package model

import (
	"sort"
	"strings"

	version "github.com/hashicorp/go-version"

	"github.com/glorpus-work/gvm/pkg/errors"
	"github.com/glorpus-work/gvm/pkg/platform"
)

// File kinds published by the upstream manifest.
const (
	KindArchive   = "archive"
	KindSource    = "source"
	KindInstaller = "installer"
)

// Release represents one entry of the upstream download manifest.
type Release struct {
	Version string           `json:"version"` // manifest form, e.g. "go1.21.3"
	Stable  bool             `json:"stable"`
	Files   []FileDescriptor `json:"files"`
}

// FileDescriptor describes a single downloadable file of a release.
// The shape follows golang.org/x/website/internal/dl; unknown manifest fields
// are ignored on decode.
type FileDescriptor struct {
	Filename string `json:"filename"`
	OS       string `json:"os"`
	Arch     string `json:"arch"`
	Version  string `json:"version"`
	SHA256   string `json:"sha256"`
	Size     int64  `json:"size"`
	Kind     string `json:"kind"`
	URL      string `json:"-"` // derived from the download base + filename
}

// Semver returns the canonical (prefix-stripped) version of this release.
func (r *Release) Semver() string {
	return Canonical(r.Version)
}

// ArchiveFor returns the unique archive descriptor matching the platform, or
// false when the release publishes none for it.
func (r *Release) ArchiveFor(desc platform.Descriptor) (FileDescriptor, bool) {
	for _, f := range r.Files {
		if f.Kind == KindArchive && desc.Matches(f.OS, f.Arch) {
			return f, true
		}
	}
	return FileDescriptor{}, false
}

// Canonical strips the manifest's "go" prefix: "go1.21.3" → "1.21.3".
// Already-canonical input passes through unchanged.
func Canonical(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "go")
}

// ManifestName converts a canonical version to the manifest form:
// "1.21.3" → "go1.21.3".
func ManifestName(v string) string {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "go") {
		return v
	}
	return "go" + v
}

// Parse validates a user-supplied version identifier (with or without the
// "go" prefix) and returns its canonical form.
func Parse(v string) (string, error) {
	canonical := Canonical(v)
	if canonical == "" {
		return "", errors.Wrap(errors.ErrInvalidVersion, "empty version")
	}
	if _, err := version.NewVersion(prereleaseSafe(canonical)); err != nil {
		return "", errors.Wrapf(errors.ErrInvalidVersion, "%q", v)
	}
	return canonical, nil
}

// prereleaseSafe rewrites Go's bare pre-release suffixes (1.22rc1, 1.21beta2)
// into a form hashicorp/go-version accepts for validation.
func prereleaseSafe(v string) string {
	for _, tag := range []string{"rc", "beta", "alpha"} {
		if idx := strings.Index(v, tag); idx > 0 {
			return v[:idx] + "-" + tag + v[idx+len(tag):]
		}
	}
	return v
}

// Compare orders two canonical versions; it returns <0 when a is older than
// b, 0 when equal, >0 when newer. Unparseable versions sort lexically so the
// ordering stays total.
func Compare(a, b string) int {
	va, errA := version.NewVersion(prereleaseSafe(a))
	vb, errB := version.NewVersion(prereleaseSafe(b))
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	return va.Compare(vb)
}

// SortDesc sorts canonical versions in place, newest first.
func SortDesc(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		return Compare(versions[i], versions[j]) > 0
	})
}

// IsPrerelease reports whether a canonical version is an rc/beta/alpha cut.
func IsPrerelease(v string) bool {
	return strings.Contains(v, "rc") || strings.Contains(v, "beta") || strings.Contains(v, "alpha")
}
