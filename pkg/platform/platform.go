// Package platform detects the running platform and maps it onto the naming
// convention the upstream Go download manifest uses.
package platform

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/glorpus-work/gvm/pkg/errors"
)

// Descriptor describes the running platform in the vocabulary of the Go
// release manifest. It is computed once at startup and never changes for the
// lifetime of a process.
type Descriptor struct {
	OS          string `yaml:"os" json:"os"`
	Arch        string `yaml:"arch" json:"arch"`
	ArchiveKind string `yaml:"archive_kind" json:"archive_kind"`
	ExeSuffix   string `yaml:"exe_suffix" json:"exe_suffix"`
}

// released is the (os, arch) matrix Go publishes archives for.
var released = map[string][]string{
	OSLinux:   {ArchAMD64, ArchARM64, Arch386, ArchARMv6l},
	OSDarwin:  {ArchAMD64, ArchARM64},
	OSWindows: {ArchAMD64, ArchARM64, Arch386},
	OSFreeBSD: {ArchAMD64, Arch386},
}

// Current probes the running process identity and returns its Descriptor.
// It fails with errors.ErrUnsupportedPlatform when Go publishes no archive
// for the OS/arch pair.
func Current() (Descriptor, error) {
	return ForTarget(runtime.GOOS, runtime.GOARCH)
}

// ForTarget builds the Descriptor for an explicit OS/arch pair. Exposed so
// tests and cross-platform tooling can probe targets other than the host.
func ForTarget(goos, goarch string) (Descriptor, error) {
	os := NormalizeOS(goos)
	arch := NormalizeArch(os, goarch)

	archs, ok := released[os]
	if !ok {
		return Descriptor{}, errors.Wrapf(errors.ErrUnsupportedPlatform, "no Go releases for OS %s", goos)
	}
	found := false
	for _, a := range archs {
		if a == arch {
			found = true
			break
		}
	}
	if !found {
		return Descriptor{}, errors.Wrapf(errors.ErrUnsupportedPlatform, "no Go releases for %s/%s", goos, goarch)
	}

	desc := Descriptor{
		OS:          os,
		Arch:        arch,
		ArchiveKind: ArchiveTarGz,
	}
	if os == OSWindows {
		desc.ArchiveKind = ArchiveZip
		desc.ExeSuffix = ExeSuffixWindows
	}
	return desc, nil
}

// NormalizeOS normalizes OS names to the manifest's vocabulary.
func NormalizeOS(os string) string {
	os = strings.ToLower(os)
	switch os {
	case "macos", "osx":
		return OSDarwin
	case "win":
		return OSWindows
	default:
		return os
	}
}

// NormalizeArch normalizes architecture names to the manifest's vocabulary.
// Go tags 32-bit ARM archives armv6l rather than arm.
func NormalizeArch(os, arch string) string {
	arch = strings.ToLower(arch)
	switch arch {
	case "x86_64", "x64":
		return ArchAMD64
	case "x86", "i386", "i686":
		return Arch386
	case "aarch64":
		return ArchARM64
	case "arm":
		return ArchARMv6l
	default:
		return arch
	}
}

// String returns a string representation of the platform.
func (d Descriptor) String() string {
	return fmt.Sprintf("%s-%s", d.OS, d.Arch)
}

// ArchiveFilename derives the upstream archive filename for a version, e.g.
// go1.21.3.linux-amd64.tar.gz. The manifest descriptor remains authoritative;
// this is used for cache naming and display.
func (d Descriptor) ArchiveFilename(version string) string {
	return fmt.Sprintf("go%s.%s-%s.%s", version, d.OS, d.Arch, d.ArchiveKind)
}

// GoExecutable returns the name of the go binary on this platform.
func (d Descriptor) GoExecutable() string {
	return "go" + d.ExeSuffix
}

// Matches reports whether a manifest file entry tagged (os, arch) targets
// this platform.
func (d Descriptor) Matches(os, arch string) bool {
	return d.OS == NormalizeOS(os) && d.Arch == NormalizeArch(d.OS, arch)
}
