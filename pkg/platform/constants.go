package platform

const (
	// OSWindows represents the Windows operating system.
	OSWindows = "windows"
	// OSLinux represents the Linux operating system.
	OSLinux = "linux"
	// OSDarwin represents the macOS operating system.
	OSDarwin = "darwin"
	// OSFreeBSD represents the FreeBSD operating system.
	OSFreeBSD = "freebsd"

	// ArchAMD64 represents the AMD64 (x86_64) architecture.
	ArchAMD64 = "amd64"
	// Arch386 represents the 32-bit x86 architecture.
	Arch386 = "386"
	// ArchARM64 represents the ARM64 (AArch64) architecture.
	ArchARM64 = "arm64"
	// ArchARMv6l is the naming Go releases use for 32-bit ARM.
	ArchARMv6l = "armv6l"

	// ArchiveZip is the archive format Go ships for Windows.
	ArchiveZip = "zip"
	// ArchiveTarGz is the archive format Go ships for Unix-like systems.
	ArchiveTarGz = "tar.gz"

	// ExeSuffixWindows is appended to executable names on Windows.
	ExeSuffixWindows = ".exe"
)
