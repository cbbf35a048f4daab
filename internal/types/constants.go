// Package types provides type-safe constants shared across modrunner.
//
// This package centralizes the enumerated types used throughout the codebase,
// replacing magic strings with typed constants that provide compile-time safety
// and validation methods.
//
// SYNC REQUIREMENT: These types must stay in sync with:
//   - internal/config/validate.go (runtime validation)
//   - the request bodies built in internal/transport
package types

import (
	"fmt"
	"strings"
)

// ArtifactKind identifies how a downloaded artifact is loaded.
type ArtifactKind string

const (
	// ArtifactNative is a compiled CPython extension module (.so).
	ArtifactNative ArtifactKind = "native"
	// ArtifactBytecode is a precompiled Python module (.pyc).
	ArtifactBytecode ArtifactKind = "bytecode"
)

// AllArtifactKinds returns all valid artifact kinds.
func AllArtifactKinds() []ArtifactKind {
	return []ArtifactKind{ArtifactNative, ArtifactBytecode}
}

// Validate checks if the ArtifactKind is a valid value.
func (k ArtifactKind) Validate() error {
	switch k {
	case ArtifactNative, ArtifactBytecode:
		return nil
	case "":
		return fmt.Errorf("artifact kind is required")
	default:
		return fmt.Errorf("invalid artifact kind '%s' (must be native or bytecode)", k)
	}
}

// String returns the string representation of the ArtifactKind.
func (k ArtifactKind) String() string {
	return string(k)
}

// IsNative returns true for compiled extension modules.
func (k ArtifactKind) IsNative() bool {
	return k == ArtifactNative
}

// IsBytecode returns true for precompiled bytecode modules.
func (k ArtifactKind) IsBytecode() bool {
	return k == ArtifactBytecode
}

// FileType returns the file_type value the module server expects.
func (k ArtifactKind) FileType() string {
	if k.IsBytecode() {
		return "pyc"
	}
	return "so"
}

// Extension returns the artifact file extension including the dot.
func (k ArtifactKind) Extension() string {
	return "." + k.FileType()
}

// ParseArtifactKind parses a string into an ArtifactKind.
// Returns an error if the string is not a valid artifact kind.
func ParseArtifactKind(s string) (ArtifactKind, error) {
	k := ArtifactKind(strings.ToLower(s))
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k, nil
}

// OSType is the coarse operating system family reported to the server.
type OSType string

const (
	// OSLinux covers every POSIX host; artifacts are built for linux-gnu.
	OSLinux OSType = "linux"
	// OSWindows is the only host family that receives bytecode artifacts.
	OSWindows OSType = "windows"
)

// String returns the string representation of the OSType.
func (o OSType) String() string {
	return string(o)
}

// IsWindows returns true if the OS family is Windows.
func (o OSType) IsWindows() bool {
	return o == OSWindows
}

// ArtifactKind returns the artifact kind served for this OS family.
func (o OSType) ArtifactKind() ArtifactKind {
	if o.IsWindows() {
		return ArtifactBytecode
	}
	return ArtifactNative
}

// Process exit codes reported by the launcher.
const (
	ExitOK          = 0
	ExitNotFound    = 1
	ExitLoadFailed  = 2
	ExitInterrupted = 130
)

// ExitStatus maps an entry point's integer result to a process exit
// status. Values outside 0..255 become 1.
func ExitStatus(code int) int {
	if code < 0 || code > 255 {
		return 1
	}
	return code
}
