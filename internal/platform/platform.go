// Package platform derives the key that names the artifact variant for a host.
package platform

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/adamancini/modrunner/internal/types"
)

// Key identifies the artifact variant a host needs.
// It is computed once at startup and never mutated.
type Key struct {
	OS             types.OSType // Coarse OS family (linux, windows)
	GOOS           string       // Raw runtime.GOOS
	Arch           string       // Normalized architecture (x86_64, aarch64, ...)
	InterpreterTag string       // Interpreter ABI tag, e.g. "311"
}

// archAliases maps runtime and uname spellings onto the names used in
// CPython extension filenames.
var archAliases = map[string]string{
	"amd64":   "x86_64",
	"x86_64":  "x86_64",
	"x64":     "x86_64",
	"arm64":   "aarch64",
	"aarch64": "aarch64",
}

// Detect returns the key for the current host and interpreter tag.
func Detect(interpreterTag string) Key {
	return DetectFor(runtime.GOOS, runtime.GOARCH, interpreterTag)
}

// DetectFor builds a key from explicit host values.
// Unknown architectures pass through unchanged; it never fails.
func DetectFor(goos, goarch, interpreterTag string) Key {
	osType := types.OSLinux
	if strings.EqualFold(goos, "windows") {
		osType = types.OSWindows
	}
	return Key{
		OS:             osType,
		GOOS:           goos,
		Arch:           NormalizeArch(goarch),
		InterpreterTag: interpreterTag,
	}
}

// NormalizeArch maps an architecture name onto its canonical spelling.
func NormalizeArch(arch string) string {
	lower := strings.ToLower(arch)
	if canonical, ok := archAliases[lower]; ok {
		return canonical
	}
	return lower
}

// Kind returns the artifact kind served to this host.
func (k Key) Kind() types.ArtifactKind {
	return k.OS.ArtifactKind()
}

// Filename returns the expected artifact filename for a module base name.
// e.g., "Kuaishou.cpython-311-x86_64-linux-gnu.so" or "Kuaishou.pyc"
func (k Key) Filename(base string) string {
	if k.Kind().IsBytecode() {
		return base + k.Kind().Extension()
	}
	return fmt.Sprintf("%s.cpython-%s-%s-linux-gnu.so", base, k.InterpreterTag, k.Arch)
}

// Description returns a short human-readable platform string sent to the
// module server alongside the structured fields.
func (k Key) Description() string {
	return fmt.Sprintf("%s-%s-cpython%s", k.GOOS, k.Arch, k.InterpreterTag)
}

// IsKnownArch reports whether the architecture is one artifacts are
// published for. Unknown architectures are still requested as-is.
func (k Key) IsKnownArch() bool {
	for _, canonical := range archAliases {
		if k.Arch == canonical {
			return true
		}
	}
	return false
}

// OSType returns the OS family reported to the module server.
func (k Key) OSType() string {
	return k.OS.String()
}

// FileType returns the file_type value the module server expects.
func (k Key) FileType() string {
	return k.Kind().FileType()
}

// Extension returns the artifact extension including the dot.
func (k Key) Extension() string {
	return k.Kind().Extension()
}
