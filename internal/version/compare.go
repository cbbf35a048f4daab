package version

import (
	"strings"

	"golang.org/x/mod/semver"
)

// Canonical returns the semver form of s ("0.9" -> "v0.9.0"),
// or "" if s is not a semantic version.
func Canonical(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if !strings.HasPrefix(s, "v") {
		s = "v" + s
	}
	return semver.Canonical(s)
}

// Normalize removes the 'v' prefix if present.
func Normalize(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "v")
}

// IsNewer reports whether latest is a newer version than current.
// Non-semantic identifiers fall back to inequality, and an unknown current
// version is always considered outdated.
func IsNewer(latest, current string) bool {
	if latest == "" {
		return false
	}
	if current == "" {
		return true
	}

	l, c := Canonical(latest), Canonical(current)
	if l == "" || c == "" {
		return Normalize(latest) != Normalize(current)
	}
	return semver.Compare(l, c) > 0
}
