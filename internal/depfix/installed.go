package depfix

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/adamancini/modrunner/internal/proc"
)

// InstalledSet is the in-memory inventory of installed packages. It is
// snapshotted once and only grows afterwards.
type InstalledSet struct {
	names map[string]struct{}
}

// NewInstalledSet creates a set holding names.
func NewInstalledSet(names ...string) *InstalledSet {
	s := &InstalledSet{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		s.Add(n)
	}
	return s
}

// Add records a package as installed.
func (s *InstalledSet) Add(name string) {
	if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
		s.names[name] = struct{}{}
	}
}

// Has reports whether pkg is installed, treating hyphens and underscores
// as equivalent.
func (s *InstalledSet) Has(pkg string) bool {
	lower := strings.ToLower(pkg)
	for _, candidate := range []string{
		lower,
		strings.ReplaceAll(lower, "-", "_"),
		strings.ReplaceAll(lower, "_", "-"),
	} {
		if _, ok := s.names[candidate]; ok {
			return true
		}
	}
	return false
}

// Len returns the number of known packages.
func (s *InstalledSet) Len() int {
	return len(s.names)
}

// pipEntry is one element of `pip list --format=json`.
type pipEntry struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Snapshot lists the packages installed for interpreter.
func Snapshot(ctx context.Context, runner proc.Runner, interpreter string) (*InstalledSet, error) {
	out, err := runner.Run(ctx, proc.Command{
		Name: interpreter,
		Args: []string{"-m", "pip", "list", "--format=json", "--disable-pip-version-check"},
		// pip prints notices on stderr
		Stderr: io.Discard,
	})
	if err != nil {
		return NewInstalledSet(), fmt.Errorf("failed to list installed packages: %w", err)
	}

	var entries []pipEntry
	if err := json.Unmarshal(out, &entries); err != nil {
		return NewInstalledSet(), fmt.Errorf("failed to parse pip list output: %w", err)
	}

	set := NewInstalledSet()
	for _, e := range entries {
		set.Add(e.Name)
	}
	return set, nil
}
