// Package backup handles the rename-based backup of the live artifact while
// an update is in flight.
package backup

import (
	"errors"
	"fmt"
	"os"
)

// Suffix is appended to the artifact path to form the backup path.
const Suffix = ".backup"

// ErrNoBackup is returned when a restore is requested without a backup.
var ErrNoBackup = errors.New("backup not found")

// Record pairs a live artifact with its backup location.
// At most one backup exists per artifact; after Restore or Discard exactly
// one of the two paths is authoritative.
type Record struct {
	original string
	backup   string
	active   bool
}

// New creates a backup record for the artifact at path.
func New(path string) *Record {
	return &Record{
		original: path,
		backup:   path + Suffix,
	}
}

// Path returns the backup path.
func (r *Record) Path() string {
	return r.backup
}

// Active reports whether this record currently holds a backup it created.
func (r *Record) Active() bool {
	return r.active
}

// Create moves the live artifact to the backup path. A stale backup from an
// earlier run is replaced.
func (r *Record) Create() error {
	if _, err := os.Stat(r.original); err != nil {
		return fmt.Errorf("failed to stat artifact: %w", err)
	}

	if err := os.Remove(r.backup); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale backup: %w", err)
	}

	if err := os.Rename(r.original, r.backup); err != nil {
		return fmt.Errorf("failed to move artifact to backup: %w", err)
	}

	r.active = true
	return nil
}

// Restore moves the backup back over the original path, discarding any
// partial replacement that may sit there.
func (r *Record) Restore() error {
	if _, err := os.Stat(r.backup); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNoBackup, r.backup)
	}

	if err := os.Rename(r.backup, r.original); err != nil {
		return fmt.Errorf("failed to restore from backup: %w", err)
	}

	r.active = false
	return nil
}

// Discard deletes the backup after a successful replacement.
func (r *Record) Discard() error {
	if err := os.Remove(r.backup); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete backup: %w", err)
	}
	r.active = false
	return nil
}

// Exists reports whether a backup file is present on disk.
func (r *Record) Exists() bool {
	_, err := os.Stat(r.backup)
	return err == nil
}
