package backup

import (
	"fmt"
	"os"
)

// RecoverAction describes what Recover did with leftover files.
type RecoverAction string

const (
	RecoverNone      RecoverAction = "none"
	RecoverRestored  RecoverAction = "restored"
	RecoverDiscarded RecoverAction = "discarded"
	RecoverKept      RecoverAction = "kept"
)

// TempSuffix is the staging suffix used by downloads.
const TempSuffix = ".tmp"

// Recover resolves a backup left behind by an earlier run so that exactly
// one artifact is authoritative before a new acquisition starts. A backup
// without an original is restored. A backup next to an original never
// replaces it: it is retained when keep is set and deleted otherwise.
func Recover(path string, keep bool) (RecoverAction, error) {
	r := New(path)
	if !r.Exists() {
		return RecoverNone, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := r.Restore(); err != nil {
			return RecoverNone, err
		}
		return RecoverRestored, nil
	}

	if keep {
		return RecoverKept, nil
	}
	if err := r.Discard(); err != nil {
		return RecoverNone, err
	}
	return RecoverDiscarded, nil
}

// PruneTemp removes an orphaned download staging file for path.
// Returns true if a file was removed.
func PruneTemp(path string) (bool, error) {
	tmp := path + TempSuffix
	if _, err := os.Stat(tmp); os.IsNotExist(err) {
		return false, nil
	}
	if err := os.Remove(tmp); err != nil {
		return false, fmt.Errorf("failed to remove staging file: %w", err)
	}
	return true, nil
}
