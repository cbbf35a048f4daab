package backup

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeArtifact(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0755); err != nil {
		t.Fatalf("Failed to write artifact: %v", err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestNew(t *testing.T) {
	r := New("/opt/mod/Kuaishou.so")

	if r.Path() != "/opt/mod/Kuaishou.so.backup" {
		t.Errorf("Path() = %s, want /opt/mod/Kuaishou.so.backup", r.Path())
	}

	if r.Active() {
		t.Error("new record should not be active")
	}
}

func TestCreate(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "mod.so")
	writeArtifact(t, artifact, "v1")

	r := New(artifact)
	if err := r.Create(); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if exists(artifact) {
		t.Error("original should be moved away")
	}

	content, err := os.ReadFile(r.Path())
	if err != nil {
		t.Fatalf("Failed to read backup: %v", err)
	}
	if string(content) != "v1" {
		t.Errorf("backup content = %s, want v1", content)
	}

	if !r.Active() {
		t.Error("record should be active after Create()")
	}
}

func TestCreate_ReplacesStaleBackup(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "mod.so")
	writeArtifact(t, artifact, "v2")
	writeArtifact(t, artifact+Suffix, "stale")

	r := New(artifact)
	if err := r.Create(); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	content, _ := os.ReadFile(r.Path())
	if string(content) != "v2" {
		t.Errorf("backup content = %s, want v2", content)
	}
}

func TestCreate_FileNotFound(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "missing.so"))
	if err := r.Create(); err == nil {
		t.Error("Expected error for non-existent artifact")
	}
	if r.Active() {
		t.Error("record should not be active after failed Create()")
	}
}

func TestRestore(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "mod.so")
	writeArtifact(t, artifact, "v1")

	r := New(artifact)
	if err := r.Create(); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// A partial replacement is overwritten by the restore.
	writeArtifact(t, artifact, "partial")

	if err := r.Restore(); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	content, _ := os.ReadFile(artifact)
	if string(content) != "v1" {
		t.Errorf("restored content = %s, want v1", content)
	}

	if exists(r.Path()) {
		t.Error("backup should be consumed by Restore()")
	}
}

func TestRestore_NoBackup(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "mod.so"))

	err := r.Restore()
	if !errors.Is(err, ErrNoBackup) {
		t.Errorf("Restore() error = %v, want ErrNoBackup", err)
	}
}

func TestDiscard(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "mod.so")
	writeArtifact(t, artifact, "v1")

	r := New(artifact)
	_ = r.Create()
	writeArtifact(t, artifact, "v2")

	if err := r.Discard(); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}

	if r.Exists() {
		t.Error("backup should be deleted")
	}
	if !exists(artifact) {
		t.Error("original should be untouched")
	}

	// Discarding twice is harmless.
	if err := r.Discard(); err != nil {
		t.Errorf("second Discard() error = %v", err)
	}
}

func TestRecover(t *testing.T) {
	tests := []struct {
		name         string
		original     bool
		backup       bool
		keep         bool
		want         RecoverAction
		wantOriginal string
		wantBackup   bool
	}{
		{"nothing to do", true, false, false, RecoverNone, "live", false},
		{"orphaned backup restored", false, true, false, RecoverRestored, "backup", false},
		{"orphaned backup restored when keeping", false, true, true, RecoverRestored, "backup", false},
		{"stale backup discarded", true, true, false, RecoverDiscarded, "live", false},
		{"retained backup kept", true, true, true, RecoverKept, "live", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			artifact := filepath.Join(t.TempDir(), "mod.so")
			if tt.original {
				writeArtifact(t, artifact, "live")
			}
			if tt.backup {
				writeArtifact(t, artifact+Suffix, "backup")
			}

			got, err := Recover(artifact, tt.keep)
			if err != nil {
				t.Fatalf("Recover() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Recover() = %v, want %v", got, tt.want)
			}

			content, _ := os.ReadFile(artifact)
			if string(content) != tt.wantOriginal {
				t.Errorf("artifact content = %q, want %q", content, tt.wantOriginal)
			}
			if exists(artifact+Suffix) != tt.wantBackup {
				t.Errorf("backup exists = %v, want %v", exists(artifact+Suffix), tt.wantBackup)
			}
		})
	}
}

func TestPruneTemp(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "mod.so")

	removed, err := PruneTemp(artifact)
	if err != nil || removed {
		t.Errorf("PruneTemp() = %v, %v; want false, nil", removed, err)
	}

	writeArtifact(t, artifact+TempSuffix, "half")

	removed, err = PruneTemp(artifact)
	if err != nil || !removed {
		t.Errorf("PruneTemp() = %v, %v; want true, nil", removed, err)
	}
	if exists(artifact + TempSuffix) {
		t.Error("staging file should be removed")
	}
}
