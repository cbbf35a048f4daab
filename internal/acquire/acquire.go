// Package acquire decides whether to use the local artifact, download it
// or update it, keeping a backup so a failed update never loses the copy
// that worked.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/adamancini/modrunner/internal/backup"
	"github.com/adamancini/modrunner/internal/platform"
	"github.com/adamancini/modrunner/internal/transport"
	"github.com/adamancini/modrunner/internal/version"
)

// ErrUnavailable is returned when no usable artifact could be obtained.
var ErrUnavailable = errors.New("artifact unavailable")

// Transport is the module server as seen by the orchestrator.
type Transport interface {
	CheckUpdate(ctx context.Context, baseName string, key platform.Key, current string) (*transport.UpdateInfo, error)
	RequestDownloadLink(ctx context.Context, baseName string, key platform.Key) (*transport.DownloadLink, error)
	Download(ctx context.Context, url, dest string) (string, error)
}

// VersionStore persists the installed version.
type VersionStore interface {
	CurrentVersion() string
	Save(info version.Info) bool
}

// Policy holds the update switches.
type Policy struct {
	AutoUpdate               bool
	BackupOldFiles           bool
	DeleteBackupAfterSuccess bool
}

// DefaultPolicy enables every switch.
func DefaultPolicy() Policy {
	return Policy{AutoUpdate: true, BackupOldFiles: true, DeleteBackupAfterSuccess: true}
}

// Result is the outcome of an acquisition.
type Result struct {
	Path       string  `json:"path,omitempty" yaml:"path,omitempty"`
	State      State   `json:"state" yaml:"state"`
	Downloaded bool    `json:"downloaded" yaml:"downloaded"` // First download, no prior copy
	Updated    bool    `json:"updated" yaml:"updated"`       // Replaced an older copy
	Version    string  `json:"version,omitempty" yaml:"version,omitempty"`
	Trace      []State `json:"trace" yaml:"trace"`
}

func (r *Result) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)", r.Path, strings.ToLower(r.State.String()))
	switch {
	case r.Downloaded:
		b.WriteString("\ndownloaded version " + displayVersion(r.Version))
	case r.Updated:
		b.WriteString("\nupdated to version " + displayVersion(r.Version))
	default:
		b.WriteString("\nlocal version " + displayVersion(r.Version))
	}
	return b.String()
}

func (r *Result) enter(s State) {
	r.State = s
	r.Trace = append(r.Trace, s)
}

// Orchestrator runs the acquisition state machine for one artifact
// directory. It owns the artifact file while Acquire runs; concurrent
// acquisitions of the same directory are not supported.
type Orchestrator struct {
	dir       string
	key       platform.Key
	transport Transport
	store     VersionStore
	policy    Policy
	logger    *zap.Logger
}

// New creates an orchestrator for artifacts stored in dir.
func New(dir string, key platform.Key, t Transport, store VersionStore, policy Policy, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		dir:       dir,
		key:       key,
		transport: t,
		store:     store,
		policy:    policy,
		logger:    logger,
	}
}

// ExpectedPath returns where the artifact for baseName lives.
func (o *Orchestrator) ExpectedPath(baseName string) string {
	return filepath.Join(o.dir, o.key.Filename(baseName))
}

// Acquire resolves a local path for baseName's artifact. Network failures
// degrade to the local copy when one exists. The error wraps
// ErrUnavailable when nothing usable could be obtained.
func (o *Orchestrator) Acquire(ctx context.Context, baseName string) (*Result, error) {
	path := o.ExpectedPath(baseName)
	res := &Result{}

	o.recover(path)

	if !fileExists(path) {
		res.enter(StateNoLocalFile)
		if !o.policy.AutoUpdate {
			return o.fail(res, fmt.Errorf("%s not found and automatic download is disabled", filepath.Base(path)))
		}
		return o.firstDownload(ctx, res, baseName, path)
	}

	res.enter(StateLocalPresent)
	if !o.policy.AutoUpdate {
		return o.resolve(res, path), nil
	}

	res.enter(StateCheckingUpdate)
	current := o.store.CurrentVersion()
	res.Version = current

	info, err := o.transport.CheckUpdate(ctx, baseName, o.key, current)
	if err != nil {
		o.logger.Warn("version check failed, using local copy", zap.Error(err))
		return o.resolve(res, path), nil
	}
	if !info.HasUpdate {
		o.logger.Debug("artifact is up to date", zap.String("version", current))
		return o.resolve(res, path), nil
	}

	o.logger.Info(fmt.Sprintf("update available: %s -> %s", displayVersion(current), displayVersion(info.LatestVersion)))
	if info.Description != "" {
		o.logger.Info("changes: " + info.Description)
	}

	return o.update(ctx, res, baseName, path, info.LatestVersion)
}

func (o *Orchestrator) firstDownload(ctx context.Context, res *Result, baseName, path string) (*Result, error) {
	o.logger.Info("artifact not found locally, downloading: " + filepath.Base(path))

	link, err := o.transport.RequestDownloadLink(ctx, baseName, o.key)
	if err != nil {
		return o.fail(res, err)
	}

	res.enter(StateDownloading)
	newPath, err := o.transport.Download(ctx, link.URL, path)
	if err != nil {
		return o.fail(res, err)
	}

	o.persist(res, link.Version)
	res.Downloaded = true
	return o.resolve(res, newPath), nil
}

// update replaces the local artifact. latest is the version the update
// check announced; it is recorded when the link carries no version.
func (o *Orchestrator) update(ctx context.Context, res *Result, baseName, path, latest string) (*Result, error) {
	link, err := o.transport.RequestDownloadLink(ctx, baseName, o.key)
	if err != nil {
		o.logger.Warn("update link unavailable, using local copy", zap.Error(err))
		return o.resolve(res, path), nil
	}

	var rec *backup.Record
	if o.policy.BackupOldFiles {
		res.enter(StateBackingUp)
		rec = backup.New(path)
		if err := rec.Create(); err != nil {
			o.logger.Warn("backup failed, keeping current version", zap.Error(err))
			return o.resolve(res, path), nil
		}
		o.logger.Debug("backup created", zap.String("path", rec.Path()))
	}

	res.enter(StateDownloading)
	newPath, err := o.transport.Download(ctx, link.URL, path)
	if err != nil {
		return o.rollback(ctx, res, rec, path, err)
	}

	installed := link.Version
	if installed.Version == "" {
		installed.Version = latest
	}
	o.persist(res, installed)

	res.enter(StateReplacing)
	if rec != nil && o.policy.DeleteBackupAfterSuccess {
		if err := rec.Discard(); err != nil {
			o.logger.Warn("failed to delete backup", zap.Error(err))
		}
	}

	o.logger.Info("update complete: " + displayVersion(res.Version))
	res.Updated = true
	return o.resolve(res, newPath), nil
}

// rollback puts the previous artifact back after a failed update download.
func (o *Orchestrator) rollback(ctx context.Context, res *Result, rec *backup.Record, path string, cause error) (*Result, error) {
	if rec != nil && rec.Active() {
		if err := rec.Restore(); err != nil {
			o.logger.Error("failed to restore backup", zap.Error(err))
			return o.fail(res, errors.Join(cause, err))
		}
		o.logger.Warn("update failed, previous version restored", zap.Error(cause))
	} else {
		o.logger.Warn("update failed", zap.Error(cause))
	}

	if ctx.Err() != nil {
		return o.fail(res, cause)
	}
	if !fileExists(path) {
		return o.fail(res, cause)
	}
	return o.resolve(res, path), nil
}

func (o *Orchestrator) persist(res *Result, info version.Info) {
	if info.IsZero() {
		return
	}
	if !o.store.Save(info) {
		o.logger.Warn("failed to save version record")
		return
	}
	res.Version = info.Version
}

// recover cleans up after an interrupted run.
func (o *Orchestrator) recover(path string) {
	switch action, err := backup.Recover(path, !o.policy.DeleteBackupAfterSuccess); {
	case err != nil:
		o.logger.Warn("failed to recover leftover backup", zap.Error(err))
	case action == backup.RecoverRestored:
		o.logger.Warn("restored artifact from a leftover backup")
	case action == backup.RecoverDiscarded:
		o.logger.Debug("removed stale backup")
	}

	if removed, err := backup.PruneTemp(path); err != nil {
		o.logger.Warn("failed to remove leftover staging file", zap.Error(err))
	} else if removed {
		o.logger.Debug("removed leftover staging file")
	}
}

func (o *Orchestrator) resolve(res *Result, path string) *Result {
	res.Path = path
	res.enter(StateResolved)
	return res
}

func (o *Orchestrator) fail(res *Result, err error) (*Result, error) {
	res.enter(StateFailed)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return res, err
	}
	return res, fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// ListArtifacts returns the files in dir with the artifact extension.
func ListArtifacts(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ext) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func displayVersion(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
