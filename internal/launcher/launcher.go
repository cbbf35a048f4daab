// Package launcher is the composition root: it acquires the artifact,
// loads it into the host interpreter and runs its entry point, mapping
// every outcome to a process exit code.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"

	"github.com/adamancini/modrunner/internal/acquire"
	"github.com/adamancini/modrunner/internal/config"
	"github.com/adamancini/modrunner/internal/depfix"
	"github.com/adamancini/modrunner/internal/loader"
	"github.com/adamancini/modrunner/internal/platform"
	"github.com/adamancini/modrunner/internal/proc"
	"github.com/adamancini/modrunner/internal/report"
	"github.com/adamancini/modrunner/internal/transport"
	"github.com/adamancini/modrunner/internal/types"
	"github.com/adamancini/modrunner/internal/version"
)

// Options configures a Launcher. Config and WorkDir are required; the
// rest default to the real host.
type Options struct {
	Config  *config.Config
	WorkDir string
	Stdout  io.Writer // Entry point output
	Stderr  io.Writer // Diagnostics, progress and entry point errors
	Runner  proc.Runner
	Logger  *zap.Logger

	// Transport replaces the HTTP client.
	Transport acquire.Transport
	// Interpreter skips probing the host interpreter.
	Interpreter *loader.InterpreterInfo
	// Progress shows download progress on Stderr.
	Progress bool
}

// Launcher owns the wired pipeline for one work directory.
type Launcher struct {
	cfg      *config.Config
	workDir  string
	stderr   io.Writer
	runner   proc.Runner
	logger   *zap.Logger
	interp   *loader.InterpreterInfo
	probeErr error
	key      platform.Key

	transport acquire.Transport
	store     *version.Store
	resolver  *depfix.Resolver
	loader    *loader.Loader
	orch      *acquire.Orchestrator
}

// New wires the pipeline. A failed interpreter probe is not fatal here:
// the environment report stays available and the operations that need
// the interpreter return the probe error.
func New(ctx context.Context, opts Options) (*Launcher, error) {
	if opts.Config == nil {
		return nil, errors.New("launcher: config is required")
	}
	if opts.WorkDir == "" {
		return nil, errors.New("launcher: work dir is required")
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Runner == nil {
		opts.Runner = &proc.DefaultRunner{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	cfg := opts.Config

	l := &Launcher{
		cfg:     cfg,
		workDir: opts.WorkDir,
		stderr:  opts.Stderr,
		runner:  opts.Runner,
		logger:  opts.Logger,
		interp:  opts.Interpreter,
	}

	if l.interp == nil {
		l.interp = l.probe(ctx)
	}

	key := platform.Detect(l.interp.Tag)
	if cfg.Module.ArtifactKind != "" {
		kind, err := types.ParseArtifactKind(cfg.Module.ArtifactKind)
		if err != nil {
			return nil, err
		}
		key = withKind(key, kind)
	}
	l.key = key

	l.transport = opts.Transport
	if l.transport == nil {
		client := transport.New(transport.Options{
			BaseURL:             cfg.Server.BaseURL,
			DownloadEndpoint:    cfg.Server.DownloadEndpoint,
			CheckUpdateEndpoint: cfg.Server.CheckUpdateEndpoint,
			Timeout:             cfg.Server.TimeoutDuration(),
			RetryTimes:          cfg.Server.RetryTimes,
			RetryDelay:          cfg.Server.RetryDelayDuration(),
			ChunkSize:           cfg.Server.ChunkSize,
			InterpreterVersion:  l.interp.ShortVersion,
		}, l.logger).WithNotFoundHook(l.reportNotFound)
		if opts.Progress {
			client = client.WithProgress(transport.NewPrinter(opts.Stderr).Handle)
		}
		l.transport = client
	}

	l.store = version.NewStore(l.workDir, l.logger)
	l.resolver = depfix.New(depfix.Options{
		Interpreter:    cfg.Loader.Interpreter,
		InstallTimeout: cfg.Loader.InstallTimeoutDuration(),
		AutoInstall:    cfg.Update.AutoInstallDependencies,
	}, l.runner, l.logger)

	ld, err := loader.New(key.Kind(), loader.Options{
		Interpreter: cfg.Loader.Interpreter,
		MaxRetries:  cfg.Loader.MaxDependencyRetries,
		AutoInstall: cfg.Update.AutoInstallDependencies,
		Stdout:      opts.Stdout,
		Stderr:      opts.Stderr,
	}, l.runner, l.resolver, l.logger)
	if err != nil {
		return nil, err
	}
	l.loader = ld

	l.orch = acquire.New(l.workDir, key, l.transport, l.store, acquire.Policy{
		AutoUpdate:               cfg.Update.AutoUpdate,
		BackupOldFiles:           cfg.Update.BackupOldFiles,
		DeleteBackupAfterSuccess: cfg.Update.DeleteBackupAfterSuccess,
	}, l.logger)

	return l, nil
}

func (l *Launcher) probe(ctx context.Context) *loader.InterpreterInfo {
	interpreter := l.cfg.Loader.Interpreter
	if tag := l.cfg.Loader.InterpreterTag; tag != "" {
		return &loader.InterpreterInfo{Tag: tag, Executable: interpreter}
	}

	info, err := loader.Probe(ctx, l.runner, interpreter)
	if err != nil {
		l.probeErr = err
		l.logger.Warn("interpreter probe failed", zap.Error(err))
		return &loader.InterpreterInfo{Executable: interpreter}
	}
	l.logger.Debug("interpreter detected",
		zap.String("tag", info.Tag),
		zap.String("version", info.ShortVersion),
		zap.String("executable", info.Executable))
	return info
}

// withKind forces the OS family that is served kind.
func withKind(key platform.Key, kind types.ArtifactKind) platform.Key {
	if key.Kind() == kind {
		return key
	}
	if kind.IsBytecode() {
		key.OS = types.OSWindows
	} else {
		key.OS = types.OSLinux
	}
	return key
}

// Key returns the platform key artifacts are requested for.
func (l *Launcher) Key() platform.Key {
	return l.key
}

// Interpreter returns what is known about the host interpreter.
func (l *Launcher) Interpreter() (*loader.InterpreterInfo, error) {
	return l.interp, l.probeErr
}

// Resolver returns the dependency resolver.
func (l *Launcher) Resolver() *depfix.Resolver {
	return l.resolver
}

// ExpectedPath returns where the artifact lives in the work dir.
func (l *Launcher) ExpectedPath() string {
	return l.orch.ExpectedPath(l.cfg.Module.BaseName)
}

// Environment builds the diagnostic environment report.
func (l *Launcher) Environment() report.Environment {
	return report.Environment{
		OS:                 l.key.OSType(),
		GOOS:               runtime.GOOS,
		Arch:               l.key.Arch,
		InterpreterTag:     l.key.InterpreterTag,
		InterpreterVersion: l.interp.ShortVersion,
		InterpreterPath:    l.interp.Executable,
		Platform:           l.interp.Platform,
		WorkDir:            l.workDir,
		ArtifactKind:       l.key.Kind().String(),
		FileType:           l.key.FileType(),
		ExpectedFile:       l.key.Filename(l.cfg.Module.BaseName),
		InstalledVersion:   l.store.CurrentVersion(),
		ServerURL:          l.cfg.Server.BaseURL,
		Timeout:            l.cfg.Server.Timeout,
		RetryTimes:         l.cfg.Server.RetryTimes,
		ChunkSize:          l.cfg.Server.ChunkSize,
		KnownArch:          l.key.IsKnownArch(),
	}
}

func (l *Launcher) reportNotFound() {
	fmt.Fprintln(l.stderr, l.Environment().String())
	fmt.Fprintln(l.stderr, report.NotFoundHints())
}

func (l *Launcher) requireInterpreter() error {
	return l.probeErr
}

// Fetch acquires the artifact without loading it.
func (l *Launcher) Fetch(ctx context.Context) (*acquire.Result, error) {
	if err := l.requireInterpreter(); err != nil {
		return nil, err
	}
	return l.orch.Acquire(ctx, l.cfg.Module.BaseName)
}

// CheckResult is the answer to a version check.
type CheckResult struct {
	BaseName       string `json:"base_name" yaml:"base_name"`
	File           string `json:"file" yaml:"file"`
	Present        bool   `json:"present" yaml:"present"`
	CurrentVersion string `json:"current_version,omitempty" yaml:"current_version,omitempty"`
	LatestVersion  string `json:"latest_version,omitempty" yaml:"latest_version,omitempty"`
	HasUpdate      bool   `json:"has_update" yaml:"has_update"`
	Description    string `json:"description,omitempty" yaml:"description,omitempty"`
}

func (c CheckResult) String() string {
	var b strings.Builder
	state := "not downloaded"
	if c.Present {
		state = "present"
	}
	fmt.Fprintf(&b, "%s (%s)\n", c.File, state)
	fmt.Fprintf(&b, "installed: %s\n", orUnknown(c.CurrentVersion))
	fmt.Fprintf(&b, "latest:    %s", orUnknown(c.LatestVersion))
	switch {
	case c.HasUpdate:
		b.WriteString("\nupdate available")
		if c.Description != "" {
			b.WriteString(": " + c.Description)
		}
	case c.LatestVersion != "":
		b.WriteString("\nup to date")
	}
	return b.String()
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// Check asks the server whether a newer artifact exists without
// downloading anything.
func (l *Launcher) Check(ctx context.Context) (*CheckResult, error) {
	if err := l.requireInterpreter(); err != nil {
		return nil, err
	}
	path := l.ExpectedPath()
	res := &CheckResult{
		BaseName:       l.cfg.Module.BaseName,
		File:           filepath.Base(path),
		CurrentVersion: l.store.CurrentVersion(),
	}
	if _, err := os.Stat(path); err == nil {
		res.Present = true
	}

	info, err := l.transport.CheckUpdate(ctx, l.cfg.Module.BaseName, l.key, res.CurrentVersion)
	if err != nil {
		return nil, err
	}
	res.LatestVersion = info.LatestVersion
	res.HasUpdate = info.HasUpdate
	res.Description = info.Description
	return res, nil
}

// Candidates returns the module names tried in order when loading: the
// configured base name, configured alternatives, then its lower-case form.
func (l *Launcher) Candidates() []string {
	base := l.cfg.Module.BaseName
	names := append([]string{base}, l.cfg.Module.Candidates...)
	names = append(names, strings.ToLower(base))

	seen := make(map[string]bool, len(names))
	out := names[:0]
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// LoadWithFallback loads path under each candidate name until one
// succeeds. Interruption stops the search.
func (l *Launcher) LoadWithFallback(ctx context.Context, path string, names []string) (*loader.Handle, error) {
	var errs []error
	for i, name := range names {
		if i > 0 {
			l.logger.Info("trying module name " + name)
		}
		h, err := l.loader.Load(ctx, path, name)
		if err == nil {
			return h, nil
		}
		if errors.Is(err, loader.ErrInterrupted) || errors.Is(err, loader.ErrInterpreter) {
			return nil, err
		}
		l.logger.Debug("load attempt failed", zap.String("name", name), zap.Error(err))
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

// Run executes the whole pipeline and returns the finished session.
// Run never exits the process; the caller maps Session.ExitCode.
func (l *Launcher) Run(ctx context.Context) *Session {
	s := newSession()
	l.logger.Debug("session started", zap.String("id", s.ID))
	defer func() {
		l.logger.Info(fmt.Sprintf("finished in %.2fs", s.Elapsed().Seconds()),
			zap.String("session", s.ID),
			zap.Int("exit_code", s.ExitCode))
	}()

	if err := l.requireInterpreter(); err != nil {
		l.logger.Error("no usable interpreter: " + err.Error())
		return s.finish(StageFailed, types.ExitLoadFailed, err)
	}

	s.enter(StagePreflight)
	l.resolver.Snapshot(ctx)
	if l.cfg.Update.AutoInstallDependencies && len(l.cfg.Loader.CommonDependencies) > 0 {
		if !l.resolver.EnsureCommon(ctx, l.cfg.Loader.CommonDependencies) {
			l.logger.Warn("some common dependencies could not be installed")
		}
	}
	if ctx.Err() != nil {
		return s.finish(StageInterrupted, types.ExitInterrupted, ctx.Err())
	}

	s.enter(StageAcquiring)
	res, err := l.orch.Acquire(ctx, l.cfg.Module.BaseName)
	if res != nil {
		s.Artifact = res
	}
	if err != nil {
		if ctx.Err() != nil {
			return s.finish(StageInterrupted, types.ExitInterrupted, err)
		}
		l.logger.Error("could not obtain " + filepath.Base(l.ExpectedPath()) + ": " + err.Error())
		l.listArtifacts()
		fmt.Fprintln(l.stderr, l.Environment().String())
		return s.finish(StageFailed, types.ExitNotFound, err)
	}
	l.logger.Info("using " + filepath.Base(res.Path))

	if l.key.Kind().IsNative() && l.cfg.Loader.CheckLinkage {
		if !loader.CheckLinkage(ctx, l.runner, res.Path) {
			l.logger.Warn("shared library dependencies are missing; loading may fail")
		}
	}

	s.enter(StageLoading)
	h, err := l.LoadWithFallback(ctx, res.Path, l.Candidates())
	if err != nil {
		if errors.Is(err, loader.ErrInterrupted) || ctx.Err() != nil {
			return s.finish(StageInterrupted, types.ExitInterrupted, err)
		}
		l.logger.Error("failed to load module: " + err.Error())
		return s.finish(StageFailed, types.ExitLoadFailed, err)
	}
	defer h.Close()
	s.Module = h.Name
	s.Callables = h.Callables

	s.enter(StageRunning)
	l.logger.Info(fmt.Sprintf("starting %s.%s", h.Name, l.cfg.Module.EntryPoint))
	result, err := l.loader.Invoke(ctx, h, l.cfg.Module.EntryPoint, l.cfg.Module.Args)
	if err != nil {
		if errors.Is(err, loader.ErrInterrupted) || ctx.Err() != nil {
			l.logger.Info("interrupted")
			return s.finish(StageInterrupted, types.ExitInterrupted, err)
		}
		return s.finish(StageFailed, types.ExitLoadFailed, err)
	}

	code := result.ExitCode()
	if code != types.ExitOK {
		l.logger.Warn(fmt.Sprintf("%s returned %d", l.cfg.Module.EntryPoint, code))
		return s.finish(StageDone, types.ExitStatus(code), nil)
	}
	return s.finish(StageDone, types.ExitOK, nil)
}

func (l *Launcher) listArtifacts() {
	files, err := acquire.ListArtifacts(l.workDir, l.key.Extension())
	if err != nil || len(files) == 0 {
		l.logger.Info(fmt.Sprintf("no %s files in %s", l.key.Extension(), l.workDir))
		return
	}
	l.logger.Info(fmt.Sprintf("%s files in %s:", l.key.Extension(), l.workDir))
	for _, f := range files {
		l.logger.Info("  - " + f)
	}
}
