// Package loader loads artifacts into a host interpreter and invokes their
// entry points, repairing missing dependencies between attempts.
package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/adamancini/modrunner/internal/depfix"
	"github.com/adamancini/modrunner/internal/proc"
	"github.com/adamancini/modrunner/internal/types"
)

// ResultFileEnv names the file the bootstrap writes its report to.
const ResultFileEnv = "MODRUNNER_RESULT_FILE"

// DefaultMaxRetries is the dependency repair budget per Load.
const DefaultMaxRetries = 3

// Exit statuses of the bootstrap program.
const (
	exitOK          = 0
	exitLoadFailed  = 2
	exitImportError = 3
	exitNoCallable  = 4
	exitInvocation  = 5
	exitInterrupted = 130
)

const actionServe = "serve"

// Report stages.
const (
	stageLoad   = "load"
	stageInvoke = "invoke"
)

// Repairer fixes a missing dependency given the import failure text.
type Repairer interface {
	AutoRepair(ctx context.Context, text string) bool
	InstallHelp(module string) string
}

// Options configures a Loader.
type Options struct {
	Interpreter string
	MaxRetries  int
	// AutoInstall enables the repair loop. When false a missing
	// dependency fails immediately with install guidance.
	AutoInstall bool
	// Stdout and Stderr receive the entry point's output.
	Stdout io.Writer
	Stderr io.Writer
}

// Loader drives the interpreter with a mechanism chosen once for the
// artifact kind.
type Loader struct {
	opts   Options
	mech   Mechanism
	runner proc.Runner
	repair Repairer
	logger *zap.Logger
}

// Handle is a successfully loaded module. It owns the interpreter the
// module was loaded into, which serves a single Invoke. Close releases an
// interpreter that was never invoked.
type Handle struct {
	Name      string
	Path      string
	Kind      types.ArtifactKind
	Callables []string
	Attempts  int

	proc *liveProcess
}

// Close stops the interpreter without invoking anything. It is safe to
// call more than once.
func (h *Handle) Close() {
	if h.proc != nil {
		h.proc.release()
	}
}

// Result is the outcome of a completed entry point call.
type Result struct {
	// ReturnCode is set when the entry point returned an integer or
	// called sys.exit.
	ReturnCode *int
	Duration   time.Duration
}

// ExitCode returns the entry point's integer result, or 0.
func (r *Result) ExitCode() int {
	if r == nil || r.ReturnCode == nil {
		return 0
	}
	return *r.ReturnCode
}

// New creates a loader for kind.
func New(kind types.ArtifactKind, opts Options, runner proc.Runner, repair Repairer, logger *zap.Logger) (*Loader, error) {
	mech, err := MechanismFor(kind)
	if err != nil {
		return nil, err
	}
	if opts.Interpreter == "" {
		opts.Interpreter = "python3"
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if runner == nil {
		runner = &proc.DefaultRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{opts: opts, mech: mech, runner: runner, repair: repair, logger: logger}, nil
}

// Kind returns the artifact kind this loader handles.
func (l *Loader) Kind() types.ArtifactKind {
	return l.mech.Kind()
}

// report is the JSON the bootstrap writes.
type report struct {
	OK            bool     `json:"ok"`
	Stage         string   `json:"stage"`
	ErrorType     string   `json:"error_type"`
	Error         string   `json:"error"`
	Traceback     string   `json:"traceback"`
	MissingModule string   `json:"missing_module"`
	Callables     []string `json:"callables"`
	ReturnCode    *int     `json:"return_code"`
}

// missingDependency is the repairable load failure.
type missingDependency struct {
	module string
	text   string
}

func (e *missingDependency) Error() string {
	return e.text
}

func (e *missingDependency) Unwrap() error {
	return ErrMissingDependency
}

// Load imports the artifact at path under name. A missing dependency is
// repaired and the load retried, regardless of the repair outcome, until
// the budget is spent: at most MaxRetries+1 attempts.
func (l *Loader) Load(ctx context.Context, path, name string) (*Handle, error) {
	maxAttempts := l.opts.MaxRetries + 1
	var missing *missingDependency

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		p, rep, err := l.start(ctx, path, name)
		if err == nil {
			l.logger.Debug("module loaded",
				zap.String("name", name),
				zap.Int("attempt", attempt),
				zap.Int("callables", len(rep.Callables)))
			return &Handle{
				Name:      name,
				Path:      path,
				Kind:      l.mech.Kind(),
				Callables: rep.Callables,
				Attempts:  attempt,
				proc:      p,
			}, nil
		}

		if !errors.As(err, &missing) {
			return nil, l.loadError(path, name, attempt, err)
		}

		if !l.opts.AutoInstall || l.repair == nil {
			l.logger.Error("missing dependency: " + missing.module)
			if l.repair != nil {
				l.logger.Info("suggestion: " + l.repair.InstallHelp(missing.module))
			}
			return nil, &LoadError{Name: name, Path: path, Attempts: attempt, Module: missing.module, Err: ErrMissingDependency}
		}

		if attempt == maxAttempts {
			break
		}

		repaired := l.repair.AutoRepair(ctx, missing.text)
		l.logger.Debug("dependency repair finished",
			zap.String("module", missing.module),
			zap.Bool("repaired", repaired),
			zap.Int("attempt", attempt))

		if ctx.Err() != nil {
			return nil, l.loadError(path, name, attempt, ErrInterrupted)
		}
	}

	l.logger.Error("dependency installation failed: " + missing.module)
	l.logger.Info("suggestion: " + l.repair.InstallHelp(missing.module))
	if alts := depfix.Suggest(missing.module); len(alts) > 0 {
		l.logger.Info("packages worth trying: " + strings.Join(alts, ", "))
	}

	return nil, &LoadError{Name: name, Path: path, Attempts: maxAttempts, Module: missing.module, Err: ErrMissingDependency}
}

func (l *Loader) loadError(path, name string, attempts int, err error) error {
	if errors.Is(err, ErrInterrupted) {
		return err
	}
	le := &LoadError{Name: name, Path: path, Attempts: attempts, Err: ErrLoad}
	var failure *bootstrapFailure
	if errors.As(err, &failure) {
		le.Message = failure.summary()
	} else if !errors.Is(err, ErrLoad) {
		le.Message = err.Error()
	}
	if errors.Is(err, ErrInterpreter) {
		le.Err = ErrInterpreter
	}
	return le
}

// Invoke calls function on the loaded module with args and blocks until
// it returns. Coroutine functions are run to completion. The call runs in
// the interpreter Load left running, so the module is not imported again;
// the handle is spent afterwards.
func (l *Loader) Invoke(ctx context.Context, h *Handle, function string, args []string) (*Result, error) {
	if h.proc == nil || !h.proc.claim() {
		return nil, fmt.Errorf("%w: %s", ErrClosed, h.Name)
	}
	defer h.proc.release()

	if args == nil {
		args = []string{}
	}

	start := time.Now()
	h.proc.send(ctx, command{Function: function, Args: args})
	rep, err := l.classify(ctx, stageInvoke, h.proc)
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(err, ErrNoCallable) {
			l.logger.Error(fmt.Sprintf("function '%s' not found", function))
			if len(rep.Callables) > 0 {
				l.logger.Info("available functions:")
				for _, c := range rep.Callables {
					l.logger.Info("  - " + c)
				}
			}
		}
		return nil, err
	}

	return &Result{ReturnCode: rep.ReturnCode, Duration: elapsed}, nil
}

// bootstrapFailure is a failed bootstrap run with its diagnostics.
type bootstrapFailure struct {
	sentinel error
	rep      *report
	output   []byte
	exitCode int
}

func (e *bootstrapFailure) Error() string {
	return e.sentinel.Error() + ": " + e.summary()
}

func (e *bootstrapFailure) Unwrap() error {
	return e.sentinel
}

func (e *bootstrapFailure) summary() string {
	if e.rep != nil && e.rep.Error != "" {
		if e.rep.ErrorType != "" {
			return e.rep.ErrorType + ": " + e.rep.Error
		}
		return e.rep.Error
	}
	if lines := proc.LastLines(e.output, 2); len(lines) > 0 {
		return strings.Join(lines, " | ")
	}
	return fmt.Sprintf("interpreter exited with status %d", e.exitCode)
}

// start launches an interpreter that loads the artifact and stays up
// waiting for a command. It returns once the module is loaded or the
// interpreter has exited; on failure the report is never nil.
func (l *Loader) start(ctx context.Context, path, name string) (*liveProcess, *report, error) {
	resultFile, err := os.CreateTemp("", "modrunner-result-*.json")
	if err != nil {
		return nil, &report{}, fmt.Errorf("failed to create result file: %w", err)
	}
	resultPath := resultFile.Name()
	resultFile.Close()

	input, commands, err := os.Pipe()
	if err != nil {
		os.Remove(resultPath)
		return nil, &report{}, fmt.Errorf("failed to open command pipe: %w", err)
	}

	pctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &liveProcess{
		resultPath: resultPath,
		input:      input,
		commands:   commands,
		stdoutGate: &gate{out: l.opts.Stdout},
		stderrGate: &gate{out: l.opts.Stderr},
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	p.stdout = &readyScanner{
		out:   p.stdoutGate,
		ready: make(chan *report, 1),
		onReady: func() {
			p.stdoutGate.release()
			p.stderrGate.release()
		},
	}
	p.stopLoad = context.AfterFunc(ctx, cancel)

	cmd := proc.Command{
		Name:   l.opts.Interpreter,
		Args:   []string{"-c", l.mech.Script(), actionServe, path, name},
		Env:    []string{ResultFileEnv + "=" + resultPath},
		Dir:    filepath.Dir(path),
		Stdin:  input,
		Stdout: p.stdout,
		Stderr: p.stderrGate,
	}
	go p.wait(pctx, l.runner, cmd)

	select {
	case rep := <-p.stdout.ready:
		return p, rep, nil
	case <-p.done:
	}

	p.claim()
	rep, err := l.classify(ctx, stageLoad, p)
	p.release()
	if err == nil {
		// Exited cleanly without reporting the module as loaded.
		err = &bootstrapFailure{sentinel: ErrLoad, rep: rep, output: p.output}
	}
	return nil, rep, err
}

// classify reads the outcome of an interpreter that has exited. The
// returned report is never nil.
func (l *Loader) classify(ctx context.Context, stage string, p *liveProcess) (*report, error) {
	output, runErr := p.output, p.err
	exitCode := proc.ExitCode(runErr)
	rep := readReport(p.resultPath)

	if ctx.Err() != nil || exitCode == exitInterrupted {
		return rep, ErrInterrupted
	}

	if runErr == nil && rep.OK && rep.Stage == stage {
		return rep, nil
	}

	if exitCode == -1 {
		return rep, fmt.Errorf("%w: %s: %v", ErrInterpreter, l.opts.Interpreter, runErr)
	}

	failure := &bootstrapFailure{rep: rep, output: output, exitCode: exitCode}

	switch {
	case stage == stageLoad || rep.Stage == stageLoad:
		text := rep.Error
		if text == "" {
			text = string(output)
		}
		module := rep.MissingModule
		if m, ok := depfix.ExtractMissingModule(text); ok {
			module = m
		} else if module != "" {
			text = fmt.Sprintf("No module named '%s'", module)
		}
		if module != "" && (exitCode == exitImportError || rep.ErrorType == "ModuleNotFoundError") {
			if top, _, _ := strings.Cut(module, "."); top != "" {
				module = top
			}
			return rep, &missingDependency{module: module, text: text}
		}
		failure.sentinel = ErrLoad
	case exitCode == exitNoCallable:
		failure.sentinel = ErrNoCallable
	default:
		failure.sentinel = ErrInvocation
		if rep.Traceback != "" {
			l.logger.Debug("entry point traceback\n" + rep.Traceback)
		}
		l.logger.Error("entry point failed: " + failure.summary())
	}

	return rep, failure
}

func readReport(path string) *report {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return &report{}
	}
	var rep report
	if err := json.Unmarshal(data, &rep); err != nil {
		return &report{}
	}
	return &rep
}
