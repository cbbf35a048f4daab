package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/adamancini/modrunner/internal/proc"
	"github.com/adamancini/modrunner/internal/types"
)

// These tests run the embedded bootstrap against a real interpreter.

func lookPython(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not installed")
	}
	return path
}

// compileModule writes source as name.pyc in dir and removes the source.
func compileModule(t *testing.T, python, dir, name, source string) string {
	t.Helper()
	src := filepath.Join(dir, name+".py")
	if err := os.WriteFile(src, []byte(source), 0644); err != nil {
		t.Fatal(err)
	}
	pyc := filepath.Join(dir, name+".pyc")
	out, err := exec.Command(python, "-c",
		"import py_compile, sys; py_compile.compile(sys.argv[1], cfile=sys.argv[2], doraise=True)",
		src, pyc).CombinedOutput()
	if err != nil {
		t.Fatalf("py_compile: %v\n%s", err, out)
	}
	if err := os.Remove(src); err != nil {
		t.Fatal(err)
	}
	return pyc
}

// countingRunner counts interpreter starts on top of the real runner.
type countingRunner struct {
	proc.DefaultRunner
	starts atomic.Int32
}

func (r *countingRunner) Run(ctx context.Context, c proc.Command) ([]byte, error) {
	r.starts.Add(1)
	return r.DefaultRunner.Run(ctx, c)
}

type pythonEnv struct {
	python string
	dir    string
	runner *countingRunner
	stdout *bytes.Buffer
}

func newPythonEnv(t *testing.T) *pythonEnv {
	return &pythonEnv{
		python: lookPython(t),
		dir:    t.TempDir(),
		runner: &countingRunner{},
		stdout: &bytes.Buffer{},
	}
}

func (e *pythonEnv) loader(t *testing.T, maxRetries int, repair Repairer) *Loader {
	t.Helper()
	l, err := New(types.ArtifactBytecode, Options{
		Interpreter: e.python,
		MaxRetries:  maxRetries,
		AutoInstall: true,
		Stdout:      e.stdout,
		Stderr:      &bytes.Buffer{},
	}, e.runner, repair, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return l
}

const countingModule = `import asyncio
import sys

with open(%q, "a") as f:
    f.write("x")

print("loaded")


def main(*args):
    print("main", *args)
    return 40 + len(args)


async def amain(value):
    await asyncio.sleep(0)
    return int(value)


def leave(code):
    sys.exit(int(code))
`

func TestBootstrapInvokeRunsModuleOnce(t *testing.T) {
	env := newPythonEnv(t)
	marker := filepath.Join(env.dir, "imports.txt")
	pyc := compileModule(t, env.python, env.dir, "counting", fmt.Sprintf(countingModule, marker))
	l := env.loader(t, 3, &stubRepairer{})

	h, err := l.Load(context.Background(), pyc, "counting")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	for _, name := range []string{"amain", "leave", "main"} {
		if !slices.Contains(h.Callables, name) {
			t.Errorf("callables = %v, missing %s", h.Callables, name)
		}
	}

	res, err := l.Invoke(context.Background(), h, "main", []string{"a", "b"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if res.ExitCode() != 42 {
		t.Errorf("ExitCode() = %d, want 42", res.ExitCode())
	}

	imports, err := os.ReadFile(marker)
	if err != nil {
		t.Fatal(err)
	}
	if string(imports) != "x" {
		t.Errorf("module body ran %d times, want once", len(imports))
	}
	if got := env.runner.starts.Load(); got != 1 {
		t.Errorf("interpreter starts = %d, want 1", got)
	}
	if out := env.stdout.String(); out != "loaded\nmain a b\n" {
		t.Errorf("stdout = %q", out)
	}
}

func TestBootstrapInvokeResults(t *testing.T) {
	tests := []struct {
		name     string
		function string
		args     []string
		want     int
	}{
		{"sync", "main", nil, 40},
		{"coroutine", "amain", []string{"9"}, 9},
		{"sys.exit", "leave", []string{"3"}, 3},
	}

	env := newPythonEnv(t)
	pyc := compileModule(t, env.python, env.dir, "counting", fmt.Sprintf(countingModule, filepath.Join(env.dir, "imports.txt")))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := env.loader(t, 3, &stubRepairer{})
			h, err := l.Load(context.Background(), pyc, "counting")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}

			res, err := l.Invoke(context.Background(), h, tt.function, tt.args)
			if err != nil {
				t.Fatalf("Invoke() error = %v", err)
			}
			if res.ExitCode() != tt.want {
				t.Errorf("ExitCode() = %d, want %d", res.ExitCode(), tt.want)
			}
		})
	}
}

func TestBootstrapMissingDependency(t *testing.T) {
	env := newPythonEnv(t)
	pyc := compileModule(t, env.python, env.dir, "needy", "import modrunner_absent_dependency\n")
	repair := &stubRepairer{result: false}
	l := env.loader(t, 2, repair)

	_, err := l.Load(context.Background(), pyc, "needy")
	if !errors.Is(err, ErrMissingDependency) {
		t.Fatalf("error = %v, want ErrMissingDependency", err)
	}
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("error type = %T", err)
	}
	if le.Module != "modrunner_absent_dependency" || le.Attempts != 3 {
		t.Errorf("LoadError = %+v", le)
	}
	if got := env.runner.starts.Load(); got != 3 {
		t.Errorf("interpreter starts = %d, want 3", got)
	}
	if repair.calls != 2 {
		t.Errorf("repairs = %d, want 2", repair.calls)
	}
}

func TestBootstrapMissingCallable(t *testing.T) {
	env := newPythonEnv(t)
	pyc := compileModule(t, env.python, env.dir, "small", "def run():\n    return 0\n")
	l := env.loader(t, 3, &stubRepairer{})

	h, err := l.Load(context.Background(), pyc, "small")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := l.Invoke(context.Background(), h, "main", nil); !errors.Is(err, ErrNoCallable) {
		t.Errorf("error = %v, want ErrNoCallable", err)
	}
}

func TestBootstrapLoadFailure(t *testing.T) {
	env := newPythonEnv(t)
	pyc := compileModule(t, env.python, env.dir, "broken", "raise RuntimeError('init failed')\n")
	l := env.loader(t, 3, &stubRepairer{})

	_, err := l.Load(context.Background(), pyc, "broken")
	if !errors.Is(err, ErrLoad) {
		t.Fatalf("error = %v, want ErrLoad", err)
	}
	if !strings.Contains(err.Error(), "RuntimeError: init failed") {
		t.Errorf("error = %v", err)
	}
}

func TestBootstrapInvokeCanceled(t *testing.T) {
	env := newPythonEnv(t)
	pyc := compileModule(t, env.python, env.dir, "slow", "import time\n\ndef main():\n    time.sleep(60)\n")
	l := env.loader(t, 3, &stubRepairer{})

	h, err := l.Load(context.Background(), pyc, "slow")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = l.Invoke(ctx, h, "main", nil)
	if !errors.Is(err, ErrInterrupted) {
		t.Errorf("error = %v, want ErrInterrupted", err)
	}
	if elapsed := time.Since(start); elapsed > 30*time.Second {
		t.Errorf("Invoke() took %s after cancellation", elapsed)
	}
}
