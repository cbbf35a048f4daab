package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/adamancini/modrunner/internal/proc"
)

// InterpreterInfo describes the host interpreter.
type InterpreterInfo struct {
	Tag          string `json:"tag"`           // ABI tag, e.g. "311"
	Version      string `json:"version"`       // Full version banner
	ShortVersion string `json:"short_version"` // e.g. "3.11.4"
	Executable   string `json:"executable"`
	Platform     string `json:"platform"`
	Machine      string `json:"machine"`
}

// Probe asks the interpreter for its version tag and platform.
func Probe(ctx context.Context, runner proc.Runner, interpreter string) (*InterpreterInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	out, err := runner.Run(ctx, proc.Command{
		Name: interpreter,
		Args:   []string{"-c", probeScript()},
		Stderr: io.Discard,
	})
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s not found in PATH", ErrInterpreter, interpreter)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInterpreter, interpreter, err)
	}

	var info InterpreterInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("%w: unexpected probe output: %v", ErrInterpreter, err)
	}
	if info.Tag == "" {
		return nil, fmt.Errorf("%w: probe returned no version tag", ErrInterpreter)
	}

	return &info, nil
}

// CheckLinkage runs ldd on a native artifact. A missing ldd counts as OK;
// any other failure reports false.
func CheckLinkage(ctx context.Context, runner proc.Runner, path string) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := runner.Run(ctx, proc.Command{Name: "ldd", Args: []string{path}})
	if err == nil {
		return true
	}
	return errors.Is(err, exec.ErrNotFound)
}
