// Package proc runs external processes behind an interface so callers can
// be tested with a mock runner.
package proc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// WaitDelay bounds how long a process may linger after it was asked to stop.
const WaitDelay = 5 * time.Second

// Command describes a process invocation.
type Command struct {
	Name string
	Args []string
	Env  []string // Added to the current environment
	Dir  string

	// Stdout and Stderr stream output when set. Output that is not
	// streamed is captured and returned by Run.
	Stdout io.Writer
	Stderr io.Writer
	Stdin  io.Reader
}

// String returns the command line.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner is an interface for running external commands.
// This allows for mocking in tests.
type Runner interface {
	Run(ctx context.Context, cmd Command) ([]byte, error)
}

// DefaultRunner uses os/exec to run commands. Cancelling the context sends
// an interrupt first and kills the process after WaitDelay.
type DefaultRunner struct{}

// Run executes the command and returns its captured output.
func (r *DefaultRunner) Run(ctx context.Context, c Command) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Stdin = c.Stdin
	cmd.Cancel = func() error {
		if runtime.GOOS == "windows" {
			return cmd.Process.Kill()
		}
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = WaitDelay

	var captured bytes.Buffer
	cmd.Stdout = c.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = &captured
	}
	cmd.Stderr = c.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = &captured
	}

	err := cmd.Run()
	return captured.Bytes(), err
}

// ExitCode extracts the process exit code from an error returned by Run.
// Returns 0 for nil and -1 when the error carries no exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	return -1
}

// ExitError is a non-zero exit for use by mock runners.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return "exit status " + strconv.Itoa(e.Code)
}

// ExitCode returns the exit status.
func (e *ExitError) ExitCode() int {
	return e.Code
}

// LastLines returns the last n non-empty lines of output.
func LastLines(output []byte, n int) []string {
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
