package loader

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingDependency means the artifact imports a module that is
	// not installed and repair did not make it importable.
	ErrMissingDependency = errors.New("missing dependency")
	// ErrLoad is any other failure to import the artifact.
	ErrLoad = errors.New("module load failed")
	// ErrNoCallable means the entry point does not exist on the module.
	ErrNoCallable = errors.New("entry point not found")
	// ErrInvocation means the entry point raised an exception.
	ErrInvocation = errors.New("entry point raised an exception")
	// ErrInterrupted means the interpreter was interrupted.
	ErrInterrupted = errors.New("interrupted")
	// ErrInterpreter means the host interpreter could not be started.
	ErrInterpreter = errors.New("interpreter unavailable")
	// ErrClosed means the handle's interpreter was already invoked or closed.
	ErrClosed = errors.New("module handle is closed")
)

// LoadError describes a failed Load.
type LoadError struct {
	Name     string
	Path     string
	Attempts int
	// Module is the missing import, when the failure was a missing dependency.
	Module  string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	msg := fmt.Sprintf("failed to load %s as %q after %d attempt(s)", e.Path, e.Name, e.Attempts)
	if e.Module != "" {
		msg += fmt.Sprintf(": missing module %q", e.Module)
	} else if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg + ": " + e.Err.Error()
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
