package cmd

import "fmt"

// ExitError carries the process exit code a command wants. Only main
// turns it into os.Exit.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Silent reports whether the error was already reported to the user.
func (e *ExitError) Silent() bool {
	return e.Err == nil
}
