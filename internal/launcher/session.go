package launcher

import (
	"time"

	"github.com/google/uuid"

	"github.com/adamancini/modrunner/internal/acquire"
)

// Stage is the pipeline step a session is in.
type Stage string

const (
	StageStarting    Stage = "starting"
	StagePreflight   Stage = "preflight"
	StageAcquiring   Stage = "acquiring"
	StageLoading     Stage = "loading"
	StageRunning     Stage = "running"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
	StageInterrupted Stage = "interrupted"
)

// Session records one run of the pipeline. It replaces process-wide
// state: everything a run learns lives here and is returned to the caller.
type Session struct {
	ID        string          `json:"id" yaml:"id"`
	Stage     Stage           `json:"stage" yaml:"stage"`
	Artifact  *acquire.Result `json:"artifact,omitempty" yaml:"artifact,omitempty"`
	Module    string          `json:"module,omitempty" yaml:"module,omitempty"`
	Callables []string        `json:"callables,omitempty" yaml:"callables,omitempty"`
	Started   time.Time       `json:"started" yaml:"started"`
	Finished  time.Time       `json:"finished,omitzero" yaml:"finished,omitempty"`
	ExitCode  int             `json:"exit_code" yaml:"exit_code"`
	Error     string          `json:"error,omitempty" yaml:"error,omitempty"`

	err error
}

func newSession() *Session {
	return &Session{
		ID:      uuid.NewString(),
		Stage:   StageStarting,
		Started: time.Now(),
	}
}

// Err returns the error that ended the session, if any.
func (s *Session) Err() error {
	return s.err
}

// Running reports whether the session has not finished yet.
func (s *Session) Running() bool {
	return s.Finished.IsZero()
}

// Elapsed returns the session duration so far.
func (s *Session) Elapsed() time.Duration {
	if s.Finished.IsZero() {
		return time.Since(s.Started)
	}
	return s.Finished.Sub(s.Started)
}

func (s *Session) enter(stage Stage) {
	s.Stage = stage
}

func (s *Session) finish(stage Stage, code int, err error) *Session {
	s.Stage = stage
	s.ExitCode = code
	s.err = err
	if err != nil {
		s.Error = err.Error()
	}
	s.Finished = time.Now()
	return s
}
