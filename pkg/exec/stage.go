// Package exec runs an ordered chain of plugin stages as OS processes,
// wiring adjacent standard streams directly so flow control is delegated
// entirely to kernel pipe buffers. Memory stays constant regardless of
// stream length, and a downstream early exit propagates upstream as
// end-of-pipe once the parent has released its duplicate descriptors.
package exec

import (
	"fmt"
	"strings"
	"sync"
	"syscall"
)

// Role is a stage's position in the pipeline.
type Role string

const (
	// RoleSource stages originate the record stream.
	RoleSource Role = "source"
	// RoleFilter stages transform records mid-pipeline.
	RoleFilter Role = "filter"
	// RoleTarget stages consume the stream at the end of the pipeline.
	RoleTarget Role = "target"
)

// State tracks a stage's lifecycle. The close-upstream-handle transition
// happens between NotStarted and Running of the following stage; Exited
// records the final status.
type State int

const (
	// StateNotStarted means the child process has not been spawned.
	StateNotStarted State = iota
	// StateRunning means the child is live and wired into the pipeline.
	StateRunning
	// StateExited means the child has been reaped.
	StateExited
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Stage is one process in a pipeline.
type Stage struct {
	// Name identifies the stage in errors and logs (usually the plugin name).
	Name string

	// Role is the stage's position in the pipeline.
	Role Role

	// Argv is the full command line, argv[0] included.
	Argv []string

	// Env holds extra environment entries appended to the parent's.
	Env []string
}

// Status is a snapshot of one stage's lifecycle.
type Status struct {
	State    State
	ExitCode int
	Signal   syscall.Signal
	Signaled bool
}

// stageState is the mutable per-stage execution record.
type stageState struct {
	mu       sync.Mutex
	state    State
	exitCode int
	signal   syscall.Signal
	signaled bool
	stderr   strings.Builder
}

func (s *stageState) snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{State: s.state, ExitCode: s.exitCode, Signal: s.signal, Signaled: s.signaled}
}

func (s *stageState) setRunning() {
	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()
}

func (s *stageState) setExited(code int, sig syscall.Signal, signaled bool) {
	s.mu.Lock()
	s.state = StateExited
	s.exitCode = code
	s.signal = sig
	s.signaled = signaled
	s.mu.Unlock()
}

// StageError reports a genuine stage failure: a non-zero exit that is not
// an expected end-of-pipe termination.
type StageError struct {
	Stage    string
	ExitCode int
	Stderr   string
}

func (e *StageError) Error() string {
	msg := fmt.Sprintf("stage %s failed with exit code %d", e.Stage, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// validate checks pipeline shape at construction time, not execution time.
func validate(stages []Stage) error {
	if len(stages) == 0 {
		return fmt.Errorf("pipeline has no stages")
	}
	for i, st := range stages {
		if len(st.Argv) == 0 {
			return fmt.Errorf("stage %d (%s) has empty argv", i, st.Name)
		}
	}
	if stages[0].Role == RoleTarget {
		return fmt.Errorf("first stage %s must be source-capable", stages[0].Name)
	}
	if last := stages[len(stages)-1]; len(stages) > 1 && last.Role == RoleSource {
		return fmt.Errorf("last stage %s must be target-capable", last.Name)
	}
	return nil
}
