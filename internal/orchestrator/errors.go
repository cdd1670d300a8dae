package orchestrator

import (
	"errors"
	"fmt"
)

// ErrMaxIterations indicates the tool loop exceeded its iteration limit.
var ErrMaxIterations = errors.New("max tool iterations exceeded")

// RunPhase is a distinct phase of the run loop.
type RunPhase string

const (
	PhaseStream RunPhase = "stream"
	PhaseTools  RunPhase = "tools"
	PhaseGate   RunPhase = "gate"
	PhaseLoop   RunPhase = "loop"
)

// RunError carries the phase in which a run failed alongside the
// underlying cause. Handlers match on the cause via errors.As.
type RunError struct {
	Phase RunPhase
	RunID string
	Cause error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s failed at %s: %v", e.RunID, e.Phase, e.Cause)
}

func (e *RunError) Unwrap() error {
	return e.Cause
}

func runErr(phase RunPhase, runID string, cause error) error {
	return &RunError{Phase: phase, RunID: runID, Cause: cause}
}
