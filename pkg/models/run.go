// Package models provides domain types shared across the Strand gateway.
package models

import "time"

// RunStatus identifies the lifecycle state of a run.
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunActionRequired RunStatus = "action_required"
	RunCompleted      RunStatus = "completed"
	RunCancelling     RunStatus = "cancelling"
	RunCancelled      RunStatus = "cancelled"
	RunFailed         RunStatus = "failed"
	RunExpired        RunStatus = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunCancelled, RunFailed, RunExpired:
		return true
	}
	return false
}

// CancelRequested reports whether a cooperative cancel has been observed.
func (s RunStatus) CancelRequested() bool {
	return s == RunCancelling || s == RunCancelled
}

// Run is one end-to-end interaction on a thread, from stream start to a
// terminal state. Runs are owned by the external storage API; the gateway
// drives their status transitions.
type Run struct {
	ID          string    `json:"id"`
	ThreadID    string    `json:"thread_id"`
	AssistantID string    `json:"assistant_id"`
	Model       string    `json:"model,omitempty"`
	Status      RunStatus `json:"status"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// CanTransition reports whether moving from the run's current status to
// next is a legal step of the run state machine. Transitions are
// idempotent: a self-transition is always allowed so concurrent observers
// can safely re-apply a step.
func (r *Run) CanTransition(next RunStatus) bool {
	if r.Status == next {
		return true
	}
	// Failure and expiry are reachable from anywhere; cancel is cooperative.
	switch next {
	case RunFailed, RunExpired, RunCancelling:
		return !r.Status.Terminal()
	case RunCancelled:
		return r.Status == RunCancelling || !r.Status.Terminal()
	}
	switch r.Status {
	case RunQueued:
		return next == RunInProgress
	case RunInProgress:
		return next == RunActionRequired || next == RunCompleted
	case RunActionRequired:
		return next == RunInProgress
	}
	return false
}
