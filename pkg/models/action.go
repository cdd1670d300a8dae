package models

import "time"

// ActionStatus identifies the lifecycle state of a tool invocation record.
type ActionStatus string

const (
	ActionPending    ActionStatus = "pending"
	ActionInProgress ActionStatus = "in_progress"
	ActionCompleted  ActionStatus = "completed"
	ActionFailed     ActionStatus = "failed"
)

// Action records a single tool invocation attached to a run. Actions are
// created when a function call is parsed from the model's output and
// resolved either by a platform handler or by an external fulfiller.
type Action struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Status    ActionStatus   `json:"status"`
	ExpiresAt time.Time      `json:"expires_at,omitempty"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
}

// Resolved reports whether the action has reached a terminal status.
func (a *Action) Resolved() bool {
	return a.Status == ActionCompleted || a.Status == ActionFailed
}
