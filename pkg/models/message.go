package models

import (
	"strings"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
	RolePlatform  Role = "platform"
)

// NormalizeRole lowercases a role and maps anything unknown to "user".
// Provider APIs only accept the canonical role set, so anything a caller
// invented collapses to the safest value.
func NormalizeRole(raw string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(raw))); r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool, RolePlatform:
		return r
	default:
		return RoleUser
	}
}

// Message is a single entry in a thread. Messages are append-only per
// thread and owned by the external storage API. A non-final assistant
// chunk (IsLastChunk=false) never persists; only the final chunk does.
type Message struct {
	ID          string            `json:"id,omitempty"`
	ThreadID    string            `json:"thread_id"`
	Role        Role              `json:"role"`
	Content     string            `json:"content"`
	SenderID    string            `json:"sender_id,omitempty"`
	AssistantID string            `json:"assistant_id,omitempty"`
	IsLastChunk bool              `json:"is_last_chunk"`
	ToolID      string            `json:"tool_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at,omitempty"`
}

// Thread is an ordered message sequence with a participant set. Owned
// externally; the gateway only reads it through the storage client.
type Thread struct {
	ID           string            `json:"id"`
	Participants []string          `json:"participants,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at,omitempty"`
}
