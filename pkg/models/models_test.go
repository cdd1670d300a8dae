package models

import (
	"encoding/json"
	"testing"
)

func TestNormalizeRole(t *testing.T) {
	tests := []struct {
		in   string
		want Role
	}{
		{"user", RoleUser},
		{"USER", RoleUser},
		{"Assistant", RoleAssistant},
		{" system ", RoleSystem},
		{"tool", RoleTool},
		{"platform", RolePlatform},
		{"moderator", RoleUser},
		{"", RoleUser},
	}
	for _, tt := range tests {
		if got := NormalizeRole(tt.in); got != tt.want {
			t.Errorf("NormalizeRole(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRunStatusTerminal(t *testing.T) {
	terminal := []RunStatus{RunCompleted, RunCancelled, RunFailed, RunExpired}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	live := []RunStatus{RunQueued, RunInProgress, RunActionRequired, RunCancelling}
	for _, s := range live {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestRunCanTransition(t *testing.T) {
	tests := []struct {
		from, to RunStatus
		want     bool
	}{
		{RunQueued, RunInProgress, true},
		{RunInProgress, RunActionRequired, true},
		{RunActionRequired, RunInProgress, true},
		{RunInProgress, RunCompleted, true},
		{RunInProgress, RunCancelling, true},
		{RunCancelling, RunCancelled, true},
		{RunInProgress, RunFailed, true},
		{RunActionRequired, RunExpired, true},
		{RunQueued, RunCompleted, false},
		{RunCompleted, RunInProgress, false},
		{RunCompleted, RunFailed, false},
		{RunCancelled, RunCancelling, false},
		// Idempotent self-transitions.
		{RunInProgress, RunInProgress, true},
		{RunCompleted, RunCompleted, true},
	}
	for _, tt := range tests {
		r := &Run{Status: tt.from}
		if got := r.CanTransition(tt.to); got != tt.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestIsPlatformTool(t *testing.T) {
	for _, name := range []string{ToolCodeInterpreter, ToolWebSearch, ToolVectorStoreSearch, ToolComputer} {
		if !IsPlatformTool(name) {
			t.Errorf("IsPlatformTool(%q) = false, want true", name)
		}
	}
	for _, name := range []string{"get_flight_times", "", "Code_Interpreter"} {
		if IsPlatformTool(name) {
			t.Errorf("IsPlatformTool(%q) = true, want false", name)
		}
	}
}

func TestStreamChunkVisible(t *testing.T) {
	if (&StreamChunk{Type: ChunkFunctionCall}).Visible() {
		t.Error("function_call chunks must not be visible")
	}
	for _, typ := range []ChunkType{ChunkContent, ChunkReasoning, ChunkHotCode, ChunkStatus, ChunkError} {
		if !(&StreamChunk{Type: typ}).Visible() {
			t.Errorf("%s chunks should be visible", typ)
		}
	}
}

func TestStreamChunkJSONShape(t *testing.T) {
	b, err := json.Marshal(StatusChunk(StatusStarted, "run-1"))
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	if m["type"] != "status" || m["status"] != "started" || m["run_id"] != "run-1" {
		t.Errorf("unexpected status frame: %s", b)
	}
	if _, ok := m["content"]; ok {
		t.Error("empty content should be omitted")
	}
}

func TestToolByName(t *testing.T) {
	a := &Assistant{Tools: []Tool{
		{Type: "function", Function: ToolFunction{Name: "get_weather"}},
		{Type: "function", Function: ToolFunction{Name: ToolWebSearch}},
	}}
	if _, ok := a.ToolByName("get_weather"); !ok {
		t.Error("expected get_weather to be found")
	}
	if _, ok := a.ToolByName("missing"); ok {
		t.Error("missing tool should not be found")
	}
}
