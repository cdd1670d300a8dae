// Package providers implements the upstream model-provider layer: thin
// OpenAI-compatible streaming clients, a per-(base_url, api_key) client
// cache, and the arbiter that routes unified model ids to providers.
package providers

import (
	"context"

	"github.com/strandworks/strand/pkg/models"
)

// ChatMessage is a provider-ready conversation entry produced by the
// context builder.
type ChatMessage struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

// StreamRequest describes one streaming chat/completions call.
type StreamRequest struct {
	Model       string
	Messages    []ChatMessage
	Temperature float32
	TopP        float32
	MaxTokens   int
}

// Delta is one increment of a provider stream. A terminal Delta has
// either Done or Err set; no further deltas follow it.
type Delta struct {
	// Content is visible assistant text.
	Content string

	// Reasoning carries provider-native reasoning tokens
	// (delta.reasoning_content); it bypasses the tag demultiplexer.
	Reasoning string

	Done bool
	Err  error
}

// Streamer is the minimal provider surface the orchestrator consumes.
type Streamer interface {
	Stream(ctx context.Context, req *StreamRequest) (<-chan Delta, error)
	Provider() string
}
