package models

// ChunkType identifies the kind of frame emitted by the stream
// demultiplexer.
type ChunkType string

const (
	ChunkContent   ChunkType = "content"
	ChunkReasoning ChunkType = "reasoning"
	ChunkHotCode   ChunkType = "hot_code"
	ChunkStatus    ChunkType = "status"
	ChunkError     ChunkType = "error"

	// ChunkFunctionCall is internal only: it carries a parsed tool
	// invocation between the demultiplexer and the orchestrator and is
	// dropped at the single chunk egress before SSE serialization.
	ChunkFunctionCall ChunkType = "function_call"
)

// Status values carried by ChunkStatus frames.
const (
	StatusStarted    = "started"
	StatusProcessing = "processing"
	StatusComplete   = "complete"
)

// StreamChunk is a single typed frame produced for a run. Chunks are
// ephemeral: they are fanned out to SSE subscribers and mirrored to Redis
// but never persisted as messages.
type StreamChunk struct {
	Type    ChunkType `json:"type"`
	Content string    `json:"content,omitempty"`
	Status  string    `json:"status,omitempty"`
	RunID   string    `json:"run_id,omitempty"`

	// Function call payload, set only on ChunkFunctionCall frames.
	Name      string         `json:"name,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Visible reports whether the chunk may be forwarded to subscribers.
// Exactly one filter exists, at egress; handlers never filter themselves.
func (c *StreamChunk) Visible() bool {
	return c.Type != ChunkFunctionCall
}

// ContentChunk builds a content frame.
func ContentChunk(text string) *StreamChunk {
	return &StreamChunk{Type: ChunkContent, Content: text}
}

// ReasoningChunk builds a reasoning frame.
func ReasoningChunk(text string) *StreamChunk {
	return &StreamChunk{Type: ChunkReasoning, Content: text}
}

// HotCodeChunk builds a streamed code-interpreter frame.
func HotCodeChunk(text string) *StreamChunk {
	return &StreamChunk{Type: ChunkHotCode, Content: text}
}

// StatusChunk builds a run status frame.
func StatusChunk(status, runID string) *StreamChunk {
	return &StreamChunk{Type: ChunkStatus, Status: status, RunID: runID}
}

// ErrorChunk builds an error frame.
func ErrorChunk(text string) *StreamChunk {
	return &StreamChunk{Type: ChunkError, Content: text}
}
