package models

import "encoding/json"

// Tool describes a callable function exposed to the model, in the
// OpenAI-compatible wire shape.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction is the function payload of a Tool.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Platform tool names. Tools with these names are executed inside the
// gateway process (or over its sandbox sockets); everything else is a
// consumer tool fulfilled by the caller.
const (
	ToolCodeInterpreter   = "code_interpreter"
	ToolWebSearch         = "web_search"
	ToolVectorStoreSearch = "vector_store_search"
	ToolComputer          = "computer"
)

// IsPlatformTool reports whether name belongs to the fixed platform set.
func IsPlatformTool(name string) bool {
	switch name {
	case ToolCodeInterpreter, ToolWebSearch, ToolVectorStoreSearch, ToolComputer:
		return true
	}
	return false
}

// Assistant is the immutable-for-a-run configuration a run executes under:
// unified model id, instructions, tool list, and optional attached vector
// stores.
type Assistant struct {
	ID             string   `json:"id"`
	Name           string   `json:"name,omitempty"`
	Model          string   `json:"model"`
	Instructions   string   `json:"instructions,omitempty"`
	Tools          []Tool   `json:"tools,omitempty"`
	VectorStoreIDs []string `json:"vector_store_ids,omitempty"`
}

// ToolByName returns the assistant's tool with the given function name.
func (a *Assistant) ToolByName(name string) (Tool, bool) {
	for _, t := range a.Tools {
		if t.Function.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// VectorStore is metadata for a vector index attached to an assistant.
// The index itself lives in an external Qdrant-style server.
type VectorStore struct {
	ID             string `json:"id"`
	Name           string `json:"name,omitempty"`
	CollectionName string `json:"collection_name"`
}
