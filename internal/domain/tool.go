package domain

import (
	"context"
	"encoding/json"
)

// ToolSchema describes a tool for the LLM function-calling protocol.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall represents an LLM's request to invoke a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of executing one tool call.
type ToolResult struct {
	ToolCallID string        `json:"tool_call_id"`
	Content    string        `json:"content"`
	IsError    bool          `json:"is_error"`
	Kind       ToolErrorKind `json:"kind,omitempty"`
}

// Tool is the interface every tool must implement.
//
// Execute receives arguments that already passed schema validation and returns
// the success payload. Failures are reported as errors, preferably
// *ToolError so the caller can tell not-found from timeouts.
type Tool interface {
	Name() string
	Description() string
	Schema() ToolSchema
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// ToolCatalog abstracts tool lookup, listing and argument validation.
type ToolCatalog interface {
	Get(name string) (Tool, error)
	// Schemas returns the catalog in a stable order.
	Schemas() []ToolSchema
	Validate(name string, args json.RawMessage) error
}
