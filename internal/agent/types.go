// Package agent runs bounded LLM turn loops: it builds chat requests from
// the conversation buffer, invokes an LlmClient with retry/backoff, routes
// tool calls to a ToolRegistry with bounded parallelism, and emits a fixed
// taxonomy of lifecycle events to subscribers.
package agent

import (
	"context"
	"encoding/json"

	"github.com/tau-run/tau/pkg/models"
)

// Usage reports token accounting for one completion.
type Usage struct {
	InputTokens  int `json:"input"`
	OutputTokens int `json:"output"`
	TotalTokens  int `json:"total"`
}

// ToolSchema describes one tool's calling convention to the LLM.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ChatRequest is what the loop hands to an LlmClient for one turn.
type ChatRequest struct {
	Model       string
	System      string
	Messages    []models.Message
	Tools       []ToolSchema
	Temperature *float64
	MaxTokens   *int
}

// ChatResponse is one turn's completion.
type ChatResponse struct {
	Message models.Message
	Usage   Usage
}

// DeltaHandler receives incremental text as a streamed completion arrives.
// It may be nil, in which case the client should not stream.
type DeltaHandler func(text string)

// LlmClient is the model-facing half of the loop. Implementations wrap a
// provider SDK (OpenAI-compatible, Bedrock, etc).
type LlmClient interface {
	CompleteWithStream(ctx context.Context, req ChatRequest, onDelta DeltaHandler) (ChatResponse, error)
}

// ToolResult is what a Tool invocation produces, prior to being wrapped
// into a tool_result content block.
type ToolResult struct {
	Text    string
	IsError bool
}

// Tool is one callable tool, identified by the name it's registered under.
type Tool interface {
	Schema() ToolSchema
	Invoke(ctx context.Context, argsJSON json.RawMessage) (ToolResult, error)
}

// ToolRegistry resolves tool names to Tool implementations, lists schemas
// for inclusion in a ChatRequest, and validates+invokes by name producing
// an error-shaped ToolResult rather than a Go error for bad input.
type ToolRegistry interface {
	Lookup(name string) (Tool, bool)
	Schemas() []ToolSchema
	Register(tool Tool)
	Invoke(ctx context.Context, name string, argsJSON json.RawMessage) ToolResult
}
