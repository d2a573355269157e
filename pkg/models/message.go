// Package models provides the shared data types threaded through every
// Tau component: messages, session entries, channel records, scheduled
// events, route bindings, safety rules, and RPC frames.
package models

import "encoding/json"

// Role identifies the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockKind discriminates the variant held by a ContentBlock.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockToolCall   BlockKind = "tool_call"
	BlockToolResult BlockKind = "tool_result"
)

// ContentBlock is one block of a Message's content. Exactly the fields
// matching Kind are meaningful; the others are zero values.
type ContentBlock struct {
	Kind BlockKind `json:"kind"`

	// BlockText
	Text string `json:"text,omitempty"`

	// BlockToolCall
	ToolCallID   string          `json:"tool_call_id,omitempty"`
	ToolName     string          `json:"tool_name,omitempty"`
	ToolArgsJSON json.RawMessage `json:"tool_arguments,omitempty"`

	// BlockToolResult
	ResultToolCallID string `json:"result_tool_call_id,omitempty"`
	ResultText       string `json:"result_text,omitempty"`
	IsError          bool   `json:"is_error,omitempty"`
}

// Message is one turn's worth of content in the conversation buffer.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// TextContent flattens all BlockText blocks, concatenated in order.
func (m Message) TextContent() string {
	var out string
	for _, b := range m.Content {
		if b.Kind == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolCalls returns the subset of Content that are tool_call blocks.
func (m Message) ToolCalls() []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Content {
		if b.Kind == BlockToolCall {
			out = append(out, b)
		}
	}
	return out
}

// NewTextMessage builds a single-block text message.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Content: []ContentBlock{{Kind: BlockText, Text: text}}}
}

// NewToolCallMessage builds an assistant message carrying tool_call blocks
// plus any accompanying text block.
func NewToolCallMessage(text string, calls ...ContentBlock) Message {
	content := make([]ContentBlock, 0, len(calls)+1)
	if text != "" {
		content = append(content, ContentBlock{Kind: BlockText, Text: text})
	}
	content = append(content, calls...)
	return Message{Role: RoleAssistant, Content: content}
}

// NewToolResultMessage builds a tool message carrying one tool_result block.
func NewToolResultMessage(toolCallID, text string, isError bool) Message {
	return Message{
		Role: RoleTool,
		Content: []ContentBlock{{
			Kind:             BlockToolResult,
			ResultToolCallID: toolCallID,
			ResultText:       text,
			IsError:          isError,
		}},
	}
}
