package agent

import (
	"encoding/json"

	"github.com/tau-run/tau/pkg/models"
)

// EventKind discriminates the exact seven lifecycle events the loop emits.
type EventKind string

const (
	EventAgentStart         EventKind = "agent_start"
	EventAgentEnd           EventKind = "agent_end"
	EventTurnStart          EventKind = "turn_start"
	EventTurnEnd            EventKind = "turn_end"
	EventMessageAdded       EventKind = "message_added"
	EventToolExecutionStart EventKind = "tool_execution_start"
	EventToolExecutionEnd   EventKind = "tool_execution_end"
)

// Event is the single type carried to every Subscriber; only the fields
// relevant to Kind are populated.
type Event struct {
	Kind EventKind `json:"kind"`

	// AgentEnd
	NewMessages []models.Message `json:"new_messages,omitempty"`

	// TurnStart, TurnEnd
	Turn int `json:"turn,omitempty"`

	// TurnEnd
	ToolResults int   `json:"tool_results,omitempty"`
	Usage       Usage `json:"usage,omitempty"`

	// MessageAdded
	Message models.Message `json:"message,omitempty"`

	// ToolExecutionStart, ToolExecutionEnd
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	Result     *ToolResult     `json:"result,omitempty"`
}

// Subscriber receives every Event the loop emits, in order.
type Subscriber func(Event)

type eventBus struct {
	subscribers []Subscriber
}

func (b *eventBus) subscribe(fn Subscriber) {
	b.subscribers = append(b.subscribers, fn)
}

func (b *eventBus) emit(ev Event) {
	for _, fn := range b.subscribers {
		fn(ev)
	}
}
