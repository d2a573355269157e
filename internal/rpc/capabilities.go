package rpc

import "github.com/tau-run/tau/pkg/models"

// CapabilitiesVersion is the frozen capabilities document version. Any
// change to the enumerated shape below requires bumping this, not
// editing in place.
const CapabilitiesVersion = "0.1.0"

// Capabilities is the payload returned for a capabilities.request. It is
// a frozen document: capabilities, status values, terminal states, and
// the lifecycle transition table are fixed data, not computed from the
// engine's runtime state.
type Capabilities struct {
	Version        string                `json:"version"`
	SchemaVersion  int                   `json:"schema_version"`
	Statuses       []models.RunState     `json:"statuses"`
	TerminalStates []models.RunState     `json:"terminal_states"`
	Transitions    []LifecycleTransition `json:"transitions"`
	ErrorCodes     []string              `json:"error_codes"`
}

// LifecycleTransition documents one request-kind/response-kind/terminal
// triple from the engine's fixed state table.
type LifecycleTransition struct {
	Request  models.FrameKind `json:"request"`
	Response models.FrameKind `json:"response"`
	Terminal bool             `json:"terminal"`
}

var frozenCapabilities = Capabilities{
	Version:       CapabilitiesVersion,
	SchemaVersion: models.SchemaVersion,
	Statuses: []models.RunState{
		models.RunInactive, models.RunActive, models.RunCancelled,
		models.RunCompleted, models.RunFailed, models.RunTimedOut,
	},
	TerminalStates: []models.RunState{
		models.RunCancelled, models.RunCompleted, models.RunFailed, models.RunTimedOut,
	},
	Transitions: []LifecycleTransition{
		{Request: models.FrameCapabilitiesRequest, Response: models.FrameCapabilitiesResponse},
		{Request: models.FrameRunStart, Response: models.FrameRunAccepted},
		{Request: models.FrameRunCancel, Response: models.FrameRunCancelled, Terminal: true},
		{Request: models.FrameRunComplete, Response: models.FrameRunCompleted, Terminal: true},
		{Request: models.FrameRunFail, Response: models.FrameRunFailed, Terminal: true},
		{Request: models.FrameRunTimeout, Response: models.FrameRunTimedOut, Terminal: true},
		{Request: models.FrameRunStatus, Response: models.FrameRunStatus},
	},
	ErrorCodes: []string{
		"invalid_json", "unsupported_schema", "unsupported_kind",
		"invalid_request_id", "invalid_payload", "io_error", "internal_error",
	},
}

// CurrentCapabilities returns the frozen capabilities document.
func CurrentCapabilities() Capabilities {
	return frozenCapabilities
}
