package rpc

import (
	"context"
	"encoding/json"

	"github.com/tau-run/tau/internal/agent"
	"github.com/tau-run/tau/pkg/models"
)

// Config holds the Engine's construction inputs.
type Config struct {
	// ClosedRunStatusCapacity bounds the retained-status cache
	// (RPC_SERVE_CLOSED_RUN_STATUS_CAPACITY). Zero uses a default.
	ClosedRunStatusCapacity int
}

// RunStartPayload is the run.start request payload.
type RunStartPayload struct {
	RunID string `json:"run_id"`
	Text  string `json:"text"`
}

// RunIDPayload is the payload shape shared by run.cancel, run.complete,
// run.fail, run.timeout, and run.status: every one of them just names a
// run_id.
type RunIDPayload struct {
	RunID string `json:"run_id"`
}

// StreamToolEventsPayload carries one agent tool-execution event onto
// the wire between run.accepted and a terminal transition.
type StreamToolEventsPayload struct {
	RunID      string          `json:"run_id"`
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	Result     string          `json:"result,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
}

// StreamAssistantTextPayload carries one increment of assistant text.
// IsFinal is true exactly once per run, on the frame emitted alongside
// the terminal transition.
type StreamAssistantTextPayload struct {
	RunID   string `json:"run_id"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

// RunLoop is the subset of agent.Loop the engine drives per run. A
// fresh Loop (or a Loop scoped to one session) is handed to HandleFrame
// via the LoopFor callback so the engine stays agent-agnostic.
type RunLoop interface {
	Subscribe(fn agent.Subscriber)
	PromptWithStream(ctx context.Context, text string, onDelta agent.DeltaHandler) ([]models.Message, error)
}

// LoopFor resolves a run_id to the Loop that should execute it.
type LoopFor func(runID string) (RunLoop, error)

// Engine drives the NDJSON RPC protocol: it decodes frames, advances
// the per-run_id lifecycle state machine, and writes response and
// stream frames back out. It is transport-agnostic — Serve is handed a
// FrameReader/FrameWriter pair that may sit over a socket, a pipe, or
// an in-process io.Pipe.
type Engine struct {
	cfg     Config
	loopFor LoopFor
	runs    *runTable
}

// New constructs an Engine. loopFor resolves each run.start's run_id to
// the Loop instance that should execute it.
func New(cfg Config, loopFor LoopFor) *Engine {
	return &Engine{cfg: cfg, loopFor: loopFor, runs: newRunTable(cfg.ClosedRunStatusCapacity)}
}

// Serve reads frames from r until EOF or ctx is cancelled, dispatching
// each to HandleFrame and writing every response/stream frame it
// produces to w.
func (e *Engine) Serve(ctx context.Context, r *FrameReader, w *FrameWriter) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, rpcErr, err := r.ReadFrame()
		if err != nil {
			return err
		}
		if rpcErr != nil {
			_ = w.WriteFrame(errorFrame("", rpcErr))
			continue
		}
		for _, out := range e.HandleFrame(ctx, frame, w) {
			if werr := w.WriteFrame(out); werr != nil {
				return werr
			}
		}
	}
}

// HandleFrame advances the state machine for one inbound frame and
// returns the response frame(s) to write. run.start additionally
// spawns a background goroutine that streams tool/assistant events
// through w directly (so HandleFrame returns only the immediate
// run.accepted acknowledgement for that case).
func (e *Engine) HandleFrame(ctx context.Context, frame models.Frame, w *FrameWriter) []models.Frame {
	if frame.SchemaVersion != models.SchemaVersion {
		return []models.Frame{errorFrame(frame.RequestID, &models.RPCError{
			Code:        "unsupported_schema",
			Category:    models.ErrorCategoryCompatibility,
			Description: "engine speaks schema_version 1",
			RequestID:   frame.RequestID,
		})}
	}

	switch frame.Kind {
	case models.FrameCapabilitiesRequest:
		return []models.Frame{responseFrame(models.FrameCapabilitiesResponse, frame.RequestID, CurrentCapabilities())}
	case models.FrameRunStart:
		return e.handleRunStart(ctx, frame, w)
	case models.FrameRunCancel:
		return e.handleTerminal(frame, models.FrameRunCancel, models.FrameRunCancelled, models.RunCancelled, true)
	case models.FrameRunComplete:
		return e.handleTerminal(frame, models.FrameRunComplete, models.FrameRunCompleted, models.RunCompleted, false)
	case models.FrameRunFail:
		return e.handleTerminal(frame, models.FrameRunFail, models.FrameRunFailed, models.RunFailed, false)
	case models.FrameRunTimeout:
		return e.handleTerminal(frame, models.FrameRunTimeout, models.FrameRunTimedOut, models.RunTimedOut, true)
	case models.FrameRunStatus:
		return e.handleRunStatus(frame)
	default:
		return []models.Frame{errorFrame(frame.RequestID, &models.RPCError{
			Code:        "unsupported_kind",
			Category:    models.ErrorCategoryValidation,
			Description: "unrecognized frame kind: " + string(frame.Kind),
			RequestID:   frame.RequestID,
		})}
	}
}

func (e *Engine) handleRunStart(ctx context.Context, frame models.Frame, w *FrameWriter) []models.Frame {
	var payload RunStartPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil || payload.RunID == "" {
		return []models.Frame{errorFrame(frame.RequestID, &models.RPCError{
			Code: "invalid_payload", Category: models.ErrorCategoryValidation,
			Description: "run.start requires a non-empty run_id", RequestID: frame.RequestID,
		})}
	}

	loop, err := e.loopFor(payload.RunID)
	if err != nil {
		return []models.Frame{errorFrame(frame.RequestID, &models.RPCError{
			Code: "internal_error", Category: models.ErrorCategoryInternal,
			Description: err.Error(), RequestID: frame.RequestID,
		})}
	}

	runCtx, cancel := context.WithCancel(ctx)
	if !e.runs.start(payload.RunID, cancel, loop) {
		cancel()
		return []models.Frame{errorFrame(frame.RequestID, &models.RPCError{
			Code: "invalid_request_id", Category: models.ErrorCategoryValidation,
			Description: "run_id already active: " + payload.RunID, RequestID: frame.RequestID,
		})}
	}

	go e.runLoop(runCtx, payload.RunID, payload.Text, loop, w)

	return []models.Frame{responseFrame(models.FrameRunAccepted, frame.RequestID, RunStatus{RunID: payload.RunID, State: models.RunActive})}
}

// runLoop drives one run to completion in the background, streaming
// tool_events/assistant_text frames and finally writing the one
// terminal frame the state machine owes this run.
func (e *Engine) runLoop(ctx context.Context, runID, text string, loop RunLoop, w *FrameWriter) {
	loop.Subscribe(func(ev agent.Event) {
		switch ev.Kind {
		case agent.EventToolExecutionEnd:
			result, isError := "", false
			if ev.Result != nil {
				result, isError = ev.Result.Text, ev.Result.IsError
			}
			_ = w.WriteFrame(streamFrame(models.FrameStreamToolEvents, StreamToolEventsPayload{
				RunID: runID, ToolCallID: ev.ToolCallID, ToolName: ev.ToolName,
				Arguments: ev.Arguments, Result: result, IsError: isError,
			}))
		case agent.EventMessageAdded:
			if ev.Message.Role == models.RoleAssistant {
				if text := ev.Message.TextContent(); text != "" {
					_ = w.WriteFrame(streamFrame(models.FrameStreamAssistantText, StreamAssistantTextPayload{
						RunID: runID, Text: text,
					}))
				}
			}
		}
	})

	_, err := loop.PromptWithStream(ctx, text, nil)

	_ = w.WriteFrame(streamFrame(models.FrameStreamAssistantText, StreamAssistantTextPayload{RunID: runID, IsFinal: true}))

	if err != nil {
		rpcErr := &models.RPCError{Code: "internal_error", Category: models.ErrorCategoryInternal, Description: err.Error()}
		status, _ := e.runs.finish(runID, models.RunFailed, rpcErr)
		_ = w.WriteFrame(responseFrame(models.FrameRunFailed, "", status))
		return
	}
	status, _ := e.runs.finish(runID, models.RunCompleted, nil)
	_ = w.WriteFrame(responseFrame(models.FrameRunCompleted, "", status))
}

func (e *Engine) handleTerminal(frame models.Frame, reqKind, respKind models.FrameKind, state models.RunState, cancelRun bool) []models.Frame {
	var payload RunIDPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil || payload.RunID == "" {
		return []models.Frame{errorFrame(frame.RequestID, &models.RPCError{
			Code: "invalid_payload", Category: models.ErrorCategoryValidation,
			Description: string(reqKind) + " requires a non-empty run_id", RequestID: frame.RequestID,
		})}
	}

	if cancelRun {
		if cancel, ok := e.runs.cancelFunc(payload.RunID); ok {
			cancel()
		}
	}

	status, ok := e.runs.finish(payload.RunID, state, nil)
	if !ok {
		return []models.Frame{errorFrame(frame.RequestID, &models.RPCError{
			Code: "invalid_request_id", Category: models.ErrorCategoryValidation,
			Description: "no active run: " + payload.RunID, RequestID: frame.RequestID,
		})}
	}
	return []models.Frame{responseFrame(respKind, frame.RequestID, status)}
}

func (e *Engine) handleRunStatus(frame models.Frame) []models.Frame {
	var payload RunIDPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil || payload.RunID == "" {
		return []models.Frame{errorFrame(frame.RequestID, &models.RPCError{
			Code: "invalid_payload", Category: models.ErrorCategoryValidation,
			Description: "run.status requires a non-empty run_id", RequestID: frame.RequestID,
		})}
	}
	status, ok := e.runs.lookup(payload.RunID)
	if !ok {
		return []models.Frame{errorFrame(frame.RequestID, &models.RPCError{
			Code: "invalid_request_id", Category: models.ErrorCategoryValidation,
			Description: "unknown run: " + payload.RunID, RequestID: frame.RequestID,
		})}
	}
	return []models.Frame{responseFrame(models.FrameRunStatus, frame.RequestID, status)}
}

func responseFrame(kind models.FrameKind, requestID string, payload any) models.Frame {
	return models.Frame{SchemaVersion: models.SchemaVersion, Kind: kind, RequestID: requestID, Payload: MustPayload(payload)}
}

func streamFrame(kind models.FrameKind, payload any) models.Frame {
	return models.Frame{SchemaVersion: models.SchemaVersion, Kind: kind, Payload: MustPayload(payload)}
}

func errorFrame(requestID string, rpcErr *models.RPCError) models.Frame {
	rpcErr.RequestID = requestID
	return models.Frame{SchemaVersion: models.SchemaVersion, Kind: models.FrameError, RequestID: requestID, Payload: MustPayload(rpcErr)}
}
