package agent

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/tau-run/tau/pkg/models"
)

// pendingCall is one tool_call block awaiting execution.
type pendingCall struct {
	index      int
	toolCallID string
	toolName   string
	argsJSON   json.RawMessage
}

// toolOutcome pairs a pendingCall with its eventual result, keyed by the
// call's position in the batch so results can be flushed in submission
// order regardless of completion order.
type toolOutcome struct {
	pendingCall
	result ToolResult
}

// runToolBatch executes every call in calls with at most maxParallel
// concurrent invocations, each bounded by toolTimeout. Results are returned
// in the same order as calls: the Nth entry is calls[N]'s outcome, never
// whichever call happened to finish Nth. This is the direct descendant of
// the teacher's ExecuteAll, which writes per-goroutine results into a
// pre-sized slice by index instead of appending as results arrive.
func (l *Loop) runToolBatch(ctx context.Context, calls []pendingCall) []toolOutcome {
	outcomes := make([]toolOutcome, len(calls))
	maxParallel := l.cfg.MaxParallelToolCalls
	if maxParallel <= 0 {
		maxParallel = 1
	}

	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup
	for i, call := range calls {
		i, call := i, call
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			l.bus.emit(Event{Kind: EventToolExecutionStart, ToolCallID: call.toolCallID, ToolName: call.toolName, Arguments: call.argsJSON})
			result := l.invokeToolWithTimeout(ctx, call)
			l.bus.emit(Event{Kind: EventToolExecutionEnd, ToolCallID: call.toolCallID, ToolName: call.toolName, Result: &result})

			outcomes[i] = toolOutcome{pendingCall: call, result: result}
		}()
	}
	wg.Wait()
	return outcomes
}

func (l *Loop) invokeToolWithTimeout(ctx context.Context, call pendingCall) (result ToolResult) {
	timeout := l.cfg.ToolTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan ToolResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- ToolResult{Text: `{"error":"tool panicked"}`, IsError: true}
			}
		}()
		done <- l.registry.Invoke(callCtx, call.toolName, call.argsJSON)
	}()

	select {
	case result = <-done:
		return result
	case <-callCtx.Done():
		return ToolResult{Text: `{"error":"tool execution timed out"}`, IsError: true}
	}
}

func toolMessageFromOutcomes(outcomes []toolOutcome) models.Message {
	blocks := make([]models.ContentBlock, 0, len(outcomes))
	for _, o := range outcomes {
		blocks = append(blocks, models.ContentBlock{
			Kind:             models.BlockToolResult,
			ResultToolCallID: o.toolCallID,
			ResultText:       o.result.Text,
			IsError:          o.result.IsError,
		})
	}
	return models.Message{Role: models.RoleTool, Content: blocks}
}
