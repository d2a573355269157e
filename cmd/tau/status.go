package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tau-run/tau/internal/agent"
	"github.com/tau-run/tau/internal/process"
	"github.com/tau-run/tau/internal/status"
)

// statusTool is the "status" built-in every loop registers: it reports
// the running session's cumulative token usage, cost, turn count, and
// uptime, reusing the same Loop.Stats snapshot the CLI status command
// and the RPC run.status response are built from.
type statusTool struct {
	loop       *agent.Loop
	queue      *process.CommandQueue
	sessionKey string
	model      string
}

func (t *statusTool) Schema() agent.ToolSchema {
	return agent.ToolSchema{
		Name:        "status",
		Description: "Report the current session's token usage, cost, turn count, and uptime.",
		Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
	}
}

func (t *statusTool) Invoke(ctx context.Context, argsJSON json.RawMessage) (agent.ToolResult, error) {
	return agent.ToolResult{Text: buildStatusMessage(t.loop, t.queue, t.sessionKey, t.model)}, nil
}

// buildStatusMessage composes a status.StatusArgs from the loop's
// running totals and the command queue's current depth.
func buildStatusMessage(loop *agent.Loop, queue *process.CommandQueue, sessionKey, model string) string {
	stats := loop.Stats()

	var q *status.QueueStatus
	if queue != nil {
		q = &status.QueueStatus{Mode: "sequential", Depth: queue.GetQueueSize()}
	}

	return status.BuildStatusMessage(status.StatusArgs{
		SessionKey:   sessionKey,
		Provider:     "anthropic",
		Model:        model,
		ModelAuth:    "api-key",
		InputTokens:  stats.InputTokens,
		OutputTokens: stats.OutputTokens,
		TotalTokens:  stats.InputTokens + stats.OutputTokens,
		Turn:         stats.Turn,
		StartedAt:    stats.StartedAt,
		Now:          time.Now(),
		Queue:        q,
	})
}

// buildStatusCmd reports the cost/usage status of a freshly built loop
// rather than a ticket's decision (see ticket-status for the latter):
// for a one-shot preflight check it spins up the same resolution chain
// buildLoop does, runs no turns, and prints the zero-activity snapshot.
func buildStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report token usage, cost, turn count, and uptime for a fresh session",
		RunE: func(cmd *cobra.Command, args []string) error {
			loop, _, _, err := buildLoop(0, "")
			if err != nil {
				return err
			}
			model := resolveModel(flags.model, "")
			fmt.Fprintln(cmd.OutOrStdout(), buildStatusMessage(loop, nil, resolvePrincipal(nil, ""), model.ID))
			return nil
		},
	}
}
