package main

import (
	"context"
	"time"

	"github.com/tau-run/tau/internal/agent"
	"github.com/tau-run/tau/internal/audit"
)

// subscribeAuditLog attaches a stderr JSON audit logger to loop,
// recording every tool invocation and completion under sessionKey so a
// deployment can reconstruct what an agent run actually did.
func subscribeAuditLog(loop *agent.Loop, sessionKey string) error {
	logger, err := audit.NewLogger(audit.Config{
		Enabled:           true,
		Level:             audit.LevelInfo,
		Format:            audit.FormatJSON,
		Output:            "stderr",
		IncludeToolInput:  true,
		IncludeToolOutput: true,
	})
	if err != nil {
		return err
	}

	started := make(map[string]time.Time)
	loop.Subscribe(func(ev agent.Event) {
		ctx := context.Background()
		switch ev.Kind {
		case agent.EventToolExecutionStart:
			started[ev.ToolCallID] = time.Now()
			logger.LogToolInvocation(ctx, ev.ToolName, ev.ToolCallID, ev.Arguments, sessionKey)
		case agent.EventToolExecutionEnd:
			duration := time.Since(started[ev.ToolCallID])
			delete(started, ev.ToolCallID)
			success := ev.Result == nil || !ev.Result.IsError
			output := ""
			if ev.Result != nil {
				output = ev.Result.Text
			}
			logger.LogToolCompletion(ctx, ev.ToolName, ev.ToolCallID, success, output, duration, sessionKey)
		}
	})
	return nil
}
