// Package cron implements the Event Scheduler: discovery of on-disk event
// definitions, due evaluation for immediate/at/periodic schedules, a
// cooperative tick-driven dispatch loop, and offline diagnostics.
package cron

import (
	"context"
	"time"

	"github.com/tau-run/tau/pkg/models"
)

// EventRunner executes one due event definition.
type EventRunner interface {
	RunEvent(ctx context.Context, def models.EventDefinition, now time.Time) error
}

// EventRunnerFunc adapts a function to an EventRunner.
type EventRunnerFunc func(ctx context.Context, def models.EventDefinition, now time.Time) error

func (f EventRunnerFunc) RunEvent(ctx context.Context, def models.EventDefinition, now time.Time) error {
	return f(ctx, def, now)
}

// DueEvaluation is one definition's due-or-not verdict, used both by the
// live dispatch loop and by the offline diagnostics.
type DueEvaluation struct {
	Definition models.EventDefinition `json:"definition"`
	Due        bool                   `json:"due"`
	Reason     models.DueReason       `json:"reason"`
	NextRun    time.Time              `json:"next_run,omitempty"`
}

// state is the on-disk last_run_unix_ms ledger, one entry per event id.
type state struct {
	LastRun map[string]int64 `json:"last_run_unix_ms"`
}
