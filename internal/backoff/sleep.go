package backoff

import (
	"context"
	"time"
)

// SleepWithContext sleeps for duration, returning early with ctx.Err()
// if ctx is cancelled first. The outbound dispatcher's provider-send
// retries and the agent loop's completion retries both wait on this
// between attempts instead of a bare time.After, so a cancelled turn
// or a shutting-down dispatcher stops waiting immediately.
func SleepWithContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SleepWithBackoff combines ComputeBackoff and SleepWithContext: sleep
// for the attempt's computed backoff duration, or return early on
// context cancellation.
func SleepWithBackoff(ctx context.Context, policy BackoffPolicy, attempt int) error {
	duration := ComputeBackoff(policy, attempt)
	return SleepWithContext(ctx, duration)
}
