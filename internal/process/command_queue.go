// Package process serializes concurrent calls into a single agent's turn
// loop: only one prompt() call runs at a time, with later callers queued
// in arrival order until the running one finishes. A CLI's stdin reader,
// an RPC run.prompt request, and a cron-dispatched event all enqueue
// against the same queue so they never race each other's turns onto one
// conversation buffer.
package process

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultWarnAfterMs is the default threshold for warning about long wait times.
const DefaultWarnAfterMs = 2000

// queueEntry is a task waiting to run, paired with the channels its
// caller blocks on for the result.
type queueEntry struct {
	task        func(ctx context.Context) (any, error)
	enqueuedAt  time.Time
	warnAfterMs int
	onWait      func(waitMs int, queuedAhead int)
	resultCh    chan any
	errCh       chan error
}

// EnqueueOptions configures how a task is enqueued.
type EnqueueOptions struct {
	// WarnAfterMs is the threshold in milliseconds for wait time warnings.
	// Defaults to DefaultWarnAfterMs if not set.
	WarnAfterMs int
	// OnWait is called once, when the task has waited longer than WarnAfterMs
	// before starting, so a caller can surface "still queued" feedback.
	OnWait func(waitMs int, queuedAhead int)
	// Context is the context for task execution and cancellation while
	// queued. Defaults to context.Background().
	Context context.Context
}

// CommandQueue runs at most one enqueued task at a time, in FIFO order.
type CommandQueue struct {
	mu     sync.Mutex
	queue  []*queueEntry
	active bool
}

// NewCommandQueue creates an empty CommandQueue.
func NewCommandQueue() *CommandQueue {
	return &CommandQueue{}
}

// pump runs the next queued task if none is currently active.
func (cq *CommandQueue) pump() {
	cq.mu.Lock()
	if cq.active || len(cq.queue) == 0 {
		cq.mu.Unlock()
		return
	}
	entry := cq.queue[0]
	cq.queue = cq.queue[1:]
	queuedAhead := len(cq.queue)
	cq.active = true
	cq.mu.Unlock()

	waitedMs := int(time.Since(entry.enqueuedAt).Milliseconds())
	if waitedMs >= entry.warnAfterMs && entry.onWait != nil {
		entry.onWait(waitedMs, queuedAhead)
	}

	go func() {
		result, err := entry.task(context.Background())

		cq.mu.Lock()
		cq.active = false
		cq.mu.Unlock()

		if err != nil {
			entry.errCh <- err
		} else {
			entry.resultCh <- result
		}

		cq.pump()
	}()
}

// Enqueue adds task to the queue and blocks until it runs and completes,
// or opts.Context is cancelled first (a task already running is not
// interrupted by cancellation; only a still-queued task's wait is cut short).
func Enqueue[T any](cq *CommandQueue, task func(ctx context.Context) (T, error), opts *EnqueueOptions) (T, error) {
	warnAfterMs := DefaultWarnAfterMs
	var onWait func(int, int)
	ctx := context.Context(context.Background())

	if opts != nil {
		if opts.WarnAfterMs > 0 {
			warnAfterMs = opts.WarnAfterMs
		}
		onWait = opts.OnWait
		if opts.Context != nil {
			ctx = opts.Context
		}
	}

	resultCh := make(chan any, 1)
	errCh := make(chan error, 1)

	entry := &queueEntry{
		task:        func(taskCtx context.Context) (any, error) { return task(taskCtx) },
		enqueuedAt:  time.Now(),
		warnAfterMs: warnAfterMs,
		onWait:      onWait,
		resultCh:    resultCh,
		errCh:       errCh,
	}

	cq.mu.Lock()
	cq.queue = append(cq.queue, entry)
	cq.mu.Unlock()

	cq.pump()

	var zero T
	select {
	case result := <-resultCh:
		if result == nil {
			return zero, nil
		}
		typed, ok := result.(T)
		if !ok {
			return zero, fmt.Errorf("unexpected task result type %T", result)
		}
		return typed, nil
	case err := <-errCh:
		return zero, err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// GetQueueSize returns the number of tasks queued plus the one active, if any.
func (cq *CommandQueue) GetQueueSize() int {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	size := len(cq.queue)
	if cq.active {
		size++
	}
	return size
}

// GetActiveTasks returns 1 if a task is currently running, else 0.
func (cq *CommandQueue) GetActiveTasks() int {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	if cq.active {
		return 1
	}
	return 0
}

// GetPendingTasks returns the number of queued (not yet started) tasks.
func (cq *CommandQueue) GetPendingTasks() int {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return len(cq.queue)
}

// Clear removes all queued (but not the active) tasks, returning the
// number removed. Each removed task's Enqueue call returns context.Canceled.
func (cq *CommandQueue) Clear() int {
	cq.mu.Lock()
	removed := len(cq.queue)
	for _, entry := range cq.queue {
		entry.errCh <- context.Canceled
	}
	cq.queue = nil
	cq.mu.Unlock()
	return removed
}
