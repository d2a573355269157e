package rpc

import (
	"container/list"
	"sync"

	"github.com/tau-run/tau/internal/agent"
	"github.com/tau-run/tau/pkg/models"
)

// RunStatus is the payload returned for run.status and retained for
// closed runs.
type RunStatus struct {
	RunID string           `json:"run_id"`
	State models.RunState  `json:"state"`
	Error *models.RPCError `json:"error,omitempty"`
	Usage *UsageSummary    `json:"usage,omitempty"`
}

// UsageSummary carries a run's cumulative token/cost/turn counters, for
// runs whose RunLoop exposes them (see StatsReporter).
type UsageSummary struct {
	Turn          int     `json:"turn"`
	InputTokens   int     `json:"input_tokens"`
	OutputTokens  int     `json:"output_tokens"`
	CumulativeUSD float64 `json:"cumulative_usd,omitempty"`
}

// StatsReporter is implemented by a RunLoop that can report its running
// totals. agent.Loop satisfies it; HandleFrame type-asserts for it so
// the engine stays agnostic to loops that don't.
type StatsReporter interface {
	Stats() agent.Stats
}

// runEntry is one run's mutable state, tracked from run.start through
// its terminal transition and into the closed-run retention window.
type runEntry struct {
	status RunStatus
	cancel func()
	loop   RunLoop
}

// statusCache retains a bounded number of closed runs' statuses so a
// run.status request arriving after the terminal transition still
// succeeds, per §4.J. Eviction is FIFO: the oldest closed run is
// dropped once capacity is exceeded, regardless of whether anyone has
// queried it.
type statusCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[string]*list.Element
}

func newStatusCache(capacity int) *statusCache {
	if capacity <= 0 {
		capacity = 256
	}
	return &statusCache{capacity: capacity, order: list.New(), entries: make(map[string]*list.Element)}
}

func (c *statusCache) put(status RunStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[status.RunID]; ok {
		el.Value = status
		c.order.MoveToBack(el)
		return
	}
	el := c.order.PushBack(status)
	c.entries[status.RunID] = el
	for c.order.Len() > c.capacity {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(RunStatus).RunID)
	}
}

func (c *statusCache) get(runID string) (RunStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[runID]
	if !ok {
		return RunStatus{}, false
	}
	return el.Value.(RunStatus), true
}

// runTable tracks in-flight runs and, on terminal transition, moves
// them into the bounded statusCache.
type runTable struct {
	mu     sync.Mutex
	active map[string]*runEntry
	closed *statusCache
}

func newRunTable(closedCapacity int) *runTable {
	return &runTable{active: make(map[string]*runEntry), closed: newStatusCache(closedCapacity)}
}

func (t *runTable) start(runID string, cancel func(), loop RunLoop) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.active[runID]; exists {
		return false
	}
	t.active[runID] = &runEntry{status: RunStatus{RunID: runID, State: models.RunActive}, cancel: cancel, loop: loop}
	return true
}

func (t *runTable) lookup(runID string) (RunStatus, bool) {
	t.mu.Lock()
	if e, ok := t.active[runID]; ok {
		status := e.status
		loop := e.loop
		t.mu.Unlock()
		status.Usage = usageFromLoop(loop)
		return status, true
	}
	t.mu.Unlock()
	return t.closed.get(runID)
}

// usageFromLoop extracts a UsageSummary from loop if it implements
// StatsReporter, or nil otherwise.
func usageFromLoop(loop RunLoop) *UsageSummary {
	reporter, ok := loop.(StatsReporter)
	if !ok {
		return nil
	}
	stats := reporter.Stats()
	return &UsageSummary{
		Turn:          stats.Turn,
		InputTokens:   stats.InputTokens,
		OutputTokens:  stats.OutputTokens,
		CumulativeUSD: stats.CumulativeUSD,
	}
}

func (t *runTable) cancelFunc(runID string) (func(), bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.active[runID]
	if !ok {
		return nil, false
	}
	return e.cancel, true
}

// finish transitions runID to a terminal state and retires it from the
// active table into the closed-run cache.
func (t *runTable) finish(runID string, state models.RunState, rpcErr *models.RPCError) (RunStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.active[runID]
	if !ok {
		return RunStatus{}, false
	}
	status := RunStatus{RunID: runID, State: state, Error: rpcErr, Usage: usageFromLoop(e.loop)}
	delete(t.active, runID)
	t.closed.put(status)
	return status, true
}
