package rpc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tau-run/tau/pkg/models"
)

func TestRunTableStartRejectsDuplicateRunID(t *testing.T) {
	rt := newRunTable(10)
	require.True(t, rt.start("run-1", func() {}, nil))
	require.False(t, rt.start("run-1", func() {}, nil))
}

func TestRunTableLookupFindsActiveRun(t *testing.T) {
	rt := newRunTable(10)
	rt.start("run-1", func() {}, nil)
	status, ok := rt.lookup("run-1")
	require.True(t, ok)
	require.Equal(t, models.RunActive, status.State)
}

func TestRunTableFinishMovesRunToClosedCache(t *testing.T) {
	rt := newRunTable(10)
	rt.start("run-1", func() {}, nil)
	_, ok := rt.finish("run-1", models.RunCompleted, nil)
	require.True(t, ok)

	status, found := rt.lookup("run-1")
	require.True(t, found)
	require.Equal(t, models.RunCompleted, status.State)

	_, stillActive := rt.cancelFunc("run-1")
	require.False(t, stillActive)
}

func TestRunTableFinishUnknownRunFails(t *testing.T) {
	rt := newRunTable(10)
	_, ok := rt.finish("ghost", models.RunCompleted, nil)
	require.False(t, ok)
}

func TestStatusCacheEvictsOldestOnceCapacityExceeded(t *testing.T) {
	c := newStatusCache(2)
	c.put(RunStatus{RunID: "a", State: models.RunCompleted})
	c.put(RunStatus{RunID: "b", State: models.RunCompleted})
	c.put(RunStatus{RunID: "c", State: models.RunCompleted})

	_, ok := c.get("a")
	require.False(t, ok, "oldest entry should have been evicted")

	_, ok = c.get("b")
	require.True(t, ok)
	_, ok = c.get("c")
	require.True(t, ok)
}

func TestStatusCacheDefaultsCapacityWhenZero(t *testing.T) {
	c := newStatusCache(0)
	require.Equal(t, 256, c.capacity)
}
