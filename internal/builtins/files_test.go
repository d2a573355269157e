package builtins

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tau-run/tau/internal/gate"
)

func newTestGate(t *testing.T, roots ...string) *gate.Gate {
	t.Helper()
	policy := gate.DefaultPolicy()
	policy.AllowedRoots = roots
	g, err := gate.New(policy, nil, nil)
	require.NoError(t, err)
	return g
}

func TestReadToolReturnsFileContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hello.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi there"), 0o644))

	tool := &ReadTool{Gate: newTestGate(t, dir)}
	result, err := tool.Invoke(context.Background(), mustJSON(t, map[string]string{"path": path}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Contains(t, result.Text, "hi there")
}

func TestReadToolRejectsPathOutsideRoots(t *testing.T) {
	dir := t.TempDir()
	outside := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("nope"), 0o644))

	tool := &ReadTool{Gate: newTestGate(t, dir)}
	result, err := tool.Invoke(context.Background(), mustJSON(t, map[string]string{"path": outside}))
	require.NoError(t, err)
	require.True(t, result.IsError)
}

func TestWriteToolCreatesFileAndParentDirs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.txt")

	tool := &WriteTool{Gate: newTestGate(t, dir)}
	result, err := tool.Invoke(context.Background(), mustJSON(t, map[string]string{"path": path, "content": "payload"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
}

func TestEditToolReplacesFirstOccurrenceOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("foo foo foo"), 0o644))

	tool := &EditTool{Gate: newTestGate(t, dir)}
	result, err := tool.Invoke(context.Background(), mustJSON(t, map[string]interface{}{
		"path": path, "find": "foo", "replace": "bar",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "bar foo foo", string(data))
}

func TestEditToolReplaceAllReplacesEveryOccurrence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("foo foo foo"), 0o644))

	tool := &EditTool{Gate: newTestGate(t, dir)}
	result, err := tool.Invoke(context.Background(), mustJSON(t, map[string]interface{}{
		"path": path, "find": "foo", "replace": "bar", "all": true,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "bar bar bar", string(data))
}

func TestEditToolRejectsMissingFindText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	tool := &EditTool{Gate: newTestGate(t, dir)}
	result, err := tool.Invoke(context.Background(), mustJSON(t, map[string]interface{}{
		"path": path, "find": "absent", "replace": "x",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
}

func TestEditToolRejectsEmptyFind(t *testing.T) {
	tool := &EditTool{Gate: newTestGate(t, t.TempDir())}
	result, err := tool.Invoke(context.Background(), mustJSON(t, map[string]interface{}{
		"path": "x", "find": "", "replace": "x",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
