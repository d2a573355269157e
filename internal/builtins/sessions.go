package builtins

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/tau-run/tau/internal/agent"
	"github.com/tau-run/tau/internal/gate"
	"github.com/tau-run/tau/internal/sessions"
	"github.com/tau-run/tau/pkg/models"
)

// SessionsTools bundles the five session-query/write built-ins, all
// operating over the running agent's own session file plus any peer
// session file reachable under the gate's allowed roots. Grounded on
// internal/tools/sessions/tools.go's resolve-then-query shape, narrowed
// from that file's multi-session database lookups to path-addressed
// session files matching the rewritten branching-DAG store.
type SessionsTools struct {
	Gate        *gate.Gate
	ActiveStore *sessions.Store
	ActivePath  string
}

func (s *SessionsTools) resolve(path string) (*sessions.Store, error) {
	if path == "" || path == s.ActivePath {
		return s.ActiveStore, nil
	}
	canon, err := s.Gate.CheckRead(path, -1)
	if err != nil {
		return nil, err
	}
	return sessions.Load(canon)
}

// ListTool lists branch tips (candidate conversation heads) of a session.
type ListTool struct{ Tools *SessionsTools }

func (t *ListTool) Schema() agent.ToolSchema {
	return agent.ToolSchema{
		Name:        "sessions-list",
		Description: "List the branch tips of a session file.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {"session_path": {"type": "string"}}
		}`),
	}
}

func (t *ListTool) Invoke(ctx context.Context, argsJSON json.RawMessage) (agent.ToolResult, error) {
	var args struct {
		SessionPath string `json:"session_path"`
	}
	_ = json.Unmarshal(argsJSON, &args)
	store, err := t.Tools.resolve(args.SessionPath)
	if err != nil {
		return errorResultWithPath(args.SessionPath, reasonCodeOf(err)), nil
	}
	return okResult(map[string]interface{}{"head_id": store.HeadID(), "branch_tips": store.BranchTips()}), nil
}

// HistoryTool returns the root-to-head message lineage of a session.
type HistoryTool struct{ Tools *SessionsTools }

func (t *HistoryTool) Schema() agent.ToolSchema {
	return agent.ToolSchema{
		Name:        "sessions-history",
		Description: "Fetch the message lineage of a session, root to head.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_path": {"type": "string"},
				"head_id": {"type": "integer"}
			}
		}`),
	}
}

func (t *HistoryTool) Invoke(ctx context.Context, argsJSON json.RawMessage) (agent.ToolResult, error) {
	var args struct {
		SessionPath string  `json:"session_path"`
		HeadID      *uint64 `json:"head_id"`
	}
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return errorResult("invalid arguments: %v", err), nil
	}
	store, err := t.Tools.resolve(args.SessionPath)
	if err != nil {
		return errorResultWithPath(args.SessionPath, reasonCodeOf(err)), nil
	}
	messages, err := store.LineageMessages(args.HeadID)
	if err != nil {
		return errorResult("lineage: %v", err), nil
	}
	return okResult(map[string]interface{}{"messages": messages}), nil
}

// SearchTool substring-searches the text content of a session's lineage.
type SearchTool struct{ Tools *SessionsTools }

func (t *SearchTool) Schema() agent.ToolSchema {
	return agent.ToolSchema{
		Name:        "sessions-search",
		Description: "Search a session's message lineage for a substring.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_path": {"type": "string"},
				"query": {"type": "string"}
			},
			"required": ["query"]
		}`),
	}
}

func (t *SearchTool) Invoke(ctx context.Context, argsJSON json.RawMessage) (agent.ToolResult, error) {
	var args struct {
		SessionPath string `json:"session_path"`
		Query       string `json:"query"`
	}
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return errorResult("invalid arguments: %v", err), nil
	}
	if strings.TrimSpace(args.Query) == "" {
		return errorResult("query is required"), nil
	}
	store, err := t.Tools.resolve(args.SessionPath)
	if err != nil {
		return errorResultWithPath(args.SessionPath, reasonCodeOf(err)), nil
	}
	messages, err := store.LineageMessages(nil)
	if err != nil {
		return errorResult("lineage: %v", err), nil
	}

	var matches []map[string]interface{}
	for i, m := range messages {
		if strings.Contains(m.TextContent(), args.Query) {
			matches = append(matches, map[string]interface{}{"index": i, "role": m.Role, "text": m.TextContent()})
		}
	}
	return okResult(map[string]interface{}{"matches": matches}), nil
}

// StatsTool reports lineage length and branch-tip count.
type StatsTool struct{ Tools *SessionsTools }

func (t *StatsTool) Schema() agent.ToolSchema {
	return agent.ToolSchema{
		Name:        "sessions-stats",
		Description: "Summarize a session's size: lineage length, branch count, head id.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {"session_path": {"type": "string"}}
		}`),
	}
}

func (t *StatsTool) Invoke(ctx context.Context, argsJSON json.RawMessage) (agent.ToolResult, error) {
	var args struct {
		SessionPath string `json:"session_path"`
	}
	_ = json.Unmarshal(argsJSON, &args)
	store, err := t.Tools.resolve(args.SessionPath)
	if err != nil {
		return errorResultWithPath(args.SessionPath, reasonCodeOf(err)), nil
	}
	entries, err := store.LineageEntries(nil)
	if err != nil {
		return errorResult("lineage: %v", err), nil
	}
	return okResult(map[string]interface{}{
		"head_id":      store.HeadID(),
		"lineage_len":  len(entries),
		"branch_count": len(store.BranchTips()),
	}), nil
}

// SendTool appends a user message to a named session file, creating it if
// it does not already exist.
type SendTool struct{ Tools *SessionsTools }

func (t *SendTool) Schema() agent.ToolSchema {
	return agent.ToolSchema{
		Name:        "sessions-send",
		Description: "Append a user message to another session file.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_path": {"type": "string"},
				"message": {"type": "string"}
			},
			"required": ["session_path", "message"]
		}`),
	}
}

func (t *SendTool) Invoke(ctx context.Context, argsJSON json.RawMessage) (agent.ToolResult, error) {
	var args struct {
		SessionPath string `json:"session_path"`
		Message     string `json:"message"`
	}
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return errorResult("invalid arguments: %v", err), nil
	}
	if strings.TrimSpace(args.Message) == "" {
		return errorResult("message is required"), nil
	}

	canon, err := t.Tools.Gate.CheckRead(args.SessionPath, -1)
	if err != nil {
		if _, statErr := os.Stat(args.SessionPath); !os.IsNotExist(statErr) {
			return errorResultWithPath(args.SessionPath, reasonCodeOf(err)), nil
		}
		canon = args.SessionPath
	}

	if err := os.MkdirAll(filepath.Dir(canon), 0o755); err != nil {
		return errorResult("create directory: %v", err), nil
	}
	store, err := sessions.Load(canon)
	if err != nil {
		return errorResult("load session: %v", err), nil
	}

	head := store.HeadID()
	var parentID *uint64
	if head != 0 {
		parentID = &head
	}
	entries, err := store.AppendMessages(parentID, []models.Message{models.NewTextMessage(models.RoleUser, args.Message)})
	if err != nil {
		return errorResult("append message: %v", err), nil
	}
	return okResult(map[string]interface{}{"session_path": canon, "entry_id": entries[len(entries)-1].ID}), nil
}
