// Package builtins implements the tool set every agent loop registers by
// default: file read/write/edit, bash, and session queries, all enforced
// through the Path & Policy Gate.
package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tau-run/tau/internal/agent"
	"github.com/tau-run/tau/internal/gate"
)

func errorResult(format string, args ...interface{}) agent.ToolResult {
	msg := fmt.Sprintf(format, args...)
	payload, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return agent.ToolResult{Text: msg, IsError: true}
	}
	return agent.ToolResult{Text: string(payload), IsError: true}
}

func errorResultWithPath(path, reasonCode string) agent.ToolResult {
	payload, _ := json.Marshal(map[string]string{"path": path, "reason_code": reasonCode, "error": reasonCode})
	return agent.ToolResult{Text: string(payload), IsError: true}
}

func okResult(v interface{}) agent.ToolResult {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("encode result: %v", err)
	}
	return agent.ToolResult{Text: string(payload)}
}

func reasonCodeOf(err error) string {
	var coder gate.ReasonCoder
	if coderErr, ok := err.(gate.ReasonCoder); ok {
		coder = coderErr
	}
	if coder == nil {
		return ""
	}
	return coder.ReasonCode()
}

// ReadTool reads a file subject to the gate's allowed-roots and
// max-file-read-bytes checks. Grounded on internal/tools/files/read.go's
// offset/max_bytes/truncation shape.
type ReadTool struct {
	Gate *gate.Gate
}

func (t *ReadTool) Schema() agent.ToolSchema {
	return agent.ToolSchema{
		Name:        "read",
		Description: "Read a file's contents.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "File path to read."}
			},
			"required": ["path"]
		}`),
	}
}

func (t *ReadTool) Invoke(ctx context.Context, argsJSON json.RawMessage) (agent.ToolResult, error) {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return errorResult("invalid arguments: %v", err), nil
	}
	if strings.TrimSpace(args.Path) == "" {
		return errorResult("path is required"), nil
	}

	info, statErr := os.Stat(args.Path)
	size := int64(-1)
	if statErr == nil {
		size = info.Size()
	}

	canon, err := t.Gate.CheckRead(args.Path, size)
	if err != nil {
		return errorResultWithPath(args.Path, reasonCodeOf(err)), nil
	}

	content, err := os.ReadFile(canon)
	if err != nil {
		return errorResult("open file: %v", err), nil
	}
	return okResult(map[string]interface{}{"path": args.Path, "content": string(content)}), nil
}

// WriteTool writes a file subject to the gate's write checks and approval
// ticket protocol. Grounded on internal/tools/files/write.go's
// create-parent-dirs + O_TRUNC write.
type WriteTool struct {
	Gate      *gate.Gate
	Principal string
}

func (t *WriteTool) Schema() agent.ToolSchema {
	return agent.ToolSchema{
		Name:        "write",
		Description: "Write content to a file, creating it (and parent directories) if necessary.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string"},
				"content": {"type": "string"}
			},
			"required": ["path", "content"]
		}`),
	}
}

func (t *WriteTool) Invoke(ctx context.Context, argsJSON json.RawMessage) (agent.ToolResult, error) {
	var args struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return errorResult("invalid arguments: %v", err), nil
	}
	if strings.TrimSpace(args.Path) == "" {
		return errorResult("path is required"), nil
	}

	canon, decision, err := t.Gate.CheckWrite(t.Principal, args.Path, int64(len(args.Content)))
	if err != nil {
		return errorResultWithPath(args.Path, reasonCodeOf(err)), nil
	}
	if !decision.Allow {
		return okResult(map[string]interface{}{"path": args.Path, "reason_code": decision.ReasonCode, "ticket_id": decision.TicketID}), nil
	}

	if err := os.MkdirAll(filepath.Dir(canon), 0o755); err != nil {
		return errorResult("create directory: %v", err), nil
	}
	if err := os.WriteFile(canon, []byte(args.Content), 0o644); err != nil {
		return errorResult("write file: %v", err), nil
	}
	return okResult(map[string]interface{}{"path": args.Path, "bytes_written": len(args.Content)}), nil
}

// EditTool applies a single find/replace to a file. Grounded on
// internal/tools/files/edit.go, narrowed from that file's multi-edit batch
// shape to the single find/replace/all the spec names.
type EditTool struct {
	Gate      *gate.Gate
	Principal string
}

func (t *EditTool) Schema() agent.ToolSchema {
	return agent.ToolSchema{
		Name:        "edit",
		Description: "Replace text within a file.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string"},
				"find": {"type": "string"},
				"replace": {"type": "string"},
				"all": {"type": "boolean"}
			},
			"required": ["path", "find", "replace"]
		}`),
	}
}

func (t *EditTool) Invoke(ctx context.Context, argsJSON json.RawMessage) (agent.ToolResult, error) {
	var args struct {
		Path    string `json:"path"`
		Find    string `json:"find"`
		Replace string `json:"replace"`
		All     bool   `json:"all"`
	}
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return errorResult("invalid arguments: %v", err), nil
	}
	if args.Find == "" {
		return errorResult("find must not be empty"), nil
	}

	canon, err := t.Gate.CheckRead(args.Path, -1)
	if err != nil {
		return errorResultWithPath(args.Path, reasonCodeOf(err)), nil
	}
	data, err := os.ReadFile(canon)
	if err != nil {
		return errorResult("read file: %v", err), nil
	}
	content := string(data)
	if !strings.Contains(content, args.Find) {
		return errorResult("find text not found in file"), nil
	}

	var replacements int
	if args.All {
		replacements = strings.Count(content, args.Find)
		content = strings.ReplaceAll(content, args.Find, args.Replace)
	} else {
		replacements = 1
		content = strings.Replace(content, args.Find, args.Replace, 1)
	}

	_, decision, err := t.Gate.CheckWrite(t.Principal, args.Path, int64(len(content)))
	if err != nil {
		return errorResultWithPath(args.Path, reasonCodeOf(err)), nil
	}
	if !decision.Allow {
		return okResult(map[string]interface{}{"path": args.Path, "reason_code": decision.ReasonCode, "ticket_id": decision.TicketID}), nil
	}

	if err := os.WriteFile(canon, []byte(content), 0o644); err != nil {
		return errorResult("write file: %v", err), nil
	}
	return okResult(map[string]interface{}{"path": args.Path, "replacements": replacements}), nil
}
