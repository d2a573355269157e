package builtins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/tau-run/tau/internal/agent"
	tauexec "github.com/tau-run/tau/internal/exec"
	"github.com/tau-run/tau/internal/gate"
)

// secretPatterns redacts common credential shapes from tool output before
// it reaches the model or the channel log.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password)\s*[:=]\s*\S+`),
	regexp.MustCompile(`sk-[A-Za-z0-9]{16,}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]{10,}`),
}

func redact(s string) (string, bool) {
	redacted := false
	for _, p := range secretPatterns {
		if p.MatchString(s) {
			redacted = true
			s = p.ReplaceAllString(s, "[redacted]")
		}
	}
	return s, redacted
}

// limitedBuffer caps retained output at max bytes, silently discarding the
// remainder. Grounded on internal/tools/exec/manager.go's limitedBuffer.
type limitedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max > 0 && b.buf.Len() >= b.max {
		b.truncated = true
		return len(p), nil
	}
	remaining := b.max - b.buf.Len()
	if b.max > 0 && len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *limitedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

// BashTool executes shell commands subject to the gate's command checks,
// optional OS sandboxing, output redaction, and byte truncation.
type BashTool struct {
	Gate           *gate.Gate
	Principal      string
	Policy         gate.Policy
	DefaultTimeout time.Duration
}

func (t *BashTool) Schema() agent.ToolSchema {
	return agent.ToolSchema{
		Name:        "bash",
		Description: "Run a shell command.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {"type": "string"},
				"cwd": {"type": "string"},
				"timeout_ms": {"type": "integer"}
			},
			"required": ["command"]
		}`),
	}
}

func (t *BashTool) Invoke(ctx context.Context, argsJSON json.RawMessage) (agent.ToolResult, error) {
	var args struct {
		Command   string `json:"command"`
		Cwd       string `json:"cwd"`
		TimeoutMS int64  `json:"timeout_ms"`
	}
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return errorResult("invalid arguments: %v", err), nil
	}

	decision, err := t.Gate.CheckCommand(t.Principal, args.Command)
	if err != nil {
		return okResult(map[string]interface{}{"reason_code": reasonCodeOf(err), "error": err.Error()}), nil
	}
	if !decision.Allow {
		return okResult(map[string]interface{}{"reason_code": decision.ReasonCode, "ticket_id": decision.TicketID}), nil
	}

	if args.Cwd != "" {
		if _, err := t.Gate.CheckRead(args.Cwd, -1); err != nil {
			return errorResultWithPath(args.Cwd, reasonCodeOf(err)), nil
		}
	}

	command, sandboxed, err := t.wrapForSandbox(args.Command, args.Cwd)
	if err != nil {
		return errorResult("%v", err), nil
	}

	timeout := t.DefaultTimeout
	if args.TimeoutMS > 0 {
		timeout = time.Duration(args.TimeoutMS) * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	if args.Cwd != "" {
		cmd.Dir = args.Cwd
	}

	maxOut := int(t.Policy.MaxToolOutputBytes)
	stdout := &limitedBuffer{max: maxOut}
	stderr := &limitedBuffer{max: maxOut}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	runErr := cmd.Run()
	timedOut := runCtx.Err() == context.DeadlineExceeded

	outText, outRedacted := redact(stdout.String())
	errText, errRedacted := redact(stderr.String())

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else if !timedOut {
			exitCode = -1
		}
	}

	return okResult(map[string]interface{}{
		"stdout":     outText,
		"stderr":     errText,
		"exit_code":  exitCode,
		"timed_out":  timedOut,
		"truncated":  stdout.Truncated() || stderr.Truncated(),
		"redacted":   outRedacted || errRedacted,
		"sandboxed":  sandboxed,
	}), nil
}

// wrapForSandbox substitutes {shell}/{command}/{cwd} into the configured
// sandbox_command_template when the policy calls for it. sandbox_policy_mode
// "required" with no template configured fails closed. cwd is validated
// with internal/exec.SanitizeExecutableValue first: it is substituted into
// the template unescaped, so an unsanitized cwd carrying shell
// metacharacters would let the sandboxed command break out of its own
// argument before ever reaching the inner /bin/sh -c.
func (t *BashTool) wrapForSandbox(command, cwd string) (string, bool, error) {
	mode := t.Policy.OSSandboxMode
	if mode == "" {
		mode = gate.SandboxAuto
	}
	if mode == gate.SandboxOff {
		return command, false, nil
	}

	template := t.Policy.SandboxCommandTemplate
	if len(template) == 0 {
		if t.Policy.SandboxPolicyMode == gate.SandboxRequired {
			return "", false, fmt.Errorf("sandbox required but no sandbox_command_template configured")
		}
		return command, false, nil
	}

	if cwd != "" {
		sanitizedCwd, err := tauexec.SanitizeExecutableValue(cwd)
		if err != nil {
			return "", false, fmt.Errorf("unsafe cwd for sandboxed command: %w", err)
		}
		cwd = sanitizedCwd
	}

	wrapped := make([]string, len(template))
	for i, part := range template {
		part = strings.ReplaceAll(part, "{shell}", "/bin/sh")
		part = strings.ReplaceAll(part, "{command}", command)
		part = strings.ReplaceAll(part, "{cwd}", cwd)
		wrapped[i] = part
	}
	return strings.Join(wrapped, " "), true, nil
}
