package router

import (
	"regexp"
	"strings"

	"github.com/tau-run/tau/pkg/models"
)

// ActivationCommandResult is the outcome of parsing a "/tau activation
// <mode>" command out of a group message, generalizing the teacher's
// bot-specific "/activation" slash command.
type ActivationCommandResult struct {
	HasCommand bool
	Mode       string
}

var activationCommandRegex = regexp.MustCompile(`(?i)^/tau\s+activation(?:\s*:\s*|\s+)?([a-zA-Z]*)\s*$`)

// ParseActivationCommand detects a "/tau activation <mention|always>"
// override. Unrecognized modes report HasCommand=true with an empty Mode,
// matching the teacher's "valid command, unrecognized mode" handling.
func ParseActivationCommand(raw string) ActivationCommandResult {
	trimmed := normalizeCommandBody(raw)
	if trimmed == "" {
		return ActivationCommandResult{}
	}
	match := activationCommandRegex.FindStringSubmatch(trimmed)
	if match == nil {
		return ActivationCommandResult{}
	}
	mode := strings.ToLower(strings.TrimSpace(match[1]))
	if mode != "mention" && mode != "always" {
		return ActivationCommandResult{HasCommand: true}
	}
	return ActivationCommandResult{HasCommand: true, Mode: mode}
}

// AllowFromCommandResult is the outcome of parsing a "/tau allow_from
// <allow|deny>" override, generalizing the teacher's "/send" policy
// command to the router's allow_from channel-policy override.
type AllowFromCommandResult struct {
	HasCommand bool
	Verdict    models.PolicyVerdict
}

var allowFromCommandRegex = regexp.MustCompile(`(?i)^/tau\s+allow_from(?:\s*:\s*|\s+)?([a-zA-Z]*)\s*$`)

// ParseAllowFromCommand detects a "/tau allow_from <allow|deny>" override.
func ParseAllowFromCommand(raw string) AllowFromCommandResult {
	trimmed := normalizeCommandBody(raw)
	if trimmed == "" {
		return AllowFromCommandResult{}
	}
	match := allowFromCommandRegex.FindStringSubmatch(trimmed)
	if match == nil {
		return AllowFromCommandResult{}
	}
	token := strings.ToLower(strings.TrimSpace(match[1]))
	switch token {
	case "allow", "on":
		return AllowFromCommandResult{HasCommand: true, Verdict: models.PolicyAllow}
	case "deny", "off":
		return AllowFromCommandResult{HasCommand: true, Verdict: models.PolicyDeny}
	default:
		return AllowFromCommandResult{HasCommand: true}
	}
}

// normalizeCommandBody collapses "/command: args" to "/command args" and
// considers only the first line, mirroring the teacher's
// normalizeCommandBody in internal/policy/send.go.
func normalizeCommandBody(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "/") {
		return ""
	}
	if idx := strings.Index(trimmed, "\n"); idx != -1 {
		trimmed = strings.TrimSpace(trimmed[:idx])
	}
	return trimmed
}
