package main

import (
	"os"
	"path/filepath"
	"strings"
)

// baselineSystemPrompt is used when a workspace carries no AGENTS.md/
// SOUL.md templates of its own.
const baselineSystemPrompt = `You are Tau, an autonomous coding and operations agent.
Follow the user's instructions precisely, use the available tools to take
action rather than only describing it, and ask before anything destructive
or irreversible.`

// systemPromptTemplates names the workspace files composed into the
// system prompt, in order, when present.
var systemPromptTemplates = []string{"SOUL.md", "AGENTS.md"}

// composeSystemPrompt reads workspaceDir's template files and joins
// whichever exist; a workspace with none of them falls back to the
// built-in baseline.
func composeSystemPrompt(workspaceDir string) (string, error) {
	var parts []string
	for _, name := range systemPromptTemplates {
		content, err := readOptionalFile(filepath.Join(workspaceDir, name))
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(content) != "" {
			parts = append(parts, strings.TrimSpace(content))
		}
	}
	if len(parts) == 0 {
		return baselineSystemPrompt, nil
	}
	return strings.Join(parts, "\n\n"), nil
}

func readOptionalFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}
