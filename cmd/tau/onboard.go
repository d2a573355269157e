package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// buildOnboardCmd creates <tau-root>/credentials.json and a starter
// workspace SOUL.md through guided prompts, mirroring the teacher's
// config-writing onboarding flow but scoped to tau's two on-disk inputs.
func buildOnboardCmd() *cobra.Command {
	var apiKey string
	var workspacePath string
	var nonInteractive bool

	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Write a starter credentials file and workspace system prompt",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !nonInteractive {
				reader := bufio.NewReader(cmd.InOrStdin())
				if strings.TrimSpace(apiKey) == "" {
					apiKey = promptString(cmd, reader, "Anthropic API key", "")
				}
				if strings.TrimSpace(workspacePath) == "" {
					workspacePath = promptString(cmd, reader, "Workspace path", flags.workspace)
				}
			}

			credPath := defaultCredentialStorePath(flags.tauRoot)
			store, err := loadCredentialStore(credPath)
			if err != nil {
				return err
			}
			record := CredentialRecord{
				Provider:          "anthropic",
				Kind:              CredentialKindAPIKey,
				ValueRef:          apiKey,
				RefreshedAtUnixMs: time.Now().UnixMilli(),
			}
			if err := store.put("default", record); err != nil {
				return fmt.Errorf("write credentials: %w", err)
			}

			if strings.TrimSpace(workspacePath) != "" {
				soulPath := filepath.Join(workspacePath, "SOUL.md")
				if _, err := os.Stat(soulPath); os.IsNotExist(err) {
					if err := os.MkdirAll(workspacePath, 0o755); err != nil {
						return fmt.Errorf("create workspace: %w", err)
					}
					if err := os.WriteFile(soulPath, []byte(baselineSystemPrompt+"\n"), 0o644); err != nil {
						return fmt.Errorf("write SOUL.md: %w", err)
					}
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Credentials written: %s\n", credPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&apiKey, "api-key", "", "Anthropic API key to store under the \"default\" credential id")
	cmd.Flags().StringVar(&workspacePath, "workspace", "", "Workspace to bootstrap with a starter SOUL.md")
	cmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "Disable prompts and use flags only")
	return cmd
}

func promptString(cmd *cobra.Command, reader *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ", label)
	}
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}
