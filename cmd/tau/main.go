// Package main provides the CLI entry point for the Tau agent runtime.
//
// Tau drives a bounded LLM turn loop against Anthropic's Claude models,
// routing tool calls through the Path & Policy Gate and, for mutating
// actions the policy flags, through a human approval-ticket protocol.
//
// # Basic Usage
//
// Run an interactive turn:
//
//	tau run --workspace . "fix the failing test in pkg/models"
//
// Decide a pending approval:
//
//	tau approve <ticket-id>
//	tau deny <ticket-id>
//
// Serve the NDJSON RPC protocol over stdio, or the training attribution
// proxy over HTTP:
//
//	tau serve-rpc
//	tau serve-proxy --upstream https://api.anthropic.com
//
// # Environment Variables
//
// Every persistent flag may be set instead via a TAU_<FLAG_NAME> variable,
// e.g. --api-key may be set via TAU_API_KEY. A flag passed explicitly on
// the command line always wins over its environment variable.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// rootFlags holds the values of every persistent flag, mirrored from
// TAU_* environment variables in PersistentPreRunE before any RunE sees
// them.
type rootFlags struct {
	tauRoot        string
	workspace      string
	apiKey         string
	credentialID   string
	model          string
	provider       string
	allowedRoots   []string
	denyPrincipals []string
}

var flags rootFlags

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "tau",
		Short:   "Tau - multi-tenant agent runtime",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Long: `Tau drives a bounded LLM turn loop backed by Claude, routing tool
calls through a path-and-policy gate and an approval-ticket protocol for
mutating actions a deployment's policy flags for human review.`,
		SilenceUsage:      true,
		PersistentPreRunE: mirrorEnvFlags,
	}

	rootCmd.PersistentFlags().StringVar(&flags.tauRoot, "tau-root", defaultTauRoot(), "Root directory for credentials, approval tickets, and session state")
	rootCmd.PersistentFlags().StringVar(&flags.workspace, "workspace", ".", "Workspace directory the agent operates in")
	rootCmd.PersistentFlags().StringVar(&flags.apiKey, "api-key", "", "Anthropic API key (overrides --credential-id)")
	rootCmd.PersistentFlags().StringVar(&flags.credentialID, "credential-id", "", "Named entry in <tau-root>/credentials.json to resolve the API key from")
	rootCmd.PersistentFlags().StringVar(&flags.model, "model", "", "Model id from the built-in catalog (default: the catalog's default model)")
	rootCmd.PersistentFlags().StringVar(&flags.provider, "provider", "", "LLM backend: anthropic or venice (default: config.yaml's llm.provider, else anthropic)")
	rootCmd.PersistentFlags().StringSliceVar(&flags.allowedRoots, "allowed-root", nil, "Path the gate permits file/command access under (repeatable; default: unrestricted)")
	rootCmd.PersistentFlags().StringSliceVar(&flags.denyPrincipals, "deny-principal", nil, "Principal (transport:actor_id) denied every mutating action (repeatable)")

	rootCmd.AddCommand(
		buildRunCmd(),
		buildApproveCmd(),
		buildDenyCmd(),
		buildTicketStatusCmd(),
		buildStatusCmd(),
		buildServeRPCCmd(),
		buildServeProxyCmd(),
		buildModelsCmd(),
		buildOnboardCmd(),
		buildEventsCmd(),
	)
	return rootCmd
}

func defaultTauRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tau"
	}
	return home + "/.tau"
}

// mirrorEnvFlags fills in any persistent flag left at its default from
// the matching TAU_<FLAG_NAME> environment variable, so a deployment can
// configure tau entirely through its process environment. An explicit
// command-line flag always takes precedence, since Cobra only reports a
// flag Changed when the user set it.
func mirrorEnvFlags(cmd *cobra.Command, _ []string) error {
	var visitErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		envName := "TAU_" + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		value, ok := os.LookupEnv(envName)
		if !ok {
			return
		}
		if err := f.Value.Set(value); err != nil {
			visitErr = fmt.Errorf("env %s: %w", envName, err)
		}
	})
	return visitErr
}
