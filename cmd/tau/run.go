package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tau-run/tau/internal/agent"
	"github.com/tau-run/tau/internal/builtins"
	"github.com/tau-run/tau/internal/config"
	"github.com/tau-run/tau/internal/gate"
	"github.com/tau-run/tau/internal/llm"
	tmodels "github.com/tau-run/tau/internal/models"
	"github.com/tau-run/tau/internal/process"
	"github.com/tau-run/tau/internal/sessions"
	"github.com/tau-run/tau/pkg/models"
)

// buildRunCmd wires every shared resolution step component M owns
// (credentials, model catalog, system prompt, tool policy) and either
// runs the single prompt given as an argument or, with none given,
// drops into an interactive stdin/stdout loop.
func buildRunCmd() *cobra.Command {
	var sessionPath string
	var maxTurns int

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run one prompt, or start an interactive loop with none given",
		RunE: func(cmd *cobra.Command, args []string) error {
			loop, store, queue, err := buildLoop(maxTurns, sessionPath)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				return runOnce(cmd, loop, store, strings.Join(args, " "))
			}
			return runInteractive(cmd, loop, store, queue)
		},
	}
	cmd.Flags().StringVar(&sessionPath, "session", "", "Path to a session ledger file to resume/append to (default: <tau-root>/sessions/default.jsonl)")
	cmd.Flags().IntVar(&maxTurns, "max-turns", 0, "Override the loop's bounded turn count (default: 25)")
	return cmd
}

// buildLoop assembles an agent.Loop from the root persistent flags: the
// resolved credential, catalog model, composed system prompt, gated
// built-in tools, and (if a session path is given or defaulted) the
// session store its messages are replayed from.
func buildLoop(maxTurns int, sessionPath string) (*agent.Loop, *sessions.Store, *process.CommandQueue, error) {
	store, err := loadCredentialStore(defaultCredentialStorePath(flags.tauRoot))
	if err != nil {
		return nil, nil, nil, err
	}
	apiKey, err := resolveCredential(store, flags.apiKey, flags.credentialID)
	if err != nil {
		return nil, nil, nil, err
	}
	if apiKey == "" {
		return nil, nil, nil, fmt.Errorf("no API key resolved: pass --api-key, --credential-id, or set TAU_API_KEY")
	}

	cfg, err := config.Load(defaultConfigPath(flags.tauRoot))
	if err != nil {
		return nil, nil, nil, err
	}

	model := resolveModel(flags.model, cfg.LLM.Model)

	provider := flags.provider
	if provider == "" {
		provider = cfg.LLM.Provider
	}
	client, err := buildLlmClient(store, provider, apiKey, model.ID, cfg.LLM.Fallbacks)
	if err != nil {
		return nil, nil, nil, err
	}

	systemPrompt, err := composeSystemPrompt(flags.workspace)
	if err != nil {
		return nil, nil, nil, err
	}

	policy := cfg.Policy
	if len(flags.allowedRoots) > 0 {
		policy.AllowedRoots = flags.allowedRoots
	} else if len(policy.AllowedRoots) == 0 {
		policy.AllowedRoots = []string{flags.workspace}
	}
	tickets := gate.NewTicketStore(flags.tauRoot, []byte(apiKey))
	g, err := buildGate(policy, flags.tauRoot, flags.denyPrincipals, tickets)
	if err != nil {
		return nil, nil, nil, err
	}
	principal := resolvePrincipal(nil, os.Getenv("USER"))
	queue := process.NewCommandQueue()

	registry := agent.NewRegistry()
	registry.Register(&builtins.ReadTool{Gate: g})
	registry.Register(&builtins.WriteTool{Gate: g, Principal: principal})
	registry.Register(&builtins.EditTool{Gate: g, Principal: principal})
	registry.Register(&builtins.BashTool{Gate: g, Principal: principal, Policy: policy, DefaultTimeout: 30 * time.Second})

	safetyRules, err := loadSafetyRules(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	loopConfig := agent.Config{
		Model:        model.ID,
		SystemPrompt: systemPrompt,
		MaxTurns:     maxTurns,
		SafetyPolicy: cfg.Safety.SafetyPolicy,
		SafetyRules:  safetyRules,
	}
	loop := agent.New(client, registry, loopConfig)
	registry.Register(&statusTool{loop: loop, queue: queue, sessionKey: principal, model: model.ID})
	if err := subscribeAuditLog(loop, principal); err != nil {
		return nil, nil, nil, err
	}

	if sessionPath == "" {
		sessionPath = filepath.Join(flags.tauRoot, "sessions", "default.jsonl")
	}
	if err := os.MkdirAll(filepath.Dir(sessionPath), 0o755); err != nil {
		return nil, nil, nil, fmt.Errorf("create session directory: %w", err)
	}
	sessionStore, err := sessions.Load(sessionPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if messages, err := sessionStore.LineageMessages(nil); err == nil && len(messages) > 0 {
		loop.ReplaceMessages(messages)
	}

	return loop, sessionStore, queue, nil
}

// buildLlmClient selects the agent.LlmClient backend for provider,
// defaulting to Anthropic for an empty or unrecognized value so
// existing deployments with no llm.provider configured keep working.
// When fallbacks is non-empty, the returned client retries each
// "provider/model" candidate in order (resolving that provider's own
// credential from store, keyed by provider name) before giving up.
func buildLlmClient(store *CredentialStore, provider, apiKey, defaultModel string, fallbacks []string) (agent.LlmClient, error) {
	build := func(p, m string) (agent.LlmClient, error) {
		if p == provider {
			return newProviderClient(p, apiKey, m)
		}
		key, err := resolveCredential(store, "", p)
		if err != nil || key == "" {
			key = apiKey
		}
		return newProviderClient(p, key, m)
	}
	if len(fallbacks) == 0 {
		return build(provider, defaultModel)
	}
	return llm.NewFallbackClient(provider, defaultModel, fallbacks, build), nil
}

// newProviderClient builds the agent.LlmClient for one named provider.
func newProviderClient(provider, apiKey, defaultModel string) (agent.LlmClient, error) {
	switch provider {
	case "venice":
		return llm.NewVeniceClient(llm.VeniceConfig{APIKey: apiKey, DefaultModel: defaultModel})
	default:
		return llm.NewAnthropicClient(llm.AnthropicConfig{APIKey: apiKey, DefaultModel: defaultModel})
	}
}

// resolveModel tries the explicit --model flag, then config.yaml's
// llm.model, then the runtime's built-in default, in that order.
func resolveModel(id, configID string) *tmodels.Model {
	for _, candidate := range []string{id, configID} {
		if candidate == "" {
			continue
		}
		if m, ok := tmodels.Get(candidate); ok {
			return m
		}
	}
	if m, ok := tmodels.Get("claude-sonnet-4-20250514"); ok {
		return m
	}
	return &tmodels.Model{ID: "claude-sonnet-4-20250514"}
}

// defaultConfigPath is config.yaml's conventional location under the
// tau root, read by every command that calls buildLoop.
func defaultConfigPath(tauRoot string) string {
	return filepath.Join(tauRoot, "config.yaml")
}

func runOnce(cmd *cobra.Command, loop *agent.Loop, store *sessions.Store, prompt string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	messages, err := loop.PromptWithStream(ctx, prompt, func(text string) {
		fmt.Fprint(cmd.OutOrStdout(), text)
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout())
	_, err = store.AppendMessages(headParent(store), messages)
	return err
}

// headParent points a newly appended chain at the store's current head,
// or at nil (a new root) when the store is empty.
func headParent(store *sessions.Store) *uint64 {
	if head := store.HeadID(); head != 0 {
		return &head
	}
	return nil
}

// runInteractive serializes each line read from stdin through a
// single-lane command queue before handing it to the loop, so a prompt
// submitted while a previous turn is still streaming queues rather than
// interleaving with it (the REPL's own blocking read already enforces
// this for a lone stdin reader; the queue is the same serialization
// point a concurrent inbound-event source would enqueue against).
func runInteractive(cmd *cobra.Command, loop *agent.Loop, store *sessions.Store, queue *process.CommandQueue) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	scanner := bufio.NewScanner(cmd.InOrStdin())
	out := cmd.OutOrStdout()
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/exit" || line == "/quit" {
			return nil
		}

		messages, err := process.Enqueue(queue, func(turnCtx context.Context) ([]models.Message, error) {
			return loop.PromptWithStream(turnCtx, line, func(text string) {
				fmt.Fprint(out, text)
			})
		}, nil)
		if err != nil {
			fmt.Fprintf(out, "\nerror: %v\n", err)
			continue
		}
		fmt.Fprintln(out)
		if _, err := store.AppendMessages(headParent(store), messages); err != nil {
			fmt.Fprintf(out, "session append failed: %v\n", err)
		}
	}
}
