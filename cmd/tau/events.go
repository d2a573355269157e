package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	tgbot "github.com/go-telegram/bot"
	"github.com/slack-go/slack"
	"github.com/spf13/cobra"

	"github.com/tau-run/tau/internal/config"
	"github.com/tau-run/tau/internal/cron"
	"github.com/tau-run/tau/internal/outbound"
	"github.com/tau-run/tau/pkg/models"
)

// buildEventsCmd starts the event scheduler: it loads *.json definitions
// from the configured directory, ticks them against their schedule, and
// for each due definition runs the same agent loop "tau run" builds,
// delivering the response through the outbound dispatcher to the
// definition's channel.
func buildEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Run the event scheduler, dispatching due events to their channel",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			schedulerCfg, err := buildSchedulerConfig()
			if err != nil {
				return err
			}

			runner, err := newAgentEventRunner()
			if err != nil {
				return err
			}

			scheduler := cron.New(schedulerCfg, runner)
			return scheduler.Run(ctx)
		},
	}
	cmd.AddCommand(buildEventsInspectCmd(), buildEventsValidateCmd(), buildEventsSimulateCmd(), buildEventsDryRunCmd(), buildEventsWebhookCmd())
	return cmd
}

// buildSchedulerConfig resolves cron.Config from config.yaml, defaulting
// DefinitionsDir to <tau-root>/events and ensuring it exists so a fresh
// deployment's first tick (or first offline diagnostic) has somewhere
// to read from.
func buildSchedulerConfig() (cron.Config, error) {
	cfg, err := config.Load(defaultConfigPath(flags.tauRoot))
	if err != nil {
		return cron.Config{}, err
	}
	schedulerCfg := cron.Config{
		DefinitionsDir:       cfg.Scheduler.DefinitionsDir,
		PollInterval:         cfg.Scheduler.PollInterval,
		QueueLimit:           cfg.Scheduler.QueueLimit,
		StaleImmediateMaxAge: cfg.Scheduler.StaleImmediateMaxAge,
		Logger:               slog.Default(),
	}
	if schedulerCfg.DefinitionsDir == "" {
		schedulerCfg.DefinitionsDir = filepath.Join(flags.tauRoot, "events")
	}
	if err := os.MkdirAll(schedulerCfg.DefinitionsDir, 0o755); err != nil {
		return cron.Config{}, fmt.Errorf("create events directory: %w", err)
	}
	return schedulerCfg, nil
}

// printDiagnosticReport renders a diagnostics report as indented JSON,
// matching the other read-only tau subcommands (e.g. "tau gate show").
func printDiagnosticReport(cmd *cobra.Command, report any) error {
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(body))
	return nil
}

func buildEventsInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "List every event definition and its current due status, without running anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			schedulerCfg, err := buildSchedulerConfig()
			if err != nil {
				return err
			}
			report, err := cron.New(schedulerCfg, nil).Inspect()
			if err != nil {
				return err
			}
			return printDiagnosticReport(cmd, report)
		},
	}
}

func buildEventsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check every event definition file parses and has a well-formed schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			schedulerCfg, err := buildSchedulerConfig()
			if err != nil {
				return err
			}
			report, err := cron.New(schedulerCfg, nil).Validate()
			if err != nil {
				return err
			}
			if err := printDiagnosticReport(cmd, report); err != nil {
				return err
			}
			if !report.Valid {
				return fmt.Errorf("events: %d definition(s) failed validation", len(report.Diagnostics))
			}
			return nil
		},
	}
}

func buildEventsSimulateCmd() *cobra.Command {
	var horizon time.Duration
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Project every run each definition would perform within a horizon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			schedulerCfg, err := buildSchedulerConfig()
			if err != nil {
				return err
			}
			report, err := cron.New(schedulerCfg, nil).Simulate(horizon)
			if err != nil {
				return err
			}
			return printDiagnosticReport(cmd, report)
		},
	}
	cmd.Flags().DurationVar(&horizon, "horizon", time.Hour, "How far ahead to project runs")
	return cmd
}

func buildEventsDryRunCmd() *cobra.Command {
	var queueLimit int
	cmd := &cobra.Command{
		Use:   "dry-run",
		Short: "Compute the due queue exactly as a real tick would, without dispatching anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			schedulerCfg, err := buildSchedulerConfig()
			if err != nil {
				return err
			}
			report, err := cron.New(schedulerCfg, nil).DryRun(queueLimit)
			if err != nil {
				return err
			}
			return printDiagnosticReport(cmd, report)
		},
	}
	cmd.Flags().IntVar(&queueLimit, "queue-limit", 0, "Override the configured queue limit (0 keeps the configured value)")
	return cmd
}

// agentEventRunner implements cron.EventRunner: it classifies the
// definition's channel through the multi-channel router, and (if
// allowed and routed) prompts a fresh loop built from the same
// resolution chain as "tau run" and delivers the response through the
// dispatcher, per the definition's channel field in
// "<transport>:<conversation_id>" form (the same shape resolvePrincipal
// reads for the interactive path).
type agentEventRunner struct {
	dispatcher *outbound.Dispatcher
	router     *channelRouter
}

func newAgentEventRunner() (*agentEventRunner, error) {
	store, err := loadCredentialStore(defaultCredentialStorePath(flags.tauRoot))
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(defaultConfigPath(flags.tauRoot))
	if err != nil {
		return nil, err
	}
	router, err := newChannelRouter(cfg)
	if err != nil {
		return nil, err
	}

	providers, mode := buildOutboundProviders(store)
	dispatcher := outbound.New(outbound.Config{
		Mode:             mode,
		ChannelStoreRoot: filepath.Join(flags.tauRoot, "channel-store"),
	}, providers)

	return &agentEventRunner{dispatcher: dispatcher, router: router}, nil
}

// buildOutboundProviders constructs one outbound.Provider per transport
// with a bot-token credential on file, keyed the same way
// resolveCredential looks up api_key entries. A deployment with no
// channel credentials configured falls back to dry_run delivery so the
// scheduler still runs (and its receipts are inspectable) without
// requiring network access.
func buildOutboundProviders(store *CredentialStore) (map[string]outbound.Provider, models.DeliveryMode) {
	providers := make(map[string]outbound.Provider)

	if token, ok := lookupCredentialValue(store, "telegram"); ok {
		if bot, err := tgbot.New(token); err == nil {
			providers["telegram"] = &outbound.TelegramProvider{Client: bot}
		}
	}
	if token, ok := lookupCredentialValue(store, "discord"); ok {
		if session, err := discordgo.New("Bot " + token); err == nil {
			providers["discord"] = &outbound.DiscordProvider{Session: session}
		}
	}
	if token, ok := lookupCredentialValue(store, "slack"); ok {
		providers["slack"] = &outbound.SlackProvider{Client: slack.New(token)}
	}

	if len(providers) == 0 {
		return providers, models.DeliveryModeDryRun
	}
	return providers, models.DeliveryModeProvider
}

func lookupCredentialValue(store *CredentialStore, id string) (string, bool) {
	record, ok := store.entries[id]
	if !ok || record.ValueRef == "" {
		return "", false
	}
	return record.ValueRef, true
}

// splitChannel parses an EventDefinition.Channel of "<transport>:<conversation_id>"
// into its two parts, defaulting ConversationID to the whole string when
// no separator is present.
func splitChannel(channel string) (transport, conversationID string) {
	transport, conversationID, found := strings.Cut(channel, ":")
	if !found {
		return "", channel
	}
	return transport, conversationID
}

func (r *agentEventRunner) RunEvent(ctx context.Context, def models.EventDefinition, now time.Time) error {
	transport, conversationID := splitChannel(def.Channel)

	inbound := models.MultiChannelInboundEvent{
		Transport:      transport,
		EventKind:      models.EventKindMessage,
		EventID:        def.ID,
		ConversationID: conversationID,
		TimestampMS:    now.UnixMilli(),
		Text:           def.Prompt,
	}
	if _, routed := r.router.decide(inbound, ""); !routed {
		return nil
	}

	loop, _, _, err := buildLoop(0, filepath.Join(flags.tauRoot, "sessions", "events", def.ID+".jsonl"))
	if err != nil {
		return fmt.Errorf("events: build loop for %s: %w", def.ID, err)
	}

	messages, err := loop.Prompt(ctx, def.Prompt)
	if err != nil {
		return fmt.Errorf("events: prompt for %s: %w", def.ID, err)
	}

	var reply string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleAssistant {
			reply = messages[i].TextContent()
			break
		}
	}
	if reply == "" {
		return nil
	}

	_, err = r.dispatcher.Deliver(ctx, models.MultiChannelInboundEvent{
		Transport:      transport,
		ConversationID: conversationID,
	}, reply)
	if err != nil {
		return fmt.Errorf("events: deliver for %s: %w", def.ID, err)
	}
	return nil
}
