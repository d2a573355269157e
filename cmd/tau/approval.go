package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tau-run/tau/internal/gate"
)

// ticketStore builds the TicketStore every preflight approval command
// operates on, signed with the resolved Anthropic API key so a ticket
// minted by one invocation of tau verifies under the next.
func ticketStoreFromFlags() (*gate.TicketStore, error) {
	store, err := loadCredentialStore(defaultCredentialStorePath(flags.tauRoot))
	if err != nil {
		return nil, err
	}
	apiKey, err := resolveCredential(store, flags.apiKey, flags.credentialID)
	if err != nil {
		return nil, err
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no API key resolved: approval tickets are signed with it; pass --api-key, --credential-id, or set TAU_API_KEY")
	}
	return gate.NewTicketStore(flags.tauRoot, []byte(apiKey)), nil
}

func buildApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <ticket-id>",
		Short: "Approve a pending tool-invocation ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tickets, err := ticketStoreFromFlags()
			if err != nil {
				return err
			}
			if err := tickets.Decide(args[0], true); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "approved %s\n", args[0])
			return nil
		},
	}
}

func buildDenyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deny <ticket-id>",
		Short: "Deny a pending tool-invocation ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tickets, err := ticketStoreFromFlags()
			if err != nil {
				return err
			}
			if err := tickets.Decide(args[0], false); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "denied %s\n", args[0])
			return nil
		},
	}
}

func buildTicketStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ticket-status <ticket-id>",
		Short: "Report whether an approval ticket exists, and its decision if any",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tickets, err := ticketStoreFromFlags()
			if err != nil {
				return err
			}
			record, found, err := tickets.Status(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !found {
				fmt.Fprintf(out, "%s: not found\n", args[0])
				return nil
			}
			if !record.Decided {
				fmt.Fprintf(out, "%s: pending (%s)\n", args[0], record.Action.Kind)
				return nil
			}
			verdict := "denied"
			if record.Approved {
				verdict = "approved"
			}
			fmt.Fprintf(out, "%s: %s (%s)\n", args[0], verdict, record.Action.Kind)
			return nil
		},
	}
}
