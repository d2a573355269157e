package main

import (
	"fmt"

	"github.com/spf13/cobra"

	tmodels "github.com/tau-run/tau/internal/models"
)

// buildModelsCmd lists the built-in model catalog, the same one "tau
// run"/"tau serve-rpc" resolve --model against when no override is given.
func buildModelsCmd() *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the built-in model catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var list []*tmodels.Model
			if provider != "" {
				list = tmodels.ListByProvider(tmodels.Provider(provider))
			} else {
				list = tmodels.List(nil)
			}
			out := cmd.OutOrStdout()
			for _, m := range list {
				fmt.Fprintf(out, "%-32s %-10s %-8s context=%d\n", m.ID, m.Provider, m.Tier, m.ContextWindow)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "Filter to one provider")
	return cmd
}
