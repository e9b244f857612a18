package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/formpilot/internal/observability"
)

// newAssistCmd creates the `assist` command, which keeps the page assistant
// running until interrupted.
func newAssistCmd(build componentsFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "assist",
		Short: "Autofills profile pages and presses continue buttons until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}

			c, err := build(ctx, cfg, observability.GetLogger())
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer c.Shutdown()

			fmt.Fprintln(cmd.OutOrStdout(), "Page assistant running. Press Ctrl+C to stop.")
			return c.Assistant.Run(ctx, c.TabID)
		},
	}
}
