package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/observability"
)

// newRunCmd creates the `run` command: one activation against the tab.
func newRunCmd(build componentsFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Detects the current page stage and runs it once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}

			c, err := build(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer c.Shutdown()

			out := c.Orchestrator.Activate(ctx, c.TabID)
			logger.Info("Activation finished",
				zap.String("run_id", out.RunID),
				zap.Stringer("stage", out.Stage),
				zap.String("reason", out.Reason),
			)
			renderOutcome(cmd.OutOrStdout(), out)
			return ctx.Err()
		},
	}
}
