package main

import (
	"context"
	"fmt"

	"github.com/fugamante/cx/internal/quarantine"
	"github.com/spf13/cobra"
)

func newReplayCmd(appRef **App) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <quarantine_id>",
		Short: "re-run a quarantined schema-guarded request through the provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *appRef
			runner := quarantine.JsonlRunner(func(ctx context.Context, prompt string) (string, error) {
				return app.Adapter.RunJsonl(ctx, prompt)
			})
			result, err := quarantine.Replay(cmd.Context(), app.Quarantine, app.Layout.FailuresLog, args[0], runner)
			if err != nil {
				return fail("replay", err)
			}
			if !result.Valid {
				fmt.Fprintf(cmd.OutOrStdout(), "replay failed schema validation: %s\n", result.FailReason)
				if result.QuarantineID != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "re-quarantined as %s\n", result.QuarantineID)
				}
				return exitErr(1)
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Raw)
			return nil
		},
	}
}
