package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newQuarantineCmd(appRef **App) *cobra.Command {
	root := &cobra.Command{Use: "quarantine", Short: "inspect schema-validation failures set aside for replay"}
	root.AddCommand(newQuarantineListCmd(appRef), newQuarantineShowCmd(appRef))
	return root
}

func newQuarantineListCmd(appRef **App) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "list the most recent quarantined records",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *appRef
			return printJSON(cmd, app.Quarantine.List(n))
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "max records to list")
	return cmd
}

func newQuarantineShowCmd(appRef **App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "show one quarantined record in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *appRef
			rec, err := app.Quarantine.Read(args[0])
			if err != nil {
				return fail("quarantine show", fmt.Errorf("no such record %q: %w", args[0], err))
			}
			return printJSON(cmd, rec)
		},
	}
}
