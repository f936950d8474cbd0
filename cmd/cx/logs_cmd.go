package main

import (
	"fmt"
	"time"

	"github.com/fugamante/cx/internal/runlog"
	"github.com/spf13/cobra"
)

func newLogsCmd(appRef **App) *cobra.Command {
	root := &cobra.Command{Use: "logs", Short: "inspect and maintain the run log"}
	root.AddCommand(newLogsValidateCmd(appRef), newLogsMigrateCmd(appRef), newLogsTailCmd(appRef))
	return root
}

func newLogsValidateCmd(appRef **App) *cobra.Command {
	var legacyOk bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "check every row of the run log against the strict key contract",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *appRef
			out, err := runlog.ValidateFile(app.Layout.RunsLog, legacyOk)
			if err != nil {
				return fail("logs validate", err)
			}
			if err := printJSON(cmd, out); err != nil {
				return fail("logs validate", err)
			}
			if len(out.CorruptedLines) > 0 {
				return exitErr(1)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&legacyOk, "legacy-ok", false, "tolerate legacy rows that predate the strict schema")
	return cmd
}

func newLogsMigrateCmd(appRef **App) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "normalize every row of the run log into the strict shape",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *appRef
			dest := outPath
			if dest == "" {
				dest = app.Layout.RunsLog
			}
			summary, err := runlog.Migrate(app.Layout.RunsLog, dest)
			if err != nil {
				return fail("logs migrate", err)
			}
			return printJSON(cmd, summary)
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "destination path (default: overwrite the run log in place)")
	return cmd
}

func newLogsTailCmd(appRef **App) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "browse the most recent run-log rows in a scrollable, color-coded list",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *appRef
			rows, invalid, sample, err := runlog.LoadRuns(app.Layout.RunsLog, n)
			if err != nil {
				return fail("logs tail", err)
			}
			if msg, ok := runlog.WarnOnceInvalidLines(app.Layout.RunsLog, invalid, sample); ok {
				fmt.Fprintln(cmd.ErrOrStderr(), msg)
			}
			runlog.SortRowsByTimestamp(rows)
			if !isTerminalWriter(cmd.OutOrStdout()) {
				for _, r := range rows {
					fmt.Fprintln(cmd.OutOrStdout(), tailLineLabel(r))
				}
				return nil
			}
			return runTailTUI(rows)
		},
	}
	cmd.Flags().IntVar(&n, "n", 200, "max rows to load (0 = unlimited)")
	return cmd
}

func tailLineLabel(r runlog.Row) string {
	ts := r.Timestamp
	if ts == "" {
		ts = r.TS
	}
	status := "ok"
	if r.PolicyBlocked != nil && *r.PolicyBlocked {
		status = "policy-blocked"
	} else if !r.SchemaValid && r.SchemaEnforced {
		status = "schema-invalid"
	} else if r.TimedOut != nil && *r.TimedOut {
		status = "timed-out"
	}
	dur := ""
	if r.DurationMs != nil {
		dur = (time.Duration(*r.DurationMs) * time.Millisecond).String()
	}
	return fmt.Sprintf("%-24s %-10s %-14s %s", ts, status, dur, r.Command)
}
