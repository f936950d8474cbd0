package main

import (
	"fmt"
	"os"

	"github.com/fugamante/cx/internal/execute"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cx",
		Short:         "cx is a repo-local command orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var app *App
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		app, err = newApp()
		return err
	}

	root.AddCommand(
		newCommitJSONCmd(&app),
		newCommitMsgCmd(&app),
		newDiffSumCmd(&app),
		newNextCmd(&app),
		newFixRunCmd(&app),
		newFixCmd(&app),
		newDirectCmd(&app, "cx", execute.Plain),
		newDirectCmd(&app, "cxj", execute.Jsonl),
		newDirectCmd(&app, "cxo", execute.AgentText),
		newTaskCmd(&app),
		newLogsCmd(&app),
		newReplayCmd(&app),
		newQuarantineCmd(&app),
		newBrokerCmd(&app),
		newPolicyCmd(&app),
		newSchemaCmd(&app),
	)
	return root
}

func newCommitJSONCmd(appRef **App) *cobra.Command {
	return &cobra.Command{
		Use:   "commitjson",
		Short: "generate a structured commit description from the staged diff",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *appRef
			r, err := app.runCommitJSON(cmd.Context())
			if err != nil {
				return fail("commitjson", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), r.Stdout)
			return exitErr(exitFromResult(r))
		},
	}
}

func newCommitMsgCmd(appRef **App) *cobra.Command {
	return &cobra.Command{
		Use:   "commitmsg",
		Short: "generate a commit message from the staged diff",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *appRef
			r, err := app.runCommitMsg(cmd.Context())
			if err != nil {
				return fail("commitmsg", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), r.Stdout)
			return exitErr(exitFromResult(r))
		},
	}
}

func newDiffSumCmd(appRef **App) *cobra.Command {
	var staged bool
	cmd := &cobra.Command{
		Use:   "diffsum",
		Short: "summarize the working tree (or staged) diff",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *appRef
			r, err := app.runDiffSum(cmd.Context(), staged)
			if err != nil {
				return fail("diffsum", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), r.Stdout)
			return exitErr(exitFromResult(r))
		},
	}
	cmd.Flags().BoolVar(&staged, "staged", false, "summarize the staged diff instead of the working tree diff")
	return cmd
}

func newNextCmd(appRef **App) *cobra.Command {
	return &cobra.Command{
		Use:                "next -- <command...>",
		Short:              "suggest the next command from the captured output of <command...>",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *appRef
			r, err := app.runNext(cmd.Context(), args)
			if err != nil {
				return fail("next", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), r.Stdout)
			return exitErr(exitFromResult(r))
		},
	}
}

func newFixRunCmd(appRef **App) *cobra.Command {
	var unsafe, confirm bool
	cmd := &cobra.Command{
		Use:                "fix-run -- <command...>",
		Short:              "diagnose a failing command and, when enabled, run its suggested fixes",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *appRef
			return runFixRunCommand(cmd, app, unsafe, app.Config.FixRun, confirm, args)
		},
	}
	cmd.Flags().BoolVar(&unsafe, "unsafe", false, "execute suggested commands even when the safety policy flags them")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "ask y/N before running each suggested command")
	return cmd
}

func newFixCmd(appRef **App) *cobra.Command {
	var unsafe, confirm bool
	cmd := &cobra.Command{
		Use:   "fix -- <command...>",
		Short: "diagnose a failing command; suggested fixes run only with --confirm, after a y/N prompt each",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *appRef
			return runFixRunCommand(cmd, app, unsafe, false, confirm, args)
		},
	}
	cmd.Flags().BoolVar(&unsafe, "unsafe", false, "execute suggested commands even when the safety policy flags them")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "ask y/N before running each suggested command")
	return cmd
}

func runFixRunCommand(cmd *cobra.Command, app *App, unsafe, forceExec, confirm bool, args []string) error {
	out, err := app.runFixRun(cmd.Context(), unsafe, forceExec, confirm, args)
	if err != nil {
		return fail("fix-run", err)
	}
	printFixRunOutcome(cmd, app, out)
	return exitErr(exitFromResult(out.Analysis))
}

func newDirectCmd(appRef **App, name string, kind execute.OutputKind) *cobra.Command {
	return &cobra.Command{
		Use:                name + " -- <prompt...>",
		Short:              "run a direct " + outputKindLabel(kind) + " prompt through the execute_task pipeline",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *appRef
			r, err := app.runDirect(cmd.Context(), name, kind, joinArgs(args))
			if err != nil {
				return fail(name, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), r.Stdout)
			return nil
		},
	}
}

func outputKindLabel(kind execute.OutputKind) string {
	switch kind {
	case execute.Plain:
		return "plain-text"
	case execute.Jsonl:
		return "jsonl"
	case execute.AgentText:
		return "agent-text"
	default:
		return "structured"
	}
}

// exitErr turns a nonzero bound-command exit code into an error cobra
// propagates to main's os.Exit(1) without printing an extra message —
// the command has already reported its own diagnostic.
func exitErr(code int) error {
	if code == 0 {
		return nil
	}
	return errExitCode(code)
}

type errExitCode int

func (e errExitCode) Error() string { return fmt.Sprintf("exit status %d", int(e)) }
