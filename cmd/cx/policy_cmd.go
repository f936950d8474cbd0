package main

import (
	"fmt"
	"strings"

	"github.com/fugamante/cx/internal/policy"
	"github.com/spf13/cobra"
)

func newPolicyCmd(appRef **App) *cobra.Command {
	root := &cobra.Command{Use: "policy", Short: "inspect the dangerous-command safety policy"}
	root.AddCommand(newPolicyCheckCmd(appRef), newPolicyShowCmd(appRef))
	return root
}

func newPolicyCheckCmd(appRef **App) *cobra.Command {
	return &cobra.Command{
		Use:                "check -- <command...>",
		Short:              "evaluate a command against the built-in and extra policy rules",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *appRef
			cmdStr := strings.Join(args, " ")
			decision := policy.EvaluateWithExtra(cmdStr, app.Layout.Root, app.ExtraPolicyRules)
			if err := printJSON(cmd, decision); err != nil {
				return fail("policy check", err)
			}
			if decision.Dangerous {
				return exitErr(1)
			}
			return nil
		},
	}
}

func newPolicyShowCmd(appRef **App) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "list the configured extra policy rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *appRef
			reasons := make([]string, 0, len(app.ExtraPolicyRules))
			for _, r := range app.ExtraPolicyRules {
				reasons = append(reasons, r.Reason)
			}
			if len(reasons) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no extra_policy_rules configured; built-in table only")
				return nil
			}
			return printJSON(cmd, reasons)
		},
	}
}
