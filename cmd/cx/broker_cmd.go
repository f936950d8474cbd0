package main

import (
	"fmt"

	"github.com/fugamante/cx/internal/task"
	"github.com/spf13/cobra"
)

func newBrokerCmd(appRef **App) *cobra.Command {
	root := &cobra.Command{Use: "broker", Short: "view or change the backend-selection policy used by task run-all"}
	root.AddCommand(newBrokerShowCmd(appRef), newBrokerSetCmd(appRef))
	return root
}

func newBrokerShowCmd(appRef **App) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "print the current broker policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *appRef
			p := resolveBrokerPolicy(app)
			if asJSON {
				return printJSON(cmd, map[string]string{"broker_policy": p})
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newBrokerSetCmd(appRef **App) *cobra.Command {
	var policyName string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "persist a broker policy preference",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *appRef
			switch task.BrokerPolicy(policyName) {
			case task.PolicyQuality, task.PolicyLatency, task.PolicyCost:
			default:
				return fail("broker set", fmt.Errorf("invalid --policy %q, want quality, latency, or cost", policyName))
			}
			if err := app.State.Set("preferences.broker_policy", policyName); err != nil {
				return fail("broker set", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "broker policy set to %s\n", policyName)
			return nil
		},
	}
	cmd.Flags().StringVar(&policyName, "policy", "", "quality, latency, or cost")
	cmd.MarkFlagRequired("policy")
	return cmd
}
