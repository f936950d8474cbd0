package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/fugamante/cx/internal/runlog"
	"github.com/fugamante/cx/internal/task"
	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"
)

func newTaskCmd(appRef **App) *cobra.Command {
	root := &cobra.Command{Use: "task", Short: "manage the persistent task graph"}
	root.AddCommand(
		newTaskAddCmd(appRef),
		newTaskListCmd(appRef),
		newTaskShowCmd(appRef),
		newTaskClaimCmd(appRef),
		newTaskCompleteCmd(appRef),
		newTaskFailCmd(appRef),
		newTaskRunCmd(appRef),
		newTaskRunPlanCmd(appRef),
		newTaskRunAllCmd(appRef),
		newTaskSchemaCmd(),
	)
	return root
}

// newTaskSchemaCmd dumps the JSON Schema for a task.Record, reflected
// straight off the Go struct rather than hand-maintained, so a client
// scripting against `cx task add`/`cx task show` can validate its own
// records against the same shape this binary persists.
func newTaskSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "print the JSON Schema for a task record",
		RunE: func(cmd *cobra.Command, args []string) error {
			reflector := &jsonschema.Reflector{DoNotReference: true}
			s := reflector.Reflect(&task.Record{})
			return printJSON(cmd, s)
		},
	}
}

func newTaskAddCmd(appRef **App) *cobra.Command {
	var dependsOn, resourceKeys []string
	var backend, parent string
	cmd := &cobra.Command{
		Use:                "add -- <command> [args...]",
		Short:              "add a new pending task",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *appRef
			rec, err := app.Tasks.Add(task.Record{
				ParentID:     parent,
				Command:      args[0],
				Args:         args[1:],
				DependsOn:    dependsOn,
				ResourceKeys: resourceKeys,
				Backend:      backend,
			})
			if err != nil {
				return fail("task add", err)
			}
			return printJSON(cmd, rec)
		},
	}
	cmd.Flags().StringSliceVar(&dependsOn, "depends-on", nil, "comma-separated task ids this task waits on")
	cmd.Flags().StringSliceVar(&resourceKeys, "resource-keys", nil, "comma-separated resource_keys (e.g. repo:write)")
	cmd.Flags().StringVar(&backend, "backend", "", "pin this task to a specific backend")
	cmd.Flags().StringVar(&parent, "parent", "", "parent task id")
	return cmd
}

func newTaskListCmd(appRef **App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list every task",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *appRef
			tasks, err := app.Tasks.List()
			if err != nil {
				return fail("task list", err)
			}
			return printJSON(cmd, tasks)
		},
	}
}

func newTaskShowCmd(appRef **App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *appRef
			rec, ok, err := app.Tasks.Get(args[0])
			if err != nil {
				return fail("task show", err)
			}
			if !ok {
				return fail("task show", fmt.Errorf("no such task %q", args[0]))
			}
			return printJSON(cmd, rec)
		},
	}
}

func newTaskClaimCmd(appRef **App) *cobra.Command {
	return &cobra.Command{
		Use:   "claim <id>",
		Short: "transition a task to claimed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *appRef
			rec, err := app.Tasks.Update(args[0], func(r *task.Record) { r.Status = task.Claimed })
			if err != nil {
				return fail("task claim", err)
			}
			return printJSON(cmd, rec)
		},
	}
}

func newTaskCompleteCmd(appRef **App) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <id>",
		Short: "transition a task to done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *appRef
			rec, err := app.Tasks.Update(args[0], func(r *task.Record) { r.Status = task.Done })
			if err != nil {
				return fail("task complete", err)
			}
			return printJSON(cmd, rec)
		},
	}
}

func newTaskFailCmd(appRef **App) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "fail <id>",
		Short: "transition a task to failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *appRef
			rec, err := app.Tasks.Update(args[0], func(r *task.Record) {
				r.Status = task.Failed
				r.FailReason = reason
			})
			if err != nil {
				return fail("task fail", err)
			}
			return printJSON(cmd, rec)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "failure reason recorded on the task")
	return cmd
}

func newTaskRunCmd(appRef **App) *cobra.Command {
	var mode, backend string
	var managedByParent bool
	cmd := &cobra.Command{
		Use:   "run <id>",
		Short: "run one task by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *appRef
			dispatcher := &appDispatcher{app: app}
			exitCode, _, err := task.RunByID(cmd.Context(), app.Tasks, app.State, dispatcher, args[0], task.RunOptions{
				ModeOverride:    task.Overrides{Mode: mode, Backend: backend},
				BackendOverride: backend,
				ManagedByParent: managedByParent,
				SelfExe:         app.SelfExe,
			})
			if err != nil {
				return fail("task run", err)
			}
			return exitErr(exitCode)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "override CX_MODE for this run")
	cmd.Flags().StringVar(&backend, "backend", "", "override CX_LLM_BACKEND for this run")
	cmd.Flags().BoolVar(&managedByParent, "managed-by-parent", false, "set when invoked as a run-all scheduler worker")
	return cmd
}

func newTaskRunPlanCmd(appRef **App) *cobra.Command {
	return &cobra.Command{
		Use:   "run-plan",
		Short: "print the dependency-wave plan without executing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *appRef
			tasks, err := app.Tasks.List()
			if err != nil {
				return fail("task run-plan", err)
			}
			plan := task.BuildRunPlan(tasks)
			return printJSON(cmd, plan)
		},
	}
}

func newTaskRunAllCmd(appRef **App) *cobra.Command {
	var statusFilter, mode, fairness, brokerPolicy string
	var backendPool, backendCaps []string
	var maxWorkers, maxRetries int
	cmd := &cobra.Command{
		Use:   "run-all",
		Short: "run every ready task to completion via the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *appRef
			caps, err := parseBackendCaps(backendCaps)
			if err != nil {
				return fail("task run-all", err)
			}
			dispatcher := &appDispatcher{app: app}

			runSingle := func(ctx context.Context, taskID string) (int, string, error) {
				return task.RunByID(ctx, app.Tasks, app.State, dispatcher, taskID, task.RunOptions{
					SelfExe: app.SelfExe,
				})
			}

			opts := task.RunAllOptions{
				StatusFilter:     statusFilter,
				Mode:             task.Mode(orDefault(mode, "sequential")),
				BackendPool:      backendPool,
				BackendCaps:      caps,
				MaxWorkers:       maxWorkers,
				Fairness:         task.Fairness(orDefault(fairness, string(task.RoundRobin))),
				BrokerPolicy:     task.BrokerPolicy(orDefault(brokerPolicy, resolveBrokerPolicy(app))),
				MaxRetries:       maxRetries,
				BackendAvailable: task.BinaryAvailable,
				LastRunLog:       lastRunLogClassifier(app),
				RunSingle:        runSingle,
				Worker:           workerReExec(app),
			}
			summary, err := task.RunAll(cmd.Context(), app.Tasks, opts)
			if err != nil {
				return fail("task run-all", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), summary.String())
			if summary.Failed > 0 || summary.Blocked > 0 {
				return exitErr(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&statusFilter, "status", "", "only run tasks with this status (default: pending/claimed)")
	cmd.Flags().StringVar(&mode, "mode", "sequential", "sequential or mixed")
	cmd.Flags().StringSliceVar(&backendPool, "backend-pool", nil, "comma-separated backend names available to mixed mode")
	cmd.Flags().StringSliceVar(&backendCaps, "backend-cap", nil, "name=N concurrency cap entries, repeatable")
	cmd.Flags().IntVar(&maxWorkers, "max-workers", 1, "max concurrent workers per wave in mixed mode")
	cmd.Flags().StringVar(&fairness, "fairness", string(task.RoundRobin), "round_robin or least_loaded")
	cmd.Flags().StringVar(&brokerPolicy, "broker-policy", "", "quality, latency, or cost (default: state store's broker_policy)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "retries attempted for a retryable failure before giving up")
	return cmd
}

func parseBackendCaps(entries []string) (map[string]int, error) {
	caps := map[string]int{}
	for _, e := range entries {
		name, raw, ok := strings.Cut(e, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --backend-cap entry %q, want name=N", e)
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid --backend-cap entry %q: %w", e, err)
		}
		caps[name] = n
	}
	return caps, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func resolveBrokerPolicy(app *App) string {
	v, ok, err := app.State.Get("preferences.broker_policy")
	if err != nil || !ok || strings.TrimSpace(v) == "" {
		return string(task.PolicyQuality)
	}
	return strings.Trim(v, `"`)
}

// lastRunLogClassifier returns opts.LastRunLog: it scans the run log for
// the row matching executionID and reports its policy_blocked/timed_out
// pointers, the inputs task.ClassifyFailure needs.
func lastRunLogClassifier(app *App) func(executionID string) (*bool, *bool) {
	return func(executionID string) (*bool, *bool) {
		rows, _, _, err := runlog.LoadRuns(app.Layout.RunsLog, 0)
		if err != nil {
			return nil, nil
		}
		for i := len(rows) - 1; i >= 0; i-- {
			if rows[i].ExecutionID == executionID {
				return rows[i].PolicyBlocked, rows[i].TimedOut
			}
		}
		return nil, nil
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// workerReExec builds opts.Worker for mixed mode: each wave slot runs as
// its own `<self> task run <id> --managed-by-parent --backend <backend>`
// subprocess, so a crash in one task's backend can't take the scheduler
// down with it.
func workerReExec(app *App) func(ctx context.Context, taskID, backend string) (int, string, error) {
	return func(ctx context.Context, taskID, backend string) (int, string, error) {
		args := []string{"task", "run", taskID, "--managed-by-parent"}
		if backend != "" {
			args = append(args, "--backend", backend)
		}
		c := exec.CommandContext(ctx, app.SelfExe, args...)
		c.Stdout = nil
		c.Stderr = nil
		out, err := c.Output()
		exitCode := 0
		if err != nil {
			if ee, ok := err.(*exec.ExitError); ok {
				exitCode = ee.ExitCode()
			} else {
				return 1, "", fmt.Errorf("task run-all: spawn worker for %s: %w", taskID, err)
			}
		}
		return exitCode, strings.TrimSpace(string(out)), nil
	}
}
