package main

import (
	"context"
	"fmt"

	"github.com/fugamante/cx/internal/execute"
)

// appDispatcher implements task.Dispatcher by routing each bound
// command to the same functions the cobra commands call directly, so a
// task's objective and an interactively typed command run identically.
type appDispatcher struct {
	app *App
}

func (d *appDispatcher) DispatchBound(ctx context.Context, argv []string) (int, string, error) {
	if len(argv) == 0 {
		return 1, "", fmt.Errorf("dispatch: empty bound command")
	}
	switch argv[0] {
	case "commitjson":
		r, err := d.app.runCommitJSON(ctx)
		return resultOrErr(r, err)
	case "commitmsg":
		r, err := d.app.runCommitMsg(ctx)
		return resultOrErr(r, err)
	case "diffsum":
		staged := len(argv) > 1 && argv[1] == "--staged"
		r, err := d.app.runDiffSum(ctx, staged)
		return resultOrErr(r, err)
	case "diffsum-staged":
		r, err := d.app.runDiffSum(ctx, true)
		return resultOrErr(r, err)
	case "next":
		r, err := d.app.runNext(ctx, argv[1:])
		return resultOrErr(r, err)
	case "fix-run":
		unsafe, rest := extractUnsafeFlag(argv[1:])
		out, err := d.app.runFixRun(ctx, unsafe, d.app.Config.FixRun, false, rest)
		if err != nil {
			return 1, "", err
		}
		return exitFromResult(out.Analysis), out.Analysis.ExecutionID, nil
	case "fix":
		unsafe, rest := extractUnsafeFlag(argv[1:])
		out, err := d.app.runFixRun(ctx, unsafe, false, false, rest)
		if err != nil {
			return 1, "", err
		}
		return exitFromResult(out.Analysis), out.Analysis.ExecutionID, nil
	case "cx":
		r, err := d.app.runDirect(ctx, "cx", execute.Plain, joinArgs(argv[1:]))
		return resultOrErr(r, err)
	case "cxj":
		r, err := d.app.runDirect(ctx, "cxj", execute.Jsonl, joinArgs(argv[1:]))
		return resultOrErr(r, err)
	case "cxo":
		r, err := d.app.runDirect(ctx, "cxo", execute.AgentText, joinArgs(argv[1:]))
		return resultOrErr(r, err)
	default:
		return 1, "", fmt.Errorf("dispatch: unknown bound command %q", argv[0])
	}
}

func (d *appDispatcher) DispatchPrompt(ctx context.Context, objective string) (int, string, error) {
	r, err := d.app.runDirect(ctx, "task_objective", execute.AgentText, objective)
	return resultOrErr(r, err)
}

func resultOrErr(r *execute.Result, err error) (int, string, error) {
	if err != nil {
		return 1, "", err
	}
	return exitFromResult(r), r.ExecutionID, nil
}

func extractUnsafeFlag(args []string) (unsafe bool, rest []string) {
	for _, a := range args {
		if a == "--unsafe" {
			unsafe = true
			continue
		}
		rest = append(rest, a)
	}
	return unsafe, rest
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}
