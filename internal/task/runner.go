package task

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/fugamante/cx/internal/state"
)

// boundCommands is the set of first-words run_task_by_id dispatches
// directly rather than treating the whole objective as a free-text
// prompt.
var boundCommands = map[string]bool{
	"commitjson": true, "commitmsg": true, "diffsum": true, "diffsum-staged": true,
	"next": true, "fix-run": true, "fix": true, "cx": true, "cxj": true, "cxo": true,
}

// Dispatcher runs one bound command or free-text objective and reports
// its outcome. The concrete implementation lives at the cmd/cx layer,
// which knows how to wire each bound command to execute_task.
type Dispatcher interface {
	// DispatchBound runs a known bound command (argv[0] is the command
	// name) in-process.
	DispatchBound(ctx context.Context, argv []string) (exitCode int, executionID string, err error)
	// DispatchPrompt treats objective as free text and calls execute_task
	// with output_kind=AgentText.
	DispatchPrompt(ctx context.Context, objective string) (exitCode int, executionID string, err error)
}

// Overrides carries the optional mode/backend overrides run_task_by_id
// may receive; when either is set, bound-command dispatch re-execs as a
// subprocess of the current binary instead of calling Dispatcher
// in-process, so the child sees the override through its environment.
type Overrides struct {
	Mode    string
	Backend string
}

// RunOptions configures RunByID.
type RunOptions struct {
	ModeOverride    Overrides
	BackendOverride string
	ManagedByParent bool
	SelfExe         string // os.Args[0]-equivalent, used for re-exec
}

// RunByID implements run_task_by_id: loads the task, transitions it
// in_progress, binds the ambient task id for the duration of the call,
// dispatches the objective, and records the outcome.
func RunByID(ctx context.Context, store *Store, states *state.Store, dispatcher Dispatcher, id string, opts RunOptions) (exitCode int, executionID string, err error) {
	rec, ok, err := store.Get(id)
	if err != nil {
		return 1, "", err
	}
	if !ok {
		return 1, "", fmt.Errorf("task: no such task %q", id)
	}
	if rec.Status == Done || rec.Status == Failed {
		return 0, "", nil
	}

	if _, err := store.Update(id, func(r *Record) { r.Status = Running }); err != nil {
		return 1, "", err
	}

	var runErr error
	ambientErr := states.WithAmbientTask(rec.ID, rec.ParentID, func() error {
		exitCode, executionID, runErr = dispatchObjective(ctx, dispatcher, rec, opts)
		return nil
	})
	if ambientErr != nil {
		return 1, "", ambientErr
	}

	finalStatus := Done
	failReason := ""
	if runErr != nil || exitCode != 0 {
		finalStatus = Failed
		if runErr != nil {
			failReason = runErr.Error()
		}
	}
	if _, err := store.Update(id, func(r *Record) {
		r.Status = finalStatus
		r.FailReason = failReason
	}); err != nil {
		return exitCode, executionID, err
	}

	// Objective failures are non-fatal to the pipeline: they are recorded
	// on the task, not propagated as a process-level error.
	return exitCode, executionID, nil
}

func dispatchObjective(ctx context.Context, dispatcher Dispatcher, rec Record, opts RunOptions) (int, string, error) {
	words := strings.Fields(rec.Command)
	if len(words) == 0 {
		return 1, "", fmt.Errorf("task %s: empty objective", rec.ID)
	}

	argv := append([]string{words[0]}, append(append([]string(nil), words[1:]...), rec.Args...)...)
	if !boundCommands[words[0]] {
		return dispatcher.DispatchPrompt(ctx, rec.Command)
	}

	if opts.ModeOverride.Mode == "" && opts.ModeOverride.Backend == "" && opts.BackendOverride == "" {
		return dispatcher.DispatchBound(ctx, argv)
	}
	return reExecBound(ctx, argv, opts)
}

// reExecBound re-invokes the current binary as a child process with
// CX_MODE/CX_LLM_BACKEND set, so a task whose runner call supplied
// mode/backend overrides gets them applied the same way a freshly
// started process would.
func reExecBound(ctx context.Context, argv []string, opts RunOptions) (int, string, error) {
	self := opts.SelfExe
	if self == "" {
		self = os.Args[0]
	}
	cmd := exec.CommandContext(ctx, self, argv...)
	cmd.Env = os.Environ()
	backend := opts.BackendOverride
	if backend == "" {
		backend = opts.ModeOverride.Backend
	}
	if opts.ModeOverride.Mode != "" {
		cmd.Env = append(cmd.Env, "CX_MODE="+opts.ModeOverride.Mode)
	}
	if backend != "" {
		cmd.Env = append(cmd.Env, "CX_LLM_BACKEND="+backend)
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), "", nil
		}
		return 1, "", fmt.Errorf("task: re-exec %v: %w", argv, err)
	}
	return 0, "", nil
}
