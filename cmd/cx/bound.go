package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fugamante/cx/internal/capture"
	"github.com/fugamante/cx/internal/execute"
	"github.com/fugamante/cx/internal/policy"
	"github.com/fugamante/cx/internal/runlog"
)

// captureOptions returns app's configured capture.Options with the
// governance env-deny-glob list and the configured timeout applied —
// every bound command that captures a system command shares this.
func (a *App) captureOptions() capture.Options {
	opts := a.Config.Capture
	opts.EnvDenyGlobs = a.EnvDenyGlobs
	if a.Config.CmdTimeoutSecs > 0 {
		opts.Timeout = time.Duration(a.Config.CmdTimeoutSecs) * time.Second
	}
	return opts
}

func (a *App) execEnv() execute.Env {
	return execute.Env{
		Adapter:            a.Adapter,
		RunLogPath:         a.Layout.RunsLog,
		SchemaFailuresPath: a.Layout.FailuresLog,
		QuarantineStore:    a.Quarantine,
		RedactionRules:     a.Redactions,
	}
}

func (a *App) baseSpec(commandName string) execute.Spec {
	return execute.Spec{
		CommandName:    commandName,
		LoggingEnabled: a.Config.LoggingEnabled,
		SchemaRelaxed:  a.Config.SchemaRelaxed,
		LLMBackend:     a.Config.LLMBackend,
		BackendUsed:    a.Config.LLMBackend,
		CaptureOptions: a.captureOptions(),
	}
}

// runSchemaCommand runs commandName as a SchemaJson execute_task call
// whose input is the captured output of systemCommand, against the
// named schema.
func (a *App) runSchemaCommand(ctx context.Context, commandName, schemaName string, systemCommand []string) (*execute.Result, error) {
	sch, err := a.Schemas.Load(schemaName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", commandName, err)
	}
	spec := a.baseSpec(commandName)
	spec.Input = execute.Input{SystemCommand: systemCommand}
	spec.OutputKind = execute.SchemaJson
	spec.Schema = sch
	return execute.Run(ctx, a.execEnv(), spec)
}

// runDirect runs commandName as a Plain/Jsonl/AgentText execute_task
// call against a literal prompt, the shape `cx`/`cxj`/`cxo` use.
func (a *App) runDirect(ctx context.Context, commandName string, kind execute.OutputKind, prompt string) (*execute.Result, error) {
	spec := a.baseSpec(commandName)
	spec.Input = execute.Input{Prompt: prompt}
	spec.OutputKind = kind
	return execute.Run(ctx, a.execEnv(), spec)
}

func (a *App) runCommitJSON(ctx context.Context) (*execute.Result, error) {
	return a.runSchemaCommand(ctx, "commitjson", "commitjson", []string{"git", "diff", "--staged"})
}

func (a *App) runCommitMsg(ctx context.Context) (*execute.Result, error) {
	return a.runSchemaCommand(ctx, "commitmsg", "commitmsg", []string{"git", "diff", "--staged"})
}

func (a *App) runDiffSum(ctx context.Context, staged bool) (*execute.Result, error) {
	diffArgv := []string{"git", "diff"}
	if staged {
		diffArgv = append(diffArgv, "--staged")
	}
	return a.runSchemaCommand(ctx, "diffsum", "diffsum", diffArgv)
}

func (a *App) runNext(ctx context.Context, command []string) (*execute.Result, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("next: missing command to run")
	}
	return a.runSchemaCommand(ctx, "next", "next", command)
}

// fixRunOutcome is fix-run/fix's combined result: the schema-guarded
// analysis plus, when force-execute applies, the policy-gated
// execution of each suggested command.
type fixRunOutcome struct {
	Analysis  *execute.Result
	Commands  []string
	Executed  []fixRunExecution
	ExecError error
}

type fixRunExecution struct {
	Command  string
	Decision policy.Decision
	Ran      bool
	Output   string
	ExitCode int
}

// runFixRun captures command, runs the fixrun schema task against it,
// and — when forceExec or interactive is set — walks the suggested
// commands array through internal/policy before executing each one,
// skipping (but still reporting) any the policy marks dangerous unless
// unsafe bypasses the check. interactive additionally asks for a
// per-command y/N confirmation before running it, regardless of
// forceExec.
func (a *App) runFixRun(ctx context.Context, unsafe, forceExec, interactive bool, command []string) (*fixRunOutcome, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("fix-run: missing command to run")
	}
	result, err := a.runSchemaCommand(ctx, "fix-run", "fixrun", command)
	if err != nil {
		return nil, err
	}
	out := &fixRunOutcome{Analysis: result}
	if result.SchemaValid == nil || !*result.SchemaValid {
		return out, nil
	}
	suggested, err := extractSuggestedCommands(result.Stdout)
	if err != nil {
		return out, nil
	}
	out.Commands = suggested
	if !forceExec && !interactive {
		return out, nil
	}

	for _, cmdStr := range suggested {
		decision := policy.EvaluateWithExtra(cmdStr, a.Layout.Root, a.ExtraPolicyRules)
		exec := fixRunExecution{Command: cmdStr, Decision: decision}
		if decision.Dangerous && !unsafe {
			fmt.Fprintf(os.Stderr, "cx: fix-run: blocked dangerous command: %s (%s)\n", cmdStr, decision.Reason)
			a.logPolicyBlocked(result.ExecutionID, cmdStr, decision.Reason)
			out.Executed = append(out.Executed, exec)
			continue
		}
		if interactive {
			confirmed, cErr := confirmCommand(cmdStr)
			if cErr != nil || !confirmed {
				out.Executed = append(out.Executed, exec)
				continue
			}
		}
		capResult, runErr := capture.RunSystemCommandCapture(ctx, splitShellWords(cmdStr), a.captureOptions())
		if runErr != nil {
			out.ExecError = runErr
			out.Executed = append(out.Executed, exec)
			continue
		}
		exec.Ran = true
		exec.Output = capResult.Text
		exec.ExitCode = capResult.ExitCode
		out.Executed = append(out.Executed, exec)
	}
	return out, nil
}

// extractSuggestedCommands pulls the `"commands": [...]` string array
// out of a fixrun-schema-validated JSON response.
func extractSuggestedCommands(raw string) ([]string, error) {
	var doc struct {
		Commands []string `json:"commands"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, err
	}
	return doc.Commands, nil
}

// splitShellWords is a minimal whitespace tokenizer for the suggested
// command strings the fixrun schema returns; these are plain argv lists
// by contract, not shell syntax needing quoting/expansion.
func splitShellWords(s string) []string {
	return fieldsPreserveEmpty(s)
}

func fieldsPreserveEmpty(s string) []string {
	var words []string
	var cur []rune
	for _, r := range s {
		if r == ' ' || r == '\t' {
			if len(cur) > 0 {
				words = append(words, string(cur))
				cur = nil
			}
			continue
		}
		cur = append(cur, r)
	}
	if len(cur) > 0 {
		words = append(words, string(cur))
	}
	return words
}

// logPolicyBlocked appends a supplemental run-log row recording that a
// fix-run suggested command was blocked by the safety policy. It shares
// executionID with the analysis row execute.Run already wrote, so a
// reader can correlate the two by execution_id the way the scheduler's
// lastRunLogClassifier does.
func (a *App) logPolicyBlocked(executionID, command, reason string) {
	if !a.Config.LoggingEnabled {
		return
	}
	blocked := true
	_ = runlog.AppendJSONL(a.Layout.RunsLog, runlog.Row{
		ExecutionID:   executionID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		TS:            time.Now().UTC().Format(time.RFC3339),
		Command:       "fix-run",
		Tool:          "fix-run",
		BackendUsed:   a.Config.LLMBackend,
		LLMBackend:    a.Config.LLMBackend,
		ExecutionMode: "lean",
		PolicyBlocked: &blocked,
		PolicyReason:  &reason,
	})
}

// exitFromResult derives a bound command's process exit code: 0 unless
// the command is schema-guarded and failed validation, matching the
// task runner's run_task_by_id contract (non-zero exit marks the task
// Failed).
func exitFromResult(r *execute.Result) int {
	if r.SchemaValid != nil && !*r.SchemaValid {
		return 1
	}
	return 0
}
