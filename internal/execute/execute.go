// Package execute implements execute_task: the single pipeline that
// turns a TaskSpec into an ExecutionResult by routing through capture,
// a backend adapter, and (for schema-guarded tasks) the retry/quarantine
// sub-pipeline, emitting exactly one run-log row per completed call when
// logging is enabled. A call that fails with a capture, adapter or
// quarantine error returns that error and writes no run-log row.
package execute

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fugamante/cx/internal/capture"
	"github.com/fugamante/cx/internal/governance"
	"github.com/fugamante/cx/internal/provider"
	"github.com/fugamante/cx/internal/quarantine"
	"github.com/fugamante/cx/internal/runlog"
	"github.com/fugamante/cx/internal/schema"
)

// OutputKind selects how execute_task dispatches the adapter call.
type OutputKind int

const (
	Plain OutputKind = iota
	Jsonl
	AgentText
	SchemaJson
)

// Input is either a literal prompt or a system command to capture first.
type Input struct {
	Prompt        string
	SystemCommand []string
}

// Spec is the execute_task input.
type Spec struct {
	CommandName     string
	Input           Input
	OutputKind      OutputKind
	Schema          *schema.Loaded
	SchemaTaskInput string
	LoggingEnabled  bool
	CaptureOverride *capture.Stats
	SchemaRelaxed   bool

	TaskID       string
	TaskParentID string

	BackendUsed string
	LLMBackend  string
	LLMModel    string

	CaptureOptions capture.Options
}

// Result is execute_task's output.
type Result struct {
	Stdout       string
	Stderr       string
	DurationMs   uint64
	SchemaValid  *bool
	QuarantineID string
	Capture      capture.Stats
	ExecutionID  string
	Usage        provider.Usage
	SystemStatus *int
}

// Env bundles the collaborators execute_task needs: the adapter to run
// prompts through, the run-log/quarantine/schema-failure sinks, and the
// paths those sinks write under.
type Env struct {
	Adapter provider.Adapter

	RunLogPath         string
	SchemaFailuresPath string
	QuarantineStore    *quarantine.Store

	// RedactionRules, when set, are applied to captured command output
	// before it becomes part of a prompt or a run-log preview/hash —
	// the supplemental governance layer's output-redaction concern.
	RedactionRules []*governance.CompiledRedaction

	Now func() time.Time
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func makeExecutionID(tool string) string {
	now := time.Now().UTC()
	return fmt.Sprintf("%s_%s_%d_%d", quarantine.SanitizeIDPart(tool), now.Format("20060102T150405"), now.Nanosecond(), os.Getpid())
}

func promptPreview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Run executes spec end to end.
func Run(ctx context.Context, env Env, spec Spec) (*Result, error) {
	started := time.Now()
	executionID := makeExecutionID(spec.CommandName)

	prompt, capStats, systemStatus, err := acquireInput(ctx, spec, env)
	if err != nil {
		return nil, err
	}
	if len(env.RedactionRules) > 0 {
		prompt = governance.Redact(prompt, env.RedactionRules)
	}

	var (
		schemaValid         *bool
		quarantineID        string
		schemaPromptForLog  string
		schemaRawForLog     string
		schemaAttemptForLog *uint64
		schemaReasonForLog  string
		usage               provider.Usage
		stdout              string
	)

	switch spec.OutputKind {
	case Plain:
		stdout, err = env.Adapter.RunPlain(ctx, prompt)
		if err != nil {
			return nil, err
		}

	case Jsonl:
		jsonl, err2 := env.Adapter.RunJsonl(ctx, prompt)
		if err2 != nil {
			return nil, err2
		}
		usage = provider.UsageFromJsonl(jsonl)
		stdout = jsonl

	case AgentText:
		jsonl, err2 := env.Adapter.RunJsonl(ctx, prompt)
		if err2 != nil {
			return nil, err2
		}
		usage = provider.UsageFromJsonl(jsonl)
		stdout, _ = provider.ExtractAgentText(jsonl)

	case SchemaJson:
		if spec.Schema == nil {
			return nil, fmt.Errorf("schema execution missing schema")
		}
		taskInput := spec.SchemaTaskInput
		if taskInput == "" {
			taskInput = prompt
		}

		attempt1 := uint64(1)
		fullPrompt := schema.BuildStrictSchemaPrompt(spec.Schema.Value, taskInput)
		schemaRawForLog = string(spec.Schema.Value)
		schemaPromptForLog = fullPrompt
		schemaAttemptForLog = &attempt1

		firstRaw, firstUsage, err2 := runSchemaAttempt(ctx, env.Adapter, fullPrompt)
		if err2 != nil {
			return nil, err2
		}
		usage = firstUsage

		instance, reason := validateSchemaAttempt(spec.Schema, firstRaw)
		if reason == "" {
			valid := true
			schemaValid = &valid
			stdout = marshalInstance(instance)
			break
		}

		attempts := []quarantine.Attempt{quarantine.NewAttempt(reason, fullPrompt, firstRaw)}

		retryAllowed := !spec.SchemaRelaxed
		var finalRaw, finalReason string
		if retryAllowed {
			retryPrompt := schema.BuildRetrySchemaPrompt(spec.Schema.Value, taskInput, reason)
			schemaPromptForLog = retryPrompt
			attempt2 := uint64(2)
			schemaAttemptForLog = &attempt2

			retryRaw, retryUsage, err3 := runSchemaAttempt(ctx, env.Adapter, retryPrompt)
			if err3 != nil {
				return nil, err3
			}
			usage = retryUsage

			instance2, reason2 := validateSchemaAttempt(spec.Schema, retryRaw)
			if reason2 == "" {
				valid := true
				schemaValid = &valid
				stdout = marshalInstance(instance2)
				if spec.LoggingEnabled {
					emitRunLogRow(env, spec, runRowInputs{
						executionID: executionID,
						prompt:      taskInput, schemaPromptForLog: schemaPromptForLog, schemaRawForLog: schemaRawForLog,
						schemaAttempt: schemaAttemptForLog, durationMs: uint64(time.Since(started).Milliseconds()),
						usage: usage, capture: capStats, schemaOk: true, schemaName: spec.Schema.Name,
					})
				}
				return &Result{
					Stdout: stdout, DurationMs: uint64(time.Since(started).Milliseconds()), SchemaValid: schemaValid,
					Capture: capStats, ExecutionID: executionID, Usage: usage, SystemStatus: systemStatus,
				}, nil
			}
			attempts = append(attempts, quarantine.NewAttempt(reason2, retryPrompt, retryRaw))
			finalRaw, finalReason = retryRaw, reason2
		} else {
			finalRaw, finalReason = firstRaw, reason
		}

		invalid := false
		schemaValid = &invalid
		schemaReasonForLog = finalReason
		qid, qerr := logSchemaFailure(env, spec.CommandName, finalReason, finalRaw, schemaRawForLog, taskInput, attempts)
		if qerr != nil {
			return nil, qerr
		}
		quarantineID = qid
		stdout = finalRaw

		if spec.LoggingEnabled {
			emitRunLogRow(env, spec, runRowInputs{
				executionID: executionID,
				prompt:      taskInput, schemaPromptForLog: schemaPromptForLog, schemaRawForLog: schemaRawForLog,
				schemaAttempt: schemaAttemptForLog, durationMs: uint64(time.Since(started).Milliseconds()),
				usage: usage, capture: capStats, schemaOk: false, schemaReason: schemaReasonForLog,
				schemaName: spec.Schema.Name, quarantineID: quarantineID,
			})
		}
		return &Result{
			Stdout: stdout, DurationMs: uint64(time.Since(started).Milliseconds()), SchemaValid: schemaValid,
			QuarantineID: quarantineID, Capture: capStats, ExecutionID: executionID, Usage: usage, SystemStatus: systemStatus,
		}, nil
	}

	schemaName := ""
	if spec.Schema != nil {
		schemaName = spec.Schema.Name
	}
	if spec.LoggingEnabled {
		emitRunLogRow(env, spec, runRowInputs{
			executionID: executionID,
			prompt:      prompt, schemaPromptForLog: schemaPromptForLog, schemaRawForLog: schemaRawForLog,
			schemaAttempt: schemaAttemptForLog, durationMs: uint64(time.Since(started).Milliseconds()),
			usage: usage, capture: capStats, schemaOk: schemaValid == nil || *schemaValid, schemaName: schemaName,
			quarantineID: quarantineID,
		})
	}

	return &Result{
		Stdout: stdout, DurationMs: uint64(time.Since(started).Milliseconds()), SchemaValid: schemaValid,
		QuarantineID: quarantineID, Capture: capStats, ExecutionID: executionID, Usage: usage, SystemStatus: systemStatus,
	}, nil
}

func acquireInput(ctx context.Context, spec Spec, env Env) (string, capture.Stats, *int, error) {
	if len(spec.Input.SystemCommand) > 0 {
		result, err := capture.RunSystemCommandCapture(ctx, spec.Input.SystemCommand, spec.CaptureOptions)
		if err != nil {
			return "", capture.Stats{}, nil, err
		}
		stats := result.Stats
		if spec.CaptureOverride != nil {
			stats = *spec.CaptureOverride
		}
		code := result.ExitCode
		return result.Text, stats, &code, nil
	}
	stats := capture.Stats{}
	if spec.CaptureOverride != nil {
		stats = *spec.CaptureOverride
	}
	return spec.Input.Prompt, stats, nil, nil
}

func runSchemaAttempt(ctx context.Context, adapter provider.Adapter, fullPrompt string) (string, provider.Usage, error) {
	jsonl, err := adapter.RunJsonl(ctx, fullPrompt)
	if err != nil {
		return "", provider.Usage{}, err
	}
	usage := provider.UsageFromJsonl(jsonl)
	raw, _ := provider.ExtractAgentText(jsonl)
	return raw, usage, nil
}

func validateSchemaAttempt(sch *schema.Loaded, raw string) (instance any, reason string) {
	inst, err := schema.ValidateEmbedded(string(sch.Value), raw)
	if err != nil {
		return nil, err.Error()
	}
	return inst, ""
}

func marshalInstance(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func logSchemaFailure(env Env, tool, reason, raw, schemaText, prompt string, attempts []quarantine.Attempt) (string, error) {
	qid, err := env.QuarantineStore.WriteWithAttempts(tool, reason, raw, schemaText, prompt, attempts)
	if err != nil {
		return "", fmt.Errorf("execute: quarantine write: %w", err)
	}
	if err := quarantine.AppendFailureLog(env.SchemaFailuresPath, quarantine.FailureLogRow{
		TS: time.Now().UTC().Format(time.RFC3339), Tool: tool, Reason: reason, QuarantineID: qid, RawSHA256: sha256Hex(raw),
	}); err != nil {
		return "", fmt.Errorf("execute: append schema failure log: %w", err)
	}
	return qid, nil
}

type runRowInputs struct {
	executionID         string
	prompt              string
	schemaPromptForLog  string
	schemaRawForLog     string
	schemaAttempt       *uint64
	durationMs          uint64
	usage               provider.Usage
	capture             capture.Stats
	schemaOk            bool
	schemaReason        string
	schemaName          string
	quarantineID        string
}

func emitRunLogRow(env Env, spec Spec, in runRowInputs) {
	row := runlog.Row{
		ExecutionID:   in.executionID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		TS:            time.Now().UTC().Format(time.RFC3339),
		Command:       spec.CommandName,
		Tool:          spec.CommandName,
		BackendUsed:   spec.BackendUsed,
		LLMBackend:    spec.LLMBackend,
		ExecutionMode: "lean",
		DurationMs:    &in.durationMs,
		SchemaEnforced: spec.OutputKind == SchemaJson,
		SchemaValid:   in.schemaOk,
		SchemaOk:      in.schemaOk,
	}
	blocked := false
	row.PolicyBlocked = &blocked
	if spec.TaskID != "" {
		row.TaskID = &spec.TaskID
	}
	if spec.TaskParentID != "" {
		row.TaskParentID = &spec.TaskParentID
	}
	if in.schemaName != "" {
		row.SchemaName = &in.schemaName
	}
	if in.schemaReason != "" {
		row.SchemaReason = &in.schemaReason
	}
	if in.quarantineID != "" {
		row.QuarantineID = &in.quarantineID
	}
	promptSum := sha256Hex(in.prompt)
	row.PromptSHA256 = &promptSum
	preview := promptPreview(in.prompt, 180)
	row.PromptPreview = &preview
	if in.schemaPromptForLog != "" {
		s := sha256Hex(in.schemaPromptForLog)
		row.SchemaPromptSHA256 = &s
	}
	if in.schemaRawForLog != "" {
		s := sha256Hex(in.schemaRawForLog)
		row.SchemaSHA256 = &s
	}
	row.SchemaAttempt = in.schemaAttempt
	row.InputTokens = in.usage.InputTokens
	row.CachedInputTokens = in.usage.CachedInputTokens
	row.EffectiveInputTokens = provider.EffectiveInputTokens(in.usage.InputTokens, in.usage.CachedInputTokens)
	row.OutputTokens = in.usage.OutputTokens

	row.SystemOutputLenRaw = in.capture.RawChars
	row.SystemOutputLenProcessed = in.capture.ProcessedChars
	row.SystemOutputLenClipped = in.capture.ClippedChars
	row.SystemOutputLinesRaw = in.capture.RawLines
	row.SystemOutputLinesProcessed = in.capture.ProcessedLines
	row.SystemOutputLinesClipped = in.capture.ClippedLines
	row.Clipped = in.capture.Clipped
	row.BudgetChars = in.capture.BudgetChars
	row.BudgetLines = in.capture.BudgetLines
	row.ClipMode = in.capture.ClipMode
	row.ClipFooter = in.capture.ClipFooter
	row.RTKUsed = in.capture.RTKUsed
	row.CaptureProvider = in.capture.CaptureProvider

	// Run-log emission is best-effort: the user has already observed the
	// LLM output by this point, so a logging failure here must not turn
	// a successful execution into a reported failure.
	_ = runlog.AppendJSONL(env.RunLogPath, row)
}
