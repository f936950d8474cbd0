package runlog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/fugamante/cx/internal/provider"
)

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func strField(obj map[string]any, key string) (string, bool) {
	v, ok := obj[key].(string)
	return v, ok
}

func strFieldOr(obj map[string]any, def string, keys ...string) string {
	for _, k := range keys {
		if v, ok := strField(obj, k); ok {
			return v
		}
	}
	return def
}

func boolField(obj map[string]any, key string) *bool {
	if v, ok := obj[key].(bool); ok {
		return &v
	}
	return nil
}

func u64Field(obj map[string]any, key string) *uint64 {
	if v, ok := obj[key].(float64); ok {
		u := uint64(v)
		return &u
	}
	return nil
}

func u32Field(obj map[string]any, key string) *uint32 {
	if v, ok := obj[key].(float64); ok {
		u := uint32(v)
		return &u
	}
	return nil
}

func strPtrField(obj map[string]any, key string) *string {
	if v, ok := obj[key].(string); ok {
		return &v
	}
	return nil
}

// NormalizeRow converts one parsed run-log row (legacy or modern) into
// the strict Row shape, with a deterministic legacy_ fallback execution
// id when the source row never had one.
func NormalizeRow(obj map[string]any) (Row, bool, error) {
	ts := strFieldOr(obj, "", "timestamp", "ts")
	command := strFieldOr(obj, "unknown", "command", "tool")
	cwd := strFieldOr(obj, "", "cwd")
	scope := strFieldOr(obj, "repo", "scope")
	repoRoot := strFieldOr(obj, "", "repo_root")
	backendUsed := strFieldOr(obj, "codex", "backend_used", "llm_backend")

	_, hasExecID := obj["execution_id"]
	_, hasTS := obj["timestamp"]
	isModern := hasExecID && hasTS

	execID, _ := strField(obj, "execution_id")
	if execID == "" {
		execID = fmt.Sprintf("legacy_%s", sha256Hex(command+"|"+ts+"|"+cwd))
	}

	executionMode := strFieldOr(obj, defaultExecutionMode(isModern), "execution_mode")

	schemaEnforced := false
	if v, ok := obj["schema_enforced"].(bool); ok {
		schemaEnforced = v
	}
	schemaValid := true
	if v, ok := obj["schema_valid"].(bool); ok {
		schemaValid = v
	} else if v, ok := obj["schema_ok"].(bool); ok {
		schemaValid = v
	}
	schemaOk := true
	if v, ok := obj["schema_ok"].(bool); ok {
		schemaOk = v
	}

	inputTokens := u64Field(obj, "input_tokens")
	cachedInputTokens := u64Field(obj, "cached_input_tokens")
	effectiveInputTokens := provider.EffectiveInputTokens(inputTokens, cachedInputTokens)
	if effectiveInputTokens == nil {
		effectiveInputTokens = u64Field(obj, "effective_input_tokens")
	}

	row := Row{
		ExecutionID:  execID,
		Timestamp:    ts,
		TS:           ts,
		Command:      command,
		Tool:         command,
		Cwd:          cwd,
		Scope:        scope,
		RepoRoot:     repoRoot,
		BackendUsed:  backendUsed,
		LLMBackend:   backendUsed,
		LLMModel:     strPtrField(obj, "llm_model"),

		CaptureProvider: strPtrField(obj, "capture_provider"),
		ExecutionMode:   executionMode,
		DurationMs:      u64Field(obj, "duration_ms"),

		SchemaEnforced: schemaEnforced,
		SchemaName:     strPtrField(obj, "schema_name"),
		SchemaValid:    schemaValid,
		SchemaOk:       schemaOk,
		SchemaReason:   strPtrField(obj, "schema_reason"),
		QuarantineID:   strPtrField(obj, "quarantine_id"),

		TaskID:       strPtrField(obj, "task_id"),
		TaskParentID: strPtrField(obj, "task_parent_id"),

		InputTokens:          inputTokens,
		CachedInputTokens:    cachedInputTokens,
		EffectiveInputTokens: effectiveInputTokens,
		OutputTokens:         u64Field(obj, "output_tokens"),

		SystemOutputLenRaw:         u64Field(obj, "system_output_len_raw"),
		SystemOutputLenProcessed:   u64Field(obj, "system_output_len_processed"),
		SystemOutputLenClipped:     u64Field(obj, "system_output_len_clipped"),
		SystemOutputLinesRaw:       u64Field(obj, "system_output_lines_raw"),
		SystemOutputLinesProcessed: u64Field(obj, "system_output_lines_processed"),
		SystemOutputLinesClipped:   u64Field(obj, "system_output_lines_clipped"),
		Clipped:                    boolField(obj, "clipped"),
		BudgetChars:                u64Field(obj, "budget_chars"),
		BudgetLines:                u64Field(obj, "budget_lines"),
		ClipMode:                   strPtrField(obj, "clip_mode"),
		ClipFooter:                 boolField(obj, "clip_footer"),
		RTKUsed:                    boolField(obj, "rtk_used"),

		PromptSHA256:  strPtrField(obj, "prompt_sha256"),
		PromptPreview: strPtrField(obj, "prompt_preview"),

		PolicyBlocked: boolField(obj, "policy_blocked"),
		PolicyReason:  strPtrField(obj, "policy_reason"),

		ReplicaIndex: u32Field(obj, "replica_index"),
		ReplicaCount: u32Field(obj, "replica_count"),
	}

	if v, ok := obj["converge_votes"]; ok {
		if raw, err := json.Marshal(v); err == nil {
			row.ConvergeVotes = raw
		}
	}

	return row, isModern, nil
}

func defaultExecutionMode(isModern bool) string {
	if isModern {
		return "lean"
	}
	return "legacy"
}
