package runlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u64(v uint64) *uint64 { return &v }
func str(v string) *string { return &v }
func boolp(v bool) *bool   { return &v }

func strictRow(execID string) Row {
	return Row{
		ExecutionID: execID, Timestamp: "2026-01-01T00:00:00Z", Command: "next",
		BackendUsed: "codex", CaptureProvider: str("native"), ExecutionMode: "lean",
		DurationMs: u64(10), SchemaEnforced: true, SchemaValid: true,
		QuarantineID: nil, TaskID: str("task_001"),
		SystemOutputLenRaw: u64(1), SystemOutputLenProcessed: u64(1), SystemOutputLenClipped: u64(1),
		SystemOutputLinesRaw: u64(1), SystemOutputLinesProcessed: u64(1), SystemOutputLinesClipped: u64(1),
		InputTokens: u64(5), CachedInputTokens: u64(0), EffectiveInputTokens: u64(5), OutputTokens: u64(2),
		PolicyBlocked: boolp(false), PolicyReason: nil,
	}
}

func TestAppendAndValidateStrict(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runs.jsonl")

	require.NoError(t, AppendJSONL(path, strictRow("exec_1")))
	require.NoError(t, AppendJSONL(path, strictRow("exec_2")))

	outcome, err := ValidateFile(path, false)
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Total)
	assert.Empty(t, outcome.Issues)
}

func TestValidateStrictRejectsMissingKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runs.jsonl")
	row := strictRow("exec_1")
	row.QuarantineID = nil // quarantine_id is in required_strict and must still be present (nil is fine since field always marshals via omitempty... )

	require.NoError(t, AppendJSONL(path, row))
	// Quarantine_id is required even when absent conceptually; since
	// omitempty drops nil pointers, a strict validate should flag it.
	outcome, err := ValidateFile(path, false)
	require.NoError(t, err)
	assert.NotEmpty(t, outcome.Issues)
}

func TestMigrateNormalizesLegacyRow(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "runs.jsonl")
	out := filepath.Join(dir, "runs.migrated.jsonl")

	legacy := `{"ts":"2025-01-01T00:00:00Z","tool":"echo hi","repo_root":"/repo"}` + "\n"
	require.NoError(t, os.WriteFile(in, []byte(legacy), 0o644))

	summary, err := Migrate(in, out)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.EntriesIn)
	assert.Equal(t, 1, summary.EntriesOut)
	assert.Equal(t, 1, summary.LegacyNormalized)
	assert.Equal(t, 0, summary.ModernNormalized)

	rows, invalid, _, err := LoadRuns(out, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, invalid)
	require.Len(t, rows, 1)
	assert.Equal(t, "echo hi", rows[0].Command)
	assert.Contains(t, rows[0].ExecutionID, "legacy_")
}
