package execute

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/fugamante/cx/internal/provider"
	"github.com/fugamante/cx/internal/quarantine"
	"github.com/fugamante/cx/internal/runlog"
	"github.com/fugamante/cx/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okSchema = &schema.Loaded{
	Name:  "ok",
	Value: json.RawMessage(`{"type":"object","properties":{"ok":{"type":"boolean"}},"required":["ok"]}`),
}

func wrap(t *testing.T, text string) string {
	t.Helper()
	w, err := provider.WrapAgentTextAsJsonl(text)
	require.NoError(t, err)
	return w
}

func newEnv(t *testing.T, adapter provider.Adapter) Env {
	t.Helper()
	dir := t.TempDir()
	return Env{
		Adapter:            adapter,
		RunLogPath:         filepath.Join(dir, "runs.jsonl"),
		SchemaFailuresPath: filepath.Join(dir, "schema_failures.jsonl"),
		QuarantineStore:    quarantine.NewStore(filepath.Join(dir, "quarantine")),
	}
}

func TestRun_PlainOutputKind(t *testing.T) {
	adapter := &provider.MockAdapter{PlainResponse: "echo hi"}
	env := newEnv(t, adapter)

	res, err := Run(context.Background(), env, Spec{
		CommandName: "next",
		Input:       Input{Prompt: "do the thing"},
		OutputKind:  Plain,
	})
	require.NoError(t, err)
	assert.Equal(t, "echo hi", res.Stdout)
	assert.Nil(t, res.SchemaValid)
	assert.Empty(t, res.QuarantineID)
}

func TestRun_SchemaJson_FirstAttemptValid(t *testing.T) {
	adapter := &provider.MockAdapter{Sequenced: []string{wrap(t, `{"ok":true}`)}}
	env := newEnv(t, adapter)

	res, err := Run(context.Background(), env, Spec{
		CommandName:    "commitjson",
		Input:          Input{Prompt: "summarize this diff"},
		OutputKind:     SchemaJson,
		Schema:         okSchema,
		LoggingEnabled: true,
	})
	require.NoError(t, err)
	require.NotNil(t, res.SchemaValid)
	assert.True(t, *res.SchemaValid)
	assert.Empty(t, res.QuarantineID)
	assert.JSONEq(t, `{"ok":true}`, res.Stdout)

	rows, invalid, _, err := runlog.LoadRuns(env.RunLogPath, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, invalid)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].SchemaValid)
	assert.Equal(t, uint64(1), *rows[0].SchemaAttempt)
}

func TestRun_SchemaJson_RetrySucceeds(t *testing.T) {
	adapter := &provider.MockAdapter{Sequenced: []string{
		wrap(t, `{"ok":"nope"}`), // wrong type, fails schema
		wrap(t, `{"ok":true}`),
	}}
	env := newEnv(t, adapter)

	res, err := Run(context.Background(), env, Spec{
		CommandName:    "commitjson",
		Input:          Input{Prompt: "summarize this diff"},
		OutputKind:     SchemaJson,
		Schema:         okSchema,
		LoggingEnabled: true,
	})
	require.NoError(t, err)
	require.NotNil(t, res.SchemaValid)
	assert.True(t, *res.SchemaValid)
	assert.Empty(t, res.QuarantineID)

	rows, _, _, err := runlog.LoadRuns(env.RunLogPath, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, uint64(2), *rows[0].SchemaAttempt)
}

func TestRun_SchemaJson_QuarantineOnExhaustion(t *testing.T) {
	adapter := &provider.MockAdapter{Sequenced: []string{
		wrap(t, `{"ok":"nope"}`),
		wrap(t, `not even json`),
	}}
	env := newEnv(t, adapter)

	res, err := Run(context.Background(), env, Spec{
		CommandName:    "commitjson",
		Input:          Input{Prompt: "summarize this diff"},
		OutputKind:     SchemaJson,
		Schema:         okSchema,
		LoggingEnabled: true,
	})
	require.NoError(t, err)
	require.NotNil(t, res.SchemaValid)
	assert.False(t, *res.SchemaValid)
	require.NotEmpty(t, res.QuarantineID)

	rec, err := env.QuarantineStore.Read(res.QuarantineID)
	require.NoError(t, err)
	assert.Equal(t, "commitjson", rec.Tool)
	require.Len(t, rec.Attempts, 2)

	rows, _, _, err := runlog.LoadRuns(env.RunLogPath, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].SchemaValid)
	require.NotNil(t, rows[0].QuarantineID)
	assert.Equal(t, res.QuarantineID, *rows[0].QuarantineID)
}

func TestRun_SchemaJson_RelaxedSkipsRetry(t *testing.T) {
	adapter := &provider.MockAdapter{Sequenced: []string{wrap(t, `{"ok":"nope"}`)}}
	env := newEnv(t, adapter)

	res, err := Run(context.Background(), env, Spec{
		CommandName:    "commitjson",
		Input:          Input{Prompt: "summarize this diff"},
		OutputKind:     SchemaJson,
		Schema:         okSchema,
		SchemaRelaxed:  true,
		LoggingEnabled: true,
	})
	require.NoError(t, err)
	require.NotNil(t, res.SchemaValid)
	assert.False(t, *res.SchemaValid)
	require.NotEmpty(t, res.QuarantineID)

	rec, err := env.QuarantineStore.Read(res.QuarantineID)
	require.NoError(t, err)
	require.Len(t, rec.Attempts, 1)
}

func TestRun_SystemCommandInput(t *testing.T) {
	adapter := &provider.MockAdapter{PlainResponse: "summarized"}
	env := newEnv(t, adapter)

	res, err := Run(context.Background(), env, Spec{
		CommandName: "diffsum",
		Input:       Input{SystemCommand: []string{"echo", "diff text"}},
		OutputKind:  Plain,
	})
	require.NoError(t, err)
	assert.Equal(t, "summarized", res.Stdout)
}
