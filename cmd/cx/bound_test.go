package main

import (
	"context"
	"strings"
	"testing"

	"github.com/fugamante/cx/internal/execute"
	"github.com/fugamante/cx/internal/provider"
	"github.com/fugamante/cx/internal/runlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunDirect_Plain(t *testing.T) {
	app := newTestApp(t, &provider.MockAdapter{PlainResponse: "hello from plain"})
	r, err := app.runDirect(context.Background(), "cx", execute.Plain, "do a thing")
	require.NoError(t, err)
	assert.Equal(t, "hello from plain", r.Stdout)
	assert.Nil(t, r.SchemaValid)
}

func TestRunDirect_AgentText(t *testing.T) {
	app := newTestApp(t, &provider.MockAdapter{PlainResponse: "agent says hi"})
	r, err := app.runDirect(context.Background(), "cxo", execute.AgentText, "objective")
	require.NoError(t, err)
	assert.Equal(t, "agent says hi", r.Stdout)
}

func TestRunDirect_PropagatesAdapterError(t *testing.T) {
	app := newTestApp(t, &provider.MockAdapter{ErrorMessage: "backend unreachable"})
	_, err := app.runDirect(context.Background(), "cx", execute.Plain, "do a thing")
	require.Error(t, err)
}

func TestRunSchemaCommand_ValidOnFirstAttempt(t *testing.T) {
	app := newTestApp(t, &provider.MockAdapter{PlainResponse: `{"commands":["echo ok"]}`})
	writeSchema(t, app, "fixrun", fixrunSchemaBody)

	r, err := app.runSchemaCommand(context.Background(), "fix-run", "fixrun", []string{"echo", "diff text"})
	require.NoError(t, err)
	require.NotNil(t, r.SchemaValid)
	assert.True(t, *r.SchemaValid)
	assert.JSONEq(t, `{"commands":["echo ok"]}`, r.Stdout)
	assert.Empty(t, r.QuarantineID)
}

func TestRunSchemaCommand_QuarantinesAfterRetryFails(t *testing.T) {
	app := newTestApp(t, &provider.MockAdapter{PlainResponse: "not json at all"})
	writeSchema(t, app, "fixrun", fixrunSchemaBody)

	r, err := app.runSchemaCommand(context.Background(), "fix-run", "fixrun", []string{"echo", "diff text"})
	require.NoError(t, err)
	require.NotNil(t, r.SchemaValid)
	assert.False(t, *r.SchemaValid)
	assert.NotEmpty(t, r.QuarantineID)

	rec, err := app.Quarantine.Read(r.QuarantineID)
	require.NoError(t, err)
	assert.Equal(t, "fix-run", rec.Tool)
}

func TestRunFixRun_ForceExecRunsSafeSuggestions(t *testing.T) {
	app := newTestApp(t, &provider.MockAdapter{PlainResponse: `{"commands":["echo safe"]}`})
	writeSchema(t, app, "fixrun", fixrunSchemaBody)

	out, err := app.runFixRun(context.Background(), false, true, false, []string{"echo", "broken build"})
	require.NoError(t, err)
	require.Len(t, out.Commands, 1)
	require.Len(t, out.Executed, 1)
	assert.True(t, out.Executed[0].Ran)
	assert.False(t, out.Executed[0].Decision.Dangerous)
}

func TestRunFixRun_SkipsDangerousSuggestionWithoutUnsafe(t *testing.T) {
	app := newTestApp(t, &provider.MockAdapter{PlainResponse: `{"commands":["sudo rm -rf /tmp/x"]}`})
	writeSchema(t, app, "fixrun", fixrunSchemaBody)

	out, err := app.runFixRun(context.Background(), false, true, false, []string{"echo", "broken build"})
	require.NoError(t, err)
	require.Len(t, out.Executed, 1)
	assert.True(t, out.Executed[0].Decision.Dangerous)
	assert.False(t, out.Executed[0].Ran)
}

func TestRunFixRun_BlockedSuggestionAppendsPolicyBlockedRunLogRow(t *testing.T) {
	app := newTestApp(t, &provider.MockAdapter{PlainResponse: `{"commands":["rm -rf /tmp/x"]}`})
	writeSchema(t, app, "fixrun", fixrunSchemaBody)

	out, err := app.runFixRun(context.Background(), false, true, false, []string{"echo", "broken build"})
	require.NoError(t, err)
	require.Len(t, out.Executed, 1)
	assert.False(t, out.Executed[0].Ran)

	rows, _, _, err := runlog.LoadRuns(app.Layout.RunsLog, 0)
	require.NoError(t, err)

	var blockedRow *runlog.Row
	for i := range rows {
		if rows[i].ExecutionID == out.Analysis.ExecutionID && rows[i].PolicyBlocked != nil && *rows[i].PolicyBlocked {
			blockedRow = &rows[i]
		}
	}
	require.NotNil(t, blockedRow, "expected a policy_blocked run-log row sharing the analysis execution id")
	require.NotNil(t, blockedRow.PolicyReason)
	assert.Contains(t, strings.ToLower(*blockedRow.PolicyReason), "rm -rf")
}

func TestRunFixRun_UnsafeBypassesDangerousSkip(t *testing.T) {
	app := newTestApp(t, &provider.MockAdapter{PlainResponse: `{"commands":["echo sudo rm -rf /tmp/x"]}`})
	writeSchema(t, app, "fixrun", fixrunSchemaBody)

	out, err := app.runFixRun(context.Background(), true, true, false, []string{"echo", "broken build"})
	require.NoError(t, err)
	require.Len(t, out.Executed, 1)
	assert.True(t, out.Executed[0].Ran)
}

func TestExitFromResult(t *testing.T) {
	valid := true
	invalid := false
	assert.Equal(t, 0, exitFromResult(&execute.Result{SchemaValid: &valid}))
	assert.Equal(t, 1, exitFromResult(&execute.Result{SchemaValid: &invalid}))
	assert.Equal(t, 0, exitFromResult(&execute.Result{}))
}

func TestSplitShellWords(t *testing.T) {
	assert.Equal(t, []string{"go", "test", "./..."}, splitShellWords("go   test ./..."))
	assert.Empty(t, splitShellWords(""))
}
