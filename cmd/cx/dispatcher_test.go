package main

import (
	"context"
	"testing"

	"github.com/fugamante/cx/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchBound_CX(t *testing.T) {
	app := newTestApp(t, &provider.MockAdapter{PlainResponse: "ran it"})
	d := &appDispatcher{app: app}

	code, executionID, err := d.DispatchBound(context.Background(), []string{"cx", "list", "files"})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.NotEmpty(t, executionID)
}

func TestDispatchBound_UnknownCommand(t *testing.T) {
	app := newTestApp(t, &provider.MockAdapter{})
	d := &appDispatcher{app: app}

	_, _, err := d.DispatchBound(context.Background(), []string{"nonsense"})
	require.Error(t, err)
}

func TestDispatchBound_EmptyArgv(t *testing.T) {
	app := newTestApp(t, &provider.MockAdapter{})
	d := &appDispatcher{app: app}

	_, _, err := d.DispatchBound(context.Background(), nil)
	require.Error(t, err)
}

func TestDispatchBound_FixRunReflectsSchemaFailure(t *testing.T) {
	app := newTestApp(t, &provider.MockAdapter{PlainResponse: "not json"})
	writeSchema(t, app, "fixrun", fixrunSchemaBody)
	d := &appDispatcher{app: app}

	code, _, err := d.DispatchBound(context.Background(), []string{"fix-run", "go", "build", "./..."})
	require.NoError(t, err)
	assert.Equal(t, 1, code)
}

func TestDispatchBound_FixRunExtractsUnsafeFlag(t *testing.T) {
	app := newTestApp(t, &provider.MockAdapter{PlainResponse: `{"commands":["echo fine"]}`})
	writeSchema(t, app, "fixrun", fixrunSchemaBody)
	d := &appDispatcher{app: app}

	code, _, err := d.DispatchBound(context.Background(), []string{"fix-run", "--unsafe", "go", "build"})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestDispatchPrompt(t *testing.T) {
	app := newTestApp(t, &provider.MockAdapter{PlainResponse: "objective handled"})
	d := &appDispatcher{app: app}

	code, executionID, err := d.DispatchPrompt(context.Background(), "clean up the repo")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.NotEmpty(t, executionID)
}

func TestExtractUnsafeFlag(t *testing.T) {
	unsafe, rest := extractUnsafeFlag([]string{"go", "--unsafe", "build"})
	assert.True(t, unsafe)
	assert.Equal(t, []string{"go", "build"}, rest)

	unsafe, rest = extractUnsafeFlag([]string{"go", "build"})
	assert.False(t, unsafe)
	assert.Equal(t, []string{"go", "build"}, rest)
}

func TestJoinArgs(t *testing.T) {
	assert.Equal(t, "a b c", joinArgs([]string{"a", "b", "c"}))
	assert.Equal(t, "", joinArgs(nil))
}
