package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fugamante/cx/internal/config"
	"github.com/fugamante/cx/internal/paths"
	"github.com/fugamante/cx/internal/provider"
	"github.com/fugamante/cx/internal/quarantine"
	"github.com/fugamante/cx/internal/schema"
	"github.com/fugamante/cx/internal/state"
	"github.com/fugamante/cx/internal/task"
	"github.com/stretchr/testify/require"
)

// newTestApp builds an App rooted at a temp dir without going through
// paths.Resolve (which shells out to git), so tests stay hermetic.
func newTestApp(t *testing.T, adapter provider.Adapter) *App {
	t.Helper()
	root := t.TempDir()
	layout := &paths.Layout{
		Root:          root,
		CodexDir:      filepath.Join(root, ".codex"),
		SchemaDir:     filepath.Join(root, ".codex", "schemas"),
		LogDir:        filepath.Join(root, ".codex", "logs"),
		RunsLog:       filepath.Join(root, ".codex", "logs", "runs.jsonl"),
		FailuresLog:   filepath.Join(root, ".codex", "logs", "failures.jsonl"),
		QuarantineDir: filepath.Join(root, ".codex", "quarantine"),
		TasksFile:     filepath.Join(root, ".codex", "tasks.json"),
		StateFile:     filepath.Join(root, ".codex", "state.json"),
	}
	require.NoError(t, layout.EnsureDirs())

	cfg := config.Resolve(config.File{}, func(string) string { return "" })

	return &App{
		Layout:     layout,
		Config:     cfg,
		Schemas:    schema.NewRegistry(layout.SchemaDir),
		Quarantine: quarantine.NewStore(layout.QuarantineDir),
		Tasks:      task.NewStore(layout.TasksFile),
		State:      state.New(layout.StateFile),
		Adapter:    adapter,
		Getenv:     func(string) string { return "" },
		SelfExe:    "cx",
	}
}

// writeSchema drops a minimal JSON Schema fixture under the app's schema
// directory, the shape runSchemaCommand expects to find at
// <SchemaDir>/<name>.schema.json.
func writeSchema(t *testing.T, app *App, name, body string) {
	t.Helper()
	path := filepath.Join(app.Layout.SchemaDir, name+".schema.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

const fixrunSchemaBody = `{
  "type": "object",
  "required": ["commands"],
  "properties": {
    "commands": {"type": "array", "items": {"type": "string"}}
  }
}`
