// Package paths resolves the on-disk layout cx uses for state, logs,
// schemas, and quarantine records, rooted at a git repo or a global
// fallback directory.
package paths

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Layout holds every location cx reads or writes, all rooted at Root.
type Layout struct {
	Root         string // repo root, or the global fallback
	Global       bool   // true when Root is the global fallback, not a repo
	CodexDir     string // <root>/.codex
	SchemaDir    string // <root>/.codex/schemas
	LogDir       string // <root>/.codex/cxlogs
	RunsLog      string // <root>/.codex/cxlogs/runs.jsonl
	FailuresLog  string // <root>/.codex/cxlogs/schema_failures.jsonl
	QuarantineDir string // <root>/.codex/quarantine
	TasksFile    string // <root>/.codex/tasks.json
	StateFile    string // <root>/.codex/state.json
}

// Resolve locates the repo root via `git rev-parse --show-toplevel`
// starting at cwd; if that fails (not a repo, git absent), it falls back
// to $CX_GLOBAL_HOME or ~/.cx as a global, non-repo root.
func Resolve() (*Layout, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return ResolveFrom(cwd)
}

// ResolveFrom resolves a Layout from an explicit starting directory.
func ResolveFrom(start string) (*Layout, error) {
	if root, ok := gitToplevel(start); ok {
		return newLayout(root, false), nil
	}
	global := os.Getenv("CX_GLOBAL_HOME")
	if global == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		global = filepath.Join(home, ".cx")
	}
	return newLayout(global, true), nil
}

func newLayout(root string, global bool) *Layout {
	codex := filepath.Join(root, ".codex")
	logDir := filepath.Join(codex, "cxlogs")
	return &Layout{
		Root:          root,
		Global:        global,
		CodexDir:      codex,
		SchemaDir:     filepath.Join(codex, "schemas"),
		LogDir:        logDir,
		RunsLog:       filepath.Join(logDir, "runs.jsonl"),
		FailuresLog:   filepath.Join(logDir, "schema_failures.jsonl"),
		QuarantineDir: filepath.Join(codex, "quarantine"),
		TasksFile:     filepath.Join(codex, "tasks.json"),
		StateFile:     filepath.Join(codex, "state.json"),
	}
}

// EnsureDirs creates every directory this layout needs, idempotently.
func (l *Layout) EnsureDirs() error {
	for _, d := range []string{l.CodexDir, l.SchemaDir, l.LogDir, l.QuarantineDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func gitToplevel(start string) (string, bool) {
	cmd := exec.Command("git", "-C", start, "rev-parse", "--show-toplevel")
	out, err := cmd.Output()
	if err != nil {
		return "", false
	}
	root := strings.TrimSpace(string(out))
	if root == "" {
		return "", false
	}
	return root, true
}
