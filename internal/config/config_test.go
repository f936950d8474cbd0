package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func getenvMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestResolve_Defaults(t *testing.T) {
	c := Resolve(File{}, getenvMap(nil))
	assert.Equal(t, "codex", c.LLMBackend)
	assert.Equal(t, "lean", c.Mode)
	assert.True(t, c.LoggingEnabled)
	assert.Equal(t, 120, c.CmdTimeoutSecs)
	assert.Equal(t, 20000, c.Capture.Budget.BudgetChars)
	assert.Equal(t, 400, c.Capture.Budget.BudgetLines)
}

func TestResolve_EnvOverridesFile(t *testing.T) {
	file := File{LLMBackend: "ollama", CmdTimeoutSecs: 30}
	env := getenvMap(map[string]string{
		"CX_LLM_BACKEND":    "http",
		"CXLOG_ENABLED":     "false",
		"CX_SCHEMA_RELAXED": "true",
	})
	c := Resolve(file, env)
	assert.Equal(t, "http", c.LLMBackend)
	assert.False(t, c.LoggingEnabled)
	assert.True(t, c.SchemaRelaxed)
	assert.Equal(t, 30, c.CmdTimeoutSecs)
}

func TestResolve_FixRunFlags(t *testing.T) {
	env := getenvMap(map[string]string{"CXFIX_RUN": "1", "CXFIX_FORCE": "0"})
	c := Resolve(File{}, env)
	assert.True(t, c.FixRun)
	assert.False(t, c.FixForce)
}
