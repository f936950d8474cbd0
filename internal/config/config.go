// Package config resolves cx's ambient configuration: a repo-local .env
// file (godotenv), an optional .codex/config.yaml, and the documented
// CX_* environment variables. The .env file is loaded into the process
// environment without overriding variables already set, so its values
// count as environment values: env (including .env) wins over
// config.yaml, which wins over the built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/fugamante/cx/internal/capture"
)

// File is the optional .codex/config.yaml document.
type File struct {
	ContextBudgetChars int    `yaml:"context_budget_chars"`
	ContextBudgetLines int    `yaml:"context_budget_lines"`
	ClipMode           string `yaml:"clip_mode"`
	ClipFooter         bool   `yaml:"clip_footer"`
	CaptureProvider    string `yaml:"capture_provider"`
	NativeReduce       bool   `yaml:"native_reduce"`
	LLMBackend         string `yaml:"llm_backend"`
	OllamaModel        string `yaml:"ollama_model"`
	Mode               string `yaml:"mode"`
	SchemaRelaxed      bool   `yaml:"schema_relaxed"`
	LoggingEnabled     bool   `yaml:"logging_enabled"`
	CmdTimeoutSecs     int    `yaml:"cmd_timeout_secs"`
	Unsafe             bool   `yaml:"unsafe"`

	// ExtraPolicyRules are layered on top of internal/policy's built-in
	// dangerous-command table, each compiled as an expr-lang boolean
	// expression over `Command`/`RepoRoot`.
	ExtraPolicyRules []PolicyRuleFile `yaml:"extra_policy_rules"`
}

// PolicyRuleFile is one entry of ExtraPolicyRules as it appears in
// config.yaml.
type PolicyRuleFile struct {
	Reason string `yaml:"reason"`
	Expr   string `yaml:"expr"`
}

// Config is the fully resolved, ready-to-use configuration.
type Config struct {
	Capture capture.Options

	CaptureProvider string
	NativeReduce    bool
	LLMBackend      string
	OllamaModel     string
	Mode            string
	SchemaRelaxed   bool
	LoggingEnabled  bool
	CmdTimeoutSecs  int
	Unsafe          bool

	FixRun   bool
	FixForce bool

	TaskRetryAttempt   int
	TaskRetryMax       int
	TaskRetryReason    string
	TaskRetryBackoffMs int

	ExtraPolicyRules []PolicyRuleFile
}

// LoadDotEnv loads <root>/.env into the process environment without
// overriding variables already set, matching the teacher's config-layer
// precedence (explicit env beats a checked-in default file).
func LoadDotEnv(root string) error {
	path := filepath.Join(root, ".env")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

// LoadFile reads <root>/.codex/config.yaml if present, returning a zero
// File (every field defaulted) when it does not exist.
func LoadFile(root string) (File, error) {
	path := filepath.Join(root, ".codex", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return File{}, nil
		}
		return File{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return f, nil
}

// Resolve builds the final Config from file defaults overridden by the
// documented CX_* environment variables. getenv is injected so tests
// never touch the real process environment.
func Resolve(file File, getenv func(string) string) Config {
	c := Config{
		CaptureProvider: firstNonEmpty(getenv("CX_CAPTURE_PROVIDER"), file.CaptureProvider, "native"),
		NativeReduce:    boolEnvOr(getenv("CX_NATIVE_REDUCE"), file.NativeReduce),
		LLMBackend:      firstNonEmpty(getenv("CX_LLM_BACKEND"), file.LLMBackend, "codex"),
		OllamaModel:     firstNonEmpty(getenv("CX_OLLAMA_MODEL"), file.OllamaModel, "llama3"),
		Mode:            firstNonEmpty(getenv("CX_MODE"), file.Mode, "lean"),
		SchemaRelaxed:   boolEnvOr(getenv("CX_SCHEMA_RELAXED"), file.SchemaRelaxed),
		LoggingEnabled:  boolEnvDefaultTrue(getenv("CXLOG_ENABLED")),
		CmdTimeoutSecs:  intEnvOr(getenv("CX_CMD_TIMEOUT_SECS"), orInt(file.CmdTimeoutSecs, 120)),
		Unsafe:          boolEnvOr(getenv("CX_UNSAFE"), file.Unsafe),

		FixRun:   boolEnvOr(getenv("CXFIX_RUN"), false),
		FixForce: boolEnvOr(getenv("CXFIX_FORCE"), false),

		TaskRetryAttempt:   intEnvOr(getenv("CX_TASK_RETRY_ATTEMPT"), 0),
		TaskRetryMax:       intEnvOr(getenv("CX_TASK_RETRY_MAX"), 0),
		TaskRetryReason:    getenv("CX_TASK_RETRY_REASON"),
		TaskRetryBackoffMs: intEnvOr(getenv("CX_TASK_RETRY_BACKOFF_MS"), 0),

		ExtraPolicyRules: file.ExtraPolicyRules,
	}

	budgetChars := intEnvOr(getenv("CX_CONTEXT_BUDGET_CHARS"), orInt(file.ContextBudgetChars, 20000))
	budgetLines := intEnvOr(getenv("CX_CONTEXT_BUDGET_LINES"), orInt(file.ContextBudgetLines, 400))
	clipMode := firstNonEmpty(getenv("CX_CONTEXT_CLIP_MODE"), file.ClipMode, "smart")
	clipFooter := boolEnvOr(getenv("CX_CONTEXT_CLIP_FOOTER"), file.ClipFooter)

	c.Capture = capture.Options{
		Budget: capture.BudgetConfig{
			BudgetChars: budgetChars,
			BudgetLines: budgetLines,
			ClipMode:    clipMode,
			ClipFooter:  clipFooter,
		},
		NativeReduce: c.NativeReduce,
		RTKProviderMode: c.CaptureProvider,
		RTKEnabled:      c.CaptureProvider != "native",
	}
	return c
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func boolEnvOr(raw string, def bool) bool {
	if strings.TrimSpace(raw) == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

// boolEnvDefaultTrue mirrors boolEnvOr but defaults true when the env
// var is unset, matching CXLOG_ENABLED's documented default of "on
// unless explicitly disabled".
func boolEnvDefaultTrue(raw string) bool {
	return boolEnvOr(raw, true)
}

func intEnvOr(raw string, def int) int {
	if strings.TrimSpace(raw) == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
