// Command cx is the repo-local command orchestrator's CLI entrypoint: a
// cobra command tree wiring the task store, the execute_task pipeline,
// the safety policy, and the run-log/quarantine sinks together.
package main

import (
	"fmt"
	"os"

	"github.com/fugamante/cx/internal/config"
	"github.com/fugamante/cx/internal/governance"
	"github.com/fugamante/cx/internal/paths"
	"github.com/fugamante/cx/internal/policy"
	"github.com/fugamante/cx/internal/provider"
	"github.com/fugamante/cx/internal/quarantine"
	"github.com/fugamante/cx/internal/schema"
	"github.com/fugamante/cx/internal/state"
	"github.com/fugamante/cx/internal/task"
)

// App bundles every collaborator a cobra command needs, built once in
// main() and threaded through the command tree via closures.
type App struct {
	Layout *paths.Layout
	Config config.Config

	Schemas    *schema.Registry
	Quarantine *quarantine.Store
	Tasks      *task.Store
	State      *state.Store
	Adapter    provider.Adapter

	EnvDenyGlobs     []string
	Redactions       []*governance.CompiledRedaction
	ExtraPolicyRules []*policy.ExprRule

	Getenv  func(string) string
	SelfExe string
}

// newApp wires every package into a ready-to-use App: the on-disk
// layout first (the .env file and config.yaml are found under its
// root), then the resolved config, then the backend adapter, the
// redaction and extra policy rules, and finally the stores rooted at
// the layout's paths.
func newApp() (*App, error) {
	layout, err := paths.Resolve()
	if err != nil {
		return nil, fmt.Errorf("cx: resolve repo layout: %w", err)
	}
	if err := config.LoadDotEnv(layout.Root); err != nil {
		return nil, fmt.Errorf("cx: load .env: %w", err)
	}
	file, err := config.LoadFile(layout.Root)
	if err != nil {
		return nil, fmt.Errorf("cx: load config: %w", err)
	}
	cfg := config.Resolve(file, os.Getenv)

	if err := layout.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("cx: create .codex directories: %w", err)
	}

	adapter, err := provider.Resolve(provider.Config{
		ProviderAdapterOverride: os.Getenv("CX_PROVIDER_ADAPTER"),
		Backend:                 cfg.LLMBackend,
		OllamaModel:             cfg.OllamaModel,
		HTTPURL:                 os.Getenv("CX_HTTP_URL"),
		HTTPBearer:              os.Getenv("CX_HTTP_BEARER"),
		MCPEndpoint:             os.Getenv("CX_MCP_ENDPOINT"),
		TimeoutSecs:             cfg.CmdTimeoutSecs,
		Getenv:                  os.Getenv,
	})
	if err != nil {
		return nil, fmt.Errorf("cx: resolve backend adapter: %w", err)
	}

	redactions, err := governance.CompileRedactionRules(governance.DefaultRedactionRules)
	if err != nil {
		return nil, fmt.Errorf("cx: compile redaction rules: %w", err)
	}

	var extraRules []*policy.ExprRule
	for _, r := range cfg.ExtraPolicyRules {
		rule, err := policy.CompileExprRule(r.Reason, r.Expr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cx: warning: skipping invalid extra_policy_rules entry %q: %v\n", r.Reason, err)
			continue
		}
		extraRules = append(extraRules, rule)
	}

	self, err := os.Executable()
	if err != nil {
		self = os.Args[0]
	}

	return &App{
		Layout:           layout,
		Config:           cfg,
		Schemas:          schema.NewRegistry(layout.SchemaDir),
		Quarantine:       quarantine.NewStore(layout.QuarantineDir),
		Tasks:            task.NewStore(layout.TasksFile),
		State:            state.New(layout.StateFile),
		Adapter:          adapter,
		EnvDenyGlobs:     governance.DefaultEnvDenyGlobs,
		Redactions:       redactions,
		ExtraPolicyRules: extraRules,
		Getenv:           os.Getenv,
		SelfExe:          self,
	}, nil
}

// fail prints a "cx: <command>: <message>" line to stderr and returns
// err unchanged; main turns any returned error into process exit code 1,
// matching the ambient error-reporting convention documented for every
// command.
func fail(command string, err error) error {
	fmt.Fprintf(os.Stderr, "cx: %s: %v\n", command, err)
	return err
}
