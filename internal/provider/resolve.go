package provider

import "strings"

// Config carries the environment-derived settings resolve needs to pick
// and construct an adapter, independent of how the caller sourced them
// (os.Getenv directly, or a loaded .env/config.yaml layer).
type Config struct {
	// ProviderAdapterOverride corresponds to CX_PROVIDER_ADAPTER; "mock"
	// forces MockAdapter regardless of backend.
	ProviderAdapterOverride string
	// Backend corresponds to CX_LLM_BACKEND: "codex" (default), "ollama",
	// "http", or "mcp".
	Backend string
	OllamaModel string
	HTTPURL     string
	HTTPBearer  string
	MCPEndpoint string
	TimeoutSecs int

	Getenv func(string) string
}

// Resolve picks the Adapter implementation for a task, honoring the
// mock override first, then dispatching on Backend.
func Resolve(cfg Config) (Adapter, error) {
	if cfg.Getenv == nil {
		cfg.Getenv = func(string) string { return "" }
	}
	if strings.EqualFold(strings.TrimSpace(cfg.ProviderAdapterOverride), "mock") {
		return NewMockAdapterFromEnv(cfg.Getenv), nil
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "codex":
		return &CodexCLIAdapter{TimeoutSecs: cfg.TimeoutSecs}, nil
	case "ollama":
		model := cfg.OllamaModel
		if model == "" {
			model = "llama3"
		}
		return &OllamaCLIAdapter{Model: model, TimeoutSecs: cfg.TimeoutSecs}, nil
	case "http":
		return &HTTPAdapter{URL: cfg.HTTPURL, BearerToken: cfg.HTTPBearer, TimeoutSecs: cfg.TimeoutSecs}, nil
	case "mcp":
		return NewMCPAdapter(cfg.MCPEndpoint, cfg.TimeoutSecs)
	default:
		return nil, errMessage("unknown CX_LLM_BACKEND: " + cfg.Backend)
	}
}
