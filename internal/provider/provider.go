// Package provider defines the ProviderAdapter capability and its
// implementations (child-process CLI backends, an HTTP backend, an
// MCP-backed backend, and a deterministic mock for tests). New backends
// plug in without touching the execute_task pipeline.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// TimeoutInfo describes a timeout observed while running an adapter
// call, so execute_task can record timed_out/timeout_secs on the run
// log row.
type TimeoutInfo struct {
	TimeoutSecs int
}

// RunError is returned by adapter calls; Timeout is set when the
// failure was specifically a timeout.
type RunError struct {
	Message string
	Timeout *TimeoutInfo
}

func (e *RunError) Error() string { return e.Message }

func errMessage(msg string) error { return &RunError{Message: msg} }

// Usage is the token accounting parsed from a jsonl response's last
// turn.completed line.
type Usage struct {
	InputTokens       *uint64
	CachedInputTokens *uint64
	OutputTokens      *uint64
}

// EffectiveInputTokens centralizes the input-minus-cached derivation so
// it is computed in exactly one place, used by both the adapter-usage
// path and the run-log legacy-migration path.
func EffectiveInputTokens(input, cached *uint64) *uint64 {
	switch {
	case input != nil && cached != nil:
		v := *input
		if *cached < v {
			v -= *cached
		} else {
			v = 0
		}
		return &v
	case input != nil:
		v := *input
		return &v
	default:
		return nil
	}
}

// Adapter is the backend capability: two operations, both returning raw
// text the caller parses further (jsonl line-per-event text, or plain
// text already wrapped as jsonl by the adapter itself).
type Adapter interface {
	RunPlain(ctx context.Context, prompt string) (string, error)
	RunJsonl(ctx context.Context, prompt string) (string, error)
}

// ExtractAgentText scans jsonl for the last item.completed event whose
// item.type is agent_message and returns its text.
func ExtractAgentText(jsonl string) (string, bool) {
	var last string
	found := false
	for _, line := range strings.Split(jsonl, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var v map[string]any
		if err := json.Unmarshal([]byte(line), &v); err != nil {
			continue
		}
		if typ, _ := v["type"].(string); typ != "item.completed" {
			continue
		}
		item, ok := v["item"].(map[string]any)
		if !ok {
			continue
		}
		if itemType, _ := item["type"].(string); itemType != "agent_message" {
			continue
		}
		if text, ok := item["text"].(string); ok {
			last = text
			found = true
		}
	}
	return last, found
}

// UsageFromJsonl reads the last turn.completed line's usage object.
func UsageFromJsonl(jsonl string) Usage {
	var out Usage
	for _, line := range strings.Split(jsonl, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var v map[string]any
		if err := json.Unmarshal([]byte(line), &v); err != nil {
			continue
		}
		if typ, _ := v["type"].(string); typ != "turn.completed" {
			continue
		}
		usage, _ := v["usage"].(map[string]any)
		out.InputTokens = numField(usage, "input_tokens")
		out.CachedInputTokens = numField(usage, "cached_input_tokens")
		out.OutputTokens = numField(usage, "output_tokens")
	}
	return out
}

func numField(m map[string]any, key string) *uint64 {
	if m == nil {
		return nil
	}
	f, ok := m[key].(float64)
	if !ok {
		return nil
	}
	v := uint64(f)
	return &v
}

// WrapAgentTextAsJsonl wraps a plain-text response in the single
// item.completed/agent_message line non-jsonl backends need so
// downstream parsing stays uniform across backends.
func WrapAgentTextAsJsonl(text string) (string, error) {
	wrapped := map[string]any{
		"type": "item.completed",
		"item": map[string]any{"type": "agent_message", "text": text},
	}
	b, err := json.Marshal(wrapped)
	if err != nil {
		return "", fmt.Errorf("wrap agent text as jsonl: %w", err)
	}
	return string(b), nil
}
