package provider

import (
	"context"
	"strings"
)

// MockAdapter is an env-driven deterministic backend used by tests and
// by the `CX_PROVIDER_ADAPTER=mock` one-shot override.
type MockAdapter struct {
	// PlainResponse is returned by RunPlain. NewMockAdapterFromEnv
	// defaults it to a minimal JSON commands object; a zero-value
	// MockAdapter returns the empty string.
	PlainResponse string
	// JsonlResponse, if set, is returned verbatim by RunJsonl instead of
	// wrapping PlainResponse.
	JsonlResponse string
	// ErrorMessage, if set, makes both calls fail.
	ErrorMessage string

	// Sequenced lets tests script per-call responses (e.g. "invalid"
	// attempt 1, valid JSON attempt 2) by returning successive entries;
	// the last entry repeats once exhausted.
	Sequenced []string
	calls     int
}

// NewMockAdapterFromEnv builds a MockAdapter from CX_MOCK_PLAIN_RESPONSE,
// CX_MOCK_JSONL_RESPONSE, and CX_MOCK_ERROR.
func NewMockAdapterFromEnv(getenv func(string) string) *MockAdapter {
	plain := getenv("CX_MOCK_PLAIN_RESPONSE")
	if strings.TrimSpace(plain) == "" {
		plain = `{"commands":["echo mock"]}`
	}
	return &MockAdapter{
		PlainResponse: plain,
		JsonlResponse: strings.TrimSpace(getenv("CX_MOCK_JSONL_RESPONSE")),
		ErrorMessage:  strings.TrimSpace(getenv("CX_MOCK_ERROR")),
	}
}

func (a *MockAdapter) next() string {
	if len(a.Sequenced) == 0 {
		return a.PlainResponse
	}
	idx := a.calls
	if idx >= len(a.Sequenced) {
		idx = len(a.Sequenced) - 1
	}
	a.calls++
	return a.Sequenced[idx]
}

func (a *MockAdapter) RunPlain(ctx context.Context, prompt string) (string, error) {
	if a.ErrorMessage != "" {
		return "", errMessage(a.ErrorMessage)
	}
	return a.next(), nil
}

func (a *MockAdapter) RunJsonl(ctx context.Context, prompt string) (string, error) {
	if a.ErrorMessage != "" {
		return "", errMessage(a.ErrorMessage)
	}
	if len(a.Sequenced) > 0 {
		return a.next(), nil
	}
	if a.JsonlResponse != "" {
		return a.JsonlResponse, nil
	}
	plain, err := a.RunPlain(ctx, prompt)
	if err != nil {
		return "", err
	}
	return WrapAgentTextAsJsonl(plain)
}
