package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPAdapter POSTs the prompt as a text/plain body to a non-CLI model
// endpoint, with an optional bearer token. It has no native jsonl mode,
// so RunJsonl wraps the response text the same way the ollama CLI
// adapter does.
type HTTPAdapter struct {
	URL         string
	BearerToken string
	TimeoutSecs int
	Client      *http.Client
}

func (a *HTTPAdapter) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	timeout := 120 * time.Second
	if a.TimeoutSecs > 0 {
		timeout = time.Duration(a.TimeoutSecs) * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func (a *HTTPAdapter) RunPlain(ctx context.Context, prompt string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.URL, bytes.NewBufferString(prompt))
	if err != nil {
		return "", fmt.Errorf("http provider: build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if strings.TrimSpace(a.BearerToken) != "" {
		req.Header.Set("Authorization", "Bearer "+a.BearerToken)
	}

	resp, err := a.client().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", &RunError{Message: "http provider timed out", Timeout: &TimeoutInfo{TimeoutSecs: a.TimeoutSecs}}
		}
		return "", fmt.Errorf("http provider: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		stderr := strings.TrimSpace(string(body))
		if stderr == "" {
			return "", errMessage(fmt.Sprintf("http provider exited with status %d", resp.StatusCode))
		}
		return "", errMessage(fmt.Sprintf("http provider exited with status %d: %s", resp.StatusCode, stderr))
	}
	return string(body), nil
}

func (a *HTTPAdapter) RunJsonl(ctx context.Context, prompt string) (string, error) {
	text, err := a.RunPlain(ctx, prompt)
	if err != nil {
		return "", err
	}
	return WrapAgentTextAsJsonl(text)
}
