package provider

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// runWithStdin pipes prompt into argv's stdin and returns its stdout
// (stderr is captured separately); a context deadline becomes a RunError carrying TimeoutInfo so
// execute_task can record timed_out/timeout_secs.
func runWithStdin(ctx context.Context, timeoutSecs int, name string, argv ...string) func(ctx context.Context, prompt string) (string, error) {
	return func(ctx context.Context, prompt string) (string, error) {
		runCtx := ctx
		var cancel context.CancelFunc
		if timeoutSecs > 0 {
			runCtx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSecs)*time.Second)
			defer cancel()
		}

		cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
		cmd.Stdin = bytes.NewBufferString(prompt)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err := cmd.Run()
		if runCtx.Err() != nil {
			return "", &RunError{
				Message: fmt.Sprintf("%s timed out after %ds", name, timeoutSecs),
				Timeout: &TimeoutInfo{TimeoutSecs: timeoutSecs},
			}
		}
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				return "", errMessage(fmt.Sprintf("%s exited with status %d", name, exitErr.ExitCode()))
			}
			return "", fmt.Errorf("%s: %w", name, err)
		}
		return stdout.String(), nil
	}
}

// CodexCLIAdapter drives the `codex` CLI in exec mode.
type CodexCLIAdapter struct {
	TimeoutSecs int
}

func (a *CodexCLIAdapter) RunPlain(ctx context.Context, prompt string) (string, error) {
	return runWithStdin(ctx, a.TimeoutSecs, "codex exec", "codex", "exec", "-")(ctx, prompt)
}

func (a *CodexCLIAdapter) RunJsonl(ctx context.Context, prompt string) (string, error) {
	return runWithStdin(ctx, a.TimeoutSecs, "codex exec --json", "codex", "exec", "--json", "-")(ctx, prompt)
}

// OllamaCLIAdapter drives `ollama run <model>`. ollama has no native
// jsonl mode, so RunJsonl wraps the plain response.
type OllamaCLIAdapter struct {
	Model       string
	TimeoutSecs int
}

func (a *OllamaCLIAdapter) RunPlain(ctx context.Context, prompt string) (string, error) {
	return runWithStdin(ctx, a.TimeoutSecs, "ollama run", "ollama", "run", a.Model)(ctx, prompt)
}

func (a *OllamaCLIAdapter) RunJsonl(ctx context.Context, prompt string) (string, error) {
	text, err := a.RunPlain(ctx, prompt)
	if err != nil {
		return "", err
	}
	return WrapAgentTextAsJsonl(text)
}
