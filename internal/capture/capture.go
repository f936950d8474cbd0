// Package capture runs external commands, reduces their output by
// command family, clips the result to a configured budget, and records
// the provenance of every transformation as Stats.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"time"

	"github.com/fugamante/cx/internal/governance"
)

// Options configures one capture invocation.
type Options struct {
	Budget         BudgetConfig
	NativeReduce   bool
	RTKProviderMode string // "", "auto", "rtk", "native"
	RTKEnabled     bool
	RTKMinVersion  string
	RTKMaxVersion  string
	Timeout        time.Duration // 0 means no timeout

	// EnvDenyGlobs strips any child-process environment variable whose
	// key matches one of these globs before spawn (§ supplemental
	// governance layer); nil/empty means the child inherits the parent
	// environment unmodified.
	EnvDenyGlobs []string
}

// Result is the outcome of RunSystemCommandCapture.
type Result struct {
	Text     string
	ExitCode int
	Stats    Stats
	TimedOut bool
}

// RunSystemCommandCapture spawns argv[0] with argv[1:], merges
// stdout+stderr, optionally reduces and clips the result, and returns
// the provenance Stats alongside the final bounded text.
//
// A spawn failure (command not found) is returned as an error — capture
// itself failed. A non-zero exit from the child is NOT an error; it is
// reported via Result.ExitCode, and capture still succeeds.
func RunSystemCommandCapture(ctx context.Context, argv []string, opts Options) (Result, error) {
	if len(argv) == 0 {
		return Result{}, errors.New("capture: empty command")
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	text, exitCode, timedOut, err := runWithTimeout(runCtx, argv, opts.EnvDenyGlobs)
	if err != nil {
		return Result{}, fmt.Errorf("capture: spawn %q: %w", argv[0], err)
	}

	provider := "native"
	usedRTK := false
	if opts.RTKEnabled && ShouldUseRTK(argv, opts.RTKProviderMode, opts.RTKEnabled, RTKIsUsable(ctx, opts.RTKMinVersion, opts.RTKMaxVersion)) {
		// An rtk pass is attempted; any non-success falls back to raw
		// output with the provider recorded as native, per the capture
		// algorithm's fallback rule.
		if reduced, ok := runRTKReduce(ctx, argv); ok {
			text = reduced
			provider = "rtk"
			usedRTK = true
		}
	}
	if !usedRTK && opts.NativeReduce {
		text = NativeReduceOutput(argv, text)
	}

	clipped, stats := ClipTextWithConfig(text, opts.Budget)
	stats.RTKUsed = boolp(usedRTK)
	stats.CaptureProvider = strp(provider)

	return Result{Text: clipped, ExitCode: exitCode, Stats: stats, TimedOut: timedOut}, nil
}

// runWithTimeout runs argv and, on context deadline, sends SIGTERM, waits
// 2s, then SIGKILL — mirroring the cancellation semantics every capture,
// adapter, and scheduler worker process shares. denyGlobs strips
// secret-shaped environment variables from the child before spawn.
func runWithTimeout(ctx context.Context, argv []string, denyGlobs []string) (text string, exitCode int, timedOut bool, err error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	if len(denyGlobs) > 0 {
		filtered, _ := governance.FilterEnv(os.Environ(), denyGlobs)
		cmd.Env = filtered
	}
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if startErr := cmd.Start(); startErr != nil {
		if runtime.GOOS == "windows" && isExecNotFound(startErr) {
			return runViaCmdExe(ctx, argv, denyGlobs)
		}
		return "", 0, false, startErr
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case waitErr := <-done:
		return finish(buf.String(), waitErr)
	case <-ctx.Done():
		terminateGracefully(cmd)
		select {
		case waitErr := <-done:
			t, c, _, e := finish(buf.String(), waitErr)
			return t, c, true, e
		case <-time.After(2 * time.Second):
			_ = cmd.Process.Kill()
			waitErr := <-done
			t, c, _, e := finish(buf.String(), waitErr)
			return t, c, true, e
		}
	}
}

func terminateGracefully(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
}

func finish(text string, waitErr error) (string, int, bool, error) {
	if waitErr == nil {
		return text, 0, false, nil
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return text, exitErr.ExitCode(), false, nil
	}
	return text, -1, false, waitErr
}

// runViaCmdExe retries the command through cmd.exe on Windows, where
// common shell builtins (echo, set, type, …) aren't standalone binaries.
func runViaCmdExe(ctx context.Context, argv []string, denyGlobs []string) (string, int, bool, error) {
	line := argv[0]
	for _, a := range argv[1:] {
		line += " " + a
	}
	cmd := exec.CommandContext(ctx, "cmd.exe", "/C", line)
	if len(denyGlobs) > 0 {
		filtered, _ := governance.FilterEnv(os.Environ(), denyGlobs)
		cmd.Env = filtered
	}
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	text, code, _, runErr := finish(buf.String(), err)
	return text, code, false, runErr
}

func isExecNotFound(err error) bool {
	if errors.Is(err, exec.ErrNotFound) {
		return true
	}
	var execErr *exec.Error
	return errors.As(err, &execErr)
}

// runRTKReduce shells out to the optional rtk tool to reduce argv's
// output; ok is false on any non-success so the caller falls back to
// native reduction.
func runRTKReduce(ctx context.Context, argv []string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	rtkArgs := append([]string{"reduce", "--"}, argv...)
	out, err := exec.CommandContext(ctx, "rtk", rtkArgs...).Output()
	if err != nil {
		return "", false
	}
	return string(out), true
}
