package task

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAll_SequentialAllComplete(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir + "/tasks.json")
	a, _ := store.Add(Record{Command: "next"})
	b, _ := store.Add(Record{Command: "diffsum"})

	calls := map[string]int{}
	opts := RunAllOptions{
		Mode: Sequential,
		RunSingle: func(ctx context.Context, taskID string) (int, string, error) {
			calls[taskID]++
			return 0, "exec_" + taskID, nil
		},
	}
	summary, err := RunAll(context.Background(), store, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Complete)
	assert.Equal(t, 1, calls[a.ID])
	assert.Equal(t, 1, calls[b.ID])
}

func TestRunAll_RetryableFailureRetriesThenSucceeds(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir + "/tasks.json")
	rec, _ := store.Add(Record{Command: "next"})

	attempt := 0
	timedOut := true
	opts := RunAllOptions{
		Mode:       Sequential,
		MaxRetries: 2,
		RunSingle: func(ctx context.Context, taskID string) (int, string, error) {
			attempt++
			if attempt < 2 {
				return 1, "exec_1", errors.New("boom")
			}
			return 0, "exec_2", nil
		},
		LastRunLog: func(executionID string) (*bool, *bool) { return nil, &timedOut },
		Sleep:      func(int) {},
	}
	summary, err := RunAll(context.Background(), store, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Complete)
	assert.Equal(t, 0, summary.Failed)
	_ = rec
}

func TestRunAll_PolicyBlockedNeverRetries(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir + "/tasks.json")
	store.Add(Record{Command: "fix-run"})

	attempts := 0
	blocked := true
	opts := RunAllOptions{
		Mode:       Sequential,
		MaxRetries: 3,
		RunSingle: func(ctx context.Context, taskID string) (int, string, error) {
			attempts++
			return 1, "exec_1", errors.New("blocked")
		},
		LastRunLog: func(executionID string) (*bool, *bool) { return &blocked, nil },
		Sleep:      func(int) {},
	}
	summary, err := RunAll(context.Background(), store, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Blocked)
	assert.Equal(t, 1, attempts, "blocked failures must not be retried")
}

func TestRunAll_MixedModeDeadlock(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir + "/tasks.json")
	store.Add(Record{Command: "next", Backend: "codex"})

	opts := RunAllOptions{
		Mode:        Mixed,
		MaxWorkers:  1,
		BackendPool: []string{"codex"},
		BackendCaps: map[string]int{"codex": 0},
	}
	_, err := RunAll(context.Background(), store, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadlock")
}

func TestSummaryString(t *testing.T) {
	s := Summary{Mode: Mixed, Complete: 2, Failed: 1, Blocked: 1, RetryableFailures: 1, NonRetryableFailures: 0}
	assert.Equal(t, "run-all summary: mode=mixed, complete=2, failed=1, blocked=1, retryable_failures=1, non_retryable_failures=0", s.String())
}
