package task

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"
)

// Mode selects the run-all scheduling strategy.
type Mode string

const (
	Sequential Mode = "sequential"
	Mixed      Mode = "mixed"
)

// Fairness selects how mixed mode picks the next ready task when more
// than one is eligible.
type Fairness string

const (
	RoundRobin Fairness = "round_robin"
	LeastLoaded Fairness = "least_loaded"
)

// BrokerPolicy biases backend selection when a task has no pinned
// backend.
type BrokerPolicy string

const (
	PolicyQuality BrokerPolicy = "quality"
	PolicyLatency BrokerPolicy = "latency"
	PolicyCost    BrokerPolicy = "cost"
)

// RunAllOptions configures the run-all scheduler.
type RunAllOptions struct {
	StatusFilter string
	Mode         Mode
	BackendPool  []string
	BackendCaps  map[string]int
	MaxWorkers   int
	Fairness     Fairness
	BrokerPolicy BrokerPolicy
	MaxRetries   int

	// BackendAvailable reports whether a backend binary is usable; nil
	// means every pool member is considered available.
	BackendAvailable func(backend string) bool
	// LastRunLog returns the (policy_blocked, timed_out) pair observed
	// for execution_id's most recent run-log row, used to classify a
	// task's failure for the retry envelope.
	LastRunLog func(executionID string) (policyBlocked, timedOut *bool)
	// Worker runs one task as a subprocess worker and blocks until it
	// exits, mirroring `<self> task run <id> --managed-by-parent
	// --backend <chosen>`.
	Worker func(ctx context.Context, taskID, backend string) (exitCode int, executionID string, err error)
	// RunSingle runs one task synchronously (sequential mode / fallback).
	RunSingle func(ctx context.Context, taskID string) (exitCode int, executionID string, err error)

	Sleep func(attempt int) // overridable for tests; defaults to real backoff sleep
}

// Summary is the run-all outcome, formatted by Summary.String() to match
// the documented "run-all summary: ..." line.
type Summary struct {
	Mode                Mode
	Complete            int
	Failed              int
	Blocked             int
	RetryableFailures   int
	NonRetryableFailures int
}

func (s Summary) String() string {
	return fmt.Sprintf("run-all summary: mode=%s, complete=%d, failed=%d, blocked=%d, retryable_failures=%d, non_retryable_failures=%d",
		s.Mode, s.Complete, s.Failed, s.Blocked, s.RetryableFailures, s.NonRetryableFailures)
}

// RunAll drives the scheduler end to end: plan, dispatch each wave
// subject to backend caps and fairness, classify and retry failures, and
// report a summary.
func RunAll(ctx context.Context, store *Store, opts RunAllOptions) (Summary, error) {
	tasks, err := store.List()
	if err != nil {
		return Summary{}, err
	}
	filtered := filterByStatus(tasks, opts.StatusFilter)

	summary := Summary{Mode: opts.Mode}
	if opts.Mode == Sequential {
		return runSequential(ctx, store, filtered, opts, summary)
	}
	return runMixed(ctx, store, filtered, opts, summary)
}

func filterByStatus(tasks []Record, status string) []Record {
	if status == "" {
		return tasks
	}
	var out []Record
	for _, t := range tasks {
		if string(t.Status) == status {
			out = append(out, t)
		}
	}
	return out
}

func runSequential(ctx context.Context, store *Store, tasks []Record, opts RunAllOptions, summary Summary) (Summary, error) {
	for _, t := range tasks {
		if t.Status != Pending && t.Status != Claimed {
			continue
		}
		class := runWithRetry(ctx, t.ID, opts, func(ctx context.Context) (int, string, error) {
			return opts.RunSingle(ctx, t.ID)
		})
		applyOutcome(&summary, class)
	}
	return summary, nil
}

func runMixed(ctx context.Context, store *Store, tasks []Record, opts RunAllOptions, summary Summary) (Summary, error) {
	plan := BuildRunPlan(tasks)
	summary.Blocked += len(plan.Blocked)

	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	for _, wave := range plan.Waves {
		active := map[string]int{} // backend -> active worker count, for least_loaded
		sem := make(chan struct{}, maxWorkers)
		var wg sync.WaitGroup
		var mu sync.Mutex

		order := selectOrder(wave, opts.Fairness, active)
		anyDispatched := false

		for idx, t := range order {
			backend, ok := chooseBackend(t, opts, idx, active)
			if !ok {
				// No backend in the pool has spare capacity for this task;
				// record it and let deadlock detection below decide
				// whether that is fatal.
				continue
			}
			anyDispatched = true
			sem <- struct{}{}
			mu.Lock()
			active[backend]++
			mu.Unlock()
			wg.Add(1)
			go func(t Record, backend string) {
				defer wg.Done()
				defer func() { <-sem }()
				class := runWithRetry(ctx, t.ID, opts, func(ctx context.Context) (int, string, error) {
					return opts.Worker(ctx, t.ID, backend)
				})
				mu.Lock()
				active[backend]--
				applyOutcome(&summary, class)
				mu.Unlock()
			}(t, backend)
		}
		wg.Wait()

		if !anyDispatched && len(order) > 0 {
			return summary, fmt.Errorf("scheduler deadlock (backend caps too strict)")
		}
	}
	return summary, nil
}

type outcomeClass int

const (
	outcomeComplete outcomeClass = iota
	outcomeRetryable
	outcomeNonRetryable
	outcomeBlocked
)

func applyOutcome(summary *Summary, class outcomeClass) {
	switch class {
	case outcomeComplete:
		summary.Complete++
	case outcomeRetryable:
		summary.Failed++
		summary.RetryableFailures++
	case outcomeNonRetryable:
		summary.Failed++
		summary.NonRetryableFailures++
	case outcomeBlocked:
		summary.Blocked++
	}
}

// runWithRetry runs run up to MaxRetries+1 times, classifying each
// failure via opts.LastRunLog and stopping early on success or a
// Blocked/NonRetryable verdict.
func runWithRetry(ctx context.Context, taskID string, opts RunAllOptions, run func(context.Context) (int, string, error)) outcomeClass {
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	var lastClass outcomeClass = outcomeNonRetryable
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		exitCode, executionID, err := run(ctx)
		if err == nil && exitCode == 0 {
			return outcomeComplete
		}

		var policyBlocked, timedOut *bool
		if opts.LastRunLog != nil && executionID != "" {
			policyBlocked, timedOut = opts.LastRunLog(executionID)
		}
		switch ClassifyFailure(policyBlocked, timedOut) {
		case BlockedByPolicy:
			return outcomeBlocked
		case Retryable:
			lastClass = outcomeRetryable
		default:
			lastClass = outcomeNonRetryable
		}
		if lastClass == outcomeNonRetryable {
			return lastClass
		}
		if attempt <= maxRetries {
			if opts.Sleep != nil {
				opts.Sleep(attempt)
			} else {
				sleepBackoff(attempt)
			}
		}
	}
	return lastClass
}

func sleepBackoff(attempt int) {
	time.Sleep(BackoffForAttempt(attempt))
}

// selectOrder applies the fairness policy to decide dispatch order
// within one resource-conflict-free wave. round_robin keeps file order;
// least_loaded sorts by task id. Backend load is not consulted: the
// active map is not read here.
func selectOrder(wave []Record, fairness Fairness, active map[string]int) []Record {
	out := append([]Record(nil), wave...)
	if fairness == LeastLoaded {
		sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	}
	return out
}

// chooseBackend implements §4.11's backend-selection algorithm: a pinned
// backend wins if present in the pool; otherwise broker policy biases
// the pick; otherwise round-robin by task index. A backend over its cap
// or reported unavailable is skipped in favor of any other pool member
// with capacity.
func chooseBackend(t Record, opts RunAllOptions, index int, active map[string]int) (string, bool) {
	pool := opts.BackendPool
	if len(pool) == 0 {
		return "", false
	}

	preferred := pickIfInPool(t.Backend, pool)
	if preferred == "" {
		switch opts.BrokerPolicy {
		case PolicyQuality:
			preferred = pickIfInPool("codex", pool)
		case PolicyLatency, PolicyCost:
			preferred = pickIfInPool("ollama", pool)
		}
	}
	if preferred == "" {
		preferred = pool[index%len(pool)]
	}

	if hasCapacity(preferred, opts, active) {
		return preferred, true
	}
	for _, b := range pool {
		if hasCapacity(b, opts, active) {
			return b, true
		}
	}
	return "", false
}

func pickIfInPool(want string, pool []string) string {
	for _, b := range pool {
		if b == want {
			return b
		}
	}
	return ""
}

func hasCapacity(backend string, opts RunAllOptions, active map[string]int) bool {
	if opts.BackendAvailable != nil && !opts.BackendAvailable(backend) {
		return false
	}
	capLimit, hasCap := opts.BackendCaps[backend]
	if !hasCap {
		return true
	}
	return active[backend] < capLimit
}

// BinaryAvailable is a ready-made BackendAvailable implementation that
// checks the backend's CLI binary is on PATH (codex/ollama); http and
// mock backends are always considered available since they need no
// local binary.
func BinaryAvailable(backend string) bool {
	switch strings.ToLower(backend) {
	case "codex", "ollama":
		_, err := exec.LookPath(backend)
		return err == nil
	default:
		return true
	}
}
