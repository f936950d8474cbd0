// Package runlog implements the strict append-only run-log contract:
// one JSON row per execute_task call, written under exclusive lock, plus
// validation and legacy-row migration.
package runlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/fugamante/cx/internal/filelock"
)

// Row is the strict run-log row. Pointer fields are optional; a field
// left nil is omitted from the encoded JSON exactly like the rest of
// the data model's tri-state numeric/boolean fields.
type Row struct {
	ExecutionID string `json:"execution_id"`
	Timestamp   string `json:"timestamp"`
	TS          string `json:"ts"`
	Command     string `json:"command"`
	Tool        string `json:"tool"`
	Cwd         string `json:"cwd"`
	Scope       string `json:"scope"`
	RepoRoot    string `json:"repo_root"`

	BackendUsed string  `json:"backend_used"`
	LLMBackend  string  `json:"llm_backend"`
	LLMModel    *string `json:"llm_model,omitempty"`

	AdapterType       *string `json:"adapter_type,omitempty"`
	ProviderTransport *string `json:"provider_transport,omitempty"`
	ProviderStatus    *string `json:"provider_status,omitempty"`
	BackendSelected   *string `json:"backend_selected,omitempty"`
	ModelSelected     *string `json:"model_selected,omitempty"`
	RoutePolicy       *string `json:"route_policy,omitempty"`
	RouteReason       *string `json:"route_reason,omitempty"`

	WorkerID       *string         `json:"worker_id,omitempty"`
	ReplicaIndex   *uint32         `json:"replica_index,omitempty"`
	ReplicaCount   *uint32         `json:"replica_count,omitempty"`
	ConvergeMode   *string         `json:"converge_mode,omitempty"`
	ConvergeWinner *string         `json:"converge_winner,omitempty"`
	ConvergeVotes  json.RawMessage `json:"converge_votes,omitempty"`
	QueueMs        *uint64         `json:"queue_ms,omitempty"`

	CaptureProvider *string `json:"capture_provider,omitempty"`
	ExecutionMode   string  `json:"execution_mode"`
	DurationMs      *uint64 `json:"duration_ms,omitempty"`

	SchemaEnforced bool    `json:"schema_enforced"`
	SchemaName     *string `json:"schema_name,omitempty"`
	SchemaValid    bool    `json:"schema_valid"`
	SchemaOk       bool    `json:"schema_ok"`
	SchemaReason   *string `json:"schema_reason,omitempty"`
	QuarantineID   *string `json:"quarantine_id,omitempty"`

	TaskID       *string `json:"task_id,omitempty"`
	TaskParentID *string `json:"task_parent_id,omitempty"`

	InputTokens          *uint64 `json:"input_tokens,omitempty"`
	CachedInputTokens    *uint64 `json:"cached_input_tokens,omitempty"`
	EffectiveInputTokens *uint64 `json:"effective_input_tokens,omitempty"`
	OutputTokens         *uint64 `json:"output_tokens,omitempty"`

	SystemOutputLenRaw        *uint64 `json:"system_output_len_raw,omitempty"`
	SystemOutputLenProcessed  *uint64 `json:"system_output_len_processed,omitempty"`
	SystemOutputLenClipped    *uint64 `json:"system_output_len_clipped,omitempty"`
	SystemOutputLinesRaw      *uint64 `json:"system_output_lines_raw,omitempty"`
	SystemOutputLinesProcessed *uint64 `json:"system_output_lines_processed,omitempty"`
	SystemOutputLinesClipped  *uint64 `json:"system_output_lines_clipped,omitempty"`
	Clipped                   *bool   `json:"clipped,omitempty"`
	BudgetChars               *uint64 `json:"budget_chars,omitempty"`
	BudgetLines               *uint64 `json:"budget_lines,omitempty"`
	ClipMode                  *string `json:"clip_mode,omitempty"`
	ClipFooter                *bool   `json:"clip_footer,omitempty"`
	RTKUsed                   *bool   `json:"rtk_used,omitempty"`

	PromptSHA256       *string `json:"prompt_sha256,omitempty"`
	SchemaPromptSHA256 *string `json:"schema_prompt_sha256,omitempty"`
	SchemaSHA256       *string `json:"schema_sha256,omitempty"`
	SchemaAttempt      *uint64 `json:"schema_attempt,omitempty"`

	TimedOut     *bool   `json:"timed_out,omitempty"`
	TimeoutSecs  *uint64 `json:"timeout_secs,omitempty"`
	CommandLabel *string `json:"command_label,omitempty"`
	PromptPreview *string `json:"prompt_preview,omitempty"`

	PolicyBlocked *bool   `json:"policy_blocked,omitempty"`
	PolicyReason  *string `json:"policy_reason,omitempty"`

	RetryAttempt    *uint32 `json:"retry_attempt,omitempty"`
	RetryMax        *uint32 `json:"retry_max,omitempty"`
	RetryReason     *string `json:"retry_reason,omitempty"`
	RetryBackoffMs  *uint64 `json:"retry_backoff_ms,omitempty"`
}

// AppendJSONL serializes row and appends it to path under a blocking
// exclusive file lock, creating parent directories as needed.
func AppendJSONL(path string, row Row) error {
	return appendValue(path, row)
}

func appendValue(path string, value any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("runlog: create dir for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("runlog: open %s: %w", path, err)
	}
	defer f.Close()

	if err := filelock.Lock(f); err != nil {
		return fmt.Errorf("runlog: lock %s: %w", path, err)
	}
	defer filelock.Unlock(f)

	line, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("runlog: encode row: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("runlog: append %s: %w", path, err)
	}
	return nil
}

// requiredStrict mirrors the mandatory key set every modern row must
// carry.
var requiredStrict = []string{
	"execution_id", "timestamp", "command", "backend_used", "capture_provider",
	"execution_mode", "duration_ms", "schema_enforced", "schema_valid",
	"quarantine_id", "task_id", "system_output_len_raw", "system_output_len_processed",
	"system_output_len_clipped", "system_output_lines_raw", "system_output_lines_processed",
	"system_output_lines_clipped", "input_tokens", "cached_input_tokens",
	"effective_input_tokens", "output_tokens", "policy_blocked", "policy_reason",
}

var requiredLegacyAnyOf = [][2]string{
	{"ts", "timestamp"}, {"tool", "command"}, {"repo_root", "repo_root"},
}

// ValidateOutcome summarizes a validate_runs_jsonl_file pass.
type ValidateOutcome struct {
	Total            int
	LegacyOk         bool
	LegacyLines      int
	CorruptedLines   map[int]struct{}
	InvalidJSONLines int
	Issues           []string
}

// ValidateFile checks every line of log_file against the strict key
// set (legacyOk=false) or the looser legacy contract (legacyOk=true,
// modern rows still must carry every strict key).
func ValidateFile(logFile string, legacyOk bool) (*ValidateOutcome, error) {
	f, err := os.Open(logFile)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", logFile, err)
	}
	defer f.Close()

	out := &ValidateOutcome{LegacyOk: legacyOk, CorruptedLines: map[int]struct{}{}}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if len(trimSpace(line)) == 0 {
			continue
		}
		out.Total++

		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			out.CorruptedLines[lineNo] = struct{}{}
			out.InvalidJSONLines++
			out.Issues = append(out.Issues, fmt.Sprintf("line %d: invalid JSON: %s (preview=%q)", lineNo, err.Error(), preview(line, 160)))
			continue
		}
		if obj == nil {
			out.CorruptedLines[lineNo] = struct{}{}
			out.Issues = append(out.Issues, fmt.Sprintf("line %d: json is not an object", lineNo))
			continue
		}

		if legacyOk {
			_, hasExecID := obj["execution_id"]
			_, hasTS := obj["timestamp"]
			if hasExecID && hasTS {
				checkStrictKeys(obj, lineNo, out)
			} else {
				ok := true
				for _, pair := range requiredLegacyAnyOf {
					_, a := obj[pair[0]]
					_, b := obj[pair[1]]
					if !a && !b {
						ok = false
						out.CorruptedLines[lineNo] = struct{}{}
						out.Issues = append(out.Issues, fmt.Sprintf("line %d: missing legacy field '%s' (or '%s')", lineNo, pair[0], pair[1]))
					}
				}
				if ok {
					out.LegacyLines++
				}
			}
		} else {
			checkStrictKeys(obj, lineNo, out)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", logFile, err)
	}
	return out, nil
}

func checkStrictKeys(obj map[string]any, lineNo int, out *ValidateOutcome) {
	for _, k := range requiredStrict {
		if _, ok := obj[k]; !ok {
			out.CorruptedLines[lineNo] = struct{}{}
			out.Issues = append(out.Issues, fmt.Sprintf("line %d: missing required field '%s'", lineNo, k))
		}
	}
}

func trimSpace(s string) string {
	i, j := 0, len(s)
	for i < j && (s[i] == ' ' || s[i] == '\t' || s[i] == '\r' || s[i] == '\n') {
		i++
	}
	for j > i && (s[j-1] == ' ' || s[j-1] == '\t' || s[j-1] == '\r' || s[j-1] == '\n') {
		j--
	}
	return s[i:j]
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var runsParseWarned atomic.Bool

// WarnOnceInvalidLines emits at most one stderr-bound warning per
// process for readers that tolerate (and skip) invalid lines, pointing
// the user at `logs validate` for the full report.
func WarnOnceInvalidLines(logFile string, invalid int, sample string) (msg string, shouldPrint bool) {
	if invalid == 0 {
		return "", false
	}
	if runsParseWarned.Swap(true) {
		return "", false
	}
	if sample == "" {
		sample = "n/a"
	}
	return fmt.Sprintf("cx: warning: skipped %d invalid JSON lines in %s (sample: %s). Run 'cx logs validate' for details.", invalid, logFile, sample), true
}

// LoadRuns parses every valid line of log_file into Row values,
// skipping (and counting) invalid lines; limit<=0 means unlimited, else
// only the last `limit` rows are kept.
func LoadRuns(logFile string, limit int) ([]Row, int, string, error) {
	f, err := os.Open(logFile)
	if err != nil {
		return nil, 0, "", fmt.Errorf("cannot open %s: %w", logFile, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var rows []Row
	invalid := 0
	sample := ""
	for scanner.Scan() {
		line := scanner.Text()
		if len(trimSpace(line)) == 0 {
			continue
		}
		var row Row
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			invalid++
			if sample == "" {
				sample = fmt.Sprintf("%s (preview=%q)", err.Error(), preview(line, 160))
			}
			continue
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, invalid, sample, fmt.Errorf("read %s: %w", logFile, err)
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	return rows, invalid, sample, nil
}

// MigrateSummary reports migrate_runs_jsonl counters.
type MigrateSummary struct {
	EntriesIn         int
	EntriesOut        int
	InvalidJSONSkipped int
	LegacyNormalized  int
	ModernNormalized  int
}

// Migrate reads inPath line by line, normalizes every row (legacy or
// modern) into the strict shape, and writes the result to outPath.tmp,
// which is renamed over outPath once every row is written; outPath may
// therefore be inPath itself.
func Migrate(inPath, outPath string) (*MigrateSummary, error) {
	in, err := os.Open(inPath)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", inPath, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, fmt.Errorf("runlog: create dir for %s: %w", outPath, err)
	}
	tmpPath := outPath + ".tmp"
	out, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", tmpPath, err)
	}
	defer out.Close()

	summary := &MigrateSummary{}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if len(trimSpace(line)) == 0 {
			continue
		}
		summary.EntriesIn++

		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			summary.InvalidJSONSkipped++
			continue
		}
		normalized, isModern, err := NormalizeRow(obj)
		if err != nil {
			return nil, err
		}
		if isModern {
			summary.ModernNormalized++
		} else {
			summary.LegacyNormalized++
		}
		encoded, err := json.Marshal(normalized)
		if err != nil {
			return nil, fmt.Errorf("runlog: encode normalized row: %w", err)
		}
		if _, err := out.Write(append(encoded, '\n')); err != nil {
			return nil, fmt.Errorf("runlog: write %s: %w", outPath, err)
		}
		summary.EntriesOut++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", inPath, err)
	}
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("runlog: close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return nil, fmt.Errorf("runlog: rename %s to %s: %w", tmpPath, outPath, err)
	}
	return summary, nil
}

// SortRowsByTimestamp is a small helper list callers (tail/show
// commands) use to present rows chronologically after a non-sequential
// read.
func SortRowsByTimestamp(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Timestamp < rows[j].Timestamp })
}
