package quarantine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteWithAttemptsThenRead(t *testing.T) {
	dir := t.TempDir()
	store := &Store{Dir: dir, Now: func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }}

	attempts := []Attempt{NewAttempt("invalid JSON: eof", "prompt-1", "not-json")}
	id, err := store.WriteWithAttempts("next", "schema_validation_failed: root: missing", "not-json-2", `{"type":"object"}`, "prompt-2", attempts)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("20260102T030405Z_next_%d", os.Getpid()), id)

	rec, err := store.Read(id)
	require.NoError(t, err)
	assert.Equal(t, "next", rec.Tool)
	assert.Len(t, rec.Attempts, 1)
	assert.Equal(t, SHA256Hex("not-json-2"), rec.RawSHA256)
}

func TestListOrdersNewestFirst(t *testing.T) {
	dir := t.TempDir()
	older := &Store{Dir: dir, Now: func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }}
	newer := &Store{Dir: dir, Now: func() time.Time { return time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC) }}

	_, err := older.WriteWithAttempts("a", "r", "raw", "{}", "p", nil)
	require.NoError(t, err)
	_, err = newer.WriteWithAttempts("b", "r", "raw", "{}", "p", nil)
	require.NoError(t, err)

	rows := (&Store{Dir: dir}).List(10)
	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[0].Tool)
}

func TestAppendFailureLogAppendsLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema_failures.jsonl")

	require.NoError(t, AppendFailureLog(path, FailureLogRow{TS: "t1", Tool: "next", Reason: "invalid_json", QuarantineID: "q1", RawSHA256: "h1"}))
	require.NoError(t, AppendFailureLog(path, FailureLogRow{TS: "t2", Tool: "next", Reason: "invalid_json", QuarantineID: "q2", RawSHA256: "h2"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(strings.TrimRight(string(data), "\n"), "\n")+1)
}
