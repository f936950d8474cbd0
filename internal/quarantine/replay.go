package quarantine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fugamante/cx/internal/provider"
	"github.com/fugamante/cx/internal/schema"
)

// JsonlRunner issues a jsonl-mode prompt to whatever backend adapter the
// caller has resolved; replay is deterministic for a given (schema,
// prompt) only when the runner itself is deterministic (e.g. a mock
// adapter in tests).
type JsonlRunner func(ctx context.Context, prompt string) (string, error)

// ReplayResult is what a successful replay produces for the caller to
// print or act on.
type ReplayResult struct {
	Valid        bool
	Instance     any
	Raw          string
	QuarantineID string // set only when replay itself failed and a fresh record was written
	FailReason   string
}

// Replay rebuilds the original strict-schema prompt from a quarantine
// record, re-runs it through run, and re-validates. It never modifies
// the original record. On repeat failure it writes a brand-new
// schema-failure log entry (a fresh quarantine id), exactly like the
// first failure did.
func Replay(ctx context.Context, store *Store, failureLogPath string, id string, run JsonlRunner) (*ReplayResult, error) {
	rec, err := store.Read(id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(rec.Schema) == "" || strings.TrimSpace(rec.Prompt) == "" {
		return nil, fmt.Errorf("quarantine entry is missing schema/prompt payload")
	}

	fullPrompt := schema.BuildStrictSchemaPrompt(json.RawMessage(rec.Schema), rec.Prompt)
	jsonl, err := run(ctx, fullPrompt)
	if err != nil {
		return nil, err
	}
	raw, _ := provider.ExtractAgentText(jsonl)

	reason, instance := validateReplay(rec.Schema, raw)
	if reason != "" {
		qid, logErr := logReplayFailure(store, failureLogPath, rec.Tool, reason, raw, rec.Schema, rec.Prompt)
		if logErr != nil {
			return nil, fmt.Errorf("replay: failed to log schema failure: %w", logErr)
		}
		return &ReplayResult{Valid: false, Raw: raw, QuarantineID: qid, FailReason: reason}, nil
	}
	return &ReplayResult{Valid: true, Instance: instance, Raw: raw}, nil
}

func validateReplay(schemaText, raw string) (reason string, instance any) {
	inst, err := schema.ValidateEmbedded(schemaText, raw)
	if err != nil {
		return err.Error(), nil
	}
	return "", inst
}

func logReplayFailure(store *Store, failureLogPath, tool, reason, raw, schemaText, prompt string) (string, error) {
	qid, err := store.WriteWithAttempts(tool+"_replay", reason, raw, schemaText, prompt, nil)
	if err != nil {
		return "", err
	}
	if err := AppendFailureLog(failureLogPath, FailureLogRow{
		TS:           time.Now().UTC().Format(time.RFC3339),
		Tool:         tool + "_replay",
		Reason:       reason,
		QuarantineID: qid,
		RawSHA256:    SHA256Hex(raw),
	}); err != nil {
		return "", err
	}
	return qid, nil
}
