// Package schema loads JSON Schema files from <repo>/.codex/schemas,
// compiles and caches them process-wide, validates instances against
// them, and builds the deterministic strict-JSON prompt wrapper used by
// the schema-guarded execute_task sub-pipeline.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// Loaded is a named, parsed schema ready to compile or prompt-build.
type Loaded struct {
	Name  string
	Path  string
	Value json.RawMessage
	ID    string
}

// Registry loads and compiles schemas from a single schema directory,
// caching compiled schemas behind a mutex (poisoning surfaces as an
// error, never a panic).
type Registry struct {
	Dir string

	mu       sync.Mutex
	compiled map[string]*sjsonschema.Schema
	loaded   map[string]*Loaded
}

// NewRegistry returns a Registry rooted at dir (normally <repo>/.codex/schemas).
func NewRegistry(dir string) *Registry {
	return &Registry{
		Dir:      dir,
		compiled: map[string]*sjsonschema.Schema{},
		loaded:   map[string]*Loaded{},
	}
}

// Load reads and parses the named schema, normalizing a ".schema.json"
// suffix, and caches the parsed form.
func (r *Registry) Load(name string) (*Loaded, error) {
	base := strings.TrimSuffix(name, ".schema.json")

	r.mu.Lock()
	if l, ok := r.loaded[base]; ok {
		r.mu.Unlock()
		return l, nil
	}
	r.mu.Unlock()

	path := filepath.Join(r.Dir, base+".schema.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load schema %q: %w", base, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("load schema %q: invalid JSON: %w", base, err)
	}
	id, _ := doc["$id"].(string)

	l := &Loaded{Name: base, Path: path, Value: json.RawMessage(data), ID: id}
	r.mu.Lock()
	r.loaded[base] = l
	r.mu.Unlock()
	return l, nil
}

// Compile compiles (and caches) the named schema for validation.
func (r *Registry) Compile(name string) (*sjsonschema.Schema, error) {
	base := strings.TrimSuffix(name, ".schema.json")

	r.mu.Lock()
	if sch, ok := r.compiled[base]; ok {
		r.mu.Unlock()
		return sch, nil
	}
	r.mu.Unlock()

	l, err := r.Load(base)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(l.Value, &doc); err != nil {
		return nil, fmt.Errorf("compile schema %q: %w", base, err)
	}
	resourceName := base + ".schema.json"
	c := sjsonschema.NewCompiler()
	if err := c.AddResource(resourceName, doc); err != nil {
		return nil, fmt.Errorf("compile schema %q: add resource: %w", base, err)
	}
	sch, err := c.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("compile schema %q: %w", base, err)
	}

	r.mu.Lock()
	r.compiled[base] = sch
	r.mu.Unlock()
	return sch, nil
}

// ValidateInstance parses rawText as JSON and validates it against the
// named schema. On success it returns the parsed value. On failure it
// returns one of the three documented reason strings:
// "empty_agent_message", "invalid JSON: <parser message>", or
// "schema_validation_failed: <first up to 3 validator errors>".
func (r *Registry) ValidateInstance(name, rawText string) (any, error) {
	if strings.TrimSpace(rawText) == "" {
		return nil, fmt.Errorf("empty_agent_message")
	}
	var instance any
	if err := json.Unmarshal([]byte(rawText), &instance); err != nil {
		return nil, fmt.Errorf("invalid JSON: %s", err.Error())
	}
	sch, err := r.Compile(name)
	if err != nil {
		return nil, err
	}
	if err := sch.Validate(instance); err != nil {
		var ve *sjsonschema.ValidationError
		if e, ok := err.(*sjsonschema.ValidationError); ok {
			ve = e
		}
		msgs := firstValidationMessages(ve, 3)
		return nil, fmt.Errorf("schema_validation_failed: %s", strings.Join(msgs, "; "))
	}
	return instance, nil
}

// ValidateEmbedded validates rawText against schemaText compiled
// on-the-fly, for callers (replay) that must validate against a schema
// captured verbatim inside a record rather than whatever now lives on
// disk under some name.
func ValidateEmbedded(schemaText, rawText string) (any, error) {
	if strings.TrimSpace(rawText) == "" {
		return nil, fmt.Errorf("empty_agent_message")
	}
	var instance any
	if err := json.Unmarshal([]byte(rawText), &instance); err != nil {
		return nil, fmt.Errorf("invalid JSON: %s", err.Error())
	}
	var doc any
	if err := json.Unmarshal([]byte(schemaText), &doc); err != nil {
		return nil, fmt.Errorf("quarantine schema is invalid JSON: %s", err.Error())
	}
	c := sjsonschema.NewCompiler()
	if err := c.AddResource("embedded.schema.json", doc); err != nil {
		return nil, fmt.Errorf("compile embedded schema: %w", err)
	}
	sch, err := c.Compile("embedded.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile embedded schema: %w", err)
	}
	if err := sch.Validate(instance); err != nil {
		var ve *sjsonschema.ValidationError
		if e, ok := err.(*sjsonschema.ValidationError); ok {
			ve = e
		}
		msgs := firstValidationMessages(ve, 3)
		return nil, fmt.Errorf("schema_validation_failed: %s", strings.Join(msgs, "; "))
	}
	return instance, nil
}

func firstValidationMessages(ve *sjsonschema.ValidationError, limit int) []string {
	if ve == nil {
		return []string{"unknown validation error"}
	}
	flat := flattenValidationErrors(ve)
	var msgs []string
	for i, cause := range flat {
		if i >= limit {
			break
		}
		path := strings.Join(cause.InstanceLocation, "/")
		if path == "" {
			path = "(root)"
		}
		msgs = append(msgs, fmt.Sprintf("%s: %v", path, cause.ErrorKind))
	}
	return msgs
}

func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// BuildStrictSchemaPrompt builds the deterministic strict-JSON prompt
// from a schema's pretty-printed text and the task's natural-language
// input.
func BuildStrictSchemaPrompt(schemaText json.RawMessage, taskInput string) string {
	pretty := prettyJSON(schemaText)
	var b strings.Builder
	b.WriteString("You must respond with STRICT JSON only, no markdown, no code fences. ")
	b.WriteString("Respond with a single JSON object conforming exactly to this schema:\n\n")
	b.WriteString(pretty)
	b.WriteString("\n\nTask:\n")
	b.WriteString(taskInput)
	return b.String()
}

// BuildRetrySchemaPrompt is the §4.5 retry variant: it embeds the prior
// failure reason as additional instruction.
func BuildRetrySchemaPrompt(schemaText json.RawMessage, taskInput, failureReason string) string {
	base := BuildStrictSchemaPrompt(schemaText, taskInput)
	return base + "\n\nPrevious attempt failed validation: " + failureReason + "\nCorrect the response and try again, still returning STRICT JSON only."
}

func prettyJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
