// Package governance supplements the safety policy with two ambient
// concerns the original source's broader cxrs handles alongside
// dangerous-pattern detection: stripping secret-shaped environment
// variables before a captured command's child process starts, and
// redacting secret-shaped substrings out of captured output before it
// reaches a prompt or a run-log preview.
package governance

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultEnvDenyGlobs is the built-in deny-glob list applied to a
// captured command's child environment.
var DefaultEnvDenyGlobs = []string{"CX_*_TOKEN", "*_SECRET", "*_API_KEY"}

// DefaultRedactionRules is the built-in list of secret-shaped patterns
// redacted from captured output before logging or prompting.
var DefaultRedactionRules = []RedactionRule{
	{Pattern: `AKIA[0-9A-Z]{16}`, Replace: "[REDACTED_AWS_KEY]"},
	{Pattern: `sk-[A-Za-z0-9]{20,}`, Replace: "[REDACTED_API_KEY]"},
	{Pattern: `(?i)bearer [a-z0-9._-]{10,}`, Replace: "[REDACTED_BEARER]"},
}

// RedactionRule is a single pattern/replacement pair.
type RedactionRule struct {
	Pattern string
	Replace string
}

// CompiledRedaction is a pre-compiled RedactionRule.
type CompiledRedaction struct {
	Pattern *regexp.Regexp
	Replace string
}

// CompileRedactionRules compiles a rule set, in order.
func CompileRedactionRules(rules []RedactionRule) ([]*CompiledRedaction, error) {
	compiled := make([]*CompiledRedaction, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile redaction pattern %q: %w", r.Pattern, err)
		}
		compiled = append(compiled, &CompiledRedaction{Pattern: re, Replace: r.Replace})
	}
	return compiled, nil
}

// Redact applies every compiled rule to output, in order.
func Redact(output string, rules []*CompiledRedaction) string {
	result := output
	for _, r := range rules {
		result = r.Pattern.ReplaceAllString(result, r.Replace)
	}
	return result
}

// FilterEnv strips any KEY=VALUE entry whose key matches a deny glob,
// returning the filtered environment and the blocked key names.
func FilterEnv(env []string, denyGlobs []string) (filtered, blocked []string) {
	if len(denyGlobs) == 0 {
		return env, nil
	}
	for _, e := range env {
		name, _, _ := strings.Cut(e, "=")
		if envVarDenied(name, denyGlobs) {
			blocked = append(blocked, name)
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered, blocked
}

func envVarDenied(name string, denyGlobs []string) bool {
	for _, pattern := range denyGlobs {
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}
