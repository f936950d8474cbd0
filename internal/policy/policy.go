// Package policy implements the safety classifier: a pure function over
// a shell command string and a repo root that labels the command safe
// or dangerous with a specific reason. fix-run consults it before every
// executed command.
package policy

import (
	"os"
	"path/filepath"
	"strings"
)

// Decision is the verdict for one command string.
type Decision struct {
	Dangerous bool
	Reason    string
}

func safe() Decision { return Decision{} }

func dangerous(reason string) Decision {
	return Decision{Dangerous: true, Reason: reason}
}

// Evaluate classifies cmd against repoRoot, applying rules in the fixed
// order the reasons table implies: later rules only fire when earlier
// ones didn't match.
func Evaluate(cmd string, repoRoot string) Decision {
	compact := strings.Join(strings.Fields(cmd), " ")
	lower := strings.ToLower(compact)

	if matchesSudo(lower) {
		return dangerous("contains sudo")
	}
	if matchesRmRf(lower) {
		return dangerous("contains rm -rf pattern")
	}
	if matchesCurlPipeShell(lower) {
		return dangerous("contains curl pipe shell pattern")
	}
	if matchesProtectedChmodChown(lower) {
		return dangerous("chmod/chown on protected system path")
	}
	if matchesProtectedRedirect(lower) {
		return dangerous("write redirection to protected system path")
	}
	if hasWritePattern(lower) && writeTargetsOutsideRepo(compact, repoRoot) {
		return dangerous("write target outside repo root")
	}
	return safe()
}

func matchesSudo(lower string) bool {
	return strings.Contains(lower, " sudo ") ||
		strings.HasPrefix(lower, "sudo ") ||
		strings.HasSuffix(lower, " sudo")
}

func matchesRmRf(lower string) bool {
	return strings.Contains(lower, "rm -rf") ||
		strings.Contains(lower, "rm -fr") ||
		strings.Contains(lower, "rm -r -f") ||
		strings.Contains(lower, "rm -f -r")
}

func matchesCurlPipeShell(lower string) bool {
	return strings.Contains(lower, "curl ") &&
		strings.Contains(lower, "|") &&
		(strings.Contains(lower, "| bash") || strings.Contains(lower, "| sh") || strings.Contains(lower, "| zsh"))
}

func matchesProtectedChmodChown(lower string) bool {
	return (strings.Contains(lower, "chmod ") || strings.Contains(lower, "chown ")) &&
		(strings.Contains(lower, "/system") || strings.Contains(lower, "/library") || strings.Contains(lower, "/usr")) &&
		!strings.Contains(lower, "/usr/local")
}

func matchesProtectedRedirect(lower string) bool {
	writesProtected := strings.Contains(lower, "> /system") ||
		strings.Contains(lower, ">> /system") ||
		strings.Contains(lower, "> /library") ||
		strings.Contains(lower, ">> /library") ||
		strings.Contains(lower, "> /usr") ||
		strings.Contains(lower, ">> /usr") ||
		(strings.Contains(lower, "tee ") &&
			(strings.Contains(lower, " /system") || strings.Contains(lower, " /library") || strings.Contains(lower, " /usr")))
	return writesProtected && !strings.Contains(lower, "/usr/local")
}

func hasWritePattern(lower string) bool {
	for _, tok := range []string{">>", ">", "tee ", "touch ", "mkdir ", "cp ", "mv ", "install ", "dd ", "chmod ", "chown "} {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

func normalizeToken(tok string) string {
	return strings.Trim(tok, `"'`+"`;,")
}

func collectWriteCandidates(cmd string) []string {
	fields := strings.Fields(cmd)
	tokens := make([]string, len(fields))
	for i, f := range fields {
		tokens[i] = normalizeToken(f)
	}
	var candidates []string
	for i, t := range tokens {
		if (t == ">" || t == ">>" || t == "tee") && i+1 < len(tokens) {
			candidates = append(candidates, tokens[i+1])
		}
		if (t == "touch" || t == "mkdir" || t == "chmod" || t == "chown") && i+1 < len(tokens) {
			candidates = append(candidates, tokens[i+1])
		}
		if rest, ok := strings.CutPrefix(t, "of="); ok {
			candidates = append(candidates, rest)
		}
		if strings.HasPrefix(t, "/") || strings.HasPrefix(t, "~/") || t == "~" {
			candidates = append(candidates, t)
		}
		if strings.HasPrefix(t, "$HOME") || strings.HasPrefix(t, "${HOME}") {
			candidates = append(candidates, t)
		}
	}
	for _, t := range tokens {
		if t == "cp" || t == "mv" || t == "install" {
			if last := tokens[len(tokens)-1]; last != "" {
				candidates = append(candidates, last)
			}
			break
		}
	}
	return candidates
}

func writeTargetsOutsideRepo(cmd, repoRoot string) bool {
	for _, p := range collectWriteCandidates(cmd) {
		if pathIsOutsideRepo(p, repoRoot) {
			return true
		}
	}
	return false
}

func pathIsOutsideRepo(p, repoRoot string) bool {
	path := strings.TrimSpace(p)
	if path == "" {
		return false
	}
	if strings.Contains(path, "..") || path == "~" {
		return true
	}

	rootAbs := canonicalOrSelf(repoRoot)
	candidate, ok := resolveCandidatePath(path, repoRoot)
	if !ok {
		return true
	}
	if _, err := os.Lstat(candidate); err == nil {
		canon := canonicalOrSelf(candidate)
		return !canonStartsWith(canon, rootAbs)
	}
	parent := filepath.Dir(candidate)
	if _, err := os.Stat(parent); err == nil {
		parentCanon := canonicalOrSelf(parent)
		if !canonStartsWith(parentCanon, rootAbs) {
			return true
		}
	}
	return !lexicallyInsideRoot(candidate, repoRoot)
}

func canonicalOrSelf(path string) string {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return path
	}
	return resolved
}

func canonStartsWith(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

func resolveCandidatePath(path, repoRoot string) (string, bool) {
	home := os.Getenv("HOME")
	if home != "" {
		if path == "~" {
			return home, true
		}
		for _, prefix := range []string{"~/", "$HOME/", "${HOME}/"} {
			if rest, ok := strings.CutPrefix(path, prefix); ok {
				return filepath.Join(home, rest), true
			}
		}
	}
	if strings.HasPrefix(path, "$") {
		return "", false
	}
	if strings.HasPrefix(path, "/") {
		return path, true
	}
	return filepath.Join(repoRoot, path), true
}

func lexicallyInsideRoot(candidate, repoRoot string) bool {
	if candidate == repoRoot {
		return true
	}
	return strings.HasPrefix(candidate, repoRoot+string(filepath.Separator))
}
