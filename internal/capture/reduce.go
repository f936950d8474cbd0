package capture

import "strings"

// NativeReduceOutput applies the family-specific reducer for argv,
// falling back to a generic blank-line collapse + long-line truncation
// for anything that isn't a recognized git/diff invocation.
func NativeReduceOutput(argv []string, input string) string {
	cmd0, cmd1 := "", ""
	if len(argv) > 0 {
		cmd0 = argv[0]
	}
	if len(argv) > 1 {
		cmd1 = argv[1]
	}

	var reduced string
	switch {
	case cmd0 == "git" && cmd1 == "status":
		reduced = reduceGitStatus(input)
	case cmd0 == "git" && cmd1 == "diff", cmd0 == "diff":
		reduced = reduceDiffLike(input)
	default:
		reduced = input
	}
	return normalizeGeneric(reduced)
}

func reduceGitStatus(input string) string {
	var out []string
	for _, line := range splitLines(input) {
		trimmed := strings.TrimLeft(line, " \t")
		switch {
		case strings.HasPrefix(line, "On branch "),
			strings.HasPrefix(line, "HEAD detached"),
			strings.HasPrefix(line, "Your branch "),
			strings.HasPrefix(line, "Changes to be committed:"),
			strings.HasPrefix(line, "Changes not staged for commit:"),
			strings.HasPrefix(line, "Untracked files:"),
			strings.HasPrefix(line, "nothing to commit"),
			strings.HasPrefix(line, "no changes added to commit"),
			strings.HasPrefix(trimmed, "modified:"),
			strings.HasPrefix(trimmed, "new file:"),
			strings.HasPrefix(trimmed, "deleted:"),
			strings.HasPrefix(trimmed, "renamed:"),
			strings.HasPrefix(trimmed, "both modified:"),
			strings.HasPrefix(trimmed, "both added:"),
			strings.HasPrefix(trimmed, "both deleted:"):
			out = append(out, line)
		}
	}
	if len(out) == 0 {
		lines := splitLines(input)
		if len(lines) > 120 {
			lines = lines[:120]
		}
		return strings.Join(lines, "\n")
	}
	return strings.Join(out, "\n")
}

func reduceDiffLike(input string) string {
	var out []string
	changed := 0
	for _, line := range splitLines(input) {
		switch {
		case strings.HasPrefix(line, "diff --git "),
			strings.HasPrefix(line, "index "),
			strings.HasPrefix(line, "--- "),
			strings.HasPrefix(line, "+++ "),
			strings.HasPrefix(line, "@@ "),
			strings.HasPrefix(line, "Binary files "),
			strings.HasPrefix(line, "rename from "),
			strings.HasPrefix(line, "rename to "):
			out = append(out, line)
		case (strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-")) && changed < 300:
			out = append(out, line)
			changed++
		}
	}
	if len(out) == 0 {
		return input
	}
	return strings.Join(out, "\n")
}

func normalizeGeneric(input string) string {
	var out strings.Builder
	blankSeen := false
	for _, line := range splitLines(input) {
		if strings.TrimSpace(line) == "" {
			if !blankSeen {
				out.WriteByte('\n')
			}
			blankSeen = true
			continue
		}
		blankSeen = false
		if r := []rune(line); len(r) > 600 {
			line = string(r[:600]) + "..."
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	return out.String()
}
