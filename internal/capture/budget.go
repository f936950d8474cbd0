package capture

import (
	"strconv"
	"strings"
)

// BudgetConfig bounds how much captured text survives to reach a prompt.
type BudgetConfig struct {
	BudgetChars int
	BudgetLines int
	ClipMode    string // "head" | "tail" | "smart"
	ClipFooter  bool
}

// ChooseClipMode resolves "smart" against the text: tail if it looks
// like it contains a failure signal, head otherwise. head/tail pass
// through unchanged.
func ChooseClipMode(input, configuredMode string) string {
	switch configuredMode {
	case "head":
		return "head"
	case "tail":
		return "tail"
	default:
		lower := strings.ToLower(input)
		if strings.Contains(lower, "error") || strings.Contains(lower, "fail") || strings.Contains(lower, "warning") {
			return "tail"
		}
		return "head"
	}
}

// ClipTextWithConfig bounds input to cfg's char/line budget and returns
// the clipped text plus the Stats describing what happened. kept_chars
// <= cfg.BudgetChars and kept_lines <= cfg.BudgetLines always hold;
// Clipped is true iff a reduction actually occurred.
func ClipTextWithConfig(input string, cfg BudgetConfig) (string, Stats) {
	originalChars := len([]rune(input))
	lines := splitLines(input)
	originalLines := len(lines)
	mode := ChooseClipMode(input, cfg.ClipMode)

	var lineLimited string
	if len(lines) <= cfg.BudgetLines {
		lineLimited = input
	} else if mode == "tail" {
		start := len(lines) - cfg.BudgetLines
		if start < 0 {
			start = 0
		}
		lineLimited = strings.Join(lines[start:], "\n")
	} else {
		lineLimited = strings.Join(lines[:cfg.BudgetLines], "\n")
	}

	var charLimited string
	runes := []rune(lineLimited)
	if len(runes) <= cfg.BudgetChars {
		charLimited = lineLimited
	} else if mode == "tail" {
		charLimited = lastNChars(lineLimited, cfg.BudgetChars)
	} else {
		charLimited = firstNChars(lineLimited, cfg.BudgetChars)
	}

	keptChars := len([]rune(charLimited))
	keptLines := len(splitLines(charLimited))
	clipped := keptChars < originalChars || keptLines < originalLines

	finalText := charLimited
	if clipped && cfg.ClipFooter {
		finalText = charLimited + "\n" + footer(originalChars, originalLines, keptChars, keptLines, mode)
	}

	stats := Stats{
		RawChars:        u64p(uint64(originalChars)),
		ProcessedChars:  u64p(uint64(len([]rune(input)))),
		ClippedChars:    u64p(uint64(keptChars)),
		RawLines:        u64p(uint64(originalLines)),
		ProcessedLines:  u64p(uint64(len(splitLines(input)))),
		ClippedLines:    u64p(uint64(keptLines)),
		Clipped:         boolp(clipped),
		BudgetChars:      u64p(uint64(cfg.BudgetChars)),
		BudgetLines:      u64p(uint64(cfg.BudgetLines)),
		ClipMode:         strp(mode),
		ClipFooter:       boolp(cfg.ClipFooter),
	}
	return finalText, stats
}

func footer(origChars, origLines, keptChars, keptLines int, mode string) string {
	return "[cx] output clipped: original=" + strconv.Itoa(origChars) + "/" + strconv.Itoa(origLines) +
		", kept=" + strconv.Itoa(keptChars) + "/" + strconv.Itoa(keptLines) + ", mode=" + mode
}

// ChunkTextByBudget splits input into chunks that never exceed
// chunkChars, preserving lines (the last line of a chunk is never
// split mid-line).
func ChunkTextByBudget(input string, chunkChars int) []string {
	var chunks []string
	var cur strings.Builder
	curChars := 0
	for _, line := range splitLines(input) {
		lineChars := len([]rune(line)) + 1
		if curChars > 0 && curChars+lineChars > chunkChars {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curChars = 0
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
		curChars += lineChars
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	if len(chunks) == 0 {
		chunks = []string{""}
	}
	return chunks
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func firstNChars(s string, n int) string {
	r := []rune(s)
	if n >= len(r) {
		return s
	}
	return string(r[:n])
}

func lastNChars(s string, n int) string {
	r := []rune(s)
	if n >= len(r) {
		return s
	}
	return string(r[len(r)-n:])
}

