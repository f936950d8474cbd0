package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// printFixRunOutcome renders fix-run's analysis and suggested/executed
// commands as markdown, pretty-printed through glamour when stdout is a
// terminal and left as plain markdown otherwise (piped output, tests).
func printFixRunOutcome(cmd *cobra.Command, app *App, out *fixRunOutcome) {
	w := cmd.OutOrStdout()
	md := buildFixRunMarkdown(out)
	if isTerminalWriter(w) {
		if rendered, err := glamour.Render(md, "dark"); err == nil {
			fmt.Fprint(w, rendered)
			return
		}
	}
	fmt.Fprintln(w, md)
}

func buildFixRunMarkdown(out *fixRunOutcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# fix-run analysis\n\n%s\n", out.Analysis.Stdout)
	if len(out.Commands) > 0 {
		fmt.Fprint(&b, "\n## suggested commands\n\n")
		for _, c := range out.Commands {
			fmt.Fprintf(&b, "- `%s`\n", c)
		}
	}
	for _, e := range out.Executed {
		status := "skipped (policy)"
		if e.Ran {
			status = fmt.Sprintf("ran, exit=%d", e.ExitCode)
		}
		fmt.Fprintf(&b, "\n### `%s` — %s\n", e.Command, status)
		if e.Decision.Dangerous {
			fmt.Fprintf(&b, "\npolicy: %s\n", e.Decision.Reason)
		}
		if e.Output != "" {
			fmt.Fprintf(&b, "\n```\n%s\n```\n", e.Output)
		}
	}
	if out.ExecError != nil {
		fmt.Fprintf(&b, "\n_execution error: %v_\n", out.ExecError)
	}
	return b.String()
}

func isTerminalWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
