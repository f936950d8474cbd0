package main

import (
	"fmt"
	"strings"

	"github.com/chzyer/readline"
)

// confirmCommand asks the user a y/N question before fix-run executes a
// suggested command, matching the teacher's use of readline for
// interactive line editing rather than a bare bufio.Scanner.
func confirmCommand(cmdStr string) (bool, error) {
	rl, err := readline.New(fmt.Sprintf("run `%s`? [y/N] ", cmdStr))
	if err != nil {
		return false, fmt.Errorf("fix-run: open readline: %w", err)
	}
	defer rl.Close()

	line, err := rl.Readline()
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
