package policy

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// exprEnv is the variable set extra rule expressions run against.
type exprEnv struct {
	Command  string
	RepoRoot string
}

// ExprRule is a user-defined dangerous-command rule layered on top of
// the built-in table in Evaluate, expressed as a boolean expr-lang
// expression over Command/RepoRoot (e.g. `Command contains "docker push"`).
type ExprRule struct {
	Reason  string
	program *vm.Program
}

// CompileExprRule compiles src into a reusable ExprRule.
func CompileExprRule(reason, src string) (*ExprRule, error) {
	program, err := expr.Compile(src, expr.Env(exprEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("policy: compile extra rule %q: %w", src, err)
	}
	return &ExprRule{Reason: reason, program: program}, nil
}

// EvaluateExtra runs cmd/repoRoot through every extra rule in order,
// returning the first match. A rule whose expression errors at eval
// time is treated as a non-match rather than aborting the scan.
func EvaluateExtra(cmd, repoRoot string, extra []*ExprRule) Decision {
	env := exprEnv{Command: cmd, RepoRoot: repoRoot}
	for _, r := range extra {
		out, err := expr.Run(r.program, env)
		if err != nil {
			continue
		}
		if matched, ok := out.(bool); ok && matched {
			return dangerous(r.Reason)
		}
	}
	return safe()
}

// EvaluateWithExtra runs the built-in table first and only consults the
// extra rules when the built-in table found nothing dangerous.
func EvaluateWithExtra(cmd, repoRoot string, extra []*ExprRule) Decision {
	if d := Evaluate(cmd, repoRoot); d.Dangerous {
		return d
	}
	return EvaluateExtra(cmd, repoRoot, extra)
}
