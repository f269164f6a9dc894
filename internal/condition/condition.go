// Package condition evaluates filter predicates over resolved datapath values.
package condition

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"soarbook/internal/store"
	"soarbook/pkg/models"
)

// Condition is either a (path, op, literal) triple or a boolean expression over
// the resolved value, exposed to the expression as `value`.
type Condition struct {
	Path    store.Path
	Op      string
	Literal interface{}
	When    string

	program *vm.Program
}

// New builds a comparator condition.
func New(path store.Path, op string, literal interface{}) (Condition, error) {
	if path.IsZero() {
		return Condition{}, fmt.Errorf("condition path is required")
	}
	if !ValidOp(op) {
		return Condition{}, fmt.Errorf("unknown comparator %q", op)
	}
	return Condition{Path: path, Op: normalizeOp(op), Literal: literal}, nil
}

// NewExpr builds an expression condition. The expression is compiled once.
func NewExpr(path store.Path, when string) (Condition, error) {
	if path.IsZero() {
		return Condition{}, fmt.Errorf("condition path is required")
	}
	when = strings.TrimSpace(when)
	if when == "" {
		return Condition{}, fmt.Errorf("condition expression is empty")
	}
	if err := Validate(when); err != nil {
		return Condition{}, fmt.Errorf("invalid condition %q: %w", when, err)
	}
	program, err := expr.Compile(when, expr.Env(exprEnv{}), expr.AsBool())
	if err != nil {
		return Condition{}, fmt.Errorf("compile condition %q: %w", when, err)
	}
	return Condition{Path: path, When: when, program: program}, nil
}

// Match evaluates the condition against one resolved value.
func (c Condition) Match(v store.Value) (bool, error) {
	if c.program == nil {
		return Compare(c.Op, v.Value, c.Literal)
	}
	if v.Value == nil {
		return false, nil
	}
	out, err := expr.Run(c.program, newExprEnv(v.Value, v.ArtifactID))
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", c.When, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q must evaluate to bool (got %T)", c.When, out)
	}
	return b, nil
}

// String renders the condition for logs and summaries.
func (c Condition) String() string {
	if c.When != "" {
		return fmt.Sprintf("%s when %s", c.Path, c.When)
	}
	if c.Op == OpExists {
		return fmt.Sprintf("%s exists", c.Path)
	}
	return fmt.Sprintf("%s %s %s", c.Path, c.Op, models.FormatValue(c.Literal))
}

// exprEnv is the expression environment. Value is left untyped so one
// compiled program accepts numbers, strings and lists alike.
type exprEnv struct {
	Value      interface{} `expr:"value"`
	ArtifactID string      `expr:"artifact_id"`
}

// newExprEnv exposes numeric strings as numbers so `value >= 5` holds for "7".
func newExprEnv(value interface{}, artifactID string) exprEnv {
	if f, ok := toFloat(value); ok {
		value = f
	}
	return exprEnv{Value: value, ArtifactID: artifactID}
}
