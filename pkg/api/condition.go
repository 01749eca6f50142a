package api

import (
	"fmt"

	"github.com/expr-lang/expr"
)

// ConditionKind selects the precondition variant.
type ConditionKind int

const (
	// ConditionAlways passes unconditionally. It is the zero value, so
	// steps without an explicit condition always run.
	ConditionAlways ConditionKind = iota

	// ConditionNever fails unconditionally.
	ConditionNever

	// ConditionNotEmpty passes when the context key holds a non-empty
	// value.
	ConditionNotEmpty

	// ConditionEquals passes when the context key equals the literal
	// string value.
	ConditionEquals

	// ConditionExpr evaluates a boolean expression against the context.
	ConditionExpr
)

// Condition is a step precondition evaluated against the execution's
// accumulated context. It is a tagged variant rather than a parsed string
// so that a typo cannot silently degrade into "always true"; unknown kinds
// evaluate to an error and the engine skips the step with a warning.
type Condition struct {
	Kind  ConditionKind
	Key   string
	Value string
	Expr  string
}

// Always returns a condition that passes unconditionally.
func Always() Condition { return Condition{Kind: ConditionAlways} }

// Never returns a condition that fails unconditionally.
func Never() Condition { return Condition{Kind: ConditionNever} }

// NotEmpty returns a condition that passes when the context key holds a
// non-empty value.
func NotEmpty(key string) Condition {
	return Condition{Kind: ConditionNotEmpty, Key: key}
}

// Equals returns a condition that passes when the context key equals the
// given literal.
func Equals(key, value string) Condition {
	return Condition{Kind: ConditionEquals, Key: key, Value: value}
}

// ExprCondition returns a condition backed by an expr-lang boolean
// expression, evaluated with the execution context as its environment:
//
//	api.ExprCondition(`confidence > 0.8 && phase == "build"`)
func ExprCondition(src string) Condition {
	return Condition{Kind: ConditionExpr, Expr: src}
}

// Evaluate resolves the condition against the given context map.
func (c Condition) Evaluate(context map[string]any) (bool, error) {
	switch c.Kind {
	case ConditionAlways:
		return true, nil
	case ConditionNever:
		return false, nil
	case ConditionNotEmpty:
		v, ok := context[c.Key]
		if !ok || v == nil {
			return false, nil
		}
		if s, isStr := v.(string); isStr {
			return s != "", nil
		}
		return true, nil
	case ConditionEquals:
		v, ok := context[c.Key]
		if !ok {
			return false, nil
		}
		return fmt.Sprint(v) == c.Value, nil
	case ConditionExpr:
		env := context
		if env == nil {
			env = map[string]any{}
		}
		prog, err := expr.Compile(c.Expr, expr.Env(env), expr.AsBool(), expr.AllowUndefinedVariables())
		if err != nil {
			return false, fmt.Errorf("compile condition %q: %w", c.Expr, err)
		}
		out, err := expr.Run(prog, env)
		if err != nil {
			return false, fmt.Errorf("evaluate condition %q: %w", c.Expr, err)
		}
		b, ok := out.(bool)
		if !ok {
			return false, fmt.Errorf("condition %q did not evaluate to bool", c.Expr)
		}
		return b, nil
	default:
		return false, fmt.Errorf("unknown condition kind %d", c.Kind)
	}
}
