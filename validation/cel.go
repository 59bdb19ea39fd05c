package validation

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// predicateCostLimit bounds CEL evaluation so a pathological expression
// cannot stall a run.
const predicateCostLimit = 1_000_000

// CompilePredicate compiles a CEL expression into a Predicate. The retrieved
// value is bound to the variable "value"; the expression must evaluate to a
// boolean (any other result type counts as false). Compilation errors are
// returned eagerly so they surface at registration time.
func CompilePredicate(expression string) (Predicate, error) {
	env, err := cel.NewEnv(cel.Variable("value", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}

	prog, err := env.Program(ast, cel.CostLimit(predicateCostLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	return func(value any) (bool, error) {
		out, _, err := prog.Eval(map[string]any{"value": value})
		if err != nil {
			return false, err
		}
		result, ok := out.Value().(bool)
		if !ok {
			return false, nil
		}
		return result, nil
	}, nil
}
