package validation

import "errors"

// Registration-time errors surface synchronously so misconfiguration is
// caught when a rule is added, not during a run. Run-time failures
// (retrieval errors, predicate errors) are folded into results instead.
var (
	// ErrDuplicateRule is returned by Add when the rule ID is taken.
	ErrDuplicateRule = errors.New("rule already exists")

	// ErrRuleNotFound is returned by lookups and updates for unknown IDs.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrMissingPredicate is returned when a custom check carries neither
	// a predicate nor an expression to compile one from.
	ErrMissingPredicate = errors.New("custom check requires a predicate or expression")

	// ErrInvalidRule is returned for structurally invalid rule
	// definitions (empty ID, unknown check type or operator).
	ErrInvalidRule = errors.New("invalid rule")

	// ErrRunInFlight is returned by ValidateAll when a previous run on
	// the same executor has not finished. Runs are single-flight per
	// executor; results of two runs are never interleaved.
	ErrRunInFlight = errors.New("validation run already in flight")
)
