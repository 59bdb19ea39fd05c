// Package validation implements a declarative rule-based validation engine:
// named rules composed of typed checks are registered, executed against
// values fetched through an injected retrieval adapter, and aggregated into
// a severity-weighted summary. The package holds rules and results in memory
// for the duration of a run; fetching data and rendering reports are the
// caller's concern.
package validation

import (
	"time"
)

// Severity weights a failed check in the aggregated summary and routes it
// into a result's errors (critical/high) or warnings (medium/low).
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// IsValid reports whether s is one of the known severity levels.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// CheckType identifies what part of a retrieved value a check inspects.
type CheckType string

const (
	// CheckStatus compares the "status" field of the retrieved value
	// (HTTP status code, job exit state, and similar).
	CheckStatus CheckType = "status"

	// CheckSchema performs a shallow kind match (object/array/string/
	// number/boolean/null) against a {type: ...} descriptor. It does not
	// validate nested shape, required properties, or enums.
	CheckSchema CheckType = "schema"

	// CheckNumeric compares a numeric field, optionally within a
	// tolerance. Also accepted under the alias "response_time".
	CheckNumeric CheckType = "numeric"

	// CheckField compares a named field such as a header. Alias: "header".
	CheckField CheckType = "field"

	// CheckPath compares a value selected by a dot-notation path into the
	// retrieved body. Alias: "body".
	CheckPath CheckType = "path"

	// CheckCustom delegates entirely to an injected Predicate. A custom
	// check without a predicate (or a compilable expression) is rejected
	// at registration time.
	CheckCustom CheckType = "custom"
)

// IsValid reports whether t is one of the known check types.
func (t CheckType) IsValid() bool {
	switch t {
	case CheckStatus, CheckSchema, CheckNumeric, CheckField, CheckPath, CheckCustom:
		return true
	}
	return false
}

// Operator selects the comparison applied between the selected value and
// the check's expected value.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpContains    Operator = "contains"
	OpMatches     Operator = "matches"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpExists      Operator = "exists"
	OpNotExists   Operator = "not_exists"
)

// IsValid reports whether op is one of the known operators.
func (op Operator) IsValid() bool {
	switch op {
	case OpEquals, OpContains, OpMatches, OpGreaterThan, OpLessThan, OpExists, OpNotExists:
		return true
	}
	return false
}

// Predicate is the strategy a custom check delegates to. A returned error
// (or a panic) is converted into a failed CheckResult, never propagated.
type Predicate func(value any) (bool, error)

// Check is a single typed comparison evaluated against a retrieved value.
type Check struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Type     CheckType `json:"type"`
	Path     string    `json:"path,omitempty"`
	Expected any       `json:"expected,omitempty"`
	Operator Operator  `json:"operator"`

	// Tolerance widens equals for numeric values: the check passes when
	// |actual-expected| <= *Tolerance. Ignored for non-numeric operands.
	Tolerance *float64 `json:"tolerance,omitempty"`

	Severity Severity `json:"severity"`

	// Expression is an optional CEL expression over the variable "value".
	// It is compiled into Predicate when the rule is registered, which is
	// what makes custom checks persistable.
	Expression string `json:"expression,omitempty"`

	Predicate Predicate `json:"-"`
}

// clone returns a copy of the check. Expected and the predicate are shared;
// both are treated as immutable by the engine.
func (c Check) clone() Check {
	out := c
	if c.Tolerance != nil {
		t := *c.Tolerance
		out.Tolerance = &t
	}
	return out
}

// Rule is a named, registered expectation about some observable. Target is
// an opaque descriptor handed to the retrieval adapter; the engine never
// interprets it.
type Rule struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Category    string         `json:"category,omitempty"`
	Severity    Severity       `json:"severity"`
	Target      map[string]any `json:"target,omitempty"`
	Checks      []Check        `json:"checks"`
	Enabled     bool           `json:"enabled"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Clone returns a deep copy of the rule, so callers holding the copy cannot
// mutate registry-internal state.
func (r *Rule) Clone() *Rule {
	out := *r
	if r.Target != nil {
		out.Target = make(map[string]any, len(r.Target))
		for k, v := range r.Target {
			out.Target[k] = v
		}
	}
	out.Checks = make([]Check, len(r.Checks))
	for i, c := range r.Checks {
		out.Checks[i] = c.clone()
	}
	return &out
}

// Patch carries the fields of a partial rule update. Nil fields are left
// unchanged; Target and Checks replace the existing value when non-nil.
type Patch struct {
	Name        *string
	Description *string
	Category    *string
	Severity    *Severity
	Target      map[string]any
	Checks      []Check
	Enabled     *bool
}

// CheckResult is the outcome of evaluating one check. It is produced fresh
// on every evaluation and never mutated afterward.
type CheckResult struct {
	CheckID   string        `json:"checkId"`
	CheckName string        `json:"checkName"`
	Passed    bool          `json:"passed"`
	Expected  any           `json:"expected,omitempty"`
	Actual    any           `json:"actual,omitempty"`
	Message   string        `json:"message"`
	Severity  Severity      `json:"severity"`
	Duration  time.Duration `json:"duration"`
}

// RuleResult is the outcome of executing one rule: the retrieval plus all of
// its checks. Passed is the conjunction of the check outcomes; a retrieval
// failure yields a failed result with no checks.
type RuleResult struct {
	RuleID    string         `json:"ruleId"`
	RuleName  string         `json:"ruleName"`
	Category  string         `json:"category,omitempty"`
	Passed    bool           `json:"passed"`
	Checks    []CheckResult  `json:"checks"`
	Errors    []string       `json:"errors,omitempty"`
	Warnings  []string       `json:"warnings,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Duration  time.Duration  `json:"duration"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Summary is the derived aggregate of a run's results. It is always
// recomputable from the result list; it carries no independent state.
type Summary struct {
	TotalRules   int `json:"totalRules"`
	PassedRules  int `json:"passedRules"`
	FailedRules  int `json:"failedRules"`
	TotalChecks  int `json:"totalChecks"`
	PassedChecks int `json:"passedChecks"`
	FailedChecks int `json:"failedChecks"`

	// BySeverity counts failed checks per severity level across the run.
	BySeverity map[Severity]int `json:"bySeverity"`

	AverageDuration time.Duration `json:"averageDuration"`
	TotalDuration   time.Duration `json:"totalDuration"`
}
