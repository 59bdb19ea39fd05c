package validation

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// EvaluateCheck evaluates one check against a retrieved value and returns a
// CheckResult. It is pure apart from timing measurement and never returns an
// error: malformed patterns, type mismatches, predicate errors and panics
// all become failed results with a descriptive message.
func EvaluateCheck(check Check, value any) (result CheckResult) {
	start := time.Now()

	result = CheckResult{
		CheckID:   check.ID,
		CheckName: check.Name,
		Expected:  check.Expected,
		Severity:  check.Severity,
	}
	defer func() {
		if r := recover(); r != nil {
			result.Passed = false
			result.Message = fmt.Sprintf("check panicked: %v", r)
		}
		result.Duration = time.Since(start)
	}()

	actual, found := selectValue(check, value)
	result.Actual = actual

	switch check.Type {
	case CheckCustom:
		result.Passed, result.Message = evalPredicate(check, actual)
	case CheckSchema:
		result.Passed, result.Message = evalSchema(check.Expected, actual)
	default:
		result.Passed, result.Message = evalOperator(check, actual, found)
	}

	return result
}

// selectValue resolves the portion of the retrieved value the check targets.
// Status checks default to the "status" field when no path is given; all
// other types fall back to the whole value.
func selectValue(check Check, value any) (any, bool) {
	path := check.Path
	if path == "" && check.Type == CheckStatus {
		path = "status"
	}
	if path == "" {
		return value, value != nil
	}
	return lookupPath(value, path)
}

// lookupPath walks a dot-separated chain of keys through nested maps and
// slices. Missing intermediate keys resolve to absent rather than an error,
// so exists/not_exists checks can target optional structure. Slice segments
// accept a decimal index.
func lookupPath(value any, path string) (any, bool) {
	current := value
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil {
				return nil, false
			}
			if idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

func evalOperator(check Check, actual any, found bool) (bool, string) {
	switch check.Operator {
	case OpExists:
		if found && actual != nil {
			return true, "value exists"
		}
		return false, "value is absent"

	case OpNotExists:
		if found && actual != nil {
			return false, fmt.Sprintf("value exists: %v", actual)
		}
		return true, "value is absent"

	case OpEquals:
		return evalEquals(check, actual)

	case OpContains:
		s, ok := actual.(string)
		if !ok {
			return false, fmt.Sprintf("contains requires a string value, got %T", actual)
		}
		sub := fmt.Sprintf("%v", check.Expected)
		if strings.Contains(s, sub) {
			return true, fmt.Sprintf("%q contains %q", s, sub)
		}
		return false, fmt.Sprintf("%q does not contain %q", s, sub)

	case OpMatches:
		pattern := fmt.Sprintf("%v", check.Expected)
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Sprintf("invalid pattern %q: %v", pattern, err)
		}
		s := fmt.Sprintf("%v", actual)
		if re.MatchString(s) {
			return true, fmt.Sprintf("%q matches %q", s, pattern)
		}
		return false, fmt.Sprintf("%q does not match %q", s, pattern)

	case OpGreaterThan, OpLessThan:
		return evalNumericCompare(check.Operator, check.Expected, actual)

	default:
		return false, fmt.Sprintf("unknown operator %q", check.Operator)
	}
}

func evalEquals(check Check, actual any) (bool, string) {
	// Numeric equality, optionally widened by tolerance.
	if a, aok := toFloat64(actual); aok {
		if e, eok := toFloat64(check.Expected); eok {
			diff := a - e
			if diff < 0 {
				diff = -diff
			}
			var tolerance float64
			if check.Tolerance != nil {
				tolerance = *check.Tolerance
			}
			if diff <= tolerance {
				return true, fmt.Sprintf("%v equals %v", actual, check.Expected)
			}
			if check.Tolerance != nil {
				return false, fmt.Sprintf("|%v - %v| = %v exceeds tolerance %v", a, e, diff, tolerance)
			}
			return false, fmt.Sprintf("expected %v, got %v", check.Expected, actual)
		}
	}

	if reflect.DeepEqual(actual, check.Expected) {
		return true, fmt.Sprintf("%v equals %v", actual, check.Expected)
	}
	return false, fmt.Sprintf("expected %v, got %v", check.Expected, actual)
}

func evalNumericCompare(op Operator, expected, actual any) (bool, string) {
	a, aok := toFloat64(actual)
	e, eok := toFloat64(expected)
	if !aok || !eok {
		return false, fmt.Sprintf("%s requires numeric values, got %T and %T", op, actual, expected)
	}

	var passed bool
	if op == OpGreaterThan {
		passed = a > e
	} else {
		passed = a < e
	}
	if passed {
		return true, fmt.Sprintf("%v %s %v", a, op, e)
	}
	return false, fmt.Sprintf("%v is not %s %v", a, op, e)
}

// evalSchema performs a shallow kind match. The descriptor is either a bare
// kind name or a map carrying a "type" key; nested shape is out of scope.
func evalSchema(descriptor, actual any) (bool, string) {
	var want string
	switch d := descriptor.(type) {
	case string:
		want = d
	case map[string]any:
		want, _ = d["type"].(string)
	}
	if want == "" {
		return false, fmt.Sprintf("schema descriptor %v has no type", descriptor)
	}

	got := kindOf(actual)
	if got == want {
		return true, fmt.Sprintf("value is of kind %s", got)
	}
	return false, fmt.Sprintf("expected kind %s, got %s", want, got)
}

func evalPredicate(check Check, actual any) (bool, string) {
	if check.Predicate == nil {
		// Registration validation rejects this; left as a failed result
		// in case a caller evaluates an unregistered check directly.
		return false, ErrMissingPredicate.Error()
	}

	passed, err := check.Predicate(actual)
	if err != nil {
		return false, fmt.Sprintf("predicate error: %v", err)
	}
	if passed {
		return true, "predicate passed"
	}
	return false, "predicate failed"
}

// kindOf buckets a value into the shallow schema kinds.
func kindOf(value any) string {
	if value == nil {
		return "null"
	}
	switch value.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return "number"
	}
	switch reflect.TypeOf(value).Kind() {
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Slice, reflect.Array:
		return "array"
	default:
		return "unknown"
	}
}

func toFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
