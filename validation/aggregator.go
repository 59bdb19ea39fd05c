package validation

import "time"

// Summarize derives the aggregate view of a run. It is a pure function of
// the result list: summarizing the same results twice yields identical
// output.
func Summarize(results []RuleResult) Summary {
	summary := Summary{
		TotalRules: len(results),
		BySeverity: map[Severity]int{
			SeverityCritical: 0,
			SeverityHigh:     0,
			SeverityMedium:   0,
			SeverityLow:      0,
		},
	}

	var total time.Duration
	for _, result := range results {
		if result.Passed {
			summary.PassedRules++
		} else {
			summary.FailedRules++
		}
		total += result.Duration

		for _, check := range result.Checks {
			summary.TotalChecks++
			if check.Passed {
				summary.PassedChecks++
			} else {
				summary.FailedChecks++
				summary.BySeverity[check.Severity]++
			}
		}
	}

	summary.TotalDuration = total
	if len(results) > 0 {
		summary.AverageDuration = total / time.Duration(len(results))
	}
	return summary
}

// FailedResults returns the results whose rule failed.
func FailedResults(results []RuleResult) []RuleResult {
	return filterResults(results, func(r RuleResult) bool { return !r.Passed })
}

// PassedResults returns the results whose rule passed.
func PassedResults(results []RuleResult) []RuleResult {
	return filterResults(results, func(r RuleResult) bool { return r.Passed })
}

// ResultsBySeverity returns the results containing at least one failed check
// of the given severity.
func ResultsBySeverity(results []RuleResult, severity Severity) []RuleResult {
	return filterResults(results, func(r RuleResult) bool {
		for _, check := range r.Checks {
			if !check.Passed && check.Severity == severity {
				return true
			}
		}
		return false
	})
}

// ResultsByCategory returns the results whose rule belongs to the category.
func ResultsByCategory(results []RuleResult, category string) []RuleResult {
	return filterResults(results, func(r RuleResult) bool { return r.Category == category })
}

func filterResults(results []RuleResult, keep func(RuleResult) bool) []RuleResult {
	out := make([]RuleResult, 0, len(results))
	for _, result := range results {
		if keep(result) {
			out = append(out, result)
		}
	}
	return out
}
