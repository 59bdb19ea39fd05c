package validation

import "time"

// Report is the plain-data export of a run, shaped for JSON serialization
// and consumption by external reporters (CLI exit-code mapping, HTML or
// Markdown rendering). Durations are flattened to milliseconds.
type Report struct {
	GeneratedAt time.Time      `json:"generatedAt"`
	Summary     ReportSummary  `json:"summary"`
	Results     []ReportResult `json:"results"`
}

// ReportSummary mirrors Summary with millisecond timings.
type ReportSummary struct {
	TotalRules        int              `json:"totalRules"`
	PassedRules       int              `json:"passedRules"`
	FailedRules       int              `json:"failedRules"`
	TotalChecks       int              `json:"totalChecks"`
	PassedChecks      int              `json:"passedChecks"`
	FailedChecks      int              `json:"failedChecks"`
	BySeverity        map[Severity]int `json:"bySeverity"`
	AverageDurationMs float64          `json:"averageExecutionTimeMs"`
	TotalDurationMs   float64          `json:"totalExecutionTimeMs"`
}

// ReportResult mirrors RuleResult with millisecond timings.
type ReportResult struct {
	RuleID     string         `json:"ruleId"`
	RuleName   string         `json:"ruleName"`
	Category   string         `json:"category,omitempty"`
	Passed     bool           `json:"passed"`
	Checks     []ReportCheck  `json:"checks"`
	Errors     []string       `json:"errors,omitempty"`
	Warnings   []string       `json:"warnings,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	DurationMs float64        `json:"executionTimeMs"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ReportCheck mirrors CheckResult with millisecond timings.
type ReportCheck struct {
	CheckID    string   `json:"checkId"`
	CheckName  string   `json:"checkName"`
	Passed     bool     `json:"passed"`
	Expected   any      `json:"expected,omitempty"`
	Actual     any      `json:"actual,omitempty"`
	Message    string   `json:"message"`
	Severity   Severity `json:"severity"`
	DurationMs float64  `json:"executionTimeMs"`
}

// NewReport builds a Report from a run's results.
func NewReport(results []RuleResult) *Report {
	summary := Summarize(results)

	report := &Report{
		GeneratedAt: time.Now(),
		Summary: ReportSummary{
			TotalRules:        summary.TotalRules,
			PassedRules:       summary.PassedRules,
			FailedRules:       summary.FailedRules,
			TotalChecks:       summary.TotalChecks,
			PassedChecks:      summary.PassedChecks,
			FailedChecks:      summary.FailedChecks,
			BySeverity:        summary.BySeverity,
			AverageDurationMs: durationMs(summary.AverageDuration),
			TotalDurationMs:   durationMs(summary.TotalDuration),
		},
		Results: make([]ReportResult, 0, len(results)),
	}

	for _, result := range results {
		rr := ReportResult{
			RuleID:     result.RuleID,
			RuleName:   result.RuleName,
			Category:   result.Category,
			Passed:     result.Passed,
			Checks:     make([]ReportCheck, 0, len(result.Checks)),
			Errors:     result.Errors,
			Warnings:   result.Warnings,
			Timestamp:  result.Timestamp,
			DurationMs: durationMs(result.Duration),
			Metadata:   result.Metadata,
		}
		for _, check := range result.Checks {
			rr.Checks = append(rr.Checks, ReportCheck{
				CheckID:    check.CheckID,
				CheckName:  check.CheckName,
				Passed:     check.Passed,
				Expected:   check.Expected,
				Actual:     check.Actual,
				Message:    check.Message,
				Severity:   check.Severity,
				DurationMs: durationMs(check.Duration),
			})
		}
		report.Results = append(report.Results, rr)
	}

	return report
}

func durationMs(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
