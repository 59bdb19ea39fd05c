package validation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// stubRetriever serves canned values (or errors) keyed by rule ID.
type stubRetriever struct {
	values map[string]any
	errs   map[string]error
}

func (s *stubRetriever) Retrieve(ctx context.Context, rule *Rule) (any, error) {
	if err, ok := s.errs[rule.ID]; ok {
		return nil, err
	}
	return s.values[rule.ID], nil
}

func newTestExecutor(t *testing.T, retriever Retriever, rules ...*Rule) (*Executor, *InMemoryRegistry) {
	t.Helper()
	reg := NewInMemoryRegistry()
	for _, rule := range rules {
		if err := reg.Add(rule); err != nil {
			t.Fatalf("Add(%s) failed: %v", rule.ID, err)
		}
	}
	return NewExecutor(reg, retriever), reg
}

func TestValidateAllRunsEnabledRules(t *testing.T) {
	retriever := &stubRetriever{values: map[string]any{
		"r1": map[string]any{"status": 200},
		"r2": map[string]any{"status": 200},
		"r3": map[string]any{"status": 200},
	}}
	exec, _ := newTestExecutor(t, retriever, sampleRule("r1"), sampleRule("r2"), sampleRule("r3"))

	results, err := exec.ValidateAll(context.Background())
	if err != nil {
		t.Fatalf("ValidateAll() failed: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	// Registry iteration order, not completion order.
	for i, want := range []string{"r1", "r2", "r3"} {
		if results[i].RuleID != want {
			t.Errorf("results[%d].RuleID = %s, want %s", i, results[i].RuleID, want)
		}
	}
	for _, result := range results {
		if !result.Passed {
			t.Errorf("rule %s should pass: %v", result.RuleID, result.Errors)
		}
	}
}

// One broken rule must never prevent the rest of the batch from being
// evaluated and reported.
func TestValidateAllIsolatesRetrievalFailure(t *testing.T) {
	retriever := &stubRetriever{
		values: map[string]any{
			"good-1": map[string]any{"status": 200},
			"good-2": map[string]any{"status": 200},
		},
		errs: map[string]error{"broken": errors.New("connection refused")},
	}
	exec, _ := newTestExecutor(t, retriever, sampleRule("good-1"), sampleRule("broken"), sampleRule("good-2"))

	results, err := exec.ValidateAll(context.Background())
	if err != nil {
		t.Fatalf("ValidateAll() failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	failed := results[1]
	if failed.RuleID != "broken" {
		t.Fatalf("results[1].RuleID = %s, want broken", failed.RuleID)
	}
	if failed.Passed {
		t.Error("broken rule should fail")
	}
	if len(failed.Checks) != 0 {
		t.Errorf("checks must not run against an absent value, got %d check results", len(failed.Checks))
	}
	if len(failed.Errors) != 1 || !strings.Contains(failed.Errors[0], "connection refused") {
		t.Errorf("Errors = %v, want a single retrieval error", failed.Errors)
	}

	if !results[0].Passed || !results[2].Passed {
		t.Error("sibling rules should still pass")
	}
}

func TestValidateAllSkipsDisabledRules(t *testing.T) {
	retriever := &stubRetriever{values: map[string]any{
		"on":  map[string]any{"status": 200},
		"off": map[string]any{"status": 200},
	}}
	exec, reg := newTestExecutor(t, retriever, sampleRule("on"), sampleRule("off"))

	if err := reg.Disable("off"); err != nil {
		t.Fatalf("Disable() failed: %v", err)
	}

	results, err := exec.ValidateAll(context.Background())
	if err != nil {
		t.Fatalf("ValidateAll() failed: %v", err)
	}
	if len(results) != 1 || results[0].RuleID != "on" {
		t.Errorf("disabled rule should be excluded, got %d results", len(results))
	}

	// The stored rule keeps its checks while disabled.
	off, _ := reg.Get("off")
	if len(off.Checks) != 1 {
		t.Error("disabling must not mutate the stored rule's checks")
	}
}

func TestValidateRuleRatingRange(t *testing.T) {
	rule := &Rule{
		ID:      "rating-range",
		Name:    "Rating range",
		Enabled: true,
		Checks: []Check{
			{ID: "above-floor", Name: "above floor", Type: CheckNumeric, Path: "rating", Operator: OpGreaterThan, Expected: 0, Severity: SeverityHigh},
			{ID: "below-ceiling", Name: "below ceiling", Type: CheckNumeric, Path: "rating", Operator: OpLessThan, Expected: 3000, Severity: SeverityLow},
		},
	}
	retriever := &stubRetriever{values: map[string]any{
		"rating-range": map[string]any{"rating": -100},
	}}
	exec, _ := newTestExecutor(t, retriever, rule)

	result, err := exec.ValidateRule(context.Background(), "rating-range")
	if err != nil {
		t.Fatalf("ValidateRule() failed: %v", err)
	}

	if result.Passed {
		t.Error("rule should fail")
	}
	if result.Checks[0].Passed {
		t.Error("greater_than 0 should fail for -100")
	}
	if !result.Checks[1].Passed {
		t.Error("less_than 3000 should pass for -100")
	}
	// High severity failures land in errors, low in warnings.
	if len(result.Errors) != 1 {
		t.Errorf("Errors = %v, want one entry", result.Errors)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", result.Warnings)
	}
}

func TestValidateRuleSeverityRouting(t *testing.T) {
	rule := &Rule{
		ID:      "routing",
		Name:    "Routing",
		Enabled: true,
		Checks: []Check{
			{ID: "crit", Type: CheckStatus, Operator: OpEquals, Expected: 200, Severity: SeverityCritical},
			{ID: "med", Type: CheckPath, Path: "body.token", Operator: OpExists, Severity: SeverityMedium},
			{ID: "low", Type: CheckNumeric, Path: "response_time_ms", Operator: OpLessThan, Expected: 1, Severity: SeverityLow},
		},
	}
	retriever := &stubRetriever{values: map[string]any{
		"routing": map[string]any{"status": 500, "body": map[string]any{}, "response_time_ms": 900.0},
	}}
	exec, _ := newTestExecutor(t, retriever, rule)

	result, err := exec.ValidateRule(context.Background(), "routing")
	if err != nil {
		t.Fatalf("ValidateRule() failed: %v", err)
	}

	if len(result.Errors) != 1 {
		t.Errorf("Errors = %v, want 1 (critical failure)", result.Errors)
	}
	if len(result.Warnings) != 2 {
		t.Errorf("Warnings = %v, want 2 (medium and low failures)", result.Warnings)
	}
}

func TestValidateRulePassedIsConjunction(t *testing.T) {
	retriever := &stubRetriever{values: map[string]any{
		"r1": map[string]any{"status": 200},
	}}
	exec, _ := newTestExecutor(t, retriever, sampleRule("r1"))

	result, err := exec.ValidateRule(context.Background(), "r1")
	if err != nil {
		t.Fatalf("ValidateRule() failed: %v", err)
	}

	all := true
	for _, check := range result.Checks {
		all = all && check.Passed
	}
	if result.Passed != all {
		t.Errorf("Passed = %v, want conjunction of check outcomes %v", result.Passed, all)
	}
}

func TestValidateRuleUnknownID(t *testing.T) {
	exec, _ := newTestExecutor(t, &stubRetriever{})

	_, err := exec.ValidateRule(context.Background(), "nope")
	if !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("ValidateRule() error = %v, want ErrRuleNotFound", err)
	}
}

func TestValidateAllPerRuleTimeout(t *testing.T) {
	slow := RetrieverFunc(func(ctx context.Context, rule *Rule) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return map[string]any{"status": 200}, nil
		}
	})

	reg := NewInMemoryRegistry()
	if err := reg.Add(sampleRule("slow")); err != nil {
		t.Fatal(err)
	}
	exec := NewExecutor(reg, slow, WithRuleTimeout(20*time.Millisecond))

	start := time.Now()
	results, err := exec.ValidateAll(context.Background())
	if err != nil {
		t.Fatalf("ValidateAll() failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("run took %v, timeout did not bite", elapsed)
	}

	if len(results) != 1 || results[0].Passed {
		t.Fatal("timed-out rule should yield one failed result")
	}
	if len(results[0].Checks) != 0 {
		t.Error("timed-out rule must have no check results")
	}
}

func TestValidateAllSingleFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	blocking := RetrieverFunc(func(ctx context.Context, rule *Rule) (any, error) {
		close(started)
		<-release
		return map[string]any{"status": 200}, nil
	})

	reg := NewInMemoryRegistry()
	if err := reg.Add(sampleRule("only")); err != nil {
		t.Fatal(err)
	}
	exec := NewExecutor(reg, blocking)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := exec.ValidateAll(context.Background()); err != nil {
			t.Errorf("first ValidateAll() failed: %v", err)
		}
	}()

	<-started
	if _, err := exec.ValidateAll(context.Background()); !errors.Is(err, ErrRunInFlight) {
		t.Errorf("overlapping ValidateAll() error = %v, want ErrRunInFlight", err)
	}

	close(release)
	<-done

	// Once the first run finishes, new runs are accepted again.
	if _, err := exec.ValidateAll(context.Background()); err != nil {
		t.Errorf("ValidateAll() after completion failed: %v", err)
	}
}

func TestValidateAllRecoversPanickingRetriever(t *testing.T) {
	angry := RetrieverFunc(func(ctx context.Context, rule *Rule) (any, error) {
		if rule.ID == "angry" {
			panic("retriever bug")
		}
		return map[string]any{"status": 200}, nil
	})

	reg := NewInMemoryRegistry()
	for _, id := range []string{"angry", "calm"} {
		if err := reg.Add(sampleRule(id)); err != nil {
			t.Fatal(err)
		}
	}
	exec := NewExecutor(reg, angry)

	results, err := exec.ValidateAll(context.Background())
	if err != nil {
		t.Fatalf("ValidateAll() failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Passed {
		t.Error("panicking rule should fail")
	}
	if !results[1].Passed {
		t.Error("sibling rule should still pass")
	}
}

func TestValidateAllReplacesRetainedResults(t *testing.T) {
	retriever := &stubRetriever{values: map[string]any{
		"r1": map[string]any{"status": 200},
		"r2": map[string]any{"status": 200},
	}}
	exec, reg := newTestExecutor(t, retriever, sampleRule("r1"), sampleRule("r2"))

	if _, err := exec.ValidateAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := len(exec.Results()); got != 2 {
		t.Fatalf("Results() = %d, want 2", got)
	}

	if err := reg.Disable("r2"); err != nil {
		t.Fatal(err)
	}
	if _, err := exec.ValidateAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := len(exec.Results()); got != 1 {
		t.Errorf("Results() = %d after re-run, want 1 (results replaced, not appended)", got)
	}

	exec.ClearResults()
	if got := len(exec.Results()); got != 0 {
		t.Errorf("Results() = %d after ClearResults(), want 0", got)
	}
}

// Re-running against unchanged rules and data yields an identical summary.
func TestRepeatedRunsProduceIdenticalSummaries(t *testing.T) {
	retriever := &stubRetriever{
		values: map[string]any{
			"ok":  map[string]any{"status": 200},
			"bad": map[string]any{"status": 503},
		},
	}
	exec, _ := newTestExecutor(t, retriever, sampleRule("ok"), sampleRule("bad"))

	if _, err := exec.ValidateAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := exec.Summary()

	if _, err := exec.ValidateAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	second := exec.Summary()

	// Timings differ between runs; the counts must not.
	first.TotalDuration, second.TotalDuration = 0, 0
	first.AverageDuration, second.AverageDuration = 0, 0
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("summaries differ between identical runs (-first +second):\n%s", diff)
	}
}
