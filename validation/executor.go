package validation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Retriever fetches the value a rule's checks are evaluated against. The
// rule's Target describes what to fetch; the engine never interprets it.
// Implementations should honor ctx, which carries the per-rule timeout.
type Retriever interface {
	Retrieve(ctx context.Context, rule *Rule) (any, error)
}

// RetrieverFunc adapts a function to the Retriever interface.
type RetrieverFunc func(ctx context.Context, rule *Rule) (any, error)

// Retrieve calls f.
func (f RetrieverFunc) Retrieve(ctx context.Context, rule *Rule) (any, error) {
	return f(ctx, rule)
}

const (
	defaultWorkers     = 4
	defaultRuleTimeout = 30 * time.Second
)

// Executor runs rules from a registry through a retrieval adapter and keeps
// the results of the most recent run. Each rule's failure is isolated: a
// broken retrieval or a panicking predicate fails that rule's result and the
// rest of the batch still runs.
//
// Runs are single-flight per executor: a ValidateAll that overlaps an
// in-flight run returns ErrRunInFlight rather than interleaving results.
type Executor struct {
	registry  Registry
	retriever Retriever
	log       *slog.Logger

	workers     int
	ruleTimeout time.Duration

	running atomic.Bool

	mu      sync.Mutex
	lastRun []RuleResult
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the logger. The default discards everything, keeping the
// engine free of process-wide state.
func WithLogger(log *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if log != nil {
			e.log = log
		}
	}
}

// WithWorkers bounds how many rules are evaluated concurrently.
func WithWorkers(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithRuleTimeout sets the per-rule retrieval and evaluation budget. A rule
// that exceeds it fails like any other retrieval error.
func WithRuleTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.ruleTimeout = d
		}
	}
}

// NewExecutor creates an executor over the given registry and retriever.
func NewExecutor(registry Registry, retriever Retriever, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:    registry,
		retriever:   retriever,
		log:         slog.New(slog.DiscardHandler),
		workers:     defaultWorkers,
		ruleTimeout: defaultRuleTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ValidateRule runs a single rule by ID and replaces the retained results
// with this run's single result. It returns an error only for an unknown ID
// or registry failure; data-related failures land in the result itself.
func (e *Executor) ValidateRule(ctx context.Context, id string) (*RuleResult, error) {
	rule, err := e.registry.Get(id)
	if err != nil {
		return nil, err
	}

	result := e.runRule(ctx, rule)

	e.mu.Lock()
	e.lastRun = []RuleResult{result}
	e.mu.Unlock()

	return &result, nil
}

// ValidateAll runs every enabled rule and replaces the retained results.
// Results come back in registry order regardless of which worker finished
// first. Every enabled rule that existed at the start of the run yields
// exactly one result; the call itself fails only when the registry cannot
// be read or a run is already in flight.
func (e *Executor) ValidateAll(ctx context.Context) ([]RuleResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrRunInFlight
	}
	defer e.running.Store(false)

	rules, err := e.registry.ListEnabled()
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled rules: %w", err)
	}

	results := make([]RuleResult, len(rules))

	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := e.workers
	if workers > len(rules) {
		workers = len(rules)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				// Each worker writes only its own slot, so no
				// lock is needed around the results slice.
				results[i] = e.runRule(ctx, rules[i])
			}
		}()
	}
	for i := range rules {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	e.mu.Lock()
	e.lastRun = results
	e.mu.Unlock()

	out := make([]RuleResult, len(results))
	copy(out, results)
	return out, nil
}

// runRule times the retrieval plus all checks for one rule and converts
// every failure mode into a failed result.
func (e *Executor) runRule(ctx context.Context, rule *Rule) (result RuleResult) {
	start := time.Now()

	result = RuleResult{
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		Category:  rule.Category,
		Timestamp: start,
		Checks:    []CheckResult{},
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("rule execution panicked", "rule", rule.ID, "panic", r)
			result.Passed = false
			result.Errors = append(result.Errors, fmt.Sprintf("rule execution panicked: %v", r))
		}
		result.Duration = time.Since(start)
	}()

	rctx, cancel := context.WithTimeout(ctx, e.ruleTimeout)
	defer cancel()

	value, err := e.retriever.Retrieve(rctx, rule)
	if err != nil {
		// Checks are never evaluated against an absent value.
		e.log.Warn("retrieval failed", "rule", rule.ID, "error", err)
		result.Passed = false
		result.Errors = []string{fmt.Sprintf("retrieval failed: %v", err)}
		return result
	}

	result.Passed = true
	for _, check := range rule.Checks {
		cr := EvaluateCheck(check, value)
		result.Checks = append(result.Checks, cr)
		if cr.Passed {
			continue
		}

		result.Passed = false
		message := fmt.Sprintf("check %q failed: %s", cr.CheckName, cr.Message)
		switch cr.Severity {
		case SeverityCritical, SeverityHigh:
			result.Errors = append(result.Errors, message)
		default:
			result.Warnings = append(result.Warnings, message)
		}
	}

	e.log.Debug("rule evaluated", "rule", rule.ID, "passed", result.Passed, "checks", len(result.Checks))
	return result
}

// Results returns a copy of the most recent run's results.
func (e *Executor) Results() []RuleResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]RuleResult, len(e.lastRun))
	copy(out, e.lastRun)
	return out
}

// ClearResults drops the retained results. The registry is unaffected.
func (e *Executor) ClearResults() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastRun = nil
}

// Summary recomputes the aggregate view of the most recent run.
func (e *Executor) Summary() Summary {
	return Summarize(e.Results())
}

// FailedResults returns the failed results of the most recent run.
func (e *Executor) FailedResults() []RuleResult {
	return FailedResults(e.Results())
}

// PassedResults returns the passed results of the most recent run.
func (e *Executor) PassedResults() []RuleResult {
	return PassedResults(e.Results())
}

// ResultsBySeverity returns results from the most recent run containing at
// least one failed check of the given severity.
func (e *Executor) ResultsBySeverity(severity Severity) []RuleResult {
	return ResultsBySeverity(e.Results(), severity)
}

// ResultsByCategory returns results from the most recent run whose rule
// belongs to the given category.
func (e *Executor) ResultsByCategory(category string) []RuleResult {
	return ResultsByCategory(e.Results(), category)
}

// Export builds the plain-data report of the most recent run for external
// reporters.
func (e *Executor) Export() *Report {
	return NewReport(e.Results())
}
