package validation

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Registry owns the set of named validation rules. Implementations must
// hand out defensive copies: a caller mutating a returned rule cannot
// corrupt registry state.
type Registry interface {
	// Add stores a new rule. It fails with ErrDuplicateRule when the ID
	// is taken and with ErrMissingPredicate / ErrInvalidRule for
	// malformed definitions.
	Add(rule *Rule) error

	// Get returns a copy of the rule with the given ID.
	Get(id string) (*Rule, error)

	// Update merges the patch into an existing rule. The rule's ID never
	// changes and an absent ID never creates a rule.
	Update(id string, patch Patch) error

	// Remove deletes the rule, returning ErrRuleNotFound if absent.
	Remove(id string) error

	// Enable and Disable are convenience wrappers over Update.
	Enable(id string) error
	Disable(id string) error

	// List returns snapshots of all, enabled-only, or disabled-only
	// rules, ordered by creation time.
	List() ([]*Rule, error)
	ListEnabled() ([]*Rule, error)
	ListDisabled() ([]*Rule, error)

	// Clear empties the registry. Validation results held elsewhere are
	// unaffected.
	Clear() error
}

// prepareRule normalizes and validates a rule definition in place: default
// severities are filled in, legacy check-type aliases are mapped, and CEL
// expressions on custom checks are compiled into predicates. Returning an
// error here is what makes misconfiguration a registration-time failure.
func prepareRule(rule *Rule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule ID is required", ErrInvalidRule)
	}
	if rule.Severity == "" {
		rule.Severity = SeverityMedium
	}
	if !rule.Severity.IsValid() {
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidRule, rule.Severity)
	}

	for i := range rule.Checks {
		check := &rule.Checks[i]
		check.Type = canonicalType(check.Type)
		if !check.Type.IsValid() {
			return fmt.Errorf("%w: check %q has unknown type %q", ErrInvalidRule, check.ID, check.Type)
		}
		if check.Type != CheckCustom && check.Type != CheckSchema && !check.Operator.IsValid() {
			return fmt.Errorf("%w: check %q has unknown operator %q", ErrInvalidRule, check.ID, check.Operator)
		}
		if check.Severity == "" {
			check.Severity = rule.Severity
		}
		if !check.Severity.IsValid() {
			return fmt.Errorf("%w: check %q has unknown severity %q", ErrInvalidRule, check.ID, check.Severity)
		}

		if check.Type == CheckCustom && check.Predicate == nil {
			if check.Expression == "" {
				return fmt.Errorf("%w: check %q", ErrMissingPredicate, check.ID)
			}
			predicate, err := CompilePredicate(check.Expression)
			if err != nil {
				return fmt.Errorf("check %q: %w", check.ID, err)
			}
			check.Predicate = predicate
		}
	}

	return nil
}

// canonicalType maps the aliases the upstream suites used for the same
// check kinds onto the canonical names.
func canonicalType(t CheckType) CheckType {
	switch t {
	case "response_time":
		return CheckNumeric
	case "header":
		return CheckField
	case "body":
		return CheckPath
	default:
		return t
	}
}

// applyPatch merges non-nil patch fields into the rule and bumps UpdatedAt.
// Target and Checks are copied, so the patch's caller keeps no live handle
// into the stored rule.
func applyPatch(rule *Rule, patch Patch) {
	if patch.Name != nil {
		rule.Name = *patch.Name
	}
	if patch.Description != nil {
		rule.Description = *patch.Description
	}
	if patch.Category != nil {
		rule.Category = *patch.Category
	}
	if patch.Severity != nil {
		rule.Severity = *patch.Severity
	}
	if patch.Target != nil {
		target := make(map[string]any, len(patch.Target))
		for k, v := range patch.Target {
			target[k] = v
		}
		rule.Target = target
	}
	if patch.Checks != nil {
		checks := make([]Check, len(patch.Checks))
		for i, c := range patch.Checks {
			checks[i] = c.clone()
		}
		rule.Checks = checks
	}
	if patch.Enabled != nil {
		rule.Enabled = *patch.Enabled
	}
	rule.UpdatedAt = time.Now()
}

// InMemoryRegistry implements Registry with an RWMutex-guarded map. It is
// safe for concurrent use and suitable for suite-style runs where rules
// live for the process.
type InMemoryRegistry struct {
	rules map[string]*Rule
	mu    sync.RWMutex
}

// NewInMemoryRegistry creates an empty in-memory registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		rules: make(map[string]*Rule),
	}
}

// Add stores a copy of the rule after validating it.
func (r *InMemoryRegistry) Add(rule *Rule) error {
	stored := rule.Clone()
	if err := prepareRule(stored); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rules[stored.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, stored.ID)
	}

	now := time.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.rules[stored.ID] = stored
	return nil
}

// Get returns a copy of the rule with the given ID.
func (r *InMemoryRegistry) Get(id string) (*Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, exists := r.rules[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return rule.Clone(), nil
}

// Update merges the patch into the stored rule. The merged definition is
// re-validated, so a patch cannot smuggle in a custom check without a
// predicate.
func (r *InMemoryRegistry) Update(id string, patch Patch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.rules[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}

	updated := existing.Clone()
	applyPatch(updated, patch)
	updated.ID = existing.ID
	updated.CreatedAt = existing.CreatedAt
	if err := prepareRule(updated); err != nil {
		return err
	}

	r.rules[id] = updated
	return nil
}

// Remove deletes the rule with the given ID.
func (r *InMemoryRegistry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rules[id]; !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	delete(r.rules, id)
	return nil
}

// Enable marks the rule as enabled.
func (r *InMemoryRegistry) Enable(id string) error {
	enabled := true
	return r.Update(id, Patch{Enabled: &enabled})
}

// Disable marks the rule as disabled, removing it from subsequent runs
// without touching its checks.
func (r *InMemoryRegistry) Disable(id string) error {
	enabled := false
	return r.Update(id, Patch{Enabled: &enabled})
}

// List returns copies of all rules ordered by creation time.
func (r *InMemoryRegistry) List() ([]*Rule, error) {
	return r.snapshot(func(*Rule) bool { return true }), nil
}

// ListEnabled returns copies of the enabled rules ordered by creation time.
func (r *InMemoryRegistry) ListEnabled() ([]*Rule, error) {
	return r.snapshot(func(rule *Rule) bool { return rule.Enabled }), nil
}

// ListDisabled returns copies of the disabled rules ordered by creation time.
func (r *InMemoryRegistry) ListDisabled() ([]*Rule, error) {
	return r.snapshot(func(rule *Rule) bool { return !rule.Enabled }), nil
}

// Clear empties the registry.
func (r *InMemoryRegistry) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rules = make(map[string]*Rule)
	return nil
}

func (r *InMemoryRegistry) snapshot(keep func(*Rule) bool) []*Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		if keep(rule) {
			out = append(out, rule.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
