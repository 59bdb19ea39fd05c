package validation

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresRegistry implements Registry backed by PostgreSQL, for deployments
// where the rule set outlives a single process. Target and checks are stored
// as JSONB; custom checks must therefore carry a CEL expression (a bare Go
// predicate cannot be persisted) and are recompiled on load.
//
// An enabled-rules cache sits in front of ListEnabled and is invalidated on
// every mutation, so repeated runs do not re-query the database.
type PostgresRegistry struct {
	db    *sql.DB
	cache RuleCache
}

// NewPostgresRegistry creates a registry on top of an open database handle.
func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{
		db:    db,
		cache: NewMemoryRuleCache(0),
	}
}

const ruleColumns = "id, name, description, category, severity, target, checks, enabled, created_at, updated_at"

// Add validates the rule and inserts it.
func (r *PostgresRegistry) Add(rule *Rule) error {
	stored := rule.Clone()
	if err := prepareRule(stored); err != nil {
		return err
	}
	for _, check := range stored.Checks {
		if check.Type == CheckCustom && check.Expression == "" {
			return fmt.Errorf("%w: check %q needs an expression to be persistable", ErrMissingPredicate, check.ID)
		}
	}

	var exists bool
	err := r.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM validation_rules WHERE id = $1)`, stored.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rule existence: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, stored.ID)
	}

	target, checks, err := marshalRule(stored)
	if err != nil {
		return err
	}

	now := time.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	_, err = r.db.Exec(`
		INSERT INTO validation_rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, stored.ID, stored.Name, stored.Description, stored.Category, stored.Severity,
		target, checks, stored.Enabled, stored.CreatedAt, stored.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	r.cache.Invalidate()
	return nil
}

// Get retrieves a rule by ID.
func (r *PostgresRegistry) Get(id string) (*Rule, error) {
	row := r.db.QueryRow(`SELECT `+ruleColumns+` FROM validation_rules WHERE id = $1`, id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// Update merges the patch into the stored rule and writes it back.
func (r *PostgresRegistry) Update(id string, patch Patch) error {
	existing, err := r.Get(id)
	if err != nil {
		return err
	}

	applyPatch(existing, patch)
	existing.ID = id
	if err := prepareRule(existing); err != nil {
		return err
	}

	target, checks, err := marshalRule(existing)
	if err != nil {
		return err
	}

	result, err := r.db.Exec(`
		UPDATE validation_rules
		SET name = $1, description = $2, category = $3, severity = $4,
		    target = $5, checks = $6, enabled = $7, updated_at = $8
		WHERE id = $9
	`, existing.Name, existing.Description, existing.Category, existing.Severity,
		target, checks, existing.Enabled, existing.UpdatedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}

	r.cache.Invalidate()
	return nil
}

// Remove deletes the rule with the given ID.
func (r *PostgresRegistry) Remove(id string) error {
	result, err := r.db.Exec(`DELETE FROM validation_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}

	r.cache.Invalidate()
	return nil
}

// Enable marks the rule as enabled.
func (r *PostgresRegistry) Enable(id string) error {
	enabled := true
	return r.Update(id, Patch{Enabled: &enabled})
}

// Disable marks the rule as disabled.
func (r *PostgresRegistry) Disable(id string) error {
	enabled := false
	return r.Update(id, Patch{Enabled: &enabled})
}

// List returns all rules ordered by creation time.
func (r *PostgresRegistry) List() ([]*Rule, error) {
	return r.queryRules(`SELECT ` + ruleColumns + ` FROM validation_rules ORDER BY created_at ASC, id ASC`)
}

// ListEnabled returns the enabled rules, served from cache when possible.
func (r *PostgresRegistry) ListEnabled() ([]*Rule, error) {
	if cached := r.cache.Get(); cached != nil {
		return cached, nil
	}

	rules, err := r.queryRules(`SELECT ` + ruleColumns + ` FROM validation_rules WHERE enabled = true ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}

	r.cache.Set(rules)
	return rules, nil
}

// ListDisabled returns the disabled rules.
func (r *PostgresRegistry) ListDisabled() ([]*Rule, error) {
	return r.queryRules(`SELECT ` + ruleColumns + ` FROM validation_rules WHERE enabled = false ORDER BY created_at ASC, id ASC`)
}

// Clear removes every rule.
func (r *PostgresRegistry) Clear() error {
	if _, err := r.db.Exec(`DELETE FROM validation_rules`); err != nil {
		return fmt.Errorf("failed to clear rules: %w", err)
	}
	r.cache.Invalidate()
	return nil
}

func (r *PostgresRegistry) queryRules(query string) ([]*Rule, error) {
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return rules, nil
}

func marshalRule(rule *Rule) (target, checks []byte, err error) {
	target, err = json.Marshal(rule.Target)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal target: %w", err)
	}
	checks, err = json.Marshal(rule.Checks)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal checks: %w", err)
	}
	return target, checks, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var rule Rule
	var target, checks []byte
	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.Description,
		&rule.Category,
		&rule.Severity,
		&target,
		&checks,
		&rule.Enabled,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(target) > 0 {
		if err := json.Unmarshal(target, &rule.Target); err != nil {
			return nil, fmt.Errorf("failed to unmarshal target: %w", err)
		}
	}
	if len(checks) > 0 {
		if err := json.Unmarshal(checks, &rule.Checks); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checks: %w", err)
		}
	}

	// Recompile expression predicates dropped by serialization.
	if err := prepareRule(&rule); err != nil {
		return nil, err
	}
	return &rule, nil
}
