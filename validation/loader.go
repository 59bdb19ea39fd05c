package validation

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ruleFile is the on-disk shape of a declarative rule suite.
type ruleFile struct {
	APIVersion string     `yaml:"apiVersion"`
	Suite      string     `yaml:"suite"`
	Rules      []ruleSpec `yaml:"rules"`
}

type ruleSpec struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Category    string         `yaml:"category"`
	Severity    string         `yaml:"severity"`
	Target      map[string]any `yaml:"target"`
	Enabled     *bool          `yaml:"enabled"`
	Checks      []checkSpec    `yaml:"checks"`
}

type checkSpec struct {
	ID         string   `yaml:"id"`
	Name       string   `yaml:"name"`
	Type       string   `yaml:"type"`
	Path       string   `yaml:"path"`
	Operator   string   `yaml:"operator"`
	Expected   any      `yaml:"expected"`
	Tolerance  *float64 `yaml:"tolerance"`
	Severity   string   `yaml:"severity"`
	Expression string   `yaml:"expression"`
}

// LoadRules reads a YAML rule file and returns validated rules ready for
// registration. Custom checks in a rule file carry CEL expressions, which
// are compiled here; a malformed rule fails the whole load so suites do not
// start with silently dropped rules.
func LoadRules(path string) ([]*Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rule file: %w", err)
	}

	rules := make([]*Rule, 0, len(file.Rules))
	for _, spec := range file.Rules {
		rule := &Rule{
			ID:          spec.ID,
			Name:        spec.Name,
			Description: spec.Description,
			Category:    spec.Category,
			Severity:    Severity(spec.Severity),
			Target:      spec.Target,
			Enabled:     true,
		}
		if spec.Enabled != nil {
			rule.Enabled = *spec.Enabled
		}

		for _, cs := range spec.Checks {
			rule.Checks = append(rule.Checks, Check{
				ID:         cs.ID,
				Name:       cs.Name,
				Type:       CheckType(cs.Type),
				Path:       cs.Path,
				Operator:   Operator(cs.Operator),
				Expected:   cs.Expected,
				Tolerance:  cs.Tolerance,
				Severity:   Severity(cs.Severity),
				Expression: cs.Expression,
			})
		}

		if err := prepareRule(rule); err != nil {
			return nil, fmt.Errorf("rule %q: %w", spec.ID, err)
		}
		rules = append(rules, rule)
	}

	return rules, nil
}
