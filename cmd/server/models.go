package main

import (
	"encoding/json"
	"net/http"

	"github.com/dstrachan/verdict/validation"
)

// ruleRequest is the JSON body for creating a rule. Custom checks arrive as
// CEL expressions; the registry compiles and validates them on Add.
type ruleRequest struct {
	ID          string              `json:"id,omitempty"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Category    string              `json:"category,omitempty"`
	Severity    validation.Severity `json:"severity,omitempty"`
	Target      map[string]any      `json:"target,omitempty"`
	Enabled     *bool               `json:"enabled,omitempty"`
	Checks      []checkRequest      `json:"checks"`
}

type checkRequest struct {
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	Type       validation.CheckType `json:"type"`
	Path       string               `json:"path,omitempty"`
	Operator   validation.Operator  `json:"operator,omitempty"`
	Expected   any                  `json:"expected,omitempty"`
	Tolerance  *float64             `json:"tolerance,omitempty"`
	Severity   validation.Severity  `json:"severity,omitempty"`
	Expression string               `json:"expression,omitempty"`
}

func (c checkRequest) toCheck() validation.Check {
	return validation.Check{
		ID:         c.ID,
		Name:       c.Name,
		Type:       c.Type,
		Path:       c.Path,
		Operator:   c.Operator,
		Expected:   c.Expected,
		Tolerance:  c.Tolerance,
		Severity:   c.Severity,
		Expression: c.Expression,
	}
}

func (req *ruleRequest) toRule() *validation.Rule {
	rule := &validation.Rule{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Severity:    req.Severity,
		Target:      req.Target,
		Enabled:     true,
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	for _, c := range req.Checks {
		rule.Checks = append(rule.Checks, c.toCheck())
	}
	return rule
}

// rulePatchRequest is the JSON body for a partial rule update. Absent fields
// are left untouched.
type rulePatchRequest struct {
	Name        *string              `json:"name,omitempty"`
	Description *string              `json:"description,omitempty"`
	Category    *string              `json:"category,omitempty"`
	Severity    *validation.Severity `json:"severity,omitempty"`
	Target      map[string]any       `json:"target,omitempty"`
	Enabled     *bool                `json:"enabled,omitempty"`
	Checks      []checkRequest       `json:"checks,omitempty"`
}

func (req *rulePatchRequest) toPatch() validation.Patch {
	patch := validation.Patch{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Severity:    req.Severity,
		Target:      req.Target,
		Enabled:     req.Enabled,
	}
	if req.Checks != nil {
		checks := make([]validation.Check, 0, len(req.Checks))
		for _, c := range req.Checks {
			checks = append(checks, c.toCheck())
		}
		patch.Checks = checks
	}
	return patch
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}
