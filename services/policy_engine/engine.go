// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy_engine

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrInvalidPattern is matched by every *ConfigurationError.
var ErrInvalidPattern = errors.New("invalid constraint pattern")

// ConfigurationError reports a configured pattern that failed to compile.
// The pattern is kept in the policy as a matcher that never matches.
type ConfigurationError struct {
	Pattern Pattern
	Err     error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid constraint pattern %s (%q): %v", e.Pattern.ID, e.Pattern.Regex, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) Is(target error) bool { return target == ErrInvalidPattern }

// matcher is a compiled pattern plus the metadata its violations carry.
// A nil re never matches.
type matcher struct {
	pattern Pattern
	re      *regexp.Regexp
}

func (m matcher) find(text string) (string, bool) {
	if m.re == nil {
		return "", false
	}
	loc := m.re.FindStringIndex(text)
	if loc == nil {
		return "", false
	}
	return text[loc[0]:loc[1]], true
}

// Policy is a Constraints value compiled for matching. It is built once and
// never modified, so a single Policy may be shared by any number of
// goroutines.
type Policy struct {
	constraints  Constraints
	forbidden    map[string]bool
	allowed      map[string]bool
	sqlMatchers  []matcher
	viewMatchers []matcher
	configErrors []error
}

// NewPolicy compiles c. Patterns are matched case-insensitively. A pattern
// that fails to compile is logged, recorded in ConfigErrors, and never
// matches; the rest of the policy stays in force.
func NewPolicy(c Constraints, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Policy{
		constraints: c.clone(),
		forbidden:   actionSet(c.ForbiddenActions),
		allowed:     actionSet(c.AllowedActions),
	}
	p.sqlMatchers = p.compile(c.ForbiddenSQLPatterns, logger)
	p.viewMatchers = p.compile(c.ForbiddenViewPatterns, logger)
	return p
}

// DefaultPolicy compiles the embedded default constraints.
func DefaultPolicy(logger *slog.Logger) *Policy {
	return NewPolicy(DefaultConstraints(), logger)
}

func (p *Policy) compile(patterns []Pattern, logger *slog.Logger) []matcher {
	out := make([]matcher, 0, len(patterns))
	for _, pat := range patterns {
		if pat.ID == "" {
			pat.ID = pat.Regex
		}
		re, err := regexp.Compile("(?i)" + pat.Regex)
		if err != nil {
			cfgErr := &ConfigurationError{Pattern: pat, Err: err}
			p.configErrors = append(p.configErrors, cfgErr)
			logger.Error("Constraint pattern disabled", "pattern_id", pat.ID, "regex", pat.Regex, "error", err)
			out = append(out, matcher{pattern: pat})
			continue
		}
		out = append(out, matcher{pattern: pat, re: re})
	}
	return out
}

func actionSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[strings.ToLower(strings.TrimSpace(n))] = true
	}
	return set
}

// Constraints returns a copy of the constraints the policy was built from.
func (p *Policy) Constraints() Constraints { return p.constraints.clone() }

// ConfigErrors returns the patterns that failed to compile.
func (p *Policy) ConfigErrors() []error {
	return append([]error(nil), p.configErrors...)
}

// Validator checks actions, SQL text, view definitions, and measured
// performance against a Policy.
type Validator struct {
	policy *Policy
	logger *slog.Logger
	now    func() time.Time
}

// NewValidator creates a Validator for policy.
func NewValidator(policy *Policy, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{policy: policy, logger: logger, now: time.Now}
}

// Policy returns the policy the validator enforces.
func (v *Validator) Policy() *Policy { return v.policy }

func (v *Validator) result(violations []Violation) Result {
	for _, vi := range violations {
		v.logger.Warn("Constraint violation",
			"type", vi.Type,
			"constraint", vi.ConstraintName,
			"severity", vi.Severity,
			"actual", vi.ActualValue)
	}
	if violations == nil {
		violations = []Violation{}
	}
	return Result{
		IsValid:     len(violations) == 0,
		Violations:  violations,
		ValidatedAt: v.now(),
	}
}

// ValidateAction checks an action name against the deny list first and the
// allow list second. A denied action is reported alone as critical; an
// action missing from a non-empty allow list is an error.
func (v *Validator) ValidateAction(action string) Result {
	key := strings.ToLower(strings.TrimSpace(action))

	if v.policy.forbidden[key] {
		return v.result([]Violation{{
			Type:           ForbiddenAction,
			ConstraintName: "ForbiddenActions",
			Description:    fmt.Sprintf("action %s is forbidden by policy", action),
			ActualValue:    action,
			ExpectedValue:  "an action outside the forbidden list",
			Severity:       SeverityCritical,
		}})
	}

	if len(v.policy.allowed) > 0 && !v.policy.allowed[key] {
		return v.result([]Violation{{
			Type:           ForbiddenAction,
			ConstraintName: "AllowedActions",
			Description:    fmt.Sprintf("action %s is not in the allowed list", action),
			ActualValue:    action,
			ExpectedValue:  strings.Join(v.policy.constraints.AllowedActions, ", "),
			Severity:       SeverityError,
		}})
	}

	return v.result(nil)
}

// ValidateSQLText reports one critical violation per forbidden SQL pattern
// found in sql.
func (v *Validator) ValidateSQLText(sql string) Result {
	return v.result(matchAll(v.policy.sqlMatchers, sql, ForbiddenSQLPattern, "ForbiddenSqlPatterns"))
}

// ValidateViewChange checks a proposed view definition for size and for
// forbidden constructs.
func (v *Validator) ValidateViewChange(definition string) Result {
	var violations []Violation

	limit := v.policy.constraints.MaxViewDefinitionLength
	if length := utf8.RuneCountInString(definition); limit > 0 && length > limit {
		violations = append(violations, Violation{
			Type:           ViewDefinitionTooLarge,
			ConstraintName: "MaxViewDefinitionLength",
			Description:    fmt.Sprintf("view definition is %d characters, limit is %d", length, limit),
			ActualValue:    fmt.Sprintf("%d", length),
			ExpectedValue:  fmt.Sprintf("<= %d", limit),
			Severity:       SeverityError,
		})
	}

	violations = append(violations, matchAll(v.policy.viewMatchers, definition, ForbiddenViewPattern, "ForbiddenViewPatterns")...)
	return v.result(violations)
}

// ValidatePerformance checks a measured improvement and execution time.
// Both checks are independent and may both fire.
func (v *Validator) ValidatePerformance(improvementPercentage float64, executionTimeMs int64) Result {
	c := v.policy.constraints
	var violations []Violation

	if improvementPercentage < c.MinimumImprovementPercentage {
		violations = append(violations, Violation{
			Type:           InsufficientImprovement,
			ConstraintName: "MinimumImprovementPercentage",
			Description: fmt.Sprintf("improvement of %.2f%% is below the required %.2f%%",
				improvementPercentage, c.MinimumImprovementPercentage),
			ActualValue:   fmt.Sprintf("%.2f%%", improvementPercentage),
			ExpectedValue: fmt.Sprintf(">= %.2f%%", c.MinimumImprovementPercentage),
			Severity:      SeverityWarning,
		})
	}

	if c.MaxExecutionTimeMs > 0 && executionTimeMs > c.MaxExecutionTimeMs {
		violations = append(violations, Violation{
			Type:           ExcessiveExecutionTime,
			ConstraintName: "MaxExecutionTimeMs",
			Description: fmt.Sprintf("execution time of %dms exceeds the limit of %dms",
				executionTimeMs, c.MaxExecutionTimeMs),
			ActualValue:   fmt.Sprintf("%dms", executionTimeMs),
			ExpectedValue: fmt.Sprintf("<= %dms", c.MaxExecutionTimeMs),
			Severity:      SeverityError,
		})
	}

	return v.result(violations)
}

// ValidateAll unions the action check with the SQL and view checks for
// whichever texts are non-empty.
func (v *Validator) ValidateAll(action, sql, viewDefinition string) Result {
	var violations []Violation
	var warnings []string

	merge := func(r Result) {
		violations = append(violations, r.Violations...)
		warnings = append(warnings, r.Warnings...)
	}

	if action != "" {
		merge(v.ValidateAction(action))
	}
	if strings.TrimSpace(sql) != "" {
		merge(v.ValidateSQLText(sql))
	}
	if strings.TrimSpace(viewDefinition) != "" {
		merge(v.ValidateViewChange(viewDefinition))
	}

	if violations == nil {
		violations = []Violation{}
	}
	return Result{
		IsValid:     len(violations) == 0,
		Violations:  violations,
		Warnings:    warnings,
		ValidatedAt: v.now(),
	}
}

const maxActualValueLen = 200

func matchAll(matchers []matcher, text string, kind ConstraintType, name string) []Violation {
	var out []Violation
	for _, m := range matchers {
		hit, ok := m.find(text)
		if !ok {
			continue
		}
		hit = strings.TrimSpace(hit)
		if len(hit) > maxActualValueLen {
			hit = hit[:maxActualValueLen] + "..."
		}
		desc := m.pattern.Description
		if desc == "" {
			desc = "forbidden pattern detected"
		}
		out = append(out, Violation{
			Type:           kind,
			ConstraintName: name,
			Description:    fmt.Sprintf("%s (%s)", desc, m.pattern.ID),
			ActualValue:    hit,
			ExpectedValue:  "no match for " + m.pattern.Regex,
			Severity:       SeverityCritical,
		})
	}
	return out
}
