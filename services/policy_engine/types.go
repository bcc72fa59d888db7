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
	"fmt"
	"time"

	"github.com/AleutianAI/viewadvisor/services/policy_engine/enforcement"
	"gopkg.in/yaml.v3"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

func (s *Severity) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	incoming := Severity(raw)
	switch incoming {
	case SeverityWarning, SeverityError, SeverityCritical:
		*s = incoming
		return nil
	default:
		return fmt.Errorf("invalid value for Severity: %q", incoming)
	}
}

type ConstraintType string

const (
	ForbiddenAction         ConstraintType = "ForbiddenAction"
	ForbiddenSQLPattern     ConstraintType = "ForbiddenSqlPattern"
	ForbiddenViewPattern    ConstraintType = "ForbiddenViewPattern"
	InsufficientImprovement ConstraintType = "InsufficientImprovement"
	ExcessiveExecutionTime  ConstraintType = "ExcessiveExecutionTime"
	ViewDefinitionTooLarge  ConstraintType = "ViewDefinitionTooLarge"
)

type Pattern struct {
	ID          string `yaml:"id" json:"id"`
	Description string `yaml:"description" json:"description"`
	Regex       string `yaml:"regex" json:"regex"`
}

// Constraints is the declarative optimization policy as loaded from YAML.
type Constraints struct {
	ForbiddenActions             []string  `yaml:"forbidden_actions" json:"forbidden_actions"`
	AllowedActions               []string  `yaml:"allowed_actions" json:"allowed_actions"`
	ForbiddenSQLPatterns         []Pattern `yaml:"forbidden_sql_patterns" json:"forbidden_sql_patterns"`
	ForbiddenViewPatterns        []Pattern `yaml:"forbidden_view_patterns" json:"forbidden_view_patterns"`
	MinimumImprovementPercentage float64   `yaml:"minimum_improvement_percentage" json:"minimum_improvement_percentage" validate:"gte=0,lte=100"`
	MaxExecutionTimeMs           int64     `yaml:"max_execution_time_ms" json:"max_execution_time_ms" validate:"gt=0"`
	MaxViewDefinitionLength      int       `yaml:"max_view_definition_length" json:"max_view_definition_length" validate:"gt=0"`
}

// DefaultConstraints decodes the constraints embedded in the binary. It
// panics if the embedded file is broken, which the enforcement tests rule
// out at build time.
func DefaultConstraints() Constraints {
	var c Constraints
	if err := yaml.Unmarshal(enforcement.OptimizationConstraints, &c); err != nil {
		panic(fmt.Sprintf("embedded optimization constraints are invalid: %v", err))
	}
	return c
}

// clone returns a deep copy so a Policy never aliases caller slices.
func (c Constraints) clone() Constraints {
	out := c
	out.ForbiddenActions = append([]string(nil), c.ForbiddenActions...)
	out.AllowedActions = append([]string(nil), c.AllowedActions...)
	out.ForbiddenSQLPatterns = append([]Pattern(nil), c.ForbiddenSQLPatterns...)
	out.ForbiddenViewPatterns = append([]Pattern(nil), c.ForbiddenViewPatterns...)
	return out
}

// Violation is a single broken constraint.
type Violation struct {
	Type           ConstraintType `json:"type"`
	ConstraintName string         `json:"constraint_name"`
	Description    string         `json:"description"`
	ActualValue    string         `json:"actual_value"`
	ExpectedValue  string         `json:"expected_value"`
	Severity       Severity       `json:"severity"`
}

// Result is the outcome of a validation call. IsValid is true only when
// Violations is empty; Warnings never affect it.
type Result struct {
	IsValid     bool        `json:"is_valid"`
	Violations  []Violation `json:"violations"`
	Warnings    []string    `json:"warnings,omitempty"`
	ValidatedAt time.Time   `json:"validated_at"`
}

// HasCritical reports whether any violation is critical.
func (r Result) HasCritical() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// Count returns the number of violations with the given severity.
func (r Result) Count(s Severity) int {
	n := 0
	for _, v := range r.Violations {
		if v.Severity == s {
			n++
		}
	}
	return n
}

// Messages renders each violation as "[severity] constraint: description".
func (r Result) Messages() []string {
	out := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		out = append(out, fmt.Sprintf("[%s] %s: %s", v.Severity, v.ConstraintName, v.Description))
	}
	return out
}
