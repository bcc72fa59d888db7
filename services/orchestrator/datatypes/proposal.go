// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// Band is a coarse low/medium/high rating used for impact and risk.
type Band string

const (
	BandLow    Band = "Low"
	BandMedium Band = "Medium"
	BandHigh   Band = "High"
)

// ExpectedImprovement estimates what an action buys.
type ExpectedImprovement struct {
	ExecutionTimeImprovement float64 `json:"execution_time_improvement"`
	LogicalReadsImprovement  float64 `json:"logical_reads_improvement"`
	ImpactLevel              Band    `json:"impact_level"`
	Justification            string  `json:"justification"`
}

// RiskAssessment describes what can go wrong and how to recover.
type RiskAssessment struct {
	RiskLevel     Band     `json:"risk_level"`
	Risks         []string `json:"risks"`
	Prerequisites []string `json:"prerequisites"`
	RecoveryPlan  string   `json:"recovery_plan"`
}

// ExecutionStep is one numbered step of an ExecutionGuide.
type ExecutionStep struct {
	StepNumber      int    `json:"step_number"`
	Description     string `json:"description"`
	SQL             string `json:"sql"`
	ExpectedOutcome string `json:"expected_outcome"`
	Notes           string `json:"notes"`
}

// ExecutionGuide tells an operator how to apply a proposal by hand.
type ExecutionGuide struct {
	Steps                    []ExecutionStep `json:"steps"`
	PreExecutionChecklist    []string        `json:"pre_execution_checklist"`
	PostExecutionValidation  []string        `json:"post_execution_validation"`
	EstimatedDurationMinutes int             `json:"estimated_duration_minutes"`
}

// OptimizationProposal is a reviewed-but-unapplied change. Values are
// built once by the proposal generator and not modified afterwards.
type OptimizationProposal struct {
	ProposalID          string              `json:"proposal_id"`
	ViewName            string              `json:"view_name"`
	ActionType          ActionType          `json:"action_type"`
	TargetObject        string              `json:"target_object,omitempty"`
	Description         string              `json:"description"`
	Priority            int                 `json:"priority"`
	ProposedSQL         string              `json:"proposed_sql"`
	OriginalDefinition  string              `json:"original_definition"`
	ExpectedImprovement ExpectedImprovement `json:"expected_improvement"`
	RiskAssessment      RiskAssessment      `json:"risk_assessment"`
	ExecutionGuide      ExecutionGuide      `json:"execution_guide"`
	RewriteNotes        []string            `json:"rewrite_notes,omitempty"`
	ValidationWarnings  []string            `json:"validation_warnings,omitempty"`
	GeneratedAt         time.Time           `json:"generated_at"`
}

// SkippedCandidate records a candidate action that produced no proposal.
type SkippedCandidate struct {
	ActionType ActionType `json:"action_type"`
	Reason     string     `json:"reason"`
}
