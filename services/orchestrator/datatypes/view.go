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

import (
	"time"

	"github.com/AleutianAI/viewadvisor/services/plananalyzer"
)

// OptimizationSuggestion is a free-text hint produced by the baseline
// analysis. The session orchestrator maps the text to an action type, so
// the wording matters more than any structured field.
type OptimizationSuggestion struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	Priority        int    `json:"priority"`
	EstimatedImpact string `json:"estimated_impact"`
	SQLExample      string `json:"sql_example,omitempty"`
}

// ViewAnalysisResult is the baseline captured for one view.
type ViewAnalysisResult struct {
	ViewName        string                     `json:"view_name"`
	ViewDefinition  string                     `json:"view_definition"`
	ResultChecksum  string                     `json:"result_checksum"`
	Metrics         PerformanceMetrics         `json:"performance_metrics"`
	ExecutionPlan   string                     `json:"execution_plan,omitempty"`
	PlanAnalysis    *plananalyzer.PlanAnalysis `json:"plan_analysis,omitempty"`
	Suggestions     []OptimizationSuggestion   `json:"optimization_suggestions"`
	DefinitionFile  string                     `json:"definition_file,omitempty"`
	SnapshotPath    string                     `json:"snapshot_path,omitempty"`
	AnalyzedAt      time.Time                  `json:"analyzed_at"`
	SnapshotWarning string                     `json:"snapshot_warning,omitempty"`
}

// ResultValidation reports a checksum comparison for a view's result set.
type ResultValidation struct {
	ViewName         string    `json:"view_name"`
	IsValid          bool      `json:"is_valid"`
	BaselineChecksum string    `json:"baseline_checksum,omitempty"`
	CurrentChecksum  string    `json:"current_checksum"`
	ValidatedAt      time.Time `json:"validated_at"`
	DurationMs       int64     `json:"validation_duration_ms"`
	Message          string    `json:"message,omitempty"`
}
