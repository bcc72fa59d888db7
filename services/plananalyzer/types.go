// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package plananalyzer

const (
	// HighCostThreshold is the minimum cost share, in percent, for an
	// operator to be reported as high-cost.
	HighCostThreshold = 30.0

	// CardinalityThreshold is the minimum estimated/actual divergence
	// reported as a cardinality error.
	CardinalityThreshold = 10.0

	// IssueDivergenceThreshold is the divergence above which a cardinality
	// error is promoted to an identified issue.
	IssueDivergenceThreshold = 20.0

	maxCostIssues        = 3
	maxCardinalityIssues = 2
)

// HighCostOperation is a relational operator that owns a large share of
// the statement cost.
type HighCostOperation struct {
	NodeID         int     `json:"node_id"`
	PhysicalOp     string  `json:"physical_op"`
	LogicalOp      string  `json:"logical_op"`
	TargetObject   string  `json:"target_object,omitempty"`
	OwnCost        float64 `json:"own_cost"`
	SubtreeCost    float64 `json:"subtree_cost"`
	CostPercentage float64 `json:"cost_percentage"`
}

// CardinalityError is an operator whose estimated and actual row counts
// diverge by at least CardinalityThreshold.
type CardinalityError struct {
	NodeID          int     `json:"node_id"`
	PhysicalOp      string  `json:"physical_op"`
	TargetObject    string  `json:"target_object,omitempty"`
	EstimatedRows   float64 `json:"estimated_rows"`
	ActualRows      int64   `json:"actual_rows"`
	DivergenceRatio float64 `json:"divergence_ratio"`
	Underestimated  bool    `json:"underestimated"`
}

// ImplicitConversion is a CONVERT_IMPLICIT found in a scalar expression.
type ImplicitConversion struct {
	NodeID     int    `json:"node_id"`
	PhysicalOp string `json:"physical_op"`
	Column     string `json:"column,omitempty"`
	TargetType string `json:"target_type,omitempty"`
	Expression string `json:"expression,omitempty"`
}

// ShapeFlags records which join and access shapes a plan uses.
type ShapeFlags struct {
	HasTableScan  bool `json:"has_table_scan"`
	HasIndexScan  bool `json:"has_index_scan"`
	HasNestedLoop bool `json:"has_nested_loop"`
	HasHashJoin   bool `json:"has_hash_join"`
	HasMergeJoin  bool `json:"has_merge_join"`
}

// IssueKind classifies an identified issue.
type IssueKind string

const (
	IssueHighCost    IssueKind = "high_cost_operator"
	IssueCardinality IssueKind = "cardinality_error"
)

// Issue is a ranked finding distilled from the detailed lists.
type Issue struct {
	Kind            IssueKind `json:"kind"`
	Priority        int       `json:"priority"`
	NodeID          int       `json:"node_id"`
	Description     string    `json:"description"`
	SuggestedAction string    `json:"suggested_action"`
}

// PlanAnalysis is the immutable result of analyzing one plan document.
type PlanAnalysis struct {
	TotalCost           float64              `json:"total_cost"`
	OperatorCount       int                  `json:"operator_count"`
	HighCostOperations  []HighCostOperation  `json:"high_cost_operations"`
	CardinalityErrors   []CardinalityError   `json:"cardinality_errors"`
	ImplicitConversions []ImplicitConversion `json:"implicit_conversions"`
	Shape               ShapeFlags           `json:"shape"`
	IdentifiedIssues    []Issue              `json:"identified_issues"`
	Warnings            []string             `json:"warnings,omitempty"`
	IsComplete          bool                 `json:"is_complete"`
}

// Verdict summarizes a before/after plan comparison.
type Verdict string

const (
	VerdictMajorImprovement   Verdict = "major_improvement"
	VerdictNotableImprovement Verdict = "notable_improvement"
	VerdictMinorImprovement   Verdict = "minor_improvement"
	VerdictNoChange           Verdict = "no_change"
	VerdictRegression         Verdict = "regression"
)

// OperatorDelta is the cost change of an operator present in both plans.
type OperatorDelta struct {
	PhysicalOp   string  `json:"physical_op"`
	TargetObject string  `json:"target_object,omitempty"`
	BeforeCost   float64 `json:"before_cost"`
	AfterCost    float64 `json:"after_cost"`
}

// PlanComparison is the result of Compare.
type PlanComparison struct {
	BeforeCost         float64         `json:"before_cost"`
	AfterCost          float64         `json:"after_cost"`
	CostChange         float64         `json:"cost_change"`
	ReductionPercent   float64         `json:"reduction_percent"`
	Verdict            Verdict         `json:"verdict"`
	ImprovedOperations []OperatorDelta `json:"improved_operations"`
	DegradedOperations []OperatorDelta `json:"degraded_operations"`
	Before             *PlanAnalysis   `json:"before"`
	After              *PlanAnalysis   `json:"after"`
}
