// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/AleutianAI/viewadvisor/pkg/ux"
	"github.com/AleutianAI/viewadvisor/services/advisor"
	dt "github.com/AleutianAI/viewadvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/viewadvisor/services/plananalyzer"
	"github.com/AleutianAI/viewadvisor/services/policy_engine"
)

func renderBaseline(p *ux.Printer, r *dt.ViewAnalysisResult) {
	p.Title("Baseline: " + r.ViewName)
	p.KeyValue("checksum", r.ResultChecksum)
	renderMetrics(p, r.Metrics)
	if r.SnapshotPath != "" {
		p.KeyValue("snapshot", r.SnapshotPath)
	}
	if r.SnapshotWarning != "" {
		p.Warning(r.SnapshotWarning)
	}
	if r.PlanAnalysis != nil {
		renderPlanAnalysis(p, r.PlanAnalysis)
	} else {
		p.Warning("No execution plan was captured")
	}

	if len(r.Suggestions) == 0 {
		return
	}
	rows := make([][]string, 0, len(r.Suggestions))
	for _, s := range r.Suggestions {
		rows = append(rows, []string{strconv.Itoa(s.Priority), s.Title, s.EstimatedImpact})
	}
	p.Table([]string{"Priority", "Suggestion", "Impact"}, rows)
}

func renderMetrics(p *ux.Printer, m dt.PerformanceMetrics) {
	p.KeyValue("execution time (ms)", m.ExecutionTimeMs)
	p.KeyValue("std deviation (ms)", fmt.Sprintf("%.2f", m.StandardDeviation))
	p.KeyValue("logical reads", m.LogicalReads)
	p.KeyValue("physical reads", m.PhysicalReads)
	p.KeyValue("cpu time (ms)", m.CPUTimeMs)
	p.KeyValue("rows", m.RowCount)
	p.KeyValue("runs", m.MeasurementRuns)
}

func renderPlanAnalysis(p *ux.Printer, a *plananalyzer.PlanAnalysis) {
	p.KeyValue("plan cost", fmt.Sprintf("%.4f", a.TotalCost))
	p.KeyValue("operators", a.OperatorCount)
	if !a.IsComplete {
		p.Warning("Plan analysis is incomplete")
	}
	for _, w := range a.Warnings {
		p.Warning(w)
	}
	if len(a.HighCostOperations) > 0 {
		rows := make([][]string, 0, len(a.HighCostOperations))
		for _, op := range a.HighCostOperations {
			rows = append(rows, []string{
				strconv.Itoa(op.NodeID),
				op.PhysicalOp,
				op.TargetObject,
				fmt.Sprintf("%.2f%%", op.CostPercentage),
			})
		}
		p.Table([]string{"Node", "Operator", "Object", "Cost"}, rows)
	}
	if len(a.CardinalityErrors) > 0 {
		rows := make([][]string, 0, len(a.CardinalityErrors))
		for _, ce := range a.CardinalityErrors {
			rows = append(rows, []string{
				strconv.Itoa(ce.NodeID),
				ce.PhysicalOp,
				fmt.Sprintf("%.0f", ce.EstimatedRows),
				strconv.FormatInt(ce.ActualRows, 10),
				fmt.Sprintf("%.2fx", ce.DivergenceRatio),
			})
		}
		p.Table([]string{"Node", "Operator", "Estimated", "Actual", "Ratio"}, rows)
	}
	for _, ic := range a.ImplicitConversions {
		p.Warning(fmt.Sprintf("Implicit conversion at node %d: %s", ic.NodeID, ic.Expression))
	}
	for _, issue := range a.IdentifiedIssues {
		p.Info(fmt.Sprintf("%s %s", ux.IconArrow, issue.Description))
	}
}

func renderProposal(p *ux.Printer, pr *dt.OptimizationProposal) {
	p.Title(fmt.Sprintf("Proposal %s: %s", pr.ActionType, pr.ViewName))
	p.Info(pr.Description)
	p.KeyValue("proposal id", pr.ProposalID)
	if pr.TargetObject != "" {
		p.KeyValue("target", pr.TargetObject)
	}
	p.KeyValue("expected improvement", fmt.Sprintf("%.0f%% (%s)", pr.ExpectedImprovement.ExecutionTimeImprovement, pr.ExpectedImprovement.ImpactLevel))
	p.KeyValue("risk", pr.RiskAssessment.RiskLevel)
	for _, note := range pr.RewriteNotes {
		p.Info(fmt.Sprintf("%s %s", ux.IconBullet, note))
	}
	for _, w := range pr.ValidationWarnings {
		p.Warning(w)
	}
	p.Box("Proposed SQL", strings.TrimSpace(pr.ProposedSQL))
}

func renderSession(p *ux.Printer, s *advisor.Session) {
	p.Title(fmt.Sprintf("Session %s: %s", s.ID, s.ViewName))
	p.KeyValue("state", s.State)
	if s.ErrorMessage != "" {
		p.Error(s.ErrorMessage)
	}
	if s.Baseline != nil {
		p.KeyValue("baseline time (ms)", s.Baseline.Metrics.ExecutionTimeMs)
		p.KeyValue("baseline checksum", s.Baseline.ResultChecksum)
	}

	if len(s.Proposals) > 0 {
		rows := make([][]string, 0, len(s.Proposals))
		for i, pr := range s.Proposals {
			rows = append(rows, []string{
				strconv.Itoa(i + 1),
				string(pr.ActionType),
				orDash(pr.TargetObject),
				string(pr.ExpectedImprovement.ImpactLevel),
				string(pr.RiskAssessment.RiskLevel),
			})
		}
		p.Table([]string{"#", "Action", "Target", "Impact", "Risk"}, rows)
	}
	for _, sk := range s.Skipped {
		p.Info(fmt.Sprintf("%s skipped %s: %s", ux.IconPending, sk.ActionType, sk.Reason))
	}
	for _, w := range s.Warnings {
		p.Warning(w)
	}
	if s.ReportPath != "" {
		p.Success("Report written to " + s.ReportPath)
	}
}

func renderMeasurement(p *ux.Printer, m *advisor.MeasurementResult) {
	p.Title("Measurement: " + m.ViewName)
	renderMetrics(p, m.Metrics)
	if m.Metrics.ImprovementPercentage != nil {
		p.KeyValue("improvement", fmt.Sprintf("%.2f%%", *m.Metrics.ImprovementPercentage))
	}
	if m.Baseline != nil {
		p.KeyValue("baseline time (ms)", m.Baseline.ExecutionTimeMs)
	}
	if m.PolicyCheck != nil {
		renderPolicyResult(p, *m.PolicyCheck)
	}
	if m.SnapshotPath != "" {
		p.KeyValue("snapshot", m.SnapshotPath)
	}
	if m.SnapshotWarning != "" {
		p.Warning(m.SnapshotWarning)
	}
}

func renderValidation(p *ux.Printer, v *dt.ResultValidation) {
	p.KeyValue("view", v.ViewName)
	p.KeyValue("checksum", v.CurrentChecksum)
	if v.BaselineChecksum != "" {
		p.KeyValue("baseline checksum", v.BaselineChecksum)
	}
	p.KeyValue("duration (ms)", v.DurationMs)
	if v.IsValid {
		p.Success(v.Message)
	} else {
		p.Error(v.Message)
	}
}

func renderComparison(p *ux.Printer, c *plananalyzer.PlanComparison) {
	p.Title("Plan comparison")
	p.KeyValue("before cost", fmt.Sprintf("%.4f", c.BeforeCost))
	p.KeyValue("after cost", fmt.Sprintf("%.4f", c.AfterCost))
	p.KeyValue("reduction", fmt.Sprintf("%.2f%%", c.ReductionPercent))
	p.KeyValue("verdict", c.Verdict)

	deltas := func(title string, ops []plananalyzer.OperatorDelta) {
		if len(ops) == 0 {
			return
		}
		rows := make([][]string, 0, len(ops))
		for _, d := range ops {
			rows = append(rows, []string{d.PhysicalOp, fmt.Sprintf("%.4f", d.BeforeCost), fmt.Sprintf("%.4f", d.AfterCost)})
		}
		p.Info(title)
		p.Table([]string{"Operator", "Before", "After"}, rows)
	}
	deltas("Improved operators", c.ImprovedOperations)
	deltas("Degraded operators", c.DegradedOperations)
}

func renderPolicyResult(p *ux.Printer, r policy_engine.Result) {
	if r.IsValid {
		p.Success("Policy check passed")
	} else {
		p.Error(fmt.Sprintf("Policy check failed with %d violation(s)", len(r.Violations)))
	}
	if len(r.Violations) > 0 {
		rows := make([][]string, 0, len(r.Violations))
		for _, v := range r.Violations {
			rows = append(rows, []string{string(v.Severity), v.ConstraintName, v.Description})
		}
		p.Table([]string{"Severity", "Constraint", "Description"}, rows)
	}
	for _, w := range r.Warnings {
		p.Warning(w)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
