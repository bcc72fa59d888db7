// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package optimizer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	dt "github.com/AleutianAI/viewadvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/viewadvisor/services/plananalyzer"
	"github.com/AleutianAI/viewadvisor/services/snapshot"
)

// ReportInput is everything a final report is built from.
type ReportInput struct {
	ViewName     string
	GeneratedAt  time.Time
	Baseline     *dt.PerformanceMetrics
	Latest       *dt.PerformanceMetrics
	PlanAnalysis *plananalyzer.PlanAnalysis
	Proposals    []dt.OptimizationProposal
	Skipped      []dt.SkippedCandidate
}

// GenerateFinalReport builds the report for viewName from the artifacts
// saved under snapshotPath. Missing artifacts are reported as absent rather
// than failing the report.
func (g *Generator) GenerateFinalReport(ctx context.Context, viewName, snapshotPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(snapshotPath) == "" {
		return "", fmt.Errorf("%w: snapshot path is required for a final report", snapshot.ErrInvalidInput)
	}
	store := snapshot.New(snapshotPath, g.logger)

	in := ReportInput{ViewName: viewName, GeneratedAt: g.now().UTC()}

	baseline, err := store.LoadBaseline(ctx, viewName)
	switch {
	case err == nil:
		in.Baseline = &baseline.Metrics
		in.PlanAnalysis = baseline.PlanAnalysis
	case !errors.Is(err, snapshot.ErrNotFound):
		return "", g.snapshotErr(ctx, "LoadBaseline", err)
	}

	proposals, err := store.LoadProposals(ctx, viewName)
	if err != nil {
		return "", g.snapshotErr(ctx, "LoadProposals", err)
	}
	in.Proposals = latestPerAction(proposals)

	latest, err := store.LatestMeasurement(ctx, viewName)
	switch {
	case err == nil:
		in.Latest = latest
	case !errors.Is(err, snapshot.ErrNotFound):
		return "", g.snapshotErr(ctx, "LatestMeasurement", err)
	}

	return BuildReport(in), nil
}

func (g *Generator) snapshotErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return dt.NewCollaboratorError("snapshot", op, err)
}

// latestPerAction keeps the last saved proposal of each action type,
// ordered by priority.
func latestPerAction(proposals []dt.OptimizationProposal) []dt.OptimizationProposal {
	byAction := make(map[dt.ActionType]dt.OptimizationProposal, len(proposals))
	for _, p := range proposals {
		byAction[p.ActionType] = p
	}
	out := make([]dt.OptimizationProposal, 0, len(byAction))
	for _, p := range byAction {
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ActionType < out[j].ActionType
	})
	return out
}

// BuildReport renders a Markdown report: overview, before/after metrics,
// proposed actions, plan findings and recommendations.
func BuildReport(in ReportInput) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# View Performance Report: %s\n\n", in.ViewName)

	sb.WriteString("## 1. Overview\n\n")
	fmt.Fprintf(&sb, "- **View:** `%s`\n", in.ViewName)
	fmt.Fprintf(&sb, "- **Generated:** %s\n", in.GeneratedAt.Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&sb, "- **Proposals:** %d", len(in.Proposals))
	if len(in.Skipped) > 0 {
		fmt.Fprintf(&sb, " (%d candidates skipped)", len(in.Skipped))
	}
	sb.WriteString("\n- **Mode:** read-only; no change was applied to the database\n\n")

	sb.WriteString("## 2. Performance Summary\n\n")
	if in.Baseline == nil {
		sb.WriteString("_No baseline measurement recorded._\n\n")
	} else {
		sb.WriteString(metricsTable(in.Baseline, in.Latest))
		sb.WriteString("\n")
	}

	sb.WriteString("## 3. Proposed Actions\n\n")
	if len(in.Proposals) == 0 {
		sb.WriteString("_No proposals were generated._\n\n")
	} else {
		sb.WriteString(actionsTable(in.Proposals))
		sb.WriteString("\n")
	}
	if len(in.Skipped) > 0 {
		sb.WriteString("Skipped candidates:\n\n")
		for _, s := range in.Skipped {
			fmt.Fprintf(&sb, "- `%s`: %s\n", s.ActionType, s.Reason)
		}
		sb.WriteString("\n")
	}

	if pa := in.PlanAnalysis; pa != nil && pa.IsComplete {
		sb.WriteString("## 4. Plan Findings\n\n")
		fmt.Fprintf(&sb, "- Total estimated cost: %.4f across %d operators\n", pa.TotalCost, pa.OperatorCount)
		for _, op := range pa.HighCostOperations {
			fmt.Fprintf(&sb, "- %s%s owns %.2f%% of the cost\n", op.PhysicalOp, onObject(op.TargetObject), op.CostPercentage)
		}
		for _, ce := range pa.CardinalityErrors {
			fmt.Fprintf(&sb, "- %s%s: estimated %.0f rows, actual %d (%.2fx)\n", ce.PhysicalOp, onObject(ce.TargetObject), ce.EstimatedRows, ce.ActualRows, ce.DivergenceRatio)
		}
		for _, ic := range pa.ImplicitConversions {
			fmt.Fprintf(&sb, "- Implicit conversion of %s to %s in %s\n", orDefault(ic.Column, "an unknown column"), orDefault(ic.TargetType, "another type"), ic.PhysicalOp)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## 5. Recommendations\n\n")
	for i, r := range recommendations(in) {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, r)
	}

	sb.WriteString("\n---\n*Proposals are advisory. Review every statement before applying it.*\n")
	return sb.String()
}

func metricsTable(baseline, latest *dt.PerformanceMetrics) string {
	rows := []struct {
		name   string
		before float64
		after  func(*dt.PerformanceMetrics) float64
	}{
		{"Execution time (ms)", baselineTime(baseline), func(m *dt.PerformanceMetrics) float64 { return baselineTime(m) }},
		{"CPU time (ms)", float64(baseline.CPUTimeMs), func(m *dt.PerformanceMetrics) float64 { return float64(m.CPUTimeMs) }},
		{"Logical reads", float64(baseline.LogicalReads), func(m *dt.PerformanceMetrics) float64 { return float64(m.LogicalReads) }},
		{"Physical reads", float64(baseline.PhysicalReads), func(m *dt.PerformanceMetrics) float64 { return float64(m.PhysicalReads) }},
	}

	var sb strings.Builder
	table := newMarkdownTable(&sb, 4)
	table.Header([]string{"Metric", "Baseline", "Latest", "Change"})
	for _, r := range rows {
		after, change := "n/a", "n/a"
		if latest != nil {
			a := r.after(latest)
			after = formatNumber(a)
			change = formatChange(r.before, a)
		}
		table.Append([]string{r.name, formatNumber(r.before), after, change})
	}
	table.Render()
	return sb.String()
}

func actionsTable(proposals []dt.OptimizationProposal) string {
	var sb strings.Builder
	table := newMarkdownTable(&sb, 6)
	table.Header([]string{"#", "Action", "Target", "Expected effect", "Impact", "Risk"})
	for i, p := range proposals {
		target := p.TargetObject
		if target == "" {
			target = p.ViewName
		}
		table.Append([]string{
			fmt.Sprintf("%d", i+1),
			string(p.ActionType),
			target,
			fmt.Sprintf("%.0f%%", p.ExpectedImprovement.ExecutionTimeImprovement),
			string(p.ExpectedImprovement.ImpactLevel),
			string(p.RiskAssessment.RiskLevel),
		})
	}
	table.Render()
	return sb.String()
}

func newMarkdownTable(sb *strings.Builder, columns int) *tablewriter.Table {
	alignment := make([]tw.Align, columns)
	for i := range alignment {
		alignment[i] = tw.AlignNone
	}
	return tablewriter.NewTable(sb,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithAlignment(alignment),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
}

func recommendations(in ReportInput) []string {
	recs := []string{"Review each proposal and apply it by hand in a maintenance window, one at a time, validating the result checksum after each."}

	has := map[dt.ActionType]bool{}
	for _, p := range in.Proposals {
		has[p.ActionType] = true
	}
	if has[dt.UpdateStatistics] {
		recs = append(recs, "Schedule a regular statistics refresh WITH FULLSCAN for the tables the view reads.")
	}
	if in.PlanAnalysis != nil && len(in.PlanAnalysis.CardinalityErrors) > 0 {
		recs = append(recs, "Re-check row estimates after refreshing statistics; persistent divergence points at predicates the optimizer cannot estimate.")
	}
	if in.Baseline != nil && in.Baseline.ExecutionTimeMs > 1000 {
		recs = append(recs, "Alert when the view's execution time exceeds 1000 ms.")
	}
	if in.Baseline != nil && in.Latest != nil {
		gain := in.Latest.ImprovementOver(*in.Baseline)
		if gain < 5 {
			recs = append(recs, fmt.Sprintf("The latest measurement improves execution time by %.1f%%; consider the higher-impact proposals next.", gain))
		}
	}
	return recs
}

// baselineTime prefers the unrounded average when one was recorded.
func baselineTime(m *dt.PerformanceMetrics) float64 {
	if m.AverageExecutionTime > 0 {
		return m.AverageExecutionTime
	}
	return float64(m.ExecutionTimeMs)
}

func formatNumber(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.1f", v)
}

// formatChange renders the reduction from before to after; positive means
// the metric dropped.
func formatChange(before, after float64) string {
	if before <= 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", (before-after)/before*100)
}

func onObject(target string) string {
	if target == "" {
		return ""
	}
	return " on " + target
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
