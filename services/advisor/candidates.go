// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package advisor

import (
	"fmt"
	"regexp"
	"strings"

	dt "github.com/AleutianAI/viewadvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/viewadvisor/services/plananalyzer"
)

// Thresholds are the baseline limits above which plan-shape candidates are
// added regardless of the suggestions.
type Thresholds struct {
	SlowExecutionMs  int64
	HighLogicalReads int64
}

// DefaultThresholds returns 1000 ms and 500 logical reads.
func DefaultThresholds() Thresholds {
	return Thresholds{SlowExecutionMs: 1000, HighLogicalReads: 500}
}

// keywordActions maps suggestion text to action types. Order matters: the
// first entry whose keyword occurs in the lowered title and description
// wins.
var keywordActions = []struct {
	keywords []string
	action   dt.ActionType
}{
	{[]string{"statistic"}, dt.UpdateStatistics},
	{[]string{"implicit conversion"}, dt.FixImplicitConversion},
	{[]string{"distinct"}, dt.RemoveUnnecessaryDistinct},
	{[]string{"order by"}, dt.RemoveUnnecessarySort},
	{[]string{"exists"}, dt.ConvertExistsToJoin},
	{[]string{"subquer"}, dt.ConvertSubqueryToJoin},
	{[]string{"concatenat"}, dt.OptimizeStringConcatenation},
	{[]string{"ltrim", "rtrim", "precompute", "computed column"}, dt.PrecomputeCalculatedColumns},
	{[]string{"scan"}, dt.OptimizeTableScans},
}

// ActionForSuggestion maps a suggestion to an action type by keyword.
func ActionForSuggestion(s dt.OptimizationSuggestion) (dt.ActionType, bool) {
	text := strings.ToLower(s.Title + " " + s.Description)
	for _, entry := range keywordActions {
		for _, kw := range entry.keywords {
			if strings.Contains(text, kw) {
				return entry.action, true
			}
		}
	}
	return "", false
}

// DeriveCandidates turns a baseline into an ordered, duplicate-free list of
// at most limit candidate actions. UpdateStatistics always comes first;
// mapped suggestions follow in their order, then the threshold additions.
// A limit <= 0 means no cap.
func DeriveCandidates(baseline *dt.ViewAnalysisResult, th Thresholds, limit int) []dt.ActionType {
	ordered := []dt.ActionType{dt.UpdateStatistics}

	if baseline != nil {
		for _, s := range baseline.Suggestions {
			if action, ok := ActionForSuggestion(s); ok {
				ordered = append(ordered, action)
			}
		}
		if baseline.Metrics.ExecutionTimeMs > th.SlowExecutionMs {
			ordered = append(ordered, dt.OptimizeTableScans, dt.FixImplicitConversion)
		}
		if baseline.Metrics.LogicalReads > th.HighLogicalReads {
			ordered = append(ordered, dt.RemoveUnnecessaryDistinct)
		}
	}

	seen := make(map[dt.ActionType]bool, len(ordered))
	candidates := make([]dt.ActionType, 0, len(ordered))
	for _, a := range ordered {
		if seen[a] {
			continue
		}
		seen[a] = true
		candidates = append(candidates, a)
	}
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

// targetFor picks the rewrite target for a candidate. Only
// FixImplicitConversion needs one: the first converted column the plan
// names, with its target type when known.
func targetFor(action dt.ActionType, baseline *dt.ViewAnalysisResult) string {
	if action != dt.FixImplicitConversion || baseline == nil || baseline.PlanAnalysis == nil {
		return ""
	}
	for _, c := range baseline.PlanAnalysis.ImplicitConversions {
		if c.Column == "" {
			continue
		}
		if c.TargetType == "" {
			return c.Column
		}
		return c.Column + " AS " + c.TargetType
	}
	return ""
}

var (
	distinctPattern = regexp.MustCompile(`(?i)\bDISTINCT\b`)
	trimPattern     = regexp.MustCompile(`(?i)\b[LR]TRIM\s*\(`)
	orderByPattern  = regexp.MustCompile(`(?i)\bORDER\s+BY\b`)
	existsPattern   = regexp.MustCompile(`(?i)\bEXISTS\s*\(`)
	plusLiteral     = regexp.MustCompile(`N?'[^']*'\s*\+|\+\s*N?'`)
)

// Suggest derives free-text suggestions from a view definition and its
// plan analysis. Updating statistics is always suggested. Priorities are
// assigned in the order the suggestions are produced, starting at 1.
func Suggest(definition string, plan *plananalyzer.PlanAnalysis) []dt.OptimizationSuggestion {
	var out []dt.OptimizationSuggestion
	add := func(s dt.OptimizationSuggestion) {
		s.Priority = len(out) + 1
		out = append(out, s)
	}

	add(dt.OptimizationSuggestion{
		Title:           "Update statistics",
		Description:     "Refresh the statistics of every referenced table WITH FULLSCAN so row estimates match the data.",
		EstimatedImpact: "Low to Medium",
		SQLExample:      "UPDATE STATISTICS dbo.TableName WITH FULLSCAN;",
	})

	if plan != nil && (plan.Shape.HasTableScan || plan.Shape.HasIndexScan) {
		add(dt.OptimizationSuggestion{
			Title:           "Reduce table scans",
			Description:     "The plan reads whole tables or indexes. Review the filters and the supporting indexes.",
			EstimatedImpact: "High",
		})
	}

	if distinctPattern.MatchString(definition) {
		add(dt.OptimizationSuggestion{
			Title:           "Remove unnecessary DISTINCT",
			Description:     "DISTINCT appears in the definition. Confirm the rows are not already unique before keeping it.",
			EstimatedImpact: "Medium",
		})
	}

	if trimPattern.MatchString(definition) {
		add(dt.OptimizationSuggestion{
			Title:           "Precompute trimmed values",
			Description:     "LTRIM/RTRIM calls run for every row. A persisted computed column can hold the trimmed value.",
			EstimatedImpact: "Medium",
		})
	}

	if plan != nil && len(plan.ImplicitConversions) > 0 {
		column := "an unnamed column"
		for _, c := range plan.ImplicitConversions {
			if c.Column != "" {
				column = c.Column
				break
			}
		}
		add(dt.OptimizationSuggestion{
			Title: "Fix implicit conversions",
			Description: fmt.Sprintf("The plan has %d implicit conversion(s), starting with %s. Compare values of the column's own type.",
				len(plan.ImplicitConversions), column),
			EstimatedImpact: "Medium to High",
			SQLExample:      "WHERE CustomerCode = CAST(@code AS VARCHAR(20))",
		})
	}

	if orderByPattern.MatchString(definition) {
		add(dt.OptimizationSuggestion{
			Title:           "Remove ORDER BY from the view",
			Description:     "ORDER BY in a view only sorts when paired with TOP, OFFSET or FOR XML. Sort in the calling query instead.",
			EstimatedImpact: "Medium",
		})
	}

	if existsPattern.MatchString(definition) {
		add(dt.OptimizationSuggestion{
			Title:           "Review EXISTS predicates",
			Description:     "EXISTS predicates may read better as joins when the inner table is small.",
			EstimatedImpact: "Low to Medium",
		})
	}

	if plusLiteral.MatchString(definition) {
		add(dt.OptimizationSuggestion{
			Title:           "Use CONCAT for string concatenation",
			Description:     "Strings are joined with +. CONCAT treats NULL as empty and converts operands explicitly.",
			EstimatedImpact: "Low",
			SQLExample:      "CONCAT(FirstName, ' ', LastName)",
		})
	}

	return out
}
