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

import (
	"fmt"
	"math"
)

// Compare analyzes two plan documents with default settings and reports the
// cost change between them.
func Compare(beforePlan, afterPlan string) (*PlanComparison, error) {
	return New().Compare(beforePlan, afterPlan)
}

// Compare analyzes both documents and classifies the cost change.
func (a *Analyzer) Compare(beforePlan, afterPlan string) (*PlanComparison, error) {
	beforeDoc, err := a.Parse(beforePlan)
	if err != nil {
		return nil, fmt.Errorf("before plan: %w", err)
	}
	afterDoc, err := a.Parse(afterPlan)
	if err != nil {
		return nil, fmt.Errorf("after plan: %w", err)
	}

	before := a.AnalyzeDocument(beforeDoc)
	after := a.AnalyzeDocument(afterDoc)

	cmp := &PlanComparison{
		BeforeCost:         before.TotalCost,
		AfterCost:          after.TotalCost,
		CostChange:         after.TotalCost - before.TotalCost,
		ImprovedOperations: []OperatorDelta{},
		DegradedOperations: []OperatorDelta{},
		Before:             before,
		After:              after,
	}
	if before.TotalCost > 0 {
		cmp.ReductionPercent = round2((before.TotalCost - after.TotalCost) / before.TotalCost * 100)
	}
	cmp.Verdict = VerdictFor(cmp.ReductionPercent)

	beforeOps := operatorCosts(beforeDoc)
	afterOps := operatorCosts(afterDoc)
	for _, b := range beforeOps {
		var match *OperatorDelta
		for i := range afterOps {
			if afterOps[i].PhysicalOp == b.PhysicalOp && afterOps[i].TargetObject == b.TargetObject {
				match = &afterOps[i]
				break
			}
		}
		if match == nil {
			continue
		}
		delta := OperatorDelta{
			PhysicalOp:   b.PhysicalOp,
			TargetObject: b.TargetObject,
			BeforeCost:   b.BeforeCost,
			AfterCost:    match.BeforeCost,
		}
		switch {
		case delta.AfterCost < delta.BeforeCost-costEpsilon:
			cmp.ImprovedOperations = append(cmp.ImprovedOperations, delta)
		case delta.AfterCost > delta.BeforeCost+costEpsilon:
			cmp.DegradedOperations = append(cmp.DegradedOperations, delta)
		}
	}
	return cmp, nil
}

const costEpsilon = 1e-9

// VerdictFor maps a cost reduction percentage to a verdict. Reductions
// within five percent either way count as no change.
func VerdictFor(reductionPercent float64) Verdict {
	switch {
	case reductionPercent > 20:
		return VerdictMajorImprovement
	case reductionPercent > 10:
		return VerdictNotableImprovement
	case reductionPercent > 5:
		return VerdictMinorImprovement
	case math.Abs(reductionPercent) <= 5:
		return VerdictNoChange
	default:
		return VerdictRegression
	}
}

// operatorCosts lists the first operator per (physical op, target) pair with
// its own cost stored in BeforeCost.
func operatorCosts(doc *Document) []OperatorDelta {
	scope := doc.root
	if stmt := statementOf(doc.root); stmt != nil {
		scope = stmt
	}
	var all []*operator
	collectOperators(scope, nil, &all, func(string, ...any) {})

	seen := make(map[string]bool)
	var out []OperatorDelta
	for _, op := range all {
		var childCost float64
		for _, c := range op.children {
			childCost += c.subtreeCost
		}
		key := op.physical + "|" + op.target
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, OperatorDelta{
			PhysicalOp:   op.physical,
			TargetObject: op.target,
			BeforeCost:   math.Max(0, op.subtreeCost-childCost),
		})
	}
	return out
}
