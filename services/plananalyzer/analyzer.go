// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package plananalyzer extracts tuning signals from SQL Server showplan XML.
//
// # Description
//
// A plan document is parsed once into an immutable element tree. Analysis
// is a pure function of that tree: it reports the statement cost, operators
// owning a large share of that cost, operators whose row estimates diverge
// from the actual counts, implicit conversions inside scalar expressions,
// and the join/access shapes the plan uses.
//
// A bad attribute on a single operator is recorded as a warning and treated
// as zero; only a document that cannot be read at all is an error.
package plananalyzer

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
)

// Analyzer analyzes plan documents. The zero value is not usable; use New.
type Analyzer struct {
	namespace string
	logger    *slog.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithNamespace overrides the expected root namespace.
func WithNamespace(ns string) Option {
	return func(a *Analyzer) { a.namespace = ns }
}

// WithLogger sets the logger used for tolerated attribute problems.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// New creates an Analyzer for showplan documents.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{namespace: ShowplanNamespace}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

// Analyze parses and analyzes planText with default settings.
func Analyze(planText string) (*PlanAnalysis, error) {
	return New().Analyze(planText)
}

// Parse parses text, checking the configured namespace.
func (a *Analyzer) Parse(text string) (*Document, error) {
	return parse(text, a.namespace)
}

// Analyze parses planText and analyzes the resulting document.
func (a *Analyzer) Analyze(planText string) (*PlanAnalysis, error) {
	doc, err := a.Parse(planText)
	if err != nil {
		return nil, err
	}
	return a.AnalyzeDocument(doc), nil
}

// operator is the working view of one RelOp element.
type operator struct {
	node        *Node
	id          int
	physical    string
	logical     string
	target      string
	subtreeCost float64
	ownCost     float64
	children    []*operator
}

// AnalyzeDocument analyzes an already parsed document.
func (a *Analyzer) AnalyzeDocument(doc *Document) *PlanAnalysis {
	result := &PlanAnalysis{
		HighCostOperations:  []HighCostOperation{},
		CardinalityErrors:   []CardinalityError{},
		ImplicitConversions: []ImplicitConversion{},
		IdentifiedIssues:    []Issue{},
	}
	warn := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		result.Warnings = append(result.Warnings, msg)
		a.logger.Debug("plan attribute tolerated", "detail", msg)
	}

	scope := doc.root
	if stmt := statementOf(doc.root); stmt != nil {
		scope = stmt
		if cost, ok := stmt.Float("StatementSubTreeCost"); ok && cost >= 0 {
			result.TotalCost = cost
		} else {
			warn("statement has no usable StatementSubTreeCost")
		}
	} else {
		warn("document has no StmtSimple element")
	}

	var all []*operator
	collectOperators(scope, nil, &all, warn)
	result.OperatorCount = len(all)

	for _, op := range all {
		var childCost float64
		for _, c := range op.children {
			childCost += c.subtreeCost
		}
		op.ownCost = math.Max(0, op.subtreeCost-childCost)
	}

	result.HighCostOperations = highCostOperations(all, result.TotalCost)
	result.CardinalityErrors = cardinalityErrors(all)
	result.ImplicitConversions = implicitConversions(scope)
	result.Shape = shapeOf(all)
	result.IdentifiedIssues = identifyIssues(result)
	result.IsComplete = true
	return result
}

// statementOf returns the first statement element, or nil.
func statementOf(root *Node) *Node {
	if root.name == "StmtSimple" {
		return root
	}
	return root.First("StmtSimple")
}

func collectOperators(n *Node, parent *operator, all *[]*operator, warn func(string, ...any)) {
	for _, c := range n.children {
		if c.name != "RelOp" {
			collectOperators(c, parent, all, warn)
			continue
		}
		op := newOperator(c, warn)
		*all = append(*all, op)
		if parent != nil {
			parent.children = append(parent.children, op)
		}
		collectOperators(c, op, all, warn)
	}
}

func newOperator(n *Node, warn func(string, ...any)) *operator {
	op := &operator{node: n, id: -1}
	if id, ok := n.Int("NodeId"); ok {
		op.id = int(id)
	}
	op.physical, _ = n.Attr("PhysicalOp")
	op.logical, _ = n.Attr("LogicalOp")
	if cost, ok := n.Float("EstimatedTotalSubtreeCost"); ok && cost >= 0 {
		op.subtreeCost = cost
	} else {
		warn("operator %d (%s) has no usable EstimatedTotalSubtreeCost", op.id, op.physical)
	}
	op.target = targetOf(n)
	return op
}

// targetOf finds the first Object element owned by n, ignoring nested
// operators, and formats it as schema.table.
func targetOf(n *Node) string {
	var obj *Node
	var search func(*Node)
	search = func(x *Node) {
		for _, c := range x.children {
			if obj != nil {
				return
			}
			if c.name == "RelOp" {
				continue
			}
			if c.name == "Object" {
				obj = c
				return
			}
			search(c)
		}
	}
	search(n)
	if obj == nil {
		return ""
	}
	return qualifiedName(obj, "Schema", "Table")
}

func qualifiedName(n *Node, keys ...string) string {
	var parts []string
	for _, k := range keys {
		if v, ok := n.Attr(k); ok {
			v = strings.Trim(strings.TrimSpace(v), "[]")
			if v != "" {
				parts = append(parts, v)
			}
		}
	}
	return strings.Join(parts, ".")
}

func highCostOperations(all []*operator, totalCost float64) []HighCostOperation {
	out := []HighCostOperation{}
	if totalCost <= 0 || math.IsNaN(totalCost) || math.IsInf(totalCost, 0) {
		return out
	}
	for _, op := range all {
		pct := op.ownCost * 100 / totalCost
		if pct < HighCostThreshold {
			continue
		}
		out = append(out, HighCostOperation{
			NodeID:         op.id,
			PhysicalOp:     op.physical,
			LogicalOp:      op.logical,
			TargetObject:   op.target,
			OwnCost:        op.ownCost,
			SubtreeCost:    op.subtreeCost,
			CostPercentage: truncate2(pct),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CostPercentage > out[j].CostPercentage
	})
	return out
}

func cardinalityErrors(all []*operator) []CardinalityError {
	type ranked struct {
		err   CardinalityError
		ratio float64
	}
	var found []ranked
	for _, op := range all {
		estimated, ok := op.node.Float("EstimateRows")
		if !ok || estimated <= 0 {
			continue
		}
		actual, ok := actualRows(op.node)
		if !ok || actual <= 0 {
			continue
		}
		a := float64(actual)
		ratio := math.Max(estimated, a) / math.Min(estimated, a)
		if ratio < CardinalityThreshold {
			continue
		}
		found = append(found, ranked{
			ratio: ratio,
			err: CardinalityError{
				NodeID:          op.id,
				PhysicalOp:      op.physical,
				TargetObject:    op.target,
				EstimatedRows:   estimated,
				ActualRows:      actual,
				DivergenceRatio: round2(ratio),
				Underestimated:  a > estimated,
			},
		})
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].ratio > found[j].ratio })

	out := make([]CardinalityError, 0, len(found))
	for _, f := range found {
		out = append(out, f.err)
	}
	return out
}

// actualRows sums ActualRows across the operator's own per-thread counters.
func actualRows(relOp *Node) (int64, bool) {
	rti := relOp.Child("RunTimeInformation")
	if rti == nil {
		return 0, false
	}
	var total int64
	seen := false
	for _, c := range rti.children {
		if c.name != "RunTimeCountersPerThread" {
			continue
		}
		if rows, ok := c.Int("ActualRows"); ok {
			total += rows
			seen = true
		}
	}
	return total, seen
}

func implicitConversions(scope *Node) []ImplicitConversion {
	out := []ImplicitConversion{}
	scope.Walk(func(n *Node) bool {
		if n.name != "ScalarOperator" {
			return true
		}
		conv := n.Child("Convert")
		if conv == nil {
			return true
		}
		if implicit, _ := conv.Bool("Implicit"); !implicit {
			return true
		}

		hit := ImplicitConversion{NodeID: -1}
		if op := enclosingOperator(n); op != nil {
			if id, ok := op.Int("NodeId"); ok {
				hit.NodeID = int(id)
			}
			hit.PhysicalOp, _ = op.Attr("PhysicalOp")
		}
		if col := conv.First("ColumnReference"); col != nil {
			hit.Column = qualifiedName(col, "Column")
		}
		hit.TargetType = dataTypeOf(conv)
		hit.Expression = scalarStringOf(n)
		out = append(out, hit)
		return true
	})
	return out
}

// scalarStringOf returns the nearest ScalarString at or above n within its
// operator.
func scalarStringOf(n *Node) string {
	for p := n; p != nil && p.name != "RelOp"; p = p.parent {
		if p.name != "ScalarOperator" {
			continue
		}
		if v, ok := p.Attr("ScalarString"); ok {
			return v
		}
	}
	return ""
}

func enclosingOperator(n *Node) *Node {
	for p := n.parent; p != nil; p = p.parent {
		if p.name == "RelOp" {
			return p
		}
	}
	return nil
}

func dataTypeOf(conv *Node) string {
	dt, ok := conv.Attr("DataType")
	if !ok {
		return ""
	}
	if strings.Contains(dt, "(") {
		return dt
	}
	if length, ok := conv.Int("Length"); ok && length > 0 {
		if strings.HasPrefix(strings.ToLower(dt), "n") {
			length /= 2
		}
		return fmt.Sprintf("%s(%d)", dt, length)
	}
	return dt
}

var (
	tableScanOps  = map[string]bool{"table scan": true}
	indexScanOps  = map[string]bool{"index scan": true, "clustered index scan": true, "columnstore index scan": true}
	nestedLoopOps = map[string]bool{"nested loops": true}
	hashJoinOps   = map[string]bool{"hash match": true}
	mergeJoinOps  = map[string]bool{"merge join": true}
)

func shapeOf(all []*operator) ShapeFlags {
	var s ShapeFlags
	for _, op := range all {
		p := strings.ToLower(strings.TrimSpace(op.physical))
		s.HasTableScan = s.HasTableScan || tableScanOps[p]
		s.HasIndexScan = s.HasIndexScan || indexScanOps[p]
		s.HasNestedLoop = s.HasNestedLoop || nestedLoopOps[p]
		s.HasHashJoin = s.HasHashJoin || hashJoinOps[p]
		s.HasMergeJoin = s.HasMergeJoin || mergeJoinOps[p]
	}
	return s
}

func identifyIssues(r *PlanAnalysis) []Issue {
	issues := []Issue{}
	for i, h := range r.HighCostOperations {
		if i == maxCostIssues {
			break
		}
		target := h.TargetObject
		if target == "" {
			target = "the plan"
		}
		issues = append(issues, Issue{
			Kind:            IssueHighCost,
			Priority:        1,
			NodeID:          h.NodeID,
			Description:     fmt.Sprintf("%s on %s accounts for %.2f%% of the plan cost", h.PhysicalOp, target, h.CostPercentage),
			SuggestedAction: suggestedActionFor(h.PhysicalOp),
		})
	}

	n := 0
	for _, c := range r.CardinalityErrors {
		if n == maxCardinalityIssues {
			break
		}
		if c.divergence() <= IssueDivergenceThreshold {
			continue
		}
		n++
		issues = append(issues, Issue{
			Kind:     IssueCardinality,
			Priority: 2,
			NodeID:   c.NodeID,
			Description: fmt.Sprintf("%s estimated %.0f rows but produced %d (%.2fx divergence)",
				c.PhysicalOp, c.EstimatedRows, c.ActualRows, c.DivergenceRatio),
			SuggestedAction: "UpdateStatistics",
		})
	}
	return issues
}

func suggestedActionFor(physical string) string {
	p := strings.ToLower(strings.TrimSpace(physical))
	switch {
	case tableScanOps[p] || indexScanOps[p]:
		return "OptimizeTableScans"
	case p == "sort":
		return "RemoveUnnecessarySort"
	default:
		return "UpdateStatistics"
	}
}

// divergence is the unrounded max/min ratio behind DivergenceRatio.
func (c CardinalityError) divergence() float64 {
	a := float64(c.ActualRows)
	return math.Max(c.EstimatedRows, a) / math.Min(c.EstimatedRows, a)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// truncate2 drops digits past the hundredths so that summed percentages
// never round upward past their exact total.
func truncate2(f float64) float64 {
	return math.Floor(f*100+1e-9) / 100
}
