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
	"fmt"
	"strings"

	dt "github.com/AleutianAI/viewadvisor/services/orchestrator/datatypes"
)

// actionProfile is the static metadata attached to every proposal of one
// action type.
type actionProfile struct {
	priority      int
	description   string
	timeGain      float64
	readsGain     float64
	impact        dt.Band
	justification string
	risk          dt.Band
	risks         []string
	prerequisites []string
	preChecks     []string
	postChecks    []string
	minutes       int
}

var catalog = map[dt.ActionType]actionProfile{
	dt.UpdateStatistics: {
		priority:      1,
		description:   "Refresh statistics WITH FULLSCAN on the tables read by %s",
		timeGain:      15,
		readsGain:     10,
		impact:        dt.BandMedium,
		justification: "Fresh statistics correct row estimates, which drive join order, join type and memory grants.",
		risk:          dt.BandLow,
		risks: []string{
			"FULLSCAN reads every row of each table and adds I/O load while it runs",
			"Cached plans that use the tables are recompiled",
		},
		prerequisites: []string{"Run outside peak hours for large tables"},
		preChecks:     []string{"Check the row count of each table to estimate scan time"},
		postChecks:    []string{"Confirm STATS_DATE shows the refresh for each table"},
		minutes:       10,
	},
	dt.RemoveUnnecessaryDistinct: {
		priority:      2,
		description:   "Remove DISTINCT that cannot change the result of %s",
		timeGain:      20,
		readsGain:     25,
		impact:        dt.BandMedium,
		justification: "DISTINCT inside IN/EXISTS subqueries or under an outer DISTINCT forces a sort or hash aggregate without changing the rows returned.",
		risk:          dt.BandLow,
		risks: []string{
			"Duplicates reach the outer query if it aggregates the derived table",
		},
		prerequisites: []string{"Confirm each affected subquery only feeds a membership test or a DISTINCT outer query"},
		preChecks:     []string{"Record the baseline row count of the view"},
		postChecks:    []string{"Compare the row count with the baseline"},
		minutes:       15,
	},
	dt.FixImplicitConversion: {
		priority:      3,
		description:   "Make the type conversion in %s explicit",
		timeGain:      30,
		readsGain:     40,
		impact:        dt.BandHigh,
		justification: "CONVERT_IMPLICIT on a compared column hides the conversion from the optimizer and skews its estimates.",
		risk:          dt.BandMedium,
		risks: []string{
			"A cast to a narrower type can change comparison results",
			"A cast on the column side still prevents an index seek; matching the literal to the column type is better when possible",
		},
		prerequisites: []string{"Look up the declared type of the converted column"},
		preChecks:     []string{"Verify the cast type against the column definition"},
		postChecks:    []string{"Confirm CONVERT_IMPLICIT no longer appears in the execution plan"},
		minutes:       20,
	},
	dt.RemoveUnnecessarySort: {
		priority:      4,
		description:   "Remove ORDER BY that does not affect the rows returned by %s",
		timeGain:      10,
		readsGain:     5,
		impact:        dt.BandLow,
		justification: "A view does not guarantee row order, so an ORDER BY without TOP, OFFSET or FOR only adds a sort.",
		risk:          dt.BandLow,
		risks: []string{
			"Callers that relied on the incidental order must add their own ORDER BY",
		},
		prerequisites: []string{"Check callers of the view for order-dependent logic"},
		preChecks:     []string{"List the applications that select from the view"},
		postChecks:    []string{"Confirm the Sort operator is gone from the execution plan"},
		minutes:       10,
	},
	dt.ConvertExistsToJoin: {
		priority:      5,
		description:   "Review EXISTS subqueries in %s for JOIN rewrites",
		timeGain:      15,
		readsGain:     15,
		impact:        dt.BandMedium,
		justification: "Correlated EXISTS can execute once per outer row when the optimizer does not unnest it.",
		risk:          dt.BandMedium,
		risks: []string{
			"A JOIN multiplies rows when the subquery matches more than once",
		},
		prerequisites: []string{"Confirm the join key is unique on the subquery side"},
		preChecks:     []string{"Record the baseline row count of the view"},
		postChecks:    []string{"Compare the row count with the baseline"},
		minutes:       30,
	},
	dt.ConvertSubqueryToJoin: {
		priority:      6,
		description:   "Review IN subqueries in %s for JOIN rewrites",
		timeGain:      15,
		readsGain:     20,
		impact:        dt.BandMedium,
		justification: "IN (SELECT ...) can evaluate the subquery repeatedly; a join lets the optimizer choose the access order.",
		risk:          dt.BandMedium,
		risks: []string{
			"NOT IN and an anti-join treat NULL differently",
			"A JOIN multiplies rows when the subquery returns duplicates",
		},
		prerequisites: []string{"Check the subquery column for NULLs"},
		preChecks:     []string{"Record the baseline row count of the view"},
		postChecks:    []string{"Compare the row count with the baseline"},
		minutes:       30,
	},
	dt.OptimizeStringConcatenation: {
		priority:      7,
		description:   "Replace + string concatenation in %s with CONCAT",
		timeGain:      5,
		readsGain:     0,
		impact:        dt.BandLow,
		justification: "CONCAT converts its arguments once and avoids chained implicit conversions.",
		risk:          dt.BandLow,
		risks: []string{
			"CONCAT returns an empty string for NULL operands where + returned NULL",
		},
		prerequisites: []string{"Decide whether NULL operands should still produce NULL"},
		preChecks:     []string{"Sample rows where any concatenated column is NULL"},
		postChecks:    []string{"Compare concatenated values for rows with NULL operands"},
		minutes:       15,
	},
	dt.OptimizeTableScans: {
		priority:      8,
		description:   "Review table scans in %s",
		timeGain:      40,
		readsGain:     50,
		impact:        dt.BandHigh,
		justification: "Full scans read every page of the table; a selective access path reduces logical reads.",
		risk:          dt.BandHigh,
		risks: []string{
			"Index changes are outside the permitted action set and need DBA approval",
			"New indexes slow down writes to the table",
		},
		prerequisites: []string{"DBA review of index coverage"},
		preChecks:     []string{"Capture the missing-index hints from the execution plan"},
		postChecks:    []string{"Confirm scans were replaced by seeks in the execution plan"},
		minutes:       60,
	},
	dt.PrecomputeCalculatedColumns: {
		priority:      9,
		description:   "Review calculated expressions in %s for persisted computed columns",
		timeGain:      25,
		readsGain:     10,
		impact:        dt.BandMedium,
		justification: "Expressions evaluated per row at query time can be stored once as persisted computed columns.",
		risk:          dt.BandHigh,
		risks: []string{
			"Persisted computed columns change the base table structure",
		},
		prerequisites: []string{"Approval for base table changes"},
		preChecks:     []string{"Measure the storage cost of each computed column"},
		postChecks:    []string{"Confirm the view reads the computed column"},
		minutes:       45,
	},
}

// Priority returns the fixed ordering rank of action, 1 being the most
// urgent. Actions without a strategy rank last.
func Priority(action dt.ActionType) int {
	if p, ok := catalog[action]; ok {
		return p.priority
	}
	return len(catalog) + 1
}

func (p actionProfile) describe(view, target string) string {
	subject := view
	if target != "" {
		subject = fmt.Sprintf("%s (%s)", view, target)
	}
	return fmt.Sprintf(p.description, subject)
}

func (p actionProfile) expected(found bool) dt.ExpectedImprovement {
	if !found {
		return dt.ExpectedImprovement{
			ImpactLevel:   dt.BandLow,
			Justification: "Nothing to change was found in the current definition.",
		}
	}
	return dt.ExpectedImprovement{
		ExecutionTimeImprovement: p.timeGain,
		LogicalReadsImprovement:  p.readsGain,
		ImpactLevel:              p.impact,
		Justification:            p.justification,
	}
}

func (p actionProfile) assessment(action dt.ActionType, view string) dt.RiskAssessment {
	recovery := fmt.Sprintf("Run ALTER VIEW %s with the original definition saved in this proposal, then validate the result checksum against the baseline.", view)
	if action == dt.UpdateStatistics {
		recovery = "The view definition is unchanged. Statistics cannot be restored to their previous state; a later refresh with the default sampling rate returns to sampled statistics."
	}
	return dt.RiskAssessment{
		RiskLevel:     p.risk,
		Risks:         append([]string(nil), p.risks...),
		Prerequisites: append([]string(nil), p.prerequisites...),
		RecoveryPlan:  recovery,
	}
}

var (
	genericPreChecks = []string{
		"Confirm a recent database backup exists",
		"Save the original view definition",
		"Agree a change window with the owners of the view",
	}
	genericPostChecks = []string{
		"Compare the result checksum with the baseline",
		"Measure execution time against the baseline",
	}
)

// guide builds the three-step execution guide for a proposal. The advisor
// never runs these statements.
func (p actionProfile) guide(action dt.ActionType, view, proposedSQL string) dt.ExecutionGuide {
	verify := fmt.Sprintf("SET STATISTICS IO, TIME ON;\nSELECT * FROM %s;\nSET STATISTICS IO, TIME OFF;", view)

	return dt.ExecutionGuide{
		Steps: []dt.ExecutionStep{
			{
				StepNumber:      1,
				Description:     "Back up the current view definition",
				SQL:             fmt.Sprintf("SELECT OBJECT_DEFINITION(OBJECT_ID(N'%s')) AS original_definition;", escapeLiteral(view)),
				ExpectedOutcome: "The current definition is saved alongside this proposal",
				Notes:           "Keep the backup until post-execution validation passes",
			},
			{
				StepNumber:      2,
				Description:     fmt.Sprintf("Apply %s", action),
				SQL:             proposedSQL,
				ExpectedOutcome: "The statement completes without errors",
				Notes:           "Review the SQL by hand first; rewrites are heuristic and may need adjustment",
			},
			{
				StepNumber:      3,
				Description:     "Verify results and performance",
				SQL:             verify,
				ExpectedOutcome: "The result checksum matches the baseline and logical reads drop",
				Notes:           "Restore the original definition if the checksum differs",
			},
		},
		PreExecutionChecklist:    append(append([]string(nil), genericPreChecks...), p.preChecks...),
		PostExecutionValidation:  append(append([]string(nil), genericPostChecks...), p.postChecks...),
		EstimatedDurationMinutes: p.minutes,
	}
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
