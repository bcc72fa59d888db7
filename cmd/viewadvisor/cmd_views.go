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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/viewadvisor/services/advisor"
	dt "github.com/AleutianAI/viewadvisor/services/orchestrator/datatypes"
)

func newBaselineCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "baseline [view or file.sql]",
		Short: "Capture the baseline of a view: definition, checksum, timing and plan",
		Long: `Capture the baseline of a view and save it under the snapshot path.

The argument is a schema-qualified view name, or a path to a .sql file
holding the definition.

Examples:
  viewadvisor baseline dbo.vOrderSummary
  viewadvisor baseline ./views/vOrderSummary.sql --snapshot-path ./snapshots`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withAdvisor(func(adv *advisor.Advisor) error {
				var result *dt.ViewAnalysisResult
				err := a.progress("Capturing baseline for "+args[0], func() error {
					var err error
					result, err = adv.AnalyzeViewBaseline(cmd.Context(), args[0], a.snapshotBase())
					return err
				})
				if err != nil {
					return err
				}
				if a.asJSON {
					return a.emitJSON(result)
				}
				renderBaseline(a.printer, result)
				return nil
			})
		},
	}
}

func newProposeCmd(a *app) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "propose [view] [action]",
		Short: "Generate one policy-checked proposal for a view",
		Long: `Generate one optimization proposal for a view stored in the database.

Actions: UpdateStatistics, RemoveUnnecessaryDistinct, ConvertSubqueryToJoin,
ConvertExistsToJoin, ConvertInToJoin, FixImplicitConversion,
OptimizeStringConcatenation, OptimizeStringOperations, RemoveUnnecessarySort,
PrecomputeCalculatedColumns, OptimizeTableScans. Forbidden or unlisted
actions are rejected by the policy.

Examples:
  viewadvisor propose dbo.vOrderSummary UpdateStatistics --target dbo.Orders
  viewadvisor propose dbo.vOrderSummary RemoveUnnecessaryDistinct`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := dt.ParseActionType(args[1])
			if err != nil {
				return err
			}
			return a.withAdvisor(func(adv *advisor.Advisor) error {
				proposal, err := adv.GenerateOptimizationProposal(cmd.Context(), args[0], action, target)
				if err != nil {
					return err
				}
				if a.asJSON {
					return a.emitJSON(proposal)
				}
				renderProposal(a.printer, proposal)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "Object the action applies to (table for UpdateStatistics, 'o.Code AS NVARCHAR(20)' for FixImplicitConversion)")
	return cmd
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var maxProposals int
	cmd := &cobra.Command{
		Use:   "analyze [view or file.sql]",
		Short: "Run a full analyze-and-propose session and write the final report",
		Long: `Run a complete session: baseline, candidate proposals and the final
report. A failed session still prints its state and error; the exit code
is 1 in that case.

Examples:
  viewadvisor analyze dbo.vOrderSummary
  viewadvisor analyze dbo.vOrderSummary --max-proposals 3 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withAdvisor(func(adv *advisor.Advisor) error {
				var session *advisor.Session
				err := a.progress("Analyzing "+args[0], func() error {
					var err error
					session, err = adv.AnalyzeAndPropose(cmd.Context(), args[0], maxProposals, a.snapshotBase())
					return err
				})
				if err != nil {
					return err
				}
				if a.asJSON {
					if err := a.emitJSON(session); err != nil {
						return err
					}
				} else {
					renderSession(a.printer, session)
				}
				if session.State == advisor.StateFailed {
					return &exitError{code: ExitViolation, err: fmt.Errorf("session %s failed: %s", session.ID, session.ErrorMessage)}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&maxProposals, "max-proposals", 0, "Proposal cap (default from config)")
	return cmd
}

func newReportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "report [view]",
		Short: "Rebuild the final report for a view from its snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withAdvisor(func(adv *advisor.Advisor) error {
				report, path, err := adv.GenerateFinalReport(cmd.Context(), args[0], a.snapshotBase())
				if err != nil {
					return err
				}
				if a.asJSON {
					return a.emitJSON(map[string]string{"view_name": args[0], "report": report, "report_path": path})
				}
				a.printer.Raw(report)
				if path != "" {
					a.printer.Success("Report written to " + path)
				} else {
					a.printer.Warning("Report could not be saved to the snapshot directory")
				}
				return nil
			})
		},
	}
}

func newMeasureCmd(a *app) *cobra.Command {
	var runs int
	cmd := &cobra.Command{
		Use:   "measure [view]",
		Short: "Time a view and compare it with its baseline snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withAdvisor(func(adv *advisor.Advisor) error {
				var result *advisor.MeasurementResult
				err := a.progress("Measuring "+args[0], func() error {
					var err error
					result, err = adv.MeasureViewPerformance(cmd.Context(), args[0], runs, a.snapshotBase())
					return err
				})
				if err != nil {
					return err
				}
				if a.asJSON {
					return a.emitJSON(result)
				}
				renderMeasurement(a.printer, result)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&runs, "runs", 0, "Executions to average (default from config)")
	return cmd
}

func newValidateCmd(a *app) *cobra.Command {
	var baseline string
	cmd := &cobra.Command{
		Use:   "validate [view]",
		Short: "Compute a view's result checksum and compare it with a baseline",
		Long: `Compute the order-independent result checksum of a view. With
--baseline the checksum is compared case-insensitively and a mismatch
exits with code 1.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withAdvisor(func(adv *advisor.Advisor) error {
				result, err := adv.ValidateViewResults(cmd.Context(), args[0], baseline)
				if err != nil {
					return err
				}
				if a.asJSON {
					if err := a.emitJSON(result); err != nil {
						return err
					}
				} else {
					renderValidation(a.printer, result)
				}
				if !result.IsValid {
					return &exitError{code: ExitViolation, err: errors.New(result.Message)}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&baseline, "baseline", "", "Baseline checksum to compare against")
	return cmd
}

// progress runs fn under a spinner unless JSON output was requested.
func (a *app) progress(message string, fn func() error) error {
	if a.asJSON {
		return fn()
	}
	return a.printer.WithSpinner(message, fn)
}
