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
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/viewadvisor/services/optimizer"
	dt "github.com/AleutianAI/viewadvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/viewadvisor/services/plananalyzer"
)

// readInput reads a file, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

// =============================================================================
// plan
// =============================================================================

func newPlanCmd(a *app) *cobra.Command {
	plan := &cobra.Command{
		Use:   "plan",
		Short: "Analyze showplan XML files offline",
	}

	plan.AddCommand(&cobra.Command{
		Use:   "analyze [plan.xml]",
		Short: "Report high-cost operators, cardinality errors and implicit conversions",
		Long: `Analyze an actual or estimated execution plan saved as showplan XML
(for example execution_plan.xml from a baseline snapshot). Use - for stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			analysis, err := plananalyzer.Analyze(text)
			if err != nil {
				return err
			}
			if a.asJSON {
				return a.emitJSON(analysis)
			}
			a.printer.Title("Plan analysis: " + args[0])
			renderPlanAnalysis(a.printer, analysis)
			return nil
		},
	})

	plan.AddCommand(&cobra.Command{
		Use:   "compare [before.xml] [after.xml]",
		Short: "Compare the cost of two plans for the same query",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			before, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			after, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}
			cmp, err := plananalyzer.Compare(before, after)
			if err != nil {
				return err
			}
			if a.asJSON {
				return a.emitJSON(cmp)
			}
			renderComparison(a.printer, cmp)
			return nil
		},
	})
	return plan
}

// =============================================================================
// policy
// =============================================================================

func newPolicyCmd(a *app) *cobra.Command {
	policy := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and test the optimization constraints",
	}

	policy.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective constraints as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := a.validator()
			if a.asJSON {
				return a.emitJSON(v.Policy().Constraints())
			}
			data, err := yaml.Marshal(v.Policy().Constraints())
			if err != nil {
				return err
			}
			a.printer.Raw(string(data))
			return nil
		},
	})

	var action, sqlFile, viewFile string
	check := &cobra.Command{
		Use:   "check",
		Short: "Validate an action, SQL text or view definition against the constraints",
		Long: `Validate input against the configured constraints.

Examples:
  viewadvisor policy check --action CreateIndex
  viewadvisor policy check --sql-file proposed.sql --view-file view.sql

Exit Codes:
  0 = No violations
  1 = Violations found
  2 = Error (missing input, unreadable file)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if action == "" && sqlFile == "" && viewFile == "" {
				return errors.New("at least one of --action, --sql-file or --view-file is required")
			}
			var sqlText, viewText string
			var err error
			if sqlFile != "" {
				if sqlText, err = readInput(cmd, sqlFile); err != nil {
					return err
				}
			}
			if viewFile != "" {
				if viewText, err = readInput(cmd, viewFile); err != nil {
					return err
				}
			}

			result := a.validator().ValidateAll(action, sqlText, viewText)
			if a.asJSON {
				if err := a.emitJSON(result); err != nil {
					return err
				}
			} else {
				renderPolicyResult(a.printer, result)
			}
			if !result.IsValid {
				return &exitError{code: ExitViolation, err: fmt.Errorf("%d policy violation(s)", len(result.Violations))}
			}
			return nil
		},
	}
	check.Flags().StringVar(&action, "action", "", "Action type to check")
	check.Flags().StringVar(&sqlFile, "sql-file", "", "File with SQL text to check (- for stdin)")
	check.Flags().StringVar(&viewFile, "view-file", "", "File with a view definition to check (- for stdin)")
	policy.AddCommand(check)

	return policy
}

// =============================================================================
// rewrite
// =============================================================================

func newRewriteCmd(a *app) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "rewrite [action] [file.sql]",
		Short: "Apply one rewrite strategy to a local view definition",
		Long: `Apply a rewrite strategy to SQL text without touching a database.
The rewritten text is printed; nothing is written back to the file.

Examples:
  viewadvisor rewrite RemoveUnnecessaryDistinct vOrders.sql
  viewadvisor rewrite FixImplicitConversion vOrders.sql --target 'o.Code AS NVARCHAR(20)'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := dt.ParseActionType(args[0])
			if err != nil {
				return err
			}
			text, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}
			res, err := optimizer.Rewrite(action, target, text)
			if err != nil {
				return err
			}
			if a.asJSON {
				return a.emitJSON(res)
			}
			for _, note := range res.Notes {
				a.printer.Info(note)
			}
			if !res.Changed {
				a.printer.Warning(fmt.Sprintf("%s made no change (%d site(s) flagged)", action, res.Sites))
				return nil
			}
			a.printer.Success(fmt.Sprintf("%s changed %d site(s)", action, res.Sites))
			a.printer.Raw(strings.TrimRight(res.SQL, "\n"))
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "Target for strategies that need one")
	return cmd
}
