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
	"github.com/spf13/cobra"
)

// newRootCmd builds the command tree around one app.
func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "viewadvisor",
		Short: "Read-only performance advisor for SQL Server views",
		Long: `viewadvisor captures a baseline for a SQL Server view, proposes
policy-checked rewrites and writes a final report. It never executes
DDL or DML: every proposal is a script for a human to review.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.teardown()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Config file (default ~/.viewadvisor/viewadvisor.yaml)")
	flags.StringVar(&a.outputMode, "output", "", "Output style: rich, plain or machine (default: detect)")
	flags.BoolVar(&a.asJSON, "json", false, "Print results as JSON")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Log to stderr")
	flags.StringVar(&a.snapshotPath, "snapshot-path", "", "Snapshot base directory (default from config)")

	root.AddCommand(
		newBaselineCmd(a),
		newProposeCmd(a),
		newAnalyzeCmd(a),
		newReportCmd(a),
		newMeasureCmd(a),
		newValidateCmd(a),
		newPlanCmd(a),
		newPolicyCmd(a),
		newRewriteCmd(a),
		newSessionsCmd(a),
		newServeCmd(a),
		newConfigCmd(a),
	)
	return root
}
