// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package advisor runs analyze-and-propose sessions for database views.
//
// A session captures a baseline (definition, checksum, timing, execution
// plan), derives candidate optimization actions from it, turns each
// candidate into a policy-checked proposal and writes a final report. The
// session is a state machine:
//
//	Initializing → AnalyzingBaseline → GeneratingProposals → CreatingReports → Completed
//
// with Failed reachable from every non-terminal state. Nothing in this
// package changes the database; the execute and rollback entry points
// exist only to refuse with ErrReadOnlyMode.
package advisor

import (
	"time"

	dt "github.com/AleutianAI/viewadvisor/services/orchestrator/datatypes"
)

// State is a phase of an analysis session.
type State string

const (
	StateInitializing        State = "Initializing"
	StateAnalyzingBaseline   State = "AnalyzingBaseline"
	StateGeneratingProposals State = "GeneratingProposals"
	StateCreatingReports     State = "CreatingReports"
	StateCompleted           State = "Completed"
	StateFailed              State = "Failed"
)

func (s State) String() string { return string(s) }

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// AllStates returns every session state in phase order.
func AllStates() []State {
	return []State{
		StateInitializing,
		StateAnalyzingBaseline,
		StateGeneratingProposals,
		StateCreatingReports,
		StateCompleted,
		StateFailed,
	}
}

// HistoryEntry records one state transition.
type HistoryEntry struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Session is the record of one analyze-and-propose run. It is owned by the
// call that created it and is not safe for concurrent mutation.
type Session struct {
	ID           string `json:"session_id"`
	ViewName     string `json:"view_name"`
	SnapshotPath string `json:"snapshot_path,omitempty"`
	MaxProposals int    `json:"max_proposals"`

	State        State          `json:"state"`
	History      []HistoryEntry `json:"history"`
	ErrorMessage string         `json:"error_message,omitempty"`

	Baseline   *dt.ViewAnalysisResult    `json:"baseline_analysis,omitempty"`
	Candidates []dt.ActionType           `json:"candidates"`
	Proposals  []dt.OptimizationProposal `json:"proposals"`
	Skipped    []dt.SkippedCandidate     `json:"skipped_candidates,omitempty"`

	FinalReport string   `json:"final_report,omitempty"`
	ReportPath  string   `json:"report_path,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Duration returns the session run time, or zero while it is running.
func (s *Session) Duration() time.Duration {
	if s.CompletedAt == nil {
		return 0
	}
	return s.CompletedAt.Sub(s.StartedAt)
}
