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
	"errors"
	"testing"
)

func TestStateMachine_ValidTransitions(t *testing.T) {
	sm := NewStateMachine()

	validTransitions := []struct {
		from State
		to   State
	}{
		{StateInitializing, StateAnalyzingBaseline},
		{StateAnalyzingBaseline, StateGeneratingProposals},
		{StateGeneratingProposals, StateCreatingReports},
		{StateCreatingReports, StateCompleted},
		{StateInitializing, StateFailed},
		{StateAnalyzingBaseline, StateFailed},
		{StateGeneratingProposals, StateFailed},
		{StateCreatingReports, StateFailed},
	}

	for _, tt := range validTransitions {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if !sm.CanTransition(tt.from, tt.to) {
				t.Errorf("expected %s -> %s to be valid", tt.from, tt.to)
			}
		})
	}
}

func TestStateMachine_InvalidTransitions(t *testing.T) {
	sm := NewStateMachine()

	invalidTransitions := []struct {
		from State
		to   State
	}{
		{StateInitializing, StateCompleted},
		{StateInitializing, StateGeneratingProposals},
		{StateAnalyzingBaseline, StateInitializing},
		{StateGeneratingProposals, StateAnalyzingBaseline},
		{StateCreatingReports, StateGeneratingProposals},
		{StateCompleted, StateFailed},
		{StateCompleted, StateInitializing},
		{StateFailed, StateInitializing},
		{StateFailed, StateFailed},
		{StateAnalyzingBaseline, StateAnalyzingBaseline},
	}

	for _, tt := range invalidTransitions {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if sm.CanTransition(tt.from, tt.to) {
				t.Errorf("expected %s -> %s to be invalid", tt.from, tt.to)
			}
		})
	}
}

func TestStateMachine_TransitionRecordsHistory(t *testing.T) {
	sm := NewStateMachine()
	session := &Session{State: StateInitializing}

	if err := sm.Transition(session, StateAnalyzingBaseline, fixedTime); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if session.State != StateAnalyzingBaseline {
		t.Errorf("State = %s, want %s", session.State, StateAnalyzingBaseline)
	}
	if len(session.History) != 1 {
		t.Fatalf("History has %d entries, want 1", len(session.History))
	}
	entry := session.History[0]
	if entry.From != StateInitializing || entry.To != StateAnalyzingBaseline || entry.Reason != "Session started" {
		t.Errorf("unexpected history entry %+v", entry)
	}
	if !entry.At.Equal(fixedTime) {
		t.Errorf("At = %v, want %v", entry.At, fixedTime)
	}
}

func TestStateMachine_InvalidTransitionLeavesSession(t *testing.T) {
	sm := NewStateMachine()
	session := &Session{State: StateCompleted}

	err := sm.Transition(session, StateAnalyzingBaseline, fixedTime)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("error = %v, want ErrInvalidTransition", err)
	}
	if session.State != StateCompleted || len(session.History) != 0 {
		t.Errorf("session changed: state %s, %d history entries", session.State, len(session.History))
	}
}

func TestStateMachine_ValidTransitionsFrom(t *testing.T) {
	sm := NewStateMachine()

	got := sm.ValidTransitionsFrom(StateGeneratingProposals)
	if len(got) != 2 || got[0] != StateCreatingReports || got[1] != StateFailed {
		t.Errorf("ValidTransitionsFrom(GeneratingProposals) = %v", got)
	}
	for _, terminal := range []State{StateCompleted, StateFailed} {
		if got := sm.ValidTransitionsFrom(terminal); len(got) != 0 {
			t.Errorf("ValidTransitionsFrom(%s) = %v, want none", terminal, got)
		}
	}
}

func TestStateMachine_TransitionReason(t *testing.T) {
	sm := NewStateMachine()

	if got := sm.TransitionReason(StateCreatingReports, StateCompleted); got != "Report written" {
		t.Errorf("reason = %q", got)
	}
	if got := sm.TransitionReason(StateAnalyzingBaseline, StateFailed); got != "AnalyzingBaseline failed" {
		t.Errorf("reason = %q", got)
	}
	if got := sm.TransitionReason(StateCompleted, StateInitializing); got != "Unknown transition" {
		t.Errorf("reason = %q", got)
	}
}
