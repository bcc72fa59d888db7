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
	"time"
)

// StateMachine holds the valid session transitions:
//
//	Initializing → AnalyzingBaseline         : session started
//	AnalyzingBaseline → GeneratingProposals  : baseline captured
//	GeneratingProposals → CreatingReports    : candidates processed
//	CreatingReports → Completed              : report written
//	* → Failed                               : any non-terminal state
//
// The transition table is built once and never modified, so a
// StateMachine is safe for concurrent use.
type StateMachine struct {
	transitions map[State]map[State]bool
}

// NewStateMachine creates a state machine with every valid transition.
func NewStateMachine() *StateMachine {
	sm := &StateMachine{transitions: make(map[State]map[State]bool)}
	for _, state := range AllStates() {
		sm.transitions[state] = make(map[State]bool)
	}

	sm.addTransition(StateInitializing, StateAnalyzingBaseline)
	sm.addTransition(StateAnalyzingBaseline, StateGeneratingProposals)
	sm.addTransition(StateGeneratingProposals, StateCreatingReports)
	sm.addTransition(StateCreatingReports, StateCompleted)

	for _, state := range AllStates() {
		if !state.IsTerminal() {
			sm.addTransition(state, StateFailed)
		}
	}
	return sm
}

func (sm *StateMachine) addTransition(from, to State) {
	sm.transitions[from][to] = true
}

// CanTransition reports whether from → to is allowed.
func (sm *StateMachine) CanTransition(from, to State) bool {
	if toMap, ok := sm.transitions[from]; ok {
		return toMap[to]
	}
	return false
}

// Transition moves the session to state to and appends a history entry.
// Disallowed moves return ErrInvalidTransition and leave the session as it
// was.
func (sm *StateMachine) Transition(session *Session, to State, at time.Time) error {
	from := session.State
	if !sm.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	session.State = to
	session.History = append(session.History, HistoryEntry{
		From:   from,
		To:     to,
		Reason: sm.TransitionReason(from, to),
		At:     at,
	})
	return nil
}

// ValidTransitionsFrom returns the states reachable from from, in phase
// order.
func (sm *StateMachine) ValidTransitionsFrom(from State) []State {
	var result []State
	for _, state := range AllStates() {
		if sm.transitions[from][state] {
			result = append(result, state)
		}
	}
	return result
}

// TransitionReason describes why a transition happens.
func (sm *StateMachine) TransitionReason(from, to State) string {
	if to == StateFailed {
		return fmt.Sprintf("%s failed", from)
	}
	switch from.String() + "->" + to.String() {
	case "Initializing->AnalyzingBaseline":
		return "Session started"
	case "AnalyzingBaseline->GeneratingProposals":
		return "Baseline captured"
	case "GeneratingProposals->CreatingReports":
		return "Candidates processed"
	case "CreatingReports->Completed":
		return "Report written"
	}
	return "Unknown transition"
}
