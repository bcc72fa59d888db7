// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the data structures shared by the advisor
// services: optimization action types, performance metrics, baseline
// analysis results, proposals, and the command request/response payloads.
package datatypes

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownAction is returned by ParseActionType for unrecognized names.
var ErrUnknownAction = errors.New("unknown action type")

// ActionType names an optimization action. It is a string so that policy
// lists can refer to actions this build does not know about (for example
// CreateIndex in the forbidden list).
type ActionType string

const (
	UpdateStatistics            ActionType = "UpdateStatistics"
	RemoveUnnecessaryDistinct   ActionType = "RemoveUnnecessaryDistinct"
	ConvertSubqueryToJoin       ActionType = "ConvertSubqueryToJoin"
	FixImplicitConversion       ActionType = "FixImplicitConversion"
	OptimizeStringConcatenation ActionType = "OptimizeStringConcatenation"
	PrecomputeCalculatedColumns ActionType = "PrecomputeCalculatedColumns"
	RemoveUnnecessarySort       ActionType = "RemoveUnnecessarySort"
	ConvertExistsToJoin         ActionType = "ConvertExistsToJoin"
	ConvertInToJoin             ActionType = "ConvertInToJoin"
	OptimizeStringOperations    ActionType = "OptimizeStringOperations"
	OptimizeTableScans          ActionType = "OptimizeTableScans"
)

// KnownActionTypes lists every action type the advisor recognizes, in
// declaration order.
var KnownActionTypes = []ActionType{
	UpdateStatistics,
	RemoveUnnecessaryDistinct,
	ConvertSubqueryToJoin,
	FixImplicitConversion,
	OptimizeStringConcatenation,
	PrecomputeCalculatedColumns,
	RemoveUnnecessarySort,
	ConvertExistsToJoin,
	ConvertInToJoin,
	OptimizeStringOperations,
	OptimizeTableScans,
}

func (a ActionType) String() string {
	return string(a)
}

// IsKnown reports whether a is one of KnownActionTypes.
func (a ActionType) IsKnown() bool {
	for _, k := range KnownActionTypes {
		if k == a {
			return true
		}
	}
	return false
}

// ParseActionType resolves a case-insensitive action name.
func ParseActionType(s string) (ActionType, error) {
	trimmed := strings.TrimSpace(s)
	for _, k := range KnownActionTypes {
		if strings.EqualFold(string(k), trimmed) {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownAction, s)
}
