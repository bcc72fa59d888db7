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
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/viewadvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/viewadvisor/services/policy_engine"
)

var (
	// ErrUnsupportedAction is returned when no rewrite strategy exists for
	// an action type.
	ErrUnsupportedAction = errors.New("unsupported optimization action")

	// ErrRejected is returned when the constraint policy refuses a proposal.
	ErrRejected = errors.New("proposal rejected by constraint policy")
)

// UnsupportedActionError names the action that has no strategy.
type UnsupportedActionError struct {
	Action datatypes.ActionType
}

func (e *UnsupportedActionError) Error() string {
	return fmt.Sprintf("%v: %s", ErrUnsupportedAction, e.Action)
}

func (e *UnsupportedActionError) Is(target error) bool { return target == ErrUnsupportedAction }

// RejectedError carries the validation result that refused a proposal.
type RejectedError struct {
	Action datatypes.ActionType

	// Stage is "action" when the action type itself is refused and
	// "proposal" when the generated SQL is.
	Stage  string
	Result policy_engine.Result
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%v: %s (%s): %s", ErrRejected, e.Action, e.Stage, strings.Join(e.Result.Messages(), "; "))
}

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }
