// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package plananalyzer

import (
	"errors"
	"fmt"
)

// ErrMalformedPlan is the sentinel matched by every *MalformedPlanError.
var ErrMalformedPlan = errors.New("malformed plan document")

// MalformedPlanError reports a plan document that cannot be analyzed at all:
// empty text, broken XML, or a root element outside the plan namespace.
type MalformedPlanError struct {
	Reason string
	Err    error
}

func (e *MalformedPlanError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed plan document: %s: %v", e.Reason, e.Err)
	}
	return "malformed plan document: " + e.Reason
}

func (e *MalformedPlanError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrMalformedPlan) match.
func (e *MalformedPlanError) Is(target error) bool { return target == ErrMalformedPlan }
