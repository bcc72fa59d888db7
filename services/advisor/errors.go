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

import "errors"

// Sentinel errors for the advisor package.
var (
	// ErrReadOnlyMode is returned by every operation that would change the
	// database. The advisor only proposes.
	ErrReadOnlyMode = errors.New("read-only mode: changes are never applied to the database")

	// ErrInvalidTransition indicates an invalid session state transition.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidInput indicates a missing or malformed view identifier or
	// parameter.
	ErrInvalidInput = errors.New("invalid input")
)
