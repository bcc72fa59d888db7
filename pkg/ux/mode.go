// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// EnvOutputMode overrides terminal detection.
const EnvOutputMode = "VIEWADVISOR_OUTPUT"

// Mode controls how much decoration the CLI prints.
type Mode string

const (
	// ModeRich uses colors, icons, boxes and spinners.
	ModeRich Mode = "rich"

	// ModePlain keeps icons but drops colors and boxes.
	ModePlain Mode = "plain"

	// ModeMachine prints prefixed, line-oriented text for scripts and CI.
	ModeMachine Mode = "machine"
)

// ParseMode maps a user string to a Mode. Unknown values fall back to
// ModePlain.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rich", "full", "r":
		return ModeRich
	case "machine", "quiet", "q":
		return ModeMachine
	default:
		return ModePlain
	}
}

// DetectMode picks the mode for w. The VIEWADVISOR_OUTPUT variable wins;
// otherwise a terminal gets ModeRich and anything else ModeMachine.
func DetectMode(w io.Writer) Mode {
	if env := os.Getenv(EnvOutputMode); env != "" {
		return ParseMode(env)
	}
	if IsTerminal(w) {
		return ModeRich
	}
	return ModeMachine
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
