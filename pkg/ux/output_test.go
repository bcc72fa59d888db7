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
	"bytes"
	"errors"
	"strings"
	"testing"
)

func newBufferedPrinter(mode Mode) (*Printer, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return &Printer{Out: &out, Err: &errOut, Mode: mode}, &out, &errOut
}

// =============================================================================
// Mode Tests
// =============================================================================

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"rich", ModeRich},
		{"FULL", ModeRich},
		{"machine", ModeMachine},
		{" q ", ModeMachine},
		{"plain", ModePlain},
		{"something", ModePlain},
		{"", ModePlain},
	}
	for _, tt := range tests {
		if got := ParseMode(tt.in); got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDetectMode(t *testing.T) {
	t.Setenv(EnvOutputMode, "")
	if got := DetectMode(&bytes.Buffer{}); got != ModeMachine {
		t.Errorf("buffer should be machine mode, got %q", got)
	}

	t.Setenv(EnvOutputMode, "rich")
	if got := DetectMode(&bytes.Buffer{}); got != ModeRich {
		t.Errorf("env override ignored, got %q", got)
	}
}

func TestIsTerminal_NonFile(t *testing.T) {
	if IsTerminal(&bytes.Buffer{}) {
		t.Error("a buffer is not a terminal")
	}
}

// =============================================================================
// Printer Tests
// =============================================================================

func TestPrinter_MachinePrefixes(t *testing.T) {
	p, out, errOut := newBufferedPrinter(ModeMachine)

	p.Title("Baseline")
	p.Success("saved")
	p.Warning("slow")
	p.Error("failed")
	p.KeyValue("checksum", "ABC")

	if strings.Contains(out.String(), "Baseline") {
		t.Error("machine mode should not print titles")
	}
	if !strings.Contains(out.String(), "OK: saved\n") {
		t.Errorf("missing OK line in %q", out.String())
	}
	if !strings.Contains(out.String(), "checksum=ABC\n") {
		t.Errorf("missing key=value line in %q", out.String())
	}
	if !strings.Contains(errOut.String(), "WARN: slow\n") || !strings.Contains(errOut.String(), "ERROR: failed\n") {
		t.Errorf("warnings and errors belong on Err, got %q", errOut.String())
	}
}

func TestPrinter_PlainUsesIcons(t *testing.T) {
	p, out, errOut := newBufferedPrinter(ModePlain)

	p.Success("done")
	p.Error("broken")

	if out.String() != "✓ done\n" {
		t.Errorf("unexpected plain success %q", out.String())
	}
	if errOut.String() != "✗ broken\n" {
		t.Errorf("unexpected plain error %q", errOut.String())
	}
}

func TestPrinter_RichBox(t *testing.T) {
	p, out, _ := newBufferedPrinter(ModeRich)
	p.Box("Session", "3 proposals")

	if !strings.Contains(out.String(), "Session") || !strings.Contains(out.String(), "3 proposals") {
		t.Errorf("box lost its content: %q", out.String())
	}
}

func TestPrinter_Raw(t *testing.T) {
	p, out, _ := newBufferedPrinter(ModeRich)
	p.Raw("# Report")
	p.Raw("line\n")
	if out.String() != "# Report\nline\n" {
		t.Errorf("Raw output %q", out.String())
	}
}

func TestPrinter_TableMachine(t *testing.T) {
	p, out, _ := newBufferedPrinter(ModeMachine)
	p.Table([]string{"Action", "Risk"}, [][]string{{"UpdateStatistics", "Low"}})

	want := "Action\tRisk\nUpdateStatistics\tLow\n"
	if out.String() != want {
		t.Errorf("got %q, want %q", out.String(), want)
	}
}

func TestPrinter_TableRendered(t *testing.T) {
	p, out, _ := newBufferedPrinter(ModePlain)
	p.Table([]string{"Action", "Risk"}, [][]string{{"UpdateStatistics", "Low"}})

	for _, s := range []string{"Action", "Risk", "UpdateStatistics", "Low"} {
		if !strings.Contains(out.String(), s) {
			t.Errorf("table missing %q:\n%s", s, out.String())
		}
	}
}

// =============================================================================
// Spinner Tests
// =============================================================================

func TestWithSpinner_Success(t *testing.T) {
	p, out, errOut := newBufferedPrinter(ModeMachine)

	err := p.WithSpinner("Capturing baseline", func() error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(errOut.String(), "PROGRESS: Capturing baseline") {
		t.Errorf("missing progress line: %q", errOut.String())
	}
	if !strings.Contains(out.String(), "OK: Capturing baseline") {
		t.Errorf("missing success line: %q", out.String())
	}
}

func TestWithSpinner_Error(t *testing.T) {
	p, _, errOut := newBufferedPrinter(ModePlain)
	boom := errors.New("timeout")

	err := p.WithSpinner("Measuring", func() error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected the callback error, got %v", err)
	}
	if !strings.Contains(errOut.String(), "Measuring: timeout") {
		t.Errorf("missing error line: %q", errOut.String())
	}
}

func TestSpinner_RichStartStop(t *testing.T) {
	p, _, _ := newBufferedPrinter(ModeRich)
	spin := p.NewSpinner("working")
	spin.Start()
	spin.Start()
	spin.UpdateMessage("still working")
	spin.Stop()
	spin.Stop()
}
