// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders CLI output for the view advisor.
//
// A Printer writes status lines, boxes and tables in one of three modes.
// ModeRich styles output with lipgloss; ModeMachine emits stable prefixes
// (OK:, WARN:, ERROR:) that scripts can grep.
package ux

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// Color Palette
// =============================================================================

var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles holds the lipgloss styles used in ModeRich.
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
}

// =============================================================================
// Icons
// =============================================================================

type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render returns the icon colored for ModeRich.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// =============================================================================
// Printer
// =============================================================================

// Printer writes user-facing output. Results go to Out; warnings, errors
// and progress go to Err so that piped output stays parseable.
type Printer struct {
	Out  io.Writer
	Err  io.Writer
	Mode Mode
}

// NewPrinter returns a Printer for stdout and stderr with the detected mode.
func NewPrinter() *Printer {
	return &Printer{Out: os.Stdout, Err: os.Stderr, Mode: DetectMode(os.Stdout)}
}

func (p *Printer) rich() bool { return p.Mode == ModeRich }

// Title prints a heading. Machine mode prints nothing.
func (p *Printer) Title(text string) {
	switch p.Mode {
	case ModeMachine:
	case ModeRich:
		fmt.Fprintln(p.Out, Styles.Title.Render(text))
	default:
		fmt.Fprintln(p.Out, text)
	}
}

func (p *Printer) Success(text string) {
	switch p.Mode {
	case ModeMachine:
		fmt.Fprintf(p.Out, "OK: %s\n", text)
	case ModeRich:
		fmt.Fprintf(p.Out, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	default:
		fmt.Fprintf(p.Out, "%s %s\n", IconSuccess, text)
	}
}

func (p *Printer) Warning(text string) {
	switch p.Mode {
	case ModeMachine:
		fmt.Fprintf(p.Err, "WARN: %s\n", text)
	case ModeRich:
		fmt.Fprintf(p.Err, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	default:
		fmt.Fprintf(p.Err, "%s %s\n", IconWarning, text)
	}
}

func (p *Printer) Error(text string) {
	switch p.Mode {
	case ModeMachine:
		fmt.Fprintf(p.Err, "ERROR: %s\n", text)
	case ModeRich:
		fmt.Fprintf(p.Err, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
	default:
		fmt.Fprintf(p.Err, "%s %s\n", IconError, text)
	}
}

// Info prints a neutral line.
func (p *Printer) Info(text string) {
	if p.rich() {
		fmt.Fprintf(p.Out, "%s %s\n", Styles.Muted.Render("│"), text)
		return
	}
	fmt.Fprintln(p.Out, text)
}

// KeyValue prints an aligned label and value.
func (p *Printer) KeyValue(key string, value any) {
	switch p.Mode {
	case ModeMachine:
		fmt.Fprintf(p.Out, "%s=%v\n", key, value)
	case ModeRich:
		fmt.Fprintf(p.Out, "  %s %v\n", Styles.Muted.Render(fmt.Sprintf("%-22s", key+":")), value)
	default:
		fmt.Fprintf(p.Out, "  %-22s %v\n", key+":", value)
	}
}

// Box prints content under a title, framed in ModeRich.
func (p *Printer) Box(title, content string) {
	switch p.Mode {
	case ModeMachine:
		fmt.Fprintf(p.Out, "%s: %s\n", title, content)
	case ModeRich:
		fmt.Fprintln(p.Out, Styles.Box.Width(72).Render(Styles.Title.Render(title)+"\n"+content))
	default:
		fmt.Fprintf(p.Out, "%s\n%s\n", title, content)
	}
}

// WarningBox is Box for cautions. It writes to Err.
func (p *Printer) WarningBox(title, content string) {
	switch p.Mode {
	case ModeMachine:
		fmt.Fprintf(p.Err, "WARN %s: %s\n", title, content)
	case ModeRich:
		fmt.Fprintln(p.Err, Styles.WarningBox.Width(72).Render(Styles.Warning.Bold(true).Render(title)+"\n"+content))
	default:
		fmt.Fprintf(p.Err, "%s %s\n%s\n", IconWarning, title, content)
	}
}

// Raw writes text unchanged, adding a trailing newline when missing.
func (p *Printer) Raw(text string) {
	fmt.Fprint(p.Out, text)
	if len(text) > 0 && text[len(text)-1] != '\n' {
		fmt.Fprintln(p.Out)
	}
}
