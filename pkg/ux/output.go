// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling and prompts for govctl.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Aleutian color palette
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconAnchor  Icon = "⚓"
)

// Render returns the icon with its color.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return Styles.Muted.Render(string(i))
	}
}

// =============================================================================
// Printer
// =============================================================================

// Printer writes styled output. In machine mode it writes plain,
// grep-friendly lines with no color or boxes.
type Printer struct {
	Out     io.Writer
	Machine bool
}

// NewPrinter returns a printer for stdout, switching to machine mode when
// stdout is not a terminal.
func NewPrinter() *Printer {
	return &Printer{Out: os.Stdout, Machine: !IsTerminal(os.Stdout)}
}

// IsTerminal reports whether f is an interactive terminal, including
// Cygwin/MSYS ptys.
func IsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// IsTerminalStdin reports whether prompts can be shown.
func IsTerminalStdin() bool { return IsTerminal(os.Stdin) }

// Title prints a styled title. Machine mode prints nothing.
func (p *Printer) Title(text string) {
	if p.Machine {
		return
	}
	fmt.Fprintln(p.Out, Styles.Title.Render(text))
}

// Success prints a success line.
func (p *Printer) Success(text string) {
	if p.Machine {
		fmt.Fprintf(p.Out, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(p.Out, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	if p.Machine {
		fmt.Fprintf(p.Out, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(p.Out, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
}

// Error prints an error line.
func (p *Printer) Error(text string) {
	if p.Machine {
		fmt.Fprintf(p.Out, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(p.Out, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
}

// Field prints "key: value".
func (p *Printer) Field(key, value string) {
	if p.Machine {
		fmt.Fprintf(p.Out, "%s\t%s\n", key, value)
		return
	}
	fmt.Fprintf(p.Out, "%s %s\n", Styles.Muted.Render(key+":"), value)
}

// Box prints content under title in a rounded box.
func (p *Printer) Box(title, content string) {
	if p.Machine {
		fmt.Fprintf(p.Out, "%s: %s\n", title, strings.ReplaceAll(content, "\n", " | "))
		return
	}
	fmt.Fprintln(p.Out, Styles.Box.Width(72).Render(Styles.Title.Render(title)+"\n"+content))
}

// WarningBox prints content under title in a warning box.
func (p *Printer) WarningBox(title, content string) {
	if p.Machine {
		fmt.Fprintf(p.Out, "WARN %s: %s\n", title, strings.ReplaceAll(content, "\n", " | "))
		return
	}
	fmt.Fprintln(p.Out, Styles.WarningBox.Width(72).Render(Styles.Warning.Bold(true).Render(title)+"\n"+content))
}

// =============================================================================
// Governance statuses
// =============================================================================

// DriftIcon returns the icon for a drift status string.
func DriftIcon(status string) Icon {
	switch status {
	case "ALIGNED":
		return IconSuccess
	case "MINOR_DRIFT", "MODERATE_DRIFT":
		return IconWarning
	case "CRITICAL_VIOLATION":
		return IconError
	default:
		return IconPending
	}
}

// PlanStateIcon returns the icon for a plan state string.
func PlanStateIcon(state string) Icon {
	switch state {
	case "LOCKED":
		return IconAnchor
	case "APPROVED":
		return IconSuccess
	case "PENDING_APPROVAL":
		return IconWarning
	case "DEPRECATED":
		return IconError
	default:
		return IconPending
	}
}

// Status prints a labelled status with its icon.
func (p *Printer) Status(icon Icon, label, detail string) {
	if p.Machine {
		fmt.Fprintf(p.Out, "%s\t%s\n", label, detail)
		return
	}
	if detail == "" {
		fmt.Fprintf(p.Out, "%s %s\n", icon.Render(), Styles.Bold.Render(label))
		return
	}
	fmt.Fprintf(p.Out, "%s %s %s\n", icon.Render(), Styles.Bold.Render(label), Styles.Muted.Render(detail))
}

// ScoreBar renders a score in [-1, 1] as a bar of width cells, clamping
// negative scores to empty.
func ScoreBar(score float64, width int) string {
	pct := score
	if pct < 0 {
		pct = 0
	}
	if pct > 1 {
		pct = 1
	}
	filled := int(pct * float64(width))
	return Styles.Success.Render(strings.Repeat("█", filled)) +
		Styles.Muted.Render(strings.Repeat("░", width-filled)) +
		fmt.Sprintf(" %.3f", score)
}
