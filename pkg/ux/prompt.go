// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"errors"
	"strings"

	"github.com/charmbracelet/huh"
)

// ErrNotInteractive is returned when a prompt is needed but stdin is not a
// terminal.
var ErrNotInteractive = errors.New("input required but stdin is not a terminal")

// aleutianTheme is huh's base theme recolored with the Aleutian palette.
func aleutianTheme() *huh.Theme {
	t := huh.ThemeBase()
	t.Focused.Title = t.Focused.Title.Foreground(ColorTealBright).Bold(true)
	t.Focused.Description = t.Focused.Description.Foreground(ColorSlate)
	t.Focused.TextInput.Prompt = t.Focused.TextInput.Prompt.Foreground(ColorTealPrimary)
	t.Focused.TextInput.Cursor = t.Focused.TextInput.Cursor.Foreground(ColorTealBright)
	t.Focused.ErrorMessage = t.Focused.ErrorMessage.Foreground(ColorError)
	t.Blurred.Title = t.Blurred.Title.Foreground(ColorSlate)
	return t
}

// ApprovalInput is what an approver types to complete an approval.
type ApprovalInput struct {
	Code         string
	SecondaryKey string
}

// validateCode accepts exactly eight digits.
func validateCode(s string) error {
	s = strings.TrimSpace(s)
	if len(s) != 8 {
		return errors.New("the code has 8 digits")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return errors.New("the code has digits only")
		}
	}
	return nil
}

func validateRequired(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("required")
	}
	return nil
}

// PromptApproval asks for whichever of in's fields are empty. Both inputs
// are masked. Fields already set are left untouched.
func PromptApproval(planTitle string, in ApprovalInput) (ApprovalInput, error) {
	var fields []huh.Field
	if in.Code == "" {
		fields = append(fields, huh.NewInput().
			Title("Verification code").
			Description("8-digit code issued for "+truncate(planTitle, 48)).
			EchoMode(huh.EchoModePassword).
			Validate(validateCode).
			Value(&in.Code))
	}
	if in.SecondaryKey == "" {
		fields = append(fields, huh.NewInput().
			Title("Secondary approval key").
			Description("Delivered out of band").
			EchoMode(huh.EchoModePassword).
			Validate(validateRequired).
			Value(&in.SecondaryKey))
	}
	if len(fields) == 0 {
		return in, nil
	}
	if !IsTerminalStdin() {
		return in, ErrNotInteractive
	}
	err := huh.NewForm(huh.NewGroup(fields...)).WithTheme(aleutianTheme()).Run()
	in.Code = strings.TrimSpace(in.Code)
	return in, err
}

// Confirm asks a yes/no question, defaulting to no.
func Confirm(title, description string) (bool, error) {
	if !IsTerminalStdin() {
		return false, ErrNotInteractive
	}
	var ok bool
	err := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(title).
			Description(description).
			Affirmative("Yes").
			Negative("No").
			Value(&ok),
	)).WithTheme(aleutianTheme()).Run()
	return ok, err
}

// truncate shortens s to maxLen runes including a trailing "...".
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return string(r[:maxLen-3]) + "..."
}
