// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"testing"
)

// =============================================================================
// truncate Tests
// =============================================================================

func TestTruncate(t *testing.T) {
	tests := []struct {
		in     string
		maxLen int
		want   string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world this is a long string", 10, "hello w..."},
		{"hello", 3, "..."},
		{"", 10, ""},
		{"hello", 4, "h..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.maxLen); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.maxLen, got, tt.want)
		}
	}
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestValidateCode(t *testing.T) {
	valid := []string{"12345678", " 00000000 "}
	invalid := []string{"", "1234567", "123456789", "1234abcd"}
	for _, s := range valid {
		if err := validateCode(s); err != nil {
			t.Errorf("validateCode(%q) = %v, want nil", s, err)
		}
	}
	for _, s := range invalid {
		if err := validateCode(s); err == nil {
			t.Errorf("validateCode(%q) = nil, want error", s)
		}
	}
}

func TestPromptApproval_NothingToAsk(t *testing.T) {
	in := ApprovalInput{Code: "12345678", SecondaryKey: "k"}
	got, err := PromptApproval("Storage", in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != in {
		t.Errorf("got %+v, want %+v", got, in)
	}
}

// =============================================================================
// aleutianTheme Tests
// =============================================================================

func TestAleutianTheme_ReturnsNonNil(t *testing.T) {
	if aleutianTheme() == nil {
		t.Fatal("aleutianTheme returned nil")
	}
}
