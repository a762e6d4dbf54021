// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaultOptions verifies every extension point has a no-op default.
func TestDefaultOptions(t *testing.T) {
	opts := ServiceOptions{}.Normalize()
	require.NotNil(t, opts.AuthProvider)
	require.NotNil(t, opts.AuthzProvider)
	require.NotNil(t, opts.AuditLogger)

	info, err := opts.AuthProvider.Validate(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, info.HasRole(RoleAdmin))
	assert.NoError(t, opts.AuthzProvider.Authorize(context.Background(), AuthzRequest{Action: "approve"}))
}

// TestServiceOptions_With verifies the fluent setters replace one field each.
func TestServiceOptions_With(t *testing.T) {
	audit := &MemoryAuditLogger{}
	opts := DefaultOptions().WithAudit(audit).WithAuth(NewStaticTokenProvider("t", ""))
	assert.Same(t, audit, opts.AuditLogger)
	_, ok := opts.AuthProvider.(*StaticTokenProvider)
	assert.True(t, ok)
}

// TestStaticTokenProvider verifies token matching.
func TestStaticTokenProvider(t *testing.T) {
	p := NewStaticTokenProvider("secret-token", "ops", RoleApprover)
	ctx := context.Background()

	info, err := p.Validate(ctx, "secret-token")
	require.NoError(t, err)
	assert.Equal(t, "ops", info.UserID)
	assert.True(t, info.HasRole(RoleApprover))

	for _, tok := range []string{"", "secret", "secret-token2"} {
		_, err := p.Validate(ctx, tok)
		assert.ErrorIs(t, err, ErrUnauthorized, tok)
	}

	_, err = NewStaticTokenProvider("", "").Validate(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

// TestRoleAuthzProvider verifies role rules.
func TestRoleAuthzProvider(t *testing.T) {
	p := &RoleAuthzProvider{Rules: map[string][]string{"approve": {RoleApprover}}}
	ctx := context.Background()

	tests := []struct {
		name    string
		user    *AuthInfo
		action  string
		allowed bool
	}{
		{"admin", &AuthInfo{UserID: "a", Roles: []string{RoleAdmin}}, "approve", true},
		{"approver", &AuthInfo{UserID: "b", Roles: []string{RoleApprover}}, "approve", true},
		{"viewer", &AuthInfo{UserID: "c", Roles: []string{RoleViewer}}, "approve", false},
		{"unruled action", &AuthInfo{UserID: "c", Roles: []string{RoleViewer}}, "read", true},
		{"no identity", nil, "read", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Authorize(ctx, AuthzRequest{User: tt.user, Action: tt.action, ResourceType: "plan"})
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrForbidden)
			}
		})
	}
}

// TestMemoryAuditLogger verifies events are kept with timestamps.
func TestMemoryAuditLogger(t *testing.T) {
	l := &MemoryAuditLogger{}
	require.NoError(t, l.Log(context.Background(), AuditEvent{EventType: "plan.approve", Outcome: "success"}))
	require.NoError(t, l.Flush(context.Background()))

	events := l.Events()
	require.Len(t, events, 1)
	assert.False(t, events[0].Timestamp.IsZero())
	assert.NoError(t, (&NopAuditLogger{}).Log(context.Background(), AuditEvent{}))
}
