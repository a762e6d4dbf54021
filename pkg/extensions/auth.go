// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when a token is missing or invalid.
var ErrUnauthorized = errors.New("unauthorized")

// ErrForbidden is returned when an authenticated user may not act.
var ErrForbidden = errors.New("forbidden")

// Roles understood by the governance service.
const (
	RoleAdmin    = "admin"
	RoleApprover = "approver"
	RoleViewer   = "viewer"
)

// AuthInfo is the identity behind a request.
type AuthInfo struct {
	// UserID is the only required field. It is recorded as the approver
	// and in every audit entry.
	UserID string

	Email string
	Roles []string

	// Metadata holds provider-specific claims.
	Metadata map[string]string
}

// HasRole reports whether the user holds role.
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates bearer tokens.
type AuthProvider interface {
	// Validate returns the token's identity or an error wrapping
	// ErrUnauthorized.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// AuthzRequest describes one permission check.
type AuthzRequest struct {
	User         *AuthInfo
	Action       string
	ResourceType string
	ResourceID   string
	ProjectID    string
}

// AuthzProvider decides whether a user may perform an action.
type AuthzProvider interface {
	// Authorize returns nil when allowed, or an error wrapping ErrForbidden.
	Authorize(ctx context.Context, req AuthzRequest) error
}

// NopAuthProvider accepts any token as the local operator.
type NopAuthProvider struct{}

func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID: "local-user",
		Roles:  []string{RoleAdmin},
	}, nil
}

// NopAuthzProvider allows every action.
type NopAuthzProvider struct{}

func (p *NopAuthzProvider) Authorize(_ context.Context, _ AuthzRequest) error {
	return nil
}

// StaticTokenProvider accepts a single shared bearer token. The comparison
// is constant time.
type StaticTokenProvider struct {
	token  []byte
	userID string
	roles  []string
}

// NewStaticTokenProvider creates a provider for token. userID and roles are
// attached to every successful validation.
func NewStaticTokenProvider(token, userID string, roles ...string) *StaticTokenProvider {
	if userID == "" {
		userID = "operator"
	}
	if len(roles) == 0 {
		roles = []string{RoleAdmin}
	}
	return &StaticTokenProvider{token: []byte(token), userID: userID, roles: roles}
}

func (p *StaticTokenProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if len(p.token) == 0 || subtle.ConstantTimeCompare([]byte(token), p.token) != 1 {
		return nil, fmt.Errorf("invalid bearer token: %w", ErrUnauthorized)
	}
	return &AuthInfo{UserID: p.userID, Roles: append([]string(nil), p.roles...)}, nil
}

// RoleAuthzProvider maps actions to the roles allowed to perform them.
// Admins may do anything. Actions without an entry are allowed.
type RoleAuthzProvider struct {
	Rules map[string][]string
}

func (p *RoleAuthzProvider) Authorize(_ context.Context, req AuthzRequest) error {
	if req.User == nil {
		return fmt.Errorf("%s: no identity: %w", req.Action, ErrForbidden)
	}
	if req.User.HasRole(RoleAdmin) {
		return nil
	}
	allowed, ok := p.Rules[req.Action]
	if !ok {
		return nil
	}
	for _, role := range allowed {
		if req.User.HasRole(role) {
			return nil
		}
	}
	return fmt.Errorf("%s on %s %s by %s: %w", req.Action, req.ResourceType, req.ResourceID, req.User.UserID, ErrForbidden)
}

var (
	_ AuthProvider  = (*NopAuthProvider)(nil)
	_ AuthProvider  = (*StaticTokenProvider)(nil)
	_ AuthzProvider = (*NopAuthzProvider)(nil)
	_ AuthzProvider = (*RoleAuthzProvider)(nil)
)
