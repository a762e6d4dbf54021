// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides the governance API's authentication and
// authorization middleware.
//
// # Authentication Flow
//
//	Request
//	   │
//	   ▼
//	Authenticate ── "Authorization: Bearer <token>" ──► provider.Validate
//	   │
//	   ▼
//	Authorize(action) ── AuthzRequest{user, action, project} ──► authz.Authorize
//	   │
//	   ▼
//	Handler (actor via Actor(c))
//
// With NopAuthProvider every request is the admin "local-user", which keeps
// single-operator deployments free of identity infrastructure.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianGovernance/pkg/extensions"
)

// authInfoKey is the gin context key holding *extensions.AuthInfo.
const authInfoKey = "aleutian_auth_info"

// Actions checked by Authorize.
const (
	ActionProjectWrite = "project.write"
	ActionPlanWrite    = "plan.write"
	ActionPlanApprove  = "plan.approve"
	ActionPlanLock     = "plan.lock"
	ActionDriftRun     = "drift.run"
	ActionRead         = "read"
)

// DefaultRules restricts approval and locking to approvers. Admins pass
// every check; unlisted actions are open to any authenticated user.
func DefaultRules() map[string][]string {
	return map[string][]string{
		ActionPlanApprove: {extensions.RoleApprover},
		ActionPlanLock:    {extensions.RoleApprover},
	}
}

// SetAuthInfo stores the authenticated identity for downstream handlers.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo returns the identity stored by Authenticate, or nil.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if v, ok := c.Get(authInfoKey); ok {
		if info, ok := v.(*extensions.AuthInfo); ok {
			return info
		}
	}
	return nil
}

// Actor returns the authenticated user id, or "anonymous".
func Actor(c *gin.Context) string {
	if info := GetAuthInfo(c); info != nil && info.UserID != "" {
		return info.UserID
	}
	return "anonymous"
}

// Authenticate validates the bearer token with provider and aborts with 401
// on failure.
func Authenticate(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		info, err := provider.Validate(c.Request.Context(), extractBearerToken(c))
		if err != nil {
			msg := "authentication failed"
			if errors.Is(err, extensions.ErrUnauthorized) {
				msg = "unauthorized"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}
		SetAuthInfo(c, info)
		c.Next()
	}
}

// Authorize checks action against authz for the route's project and aborts
// with 403 when refused.
func Authorize(authz extensions.AuthzProvider, action, resourceType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := extensions.AuthzRequest{
			User:         GetAuthInfo(c),
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   c.Param("planId"),
			ProjectID:    c.Param("projectId"),
		}
		if req.ResourceID == "" {
			req.ResourceID = req.ProjectID
		}
		if err := authz.Authorize(c.Request.Context(), req); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// extractBearerToken returns the token of "Authorization: Bearer <token>".
// The scheme is matched case-insensitively.
func extractBearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
