// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/AleutianGovernance/pkg/extensions"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(auth extensions.AuthProvider, authz extensions.AuthzProvider, action string) *gin.Engine {
	r := gin.New()
	r.Use(Authenticate(auth))
	r.POST("/v1/projects/:projectId/plans/:planId/approve",
		Authorize(authz, action, "plan"),
		func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"actor": Actor(c)}) })
	return r
}

// TestAuthenticate verifies bearer token handling.
func TestAuthenticate(t *testing.T) {
	provider := extensions.NewStaticTokenProvider("s3cret", "alice", extensions.RoleApprover)
	r := newTestRouter(provider, &extensions.NopAuthzProvider{}, ActionPlanApprove)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic s3cret", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer s3cret", http.StatusOK},
		{"case-insensitive scheme", "bearer s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/v1/projects/p1/plans/x/approve", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.Contains(t, w.Body.String(), `"actor":"alice"`)
			}
		})
	}
}

// TestAuthorize verifies role rules are enforced per action.
func TestAuthorize(t *testing.T) {
	authz := &extensions.RoleAuthzProvider{Rules: DefaultRules()}

	viewer := newTestRouter(extensions.NewStaticTokenProvider("t", "bob", extensions.RoleViewer), authz, ActionPlanApprove)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/projects/p1/plans/x/approve", nil)
	req.Header.Set("Authorization", "Bearer t")
	viewer.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	reader := newTestRouter(extensions.NewStaticTokenProvider("t", "bob", extensions.RoleViewer), authz, ActionRead)
	w = httptest.NewRecorder()
	reader.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	local := newTestRouter(&extensions.NopAuthProvider{}, authz, ActionPlanApprove)
	w = httptest.NewRecorder()
	local.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/projects/p1/plans/x/approve", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
