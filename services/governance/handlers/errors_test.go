// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianGovernance/services/governance/activity"
	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
	"github.com/AleutianAI/AleutianGovernance/services/governance/project"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// TestStatusFor verifies the error to HTTP status mapping.
func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"project not found", fmt.Errorf("lookup: %w", datatypes.ErrProjectNotFound), http.StatusNotFound},
		{"plan not found", datatypes.ErrPlanNotFound, http.StatusNotFound},
		{"no active plan", datatypes.ErrNoActivePlan, http.StatusConflict},
		{"invalid state", datatypes.NewInvalidStateError("lock", "plan-1", datatypes.PlanStateDraft, datatypes.PlanStateApproved), http.StatusConflict},
		{"project exists", project.ErrProjectExists, http.StatusConflict},
		{"immutable", datatypes.ErrPlanImmutable, http.StatusLocked},
		{"verification failed", datatypes.ErrVerificationFailed, http.StatusUnauthorized},
		{"expired", datatypes.ErrChallengeExpired, http.StatusGone},
		{"consumed", datatypes.ErrChallengeConsumed, http.StatusGone},
		{"rate limited", datatypes.ErrRateLimited, http.StatusTooManyRequests},
		{"embedding down", fmt.Errorf("embed: %w", datatypes.ErrEmbeddingUnavailable), http.StatusServiceUnavailable},
		{"index down", datatypes.ErrIndexUnavailable, http.StatusServiceUnavailable},
		{"activity down", datatypes.ErrActivityUnavailable, http.StatusServiceUnavailable},
		{"bad project id", project.ErrInvalidProjectID, http.StatusBadRequest},
		{"bad activity", activity.ErrInvalidActivity, http.StatusBadRequest},
		{"integrity", datatypes.ErrIntegrity, http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, msg := statusFor(tt.err)
			assert.Equal(t, tt.want, got)
			assert.NotEmpty(t, msg)
		})
	}
}

func respond(err error) (*httptest.ResponseRecorder, ErrorResponse) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	respondError(c, err)
	var body ErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

// TestRespondError_Bodies verifies which responses carry detail.
func TestRespondError_Bodies(t *testing.T) {
	w, body := respond(fmt.Errorf("%w: ghost", datatypes.ErrProjectNotFound))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"project not found"}`, w.Body.String())

	_, body = respond(datatypes.ErrVerificationFailed)
	assert.Empty(t, body.Detail)

	w, body = respond(fmt.Errorf("embed: %w", datatypes.ErrEmbeddingUnavailable))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.True(t, body.Retryable)
	assert.Contains(t, body.Detail, "embed")

	_, body = respond(datatypes.ErrNoActivePlan)
	assert.False(t, body.Retryable)
	assert.NotEmpty(t, body.Detail)
}

// TestNewPlanView verifies the embedding is summarized and an unset
// approval time is omitted.
func TestNewPlanView(t *testing.T) {
	p := &datatypes.SacredPlan{
		ID:        "plan-1",
		ProjectID: "alpha",
		Title:     "Storage",
		Content:   "Use PostgreSQL.",
		State:     datatypes.PlanStateDraft,
		Embedding: []float32{0.1, 0.2, 0.3},
		CreatedAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	v := NewPlanView(p)
	assert.Equal(t, 3, v.EmbeddingDim)
	assert.Nil(t, v.ApprovedAt)

	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "approved_at")
	assert.NotContains(t, string(data), "0.1")

	p.ApprovedAt = p.CreatedAt.Add(time.Hour)
	v = NewPlanView(p)
	require.NotNil(t, v.ApprovedAt)
	assert.Equal(t, p.ApprovedAt, *v.ApprovedAt)
}
