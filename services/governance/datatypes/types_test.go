// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewPlanID verifies the prefix, fixed length and determinism of plan ids.
func TestNewPlanID(t *testing.T) {
	at := time.Unix(1700000000, 42)

	id := NewPlanID("p1", "DB", "DB uses Postgres", at)
	assert.True(t, strings.HasPrefix(id, PlanIDPrefix))
	assert.Len(t, id, len(PlanIDPrefix)+planIDHashLen)
	assert.Equal(t, id, NewPlanID("p1", "DB", "DB uses Postgres", at))
	assert.NotEqual(t, id, NewPlanID("p2", "DB", "DB uses Postgres", at))
	assert.NotEqual(t, id, NewPlanID("p1", "DB", "DB uses Postgres", at.Add(time.Nanosecond)))
}

// TestThresholds_Classify verifies boundaries are inclusive and evaluated highest first.
func TestThresholds_Classify(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		score float64
		want  DriftStatus
	}{
		{1.0, DriftAligned},
		{0.8, DriftAligned},
		{0.79, DriftMinor},
		{0.6, DriftMinor},
		{0.59, DriftModerate},
		{0.3, DriftModerate},
		{0.29, DriftCriticalViolation},
		{0, DriftCriticalViolation},
		{-1, DriftCriticalViolation},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.2f", tt.score), func(t *testing.T) {
			assert.Equal(t, tt.want, th.Classify(tt.score))
		})
	}
}

// TestThresholds_ClassifyMonotonic verifies a higher score never yields a worse status.
func TestThresholds_ClassifyMonotonic(t *testing.T) {
	th := Thresholds{Aligned: 0.9, Minor: 0.5, Moderate: 0.1}
	prev := th.Classify(-1)
	for s := -1.0; s <= 1.0; s += 0.01 {
		cur := th.Classify(s)
		require.LessOrEqual(t, cur.Rank(), prev.Rank(), "score %.2f", s)
		prev = cur
	}
}

// TestThresholds_Validate verifies thresholds must be strictly descending.
func TestThresholds_Validate(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())
	assert.Error(t, Thresholds{Aligned: 0.6, Minor: 0.6, Moderate: 0.3}.Validate())
	assert.Error(t, Thresholds{Aligned: 0.8, Minor: 0.2, Moderate: 0.3}.Validate())
}

// TestInvalidStateError verifies the typed error matches the sentinel.
func TestInvalidStateError(t *testing.T) {
	err := fmt.Errorf("wrap: %w", NewInvalidStateError("lock", "sacred-1", PlanStateDraft, PlanStateApproved))

	assert.True(t, errors.Is(err, ErrInvalidState))
	var ise *InvalidStateError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, PlanStateDraft, ise.Current)
	assert.Contains(t, err.Error(), "expected APPROVED")
}

// TestIsRetryable verifies only infrastructure errors are retryable.
func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("x: %w", ErrEmbeddingUnavailable)))
	assert.True(t, IsRetryable(ErrIndexUnavailable))
	assert.True(t, IsRetryable(ErrActivityUnavailable))
	assert.False(t, IsRetryable(ErrProjectNotFound))
	assert.False(t, IsRetryable(ErrNoActivePlan))
}

// TestPlanState_IsFrozen verifies which states are immutable.
func TestPlanState_IsFrozen(t *testing.T) {
	assert.False(t, PlanStateDraft.IsFrozen())
	assert.False(t, PlanStatePendingApproval.IsFrozen())
	assert.True(t, PlanStateApproved.IsFrozen())
	assert.True(t, PlanStateLocked.IsFrozen())
	assert.True(t, PlanStateDeprecated.IsFrozen())
}

// TestSacredPlan_Clone verifies the embedding is not shared.
func TestSacredPlan_Clone(t *testing.T) {
	p := &SacredPlan{ID: "sacred-1", Embedding: []float32{1, 2}}
	c := p.Clone()
	c.Embedding[0] = 9
	assert.Equal(t, float32(1), p.Embedding[0])
}
