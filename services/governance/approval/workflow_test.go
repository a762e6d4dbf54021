// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package approval

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianGovernance/pkg/extensions"
	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
	"github.com/AleutianAI/AleutianGovernance/services/governance/embedding"
	"github.com/AleutianAI/AleutianGovernance/services/governance/plan"
	"github.com/AleutianAI/AleutianGovernance/services/governance/project"
	"github.com/AleutianAI/AleutianGovernance/services/governance/storage"
)

const (
	testSecretName = "APPROVAL_SECRET"
	testSecret     = "correct horse battery staple"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	wf      *Workflow
	plans   *plan.Service
	audit   *AuditLog
	forward *extensions.MemoryAuditLogger
	clock   *fakeClock
	codes   atomic.Int32
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(storage.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	reg := project.NewRegistry(db)
	_, err = reg.CreateProject(ctx, project.CreateRequest{ID: "alpha", Name: "Alpha"})
	require.NoError(t, err)

	h := &harness{
		clock:   &fakeClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
		forward: &extensions.MemoryAuditLogger{},
	}
	h.plans = plan.NewService(plan.Config{
		DB:       db,
		Projects: reg,
		Embedder: embedding.NewHashingProvider(32),
		Now:      h.clock.Now,
	})
	h.audit, err = OpenAuditLog(filepath.Join(t.TempDir(), "audit", "approval.log"), h.forward, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.audit.Close() })

	cfg := Config{
		Plans:             h.plans,
		Secrets:           NewStaticSecretStore(map[string]string{testSecretName: testSecret}),
		SecretName:        testSecretName,
		Audit:             h.audit,
		ChallengeTTL:      15 * time.Minute,
		AttemptsPerMinute: 10,
		Now:               h.clock.Now,
		GenerateCode: func() (string, error) {
			return fmt.Sprintf("%08d", 12345670+h.codes.Add(1)), nil
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.wf, err = NewWorkflow(cfg)
	require.NoError(t, err)
	h.plans.OnTransition(h.wf.HandleTransition)
	return h
}

func (h *harness) draft(t *testing.T) *datatypes.SacredPlan {
	t.Helper()
	h.clock.Advance(time.Millisecond)
	p, err := h.plans.CreatePlan(context.Background(), "alpha", plan.CreateRequest{Title: "Storage", Content: "Use PostgreSQL."})
	require.NoError(t, err)
	return p
}

// TestNewWorkflow_Validation verifies required collaborators.
func TestNewWorkflow_Validation(t *testing.T) {
	_, err := NewWorkflow(Config{})
	assert.Error(t, err)
}

// TestGenerateCode verifies codes are eight digits.
func TestGenerateCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		assert.Regexp(t, `^[0-9]{8}$`, code)
	}
}

// TestApprove_Success verifies the full request/approve flow and its audit trail.
func TestApprove_Success(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	p := h.draft(t)

	ch, err := h.wf.RequestApproval(ctx, p.ID, "alice")
	require.NoError(t, err)
	assert.Len(t, ch.Code, CodeDigits)
	assert.Equal(t, 15*time.Minute, ch.ExpiresAt.Sub(ch.IssuedAt))

	pending, err := h.plans.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.PlanStatePendingApproval, pending.State)

	res, err := h.wf.ApprovePlan(ctx, p.ID, ch.Code, testSecret, "alice")
	require.NoError(t, err)
	assert.Equal(t, datatypes.PlanStateApproved, res.Plan.State)
	assert.Equal(t, "alice", res.ApprovedBy)
	assert.False(t, res.ApprovedAt.IsZero())

	valid, idx, err := h.audit.VerifyChain()
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Equal(t, int64(-1), idx)

	entries, err := ReadAuditEntries(h.audit.Path())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ActionChallengeIssued, entries[0].Action)
	assert.Equal(t, ActionApprove, entries[1].Action)
	assert.Equal(t, OutcomeSuccess, entries[1].Outcome)
	assert.Equal(t, "alpha", entries[1].ProjectID)

	events := h.forward.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "plan.approve", events[1].EventType)

	_, err = h.wf.ApprovePlan(ctx, p.ID, ch.Code, testSecret, "alice")
	assert.ErrorIs(t, err, datatypes.ErrInvalidState)
}

// TestApprove_FailuresAreIndistinguishable verifies wrong code and wrong key fail identically.
func TestApprove_FailuresAreIndistinguishable(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	p1 := h.draft(t)
	ch1, err := h.wf.RequestApproval(ctx, p1.ID, "alice")
	require.NoError(t, err)
	_, errCode := h.wf.ApprovePlan(ctx, p1.ID, "00000000", testSecret, "alice")

	p2 := h.draft(t)
	ch2, err := h.wf.RequestApproval(ctx, p2.ID, "alice")
	require.NoError(t, err)
	_, errKey := h.wf.ApprovePlan(ctx, p2.ID, ch2.Code, "wrong key", "alice")

	require.ErrorIs(t, errCode, datatypes.ErrVerificationFailed)
	require.ErrorIs(t, errKey, datatypes.ErrVerificationFailed)
	assert.Equal(t, errCode.Error(), errKey.Error())
	assert.NotContains(t, errKey.Error(), testSecret)

	// Both challenges are spent even though the right values now arrive.
	_, err = h.wf.ApprovePlan(ctx, p1.ID, ch1.Code, testSecret, "alice")
	assert.ErrorIs(t, err, datatypes.ErrChallengeConsumed)
	_, err = h.wf.ApprovePlan(ctx, p2.ID, ch2.Code, testSecret, "alice")
	assert.ErrorIs(t, err, datatypes.ErrChallengeConsumed)

	got, err := h.plans.GetPlan(ctx, p1.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.PlanStatePendingApproval, got.State)

	entries, err := ReadAuditEntries(h.audit.Path())
	require.NoError(t, err)
	failures := 0
	for _, e := range entries {
		if e.Action == ActionApprove && e.Outcome == OutcomeFailure {
			failures++
		}
	}
	assert.Equal(t, 2, failures)
}

// TestApprove_Expired verifies a lapsed challenge fails and re-drafts the plan.
func TestApprove_Expired(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	p := h.draft(t)

	ch, err := h.wf.RequestApproval(ctx, p.ID, "alice")
	require.NoError(t, err)
	h.clock.Advance(15 * time.Minute)

	_, err = h.wf.ApprovePlan(ctx, p.ID, ch.Code, testSecret, "alice")
	assert.ErrorIs(t, err, datatypes.ErrChallengeExpired)

	got, err := h.plans.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.PlanStateDraft, got.State)

	ch2, err := h.wf.RequestApproval(ctx, p.ID, "alice")
	require.NoError(t, err)
	_, err = h.wf.ApprovePlan(ctx, p.ID, ch2.Code, testSecret, "alice")
	assert.NoError(t, err)
}

// TestRequestApproval_ReplacesChallenge verifies a re-request invalidates the earlier code.
func TestRequestApproval_ReplacesChallenge(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	p := h.draft(t)

	first, err := h.wf.RequestApproval(ctx, p.ID, "alice")
	require.NoError(t, err)
	second, err := h.wf.RequestApproval(ctx, p.ID, "alice")
	require.NoError(t, err)
	require.NotEqual(t, first.Code, second.Code)

	_, err = h.wf.ApprovePlan(ctx, p.ID, first.Code, testSecret, "alice")
	assert.ErrorIs(t, err, datatypes.ErrVerificationFailed)
}

// TestApprove_InvalidStates verifies state checks on both operations.
func TestApprove_InvalidStates(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	p := h.draft(t)

	_, err := h.wf.ApprovePlan(ctx, p.ID, "12345678", testSecret, "alice")
	assert.ErrorIs(t, err, datatypes.ErrInvalidState)

	ch, err := h.wf.RequestApproval(ctx, p.ID, "alice")
	require.NoError(t, err)
	_, err = h.wf.ApprovePlan(ctx, p.ID, ch.Code, testSecret, "alice")
	require.NoError(t, err)

	_, err = h.wf.RequestApproval(ctx, p.ID, "alice")
	var ise *datatypes.InvalidStateError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, datatypes.PlanStateApproved, ise.Current)

	_, err = h.wf.RequestApproval(ctx, "sacred-missing", "alice")
	assert.ErrorIs(t, err, datatypes.ErrPlanNotFound)
}

// TestApprove_EditDiscardsChallenge verifies editing a pending plan invalidates its code.
func TestApprove_EditDiscardsChallenge(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	p := h.draft(t)

	ch, err := h.wf.RequestApproval(ctx, p.ID, "alice")
	require.NoError(t, err)
	_, err = h.plans.UpdatePlan(ctx, p.ID, plan.UpdateRequest{Content: "Use PostgreSQL 16."})
	require.NoError(t, err)

	_, err = h.wf.ApprovePlan(ctx, p.ID, ch.Code, testSecret, "alice")
	assert.ErrorIs(t, err, datatypes.ErrInvalidState)

	_, err = h.plans.SubmitForApproval(ctx, p.ID)
	require.NoError(t, err)
	_, err = h.wf.ApprovePlan(ctx, p.ID, ch.Code, testSecret, "alice")
	assert.ErrorIs(t, err, datatypes.ErrVerificationFailed)
}

// TestRejectPlan verifies rejection returns the plan to DRAFT and drops the code.
func TestRejectPlan(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	p := h.draft(t)

	ch, err := h.wf.RequestApproval(ctx, p.ID, "alice")
	require.NoError(t, err)
	got, err := h.wf.RejectPlan(ctx, p.ID, "bob", "needs a migration section")
	require.NoError(t, err)
	assert.Equal(t, datatypes.PlanStateDraft, got.State)

	_, err = h.wf.RejectPlan(ctx, p.ID, "bob", "again")
	assert.ErrorIs(t, err, datatypes.ErrInvalidState)

	_, err = h.wf.RequestApproval(ctx, p.ID, "alice")
	require.NoError(t, err)
	_, err = h.wf.ApprovePlan(ctx, p.ID, ch.Code, testSecret, "alice")
	assert.ErrorIs(t, err, datatypes.ErrVerificationFailed)
}

// TestApprove_RateLimited verifies attempts beyond the per-plan limit are refused.
func TestApprove_RateLimited(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.AttemptsPerMinute = 1 })
	ctx := context.Background()
	p := h.draft(t)

	_, err := h.wf.RequestApproval(ctx, p.ID, "alice")
	require.NoError(t, err)
	_, err = h.wf.ApprovePlan(ctx, p.ID, "00000000", "x", "mallory")
	assert.ErrorIs(t, err, datatypes.ErrVerificationFailed)
	_, err = h.wf.ApprovePlan(ctx, p.ID, "00000001", "x", "mallory")
	assert.ErrorIs(t, err, datatypes.ErrRateLimited)
}

// TestApprove_ConcurrentSingleSuccess verifies one code yields exactly one approval.
func TestApprove_ConcurrentSingleSuccess(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	p := h.draft(t)
	ch, err := h.wf.RequestApproval(ctx, p.ID, "alice")
	require.NoError(t, err)

	const n = 8
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.wf.ApprovePlan(ctx, p.ID, ch.Code, testSecret, "alice"); err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), successes.Load())
}

// TestApprove_SecretMissing verifies a missing secret fails closed.
func TestApprove_SecretMissing(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Secrets = NewStaticSecretStore(nil) })
	ctx := context.Background()
	p := h.draft(t)
	ch, err := h.wf.RequestApproval(ctx, p.ID, "alice")
	require.NoError(t, err)

	_, err = h.wf.ApprovePlan(ctx, p.ID, ch.Code, testSecret, "alice")
	assert.ErrorIs(t, err, ErrSecretNotFound)
	got, err := h.plans.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.PlanStatePendingApproval, got.State)
}
