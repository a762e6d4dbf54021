// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package approval implements two-layer approval of sacred plans.
//
// # Description
//
// Approving a plan needs two factors: a single-use verification code issued
// by RequestApproval, and a secondary key that matches a secret held in the
// SecretStore. Both are compared in constant time on every attempt, and a
// failed attempt reports only ErrVerificationFailed. Every attempt consumes
// the challenge and lands in the hash-chained audit log.
package approval

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
	"github.com/AleutianAI/AleutianGovernance/services/governance/observability"
	"github.com/AleutianAI/AleutianGovernance/services/governance/plan"
)

var tracer = otel.Tracer("aleutian.governance.approval")

const (
	// CodeDigits is the length of a verification code.
	CodeDigits = 8

	// DefaultChallengeTTL is used when Config.ChallengeTTL is zero.
	DefaultChallengeTTL = 15 * time.Minute

	defaultAttemptsPerMinute = 5
)

var codeSpace = big.NewInt(100_000_000)

// Plans is the lifecycle surface the workflow drives.
type Plans interface {
	GetPlan(ctx context.Context, planID string) (*datatypes.SacredPlan, error)
	SubmitForApproval(ctx context.Context, planID string) (*datatypes.SacredPlan, error)
	Approve(ctx context.Context, planID, actor string) (*datatypes.SacredPlan, error)
	Reject(ctx context.Context, planID string) (*datatypes.SacredPlan, error)
	Expire(ctx context.Context, planID string) (*datatypes.SacredPlan, error)
}

// Result is returned by a successful ApprovePlan.
type Result struct {
	Plan       *datatypes.SacredPlan `json:"plan"`
	ApprovedBy string                `json:"approved_by"`
	ApprovedAt time.Time             `json:"approved_at"`
}

// Config wires a Workflow.
type Config struct {
	Plans   Plans
	Secrets SecretStore
	// SecretName is the SecretStore key of the secondary approval secret.
	SecretName string
	Audit      *AuditLog

	ChallengeTTL      time.Duration
	AttemptsPerMinute int

	Metrics *observability.Metrics
	Logger  *slog.Logger

	// Now must return times carrying a monotonic reading; time.Now does.
	Now func() time.Time
	// GenerateCode overrides code generation in tests.
	GenerateCode func() (string, error)
}

type challengeState struct {
	challenge datatypes.VerificationChallenge
	issued    time.Time
	expires   time.Time
}

// Workflow runs the approval protocol.
//
// # Thread Safety
//
// Safe for concurrent use. Calls for one plan are serialized by a per-plan
// mutex, so a challenge is consumed by exactly one attempt.
type Workflow struct {
	plans      Plans
	secrets    SecretStore
	secretName string
	audit      *AuditLog
	ttl        time.Duration
	perMinute  int
	metrics    *observability.Metrics
	logger     *slog.Logger
	now        func() time.Time
	genCode    func() (string, error)

	mu         sync.Mutex
	challenges map[string]*challengeState
	planLocks  map[string]*sync.Mutex
	limiters   map[string]*rate.Limiter
}

// NewWorkflow creates a workflow.
func NewWorkflow(cfg Config) (*Workflow, error) {
	if cfg.Plans == nil || cfg.Secrets == nil || cfg.Audit == nil {
		return nil, errors.New("approval: plans, secrets and audit log are required")
	}
	if cfg.SecretName == "" {
		return nil, errors.New("approval: secret name is required")
	}
	w := &Workflow{
		plans:      cfg.Plans,
		secrets:    cfg.Secrets,
		secretName: cfg.SecretName,
		audit:      cfg.Audit,
		ttl:        cfg.ChallengeTTL,
		perMinute:  cfg.AttemptsPerMinute,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		now:        cfg.Now,
		genCode:    cfg.GenerateCode,
		challenges: make(map[string]*challengeState),
		planLocks:  make(map[string]*sync.Mutex),
		limiters:   make(map[string]*rate.Limiter),
	}
	if w.ttl <= 0 {
		w.ttl = DefaultChallengeTTL
	}
	if w.perMinute <= 0 {
		w.perMinute = defaultAttemptsPerMinute
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.now == nil {
		w.now = time.Now
	}
	if w.genCode == nil {
		w.genCode = generateCode
	}
	return w, nil
}

// generateCode returns CodeDigits decimal digits from crypto/rand.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeDigits, n.Int64()), nil
}

func (w *Workflow) lockPlan(planID string) func() {
	w.mu.Lock()
	m, ok := w.planLocks[planID]
	if !ok {
		m = &sync.Mutex{}
		w.planLocks[planID] = m
	}
	w.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (w *Workflow) limiter(planID string) *rate.Limiter {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.limiters[planID]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(w.perMinute)), w.perMinute)
		w.limiters[planID] = l
	}
	return l
}

func (w *Workflow) consume(st *challengeState) {
	w.mu.Lock()
	st.challenge.Consumed = true
	w.mu.Unlock()
}

func (w *Workflow) dropChallenge(planID string) {
	w.mu.Lock()
	delete(w.challenges, planID)
	w.mu.Unlock()
}

func (w *Workflow) record(ctx context.Context, p *datatypes.SacredPlan, planID, actor, action, outcome, reason string) {
	entry := AuditEntry{PlanID: planID, Actor: actor, Action: action, Outcome: outcome, Reason: reason}
	if p != nil {
		entry.ProjectID = p.ProjectID
	}
	if _, err := w.audit.Append(ctx, entry); err != nil {
		w.logger.Error("approval audit append failed", "plan_id", planID, "action", action, "error", err)
	}
}

// RequestApproval issues a fresh challenge for a DRAFT or PENDING_APPROVAL
// plan, moving a draft to PENDING_APPROVAL. Any earlier challenge for the
// plan is replaced.
func (w *Workflow) RequestApproval(ctx context.Context, planID, actor string) (*datatypes.VerificationChallenge, error) {
	ctx, span := tracer.Start(ctx, "approval.Workflow.RequestApproval")
	defer span.End()
	span.SetAttributes(attribute.String("plan_id", planID))

	unlock := w.lockPlan(planID)
	defer unlock()

	p, err := w.plans.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if p.State != datatypes.PlanStateDraft && p.State != datatypes.PlanStatePendingApproval {
		return nil, datatypes.NewInvalidStateError("request_approval", planID, p.State,
			datatypes.PlanStateDraft, datatypes.PlanStatePendingApproval)
	}
	code, err := w.genCode()
	if err != nil {
		return nil, err
	}
	if p, err = w.plans.SubmitForApproval(ctx, planID); err != nil {
		return nil, err
	}

	issued := w.now()
	st := &challengeState{
		challenge: datatypes.VerificationChallenge{
			PlanID:    planID,
			Code:      code,
			IssuedAt:  issued.UTC(),
			ExpiresAt: issued.Add(w.ttl).UTC(),
		},
		issued:  issued,
		expires: issued.Add(w.ttl),
	}
	w.mu.Lock()
	w.challenges[planID] = st
	w.mu.Unlock()

	w.record(ctx, p, planID, actor, ActionChallengeIssued, OutcomeSuccess, "")
	w.logger.Info("approval challenge issued", "plan_id", planID, "expires_at", st.challenge.ExpiresAt)

	out := st.challenge
	return &out, nil
}

// ApprovePlan completes the approval of a PENDING_APPROVAL plan.
//
// # Description
//
// Replays fail with ErrChallengeConsumed and lapsed challenges with
// ErrChallengeExpired (the plan returns to DRAFT); neither reaches the
// secret comparison. Otherwise the challenge is consumed, the code and the
// secondary key are both compared in constant time, and a mismatch in
// either returns ErrVerificationFailed without saying which.
//
// # Outputs
//
//   - *Result: the APPROVED plan
//   - error: ErrRateLimited, ErrInvalidState, ErrVerificationFailed,
//     ErrChallengeConsumed, ErrChallengeExpired
func (w *Workflow) ApprovePlan(ctx context.Context, planID, code, secondaryKey, actor string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "approval.Workflow.ApprovePlan")
	defer span.End()
	span.SetAttributes(attribute.String("plan_id", planID))

	if !w.limiter(planID).Allow() {
		w.metrics.RecordApproval("rate_limited")
		w.record(ctx, nil, planID, actor, ActionRateLimited, OutcomeBlocked, "")
		return nil, datatypes.ErrRateLimited
	}

	unlock := w.lockPlan(planID)
	defer unlock()

	p, err := w.plans.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if p.State != datatypes.PlanStatePendingApproval {
		w.metrics.RecordApproval("invalid_state")
		return nil, datatypes.NewInvalidStateError("approve", planID, p.State, datatypes.PlanStatePendingApproval)
	}

	w.mu.Lock()
	st := w.challenges[planID]
	w.mu.Unlock()

	if st == nil {
		w.metrics.RecordApproval("failure")
		w.record(ctx, p, planID, actor, ActionApprove, OutcomeFailure, "no challenge")
		return nil, datatypes.ErrVerificationFailed
	}
	if st.challenge.Consumed {
		w.metrics.RecordApproval("replay")
		w.record(ctx, p, planID, actor, ActionApprove, OutcomeBlocked, "challenge consumed")
		return nil, datatypes.ErrChallengeConsumed
	}
	if !w.now().Before(st.expires) {
		w.consume(st)
		w.dropChallenge(planID)
		if _, err := w.plans.Expire(ctx, planID); err != nil {
			w.logger.Warn("expired plan not returned to draft", "plan_id", planID, "error", err)
		}
		w.metrics.RecordApproval("expired")
		w.record(ctx, p, planID, actor, ActionExpire, OutcomeFailure, "challenge expired")
		return nil, datatypes.ErrChallengeExpired
	}

	w.consume(st)

	secret, err := w.secrets.Get(ctx, w.secretName)
	if err != nil {
		w.metrics.RecordApproval("error")
		w.record(ctx, p, planID, actor, ActionApprove, OutcomeError, "secret unavailable")
		return nil, fmt.Errorf("approval secret unavailable: %w", err)
	}
	codeOK := subtle.ConstantTimeCompare([]byte(code), []byte(st.challenge.Code))
	keyOK := subtle.ConstantTimeCompare([]byte(secondaryKey), secret)
	memguard.WipeBytes(secret)

	if codeOK&keyOK != 1 {
		w.metrics.RecordApproval("failure")
		w.record(ctx, p, planID, actor, ActionApprove, OutcomeFailure, "verification failed")
		w.logger.Warn("plan approval failed", "plan_id", planID, "actor", actor)
		return nil, datatypes.ErrVerificationFailed
	}

	approved, err := w.plans.Approve(ctx, planID, actor)
	if err != nil {
		w.metrics.RecordApproval("error")
		w.record(ctx, p, planID, actor, ActionApprove, OutcomeError, err.Error())
		return nil, err
	}
	w.dropChallenge(planID)
	w.metrics.RecordApproval("success")
	w.record(ctx, approved, planID, actor, ActionApprove, OutcomeSuccess, "")
	return &Result{Plan: approved, ApprovedBy: approved.ApprovedBy, ApprovedAt: approved.ApprovedAt}, nil
}

// RejectPlan returns a PENDING_APPROVAL plan to DRAFT and discards its
// challenge.
func (w *Workflow) RejectPlan(ctx context.Context, planID, actor, reason string) (*datatypes.SacredPlan, error) {
	unlock := w.lockPlan(planID)
	defer unlock()

	p, err := w.plans.Reject(ctx, planID)
	if err != nil {
		return nil, err
	}
	w.dropChallenge(planID)
	w.record(ctx, p, planID, actor, ActionReject, OutcomeSuccess, reason)
	return p, nil
}

// HandleTransition discards the challenge of a plan that left
// PENDING_APPROVAL by another path, such as an edit. Register it with
// plan.Service.OnTransition.
func (w *Workflow) HandleTransition(t plan.Transition) {
	if t.From == datatypes.PlanStatePendingApproval && t.Plan.State != datatypes.PlanStatePendingApproval {
		w.dropChallenge(t.Plan.ID)
	}
}

// Forget releases per-plan state, used when a plan's project is deleted.
func (w *Workflow) Forget(planID string) {
	w.mu.Lock()
	delete(w.challenges, planID)
	delete(w.planLocks, planID)
	delete(w.limiters, planID)
	w.mu.Unlock()
}
