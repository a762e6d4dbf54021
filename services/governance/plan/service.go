// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package plan stores sacred plans and enforces their lifecycle.
//
// # Description
//
// Plans are persisted in badger. Every state change runs inside one badger
// transaction, so the lock swap (new plan LOCKED, previous plan DEPRECATED)
// is atomic and two concurrent locks on one project cannot both commit.
//
// Title, content and embedding are written only while a plan is DRAFT or
// PENDING_APPROVAL. After approval the ContentHash records them and
// VerifyIntegrity can prove they were not altered.
package plan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/tmc/langchaingo/textsplitter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
	"github.com/AleutianAI/AleutianGovernance/services/governance/embedding"
	"github.com/AleutianAI/AleutianGovernance/services/governance/observability"
	"github.com/AleutianAI/AleutianGovernance/services/governance/project"
	"github.com/AleutianAI/AleutianGovernance/services/governance/storage"
)

var tracer = otel.Tracer("aleutian.governance.plan")

const (
	chunkSize    = 1000
	chunkOverlap = chunkSize / 10

	// MetadataPlanKey tags index chunks with their source plan.
	MetadataPlanKey = "plan_id"
)

// CreateRequest describes a new draft plan.
type CreateRequest struct {
	Title      string `json:"title" binding:"required"`
	Content    string `json:"content" binding:"required"`
	Supersedes string `json:"supersedes,omitempty"`
}

// UpdateRequest replaces a draft's title and content. Empty fields keep
// their current value.
type UpdateRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Transition is delivered to listeners after a state change commits.
type Transition struct {
	Plan  *datatypes.SacredPlan
	From  datatypes.PlanState
	Event Event
}

// TransitionFunc observes committed transitions.
type TransitionFunc func(Transition)

// Resolver is the part of the project router used to index locked plans.
type Resolver interface {
	Resolve(ctx context.Context, projectID string) (project.IndexHandle, error)
}

// Config wires a Service.
type Config struct {
	DB       *storage.DB
	Projects project.Lookup
	Embedder embedding.Provider
	// Resolver is optional. When set, locked plans are chunked and indexed
	// into their project's partition.
	Resolver Resolver
	Metrics  *observability.Metrics
	Logger   *slog.Logger
	Now      func() time.Time
}

// Service owns plan persistence and lifecycle.
//
// # Thread Safety
//
// Safe for concurrent use. Conflicting transactions are retried by the
// storage layer and re-validate state on every attempt.
type Service struct {
	db        *storage.DB
	projects  project.Lookup
	embedder  embedding.Provider
	resolver  Resolver
	metrics   *observability.Metrics
	logger    *slog.Logger
	now       func() time.Time
	splitter  textsplitter.TextSplitter
	listenMu  sync.RWMutex
	listeners []TransitionFunc
}

// NewService creates a plan service.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		db:       cfg.DB,
		projects: cfg.Projects,
		embedder: cfg.Embedder,
		resolver: cfg.Resolver,
		metrics:  cfg.Metrics,
		logger:   logger,
		now:      now,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithSeparators([]string{"\n## ", "\n### ", "\n\n", "\n", " ", ""}),
		),
	}
}

// OnTransition registers fn for every committed transition.
func (s *Service) OnTransition(fn TransitionFunc) {
	s.listenMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenMu.Unlock()
}

func (s *Service) notify(ts []Transition) {
	s.listenMu.RLock()
	listeners := append([]TransitionFunc(nil), s.listeners...)
	s.listenMu.RUnlock()
	for _, t := range ts {
		s.metrics.RecordTransition(string(t.From), string(t.Plan.State))
		s.logger.Info("plan transition",
			"plan_id", t.Plan.ID,
			"project_id", t.Plan.ProjectID,
			"event", string(t.Event),
			"from", string(t.From),
			"to", string(t.Plan.State))
		for _, fn := range listeners {
			fn(t)
		}
	}
}

func planText(title, content string) string {
	return title + "\n\n" + content
}

// =============================================================================
// Queries
// =============================================================================

// GetPlan returns a copy of the plan.
func (s *Service) GetPlan(ctx context.Context, planID string) (*datatypes.SacredPlan, error) {
	var p *datatypes.SacredPlan
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		var err error
		p, err = loadPlan(txn, planID)
		return err
	})
	return p, err
}

// ListPlans returns the project's plans ordered by creation time.
func (s *Service) ListPlans(ctx context.Context, projectID string) ([]*datatypes.SacredPlan, error) {
	if _, err := s.projects.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	var out []*datatypes.SacredPlan
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		var err error
		out, err = plansForProject(txn, projectID)
		return err
	})
	return out, err
}

// LockedPlan returns the project's single LOCKED plan.
//
// # Outputs
//
//   - error: ErrProjectNotFound, ErrNoActivePlan, or ErrIntegrity if more
//     than one plan is LOCKED
func (s *Service) LockedPlan(ctx context.Context, projectID string) (*datatypes.SacredPlan, error) {
	if _, err := s.projects.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	var p *datatypes.SacredPlan
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		var err error
		p, err = lockedInTxn(txn, projectID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", datatypes.ErrNoActivePlan, projectID)
	}
	return p, nil
}

// LockedProjects returns the ids of projects that currently have a LOCKED
// plan, in key order.
func (s *Service) LockedProjects(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		for _, key := range storage.KeysWithPrefix(txn, lockKeyPrefix) {
			ids = append(ids, strings.TrimPrefix(key, lockKeyPrefix))
		}
		return nil
	})
	return ids, err
}

// =============================================================================
// Authoring
// =============================================================================

// CreatePlan persists a new DRAFT plan with its embedding.
//
// # Description
//
// The embedding is computed before anything is written. If the provider is
// unavailable the call fails with ErrEmbeddingUnavailable and no plan is
// stored. When Supersedes is set it must name an APPROVED or LOCKED plan
// of the same project.
func (s *Service) CreatePlan(ctx context.Context, projectID string, req CreateRequest) (*datatypes.SacredPlan, error) {
	ctx, span := tracer.Start(ctx, "plan.Service.CreatePlan")
	defer span.End()
	span.SetAttributes(attribute.String("project_id", projectID))

	if _, err := s.projects.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(req.Title)
	if title == "" || strings.TrimSpace(req.Content) == "" {
		return nil, errors.New("plan title and content are required")
	}

	vec, err := s.embedder.Embed(ctx, planText(title, req.Content))
	if err != nil {
		return nil, fmt.Errorf("embed plan: %w", err)
	}

	created := s.now().UTC()
	p := &datatypes.SacredPlan{
		ID:         datatypes.NewPlanID(projectID, title, req.Content, created),
		ProjectID:  projectID,
		Title:      title,
		Content:    req.Content,
		Embedding:  vec,
		State:      datatypes.PlanStateDraft,
		CreatedAt:  created,
		UpdatedAt:  created,
		Supersedes: req.Supersedes,
	}

	err = s.db.Update(ctx, func(txn *badger.Txn) error {
		if req.Supersedes != "" {
			old, err := loadPlan(txn, req.Supersedes)
			if err != nil {
				return err
			}
			if old.ProjectID != projectID {
				return fmt.Errorf("%w: %s belongs to another project", datatypes.ErrPlanNotFound, old.ID)
			}
			if err := CanTransition(old, EventSupersede); err != nil {
				return err
			}
		}
		return savePlan(txn, p)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("plan created", "plan_id", p.ID, "project_id", projectID, "supersedes", p.Supersedes)
	return p.Clone(), nil
}

// UpdatePlan edits a DRAFT or PENDING_APPROVAL plan and re-embeds it. A
// pending plan returns to DRAFT, which invalidates any open challenge.
// Frozen plans fail with ErrPlanImmutable.
func (s *Service) UpdatePlan(ctx context.Context, planID string, req UpdateRequest) (*datatypes.SacredPlan, error) {
	current, err := s.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if current.State.IsFrozen() {
		return nil, fmt.Errorf("%w: %s is %s", datatypes.ErrPlanImmutable, planID, current.State)
	}

	title := current.Title
	if t := strings.TrimSpace(req.Title); t != "" {
		title = t
	}
	content := current.Content
	if req.Content != "" {
		content = req.Content
	}
	vec, err := s.embedder.Embed(ctx, planText(title, content))
	if err != nil {
		return nil, fmt.Errorf("embed plan: %w", err)
	}

	var (
		out   *datatypes.SacredPlan
		fired []Transition
	)
	err = s.db.Update(ctx, func(txn *badger.Txn) error {
		fired = nil
		p, err := loadPlan(txn, planID)
		if err != nil {
			return err
		}
		if p.State.IsFrozen() {
			return fmt.Errorf("%w: %s is %s", datatypes.ErrPlanImmutable, planID, p.State)
		}
		from := p.State
		p.Title = title
		p.Content = content
		p.Embedding = vec
		p.UpdatedAt = s.now().UTC()
		if from == datatypes.PlanStatePendingApproval {
			p.State = datatypes.PlanStateDraft
			fired = append(fired, Transition{Plan: p.Clone(), From: from, Event: EventReject})
		}
		out = p
		return savePlan(txn, p)
	})
	if err != nil {
		return nil, err
	}
	s.notify(fired)
	return out.Clone(), nil
}

// DeleteProjectPlans removes every plan and the lock pointer of a project.
func (s *Service) DeleteProjectPlans(ctx context.Context, projectID string) error {
	return s.db.Update(ctx, func(txn *badger.Txn) error {
		plans, err := plansForProject(txn, projectID)
		if err != nil {
			return err
		}
		for _, p := range plans {
			if err := deletePlan(txn, p); err != nil {
				return err
			}
		}
		return storage.Delete(txn, lockKey(projectID))
	})
}

// =============================================================================
// Lifecycle
// =============================================================================

// SubmitForApproval moves a DRAFT plan to PENDING_APPROVAL. A plan already
// pending is returned unchanged.
func (s *Service) SubmitForApproval(ctx context.Context, planID string) (*datatypes.SacredPlan, error) {
	return s.apply(ctx, planID, EventSubmit, func(p *datatypes.SacredPlan) (bool, error) {
		if p.State == datatypes.PlanStatePendingApproval {
			return false, nil
		}
		return true, nil
	})
}

// Reject returns a PENDING_APPROVAL plan to DRAFT.
func (s *Service) Reject(ctx context.Context, planID string) (*datatypes.SacredPlan, error) {
	return s.apply(ctx, planID, EventReject, nil)
}

// Expire returns a PENDING_APPROVAL plan to DRAFT after its challenge
// lapsed.
func (s *Service) Expire(ctx context.Context, planID string) (*datatypes.SacredPlan, error) {
	return s.apply(ctx, planID, EventExpire, nil)
}

// Approve moves a PENDING_APPROVAL plan to APPROVED and freezes it.
//
// # Description
//
// Only the approval workflow calls this, after both verification layers
// passed. The content hash is recorded here. If the plan supersedes an
// APPROVED plan, that plan is DEPRECATED in the same transaction.
//
// A LOCKED predecessor is not deprecated here: it only gets SupersededBy set
// and stays LOCKED as the project's drift baseline. LockPlan of this plan
// deprecates it, so the project always holds exactly one LOCKED plan between
// the two steps.
func (s *Service) Approve(ctx context.Context, planID, actor string) (*datatypes.SacredPlan, error) {
	var (
		out   *datatypes.SacredPlan
		fired []Transition
	)
	err := s.db.Update(ctx, func(txn *badger.Txn) error {
		fired = nil
		p, err := loadPlan(txn, planID)
		if err != nil {
			return err
		}
		if err := CanTransition(p, EventApprove); err != nil {
			return err
		}
		now := s.now().UTC()
		from := p.State
		p.State = Target(EventApprove)
		p.ApprovedBy = actor
		p.ApprovedAt = now
		p.UpdatedAt = now
		p.ContentHash = datatypes.ComputeContentHash(p.Title, p.Content, p.Embedding)
		if err := savePlan(txn, p); err != nil {
			return err
		}
		fired = append(fired, Transition{Plan: p.Clone(), From: from, Event: EventApprove})

		if p.Supersedes != "" {
			old, err := loadPlan(txn, p.Supersedes)
			switch {
			case errors.Is(err, datatypes.ErrPlanNotFound):
				// Predecessor deleted since creation; the reference stays.
			case err != nil:
				return err
			case old.State == datatypes.PlanStateApproved:
				oldFrom := old.State
				old.State = Target(EventSupersede)
				old.SupersededBy = p.ID
				old.UpdatedAt = now
				if err := savePlan(txn, old); err != nil {
					return err
				}
				fired = append(fired, Transition{Plan: old.Clone(), From: oldFrom, Event: EventSupersede})
			case old.State == datatypes.PlanStateLocked:
				old.SupersededBy = p.ID
				if err := savePlan(txn, old); err != nil {
					return err
				}
			}
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(fired)
	return out.Clone(), nil
}

// LockPlan makes an APPROVED plan the project's drift baseline.
//
// # Description
//
// In one transaction: the project's current LOCKED plan (if any) becomes
// DEPRECATED, the target becomes LOCKED, and the lock pointer moves. If the
// project is found with more than one LOCKED plan the operation aborts with
// ErrIntegrity and nothing is written.
//
// After commit the plan is chunked and indexed into the project partition
// when a Resolver is configured. Indexing failures are logged; the lock
// stands.
func (s *Service) LockPlan(ctx context.Context, planID string) (*datatypes.SacredPlan, error) {
	ctx, span := tracer.Start(ctx, "plan.Service.LockPlan")
	defer span.End()
	span.SetAttributes(attribute.String("plan_id", planID))

	var (
		out   *datatypes.SacredPlan
		fired []Transition
	)
	err := s.db.Update(ctx, func(txn *badger.Txn) error {
		fired = nil
		p, err := loadPlan(txn, planID)
		if err != nil {
			return err
		}
		if err := CanTransition(p, EventLock); err != nil {
			return err
		}
		prev, err := lockedInTxn(txn, p.ProjectID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if prev != nil {
			prevFrom := prev.State
			prev.State = Target(EventSupersede)
			prev.UpdatedAt = now
			if prev.SupersededBy == "" {
				prev.SupersededBy = p.ID
			}
			if err := savePlan(txn, prev); err != nil {
				return err
			}
			fired = append(fired, Transition{Plan: prev.Clone(), From: prevFrom, Event: EventSupersede})
		}
		from := p.State
		p.State = Target(EventLock)
		p.UpdatedAt = now
		if err := savePlan(txn, p); err != nil {
			return err
		}
		if err := txn.Set([]byte(lockKey(p.ProjectID)), []byte(p.ID)); err != nil {
			return err
		}
		fired = append(fired, Transition{Plan: p.Clone(), From: from, Event: EventLock})
		out = p
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.notify(fired)

	if s.resolver != nil {
		if err := s.indexPlan(ctx, out); err != nil {
			s.logger.Warn("locked plan not indexed", "plan_id", out.ID, "project_id", out.ProjectID, "error", err)
		}
	}
	return out.Clone(), nil
}

func (s *Service) apply(ctx context.Context, planID string, ev Event, pre func(*datatypes.SacredPlan) (bool, error)) (*datatypes.SacredPlan, error) {
	var (
		out   *datatypes.SacredPlan
		fired []Transition
	)
	err := s.db.Update(ctx, func(txn *badger.Txn) error {
		fired = nil
		p, err := loadPlan(txn, planID)
		if err != nil {
			return err
		}
		out = p
		if pre != nil {
			proceed, err := pre(p)
			if err != nil || !proceed {
				return err
			}
		}
		if err := CanTransition(p, ev); err != nil {
			return err
		}
		from := p.State
		p.State = Target(ev)
		p.UpdatedAt = s.now().UTC()
		fired = append(fired, Transition{Plan: p.Clone(), From: from, Event: ev})
		return savePlan(txn, p)
	})
	if err != nil {
		return nil, err
	}
	s.notify(fired)
	return out.Clone(), nil
}

// =============================================================================
// Integrity
// =============================================================================

// VerifyIntegrity checks a project's stored plans: every frozen plan still
// matches its content hash and at most one plan is LOCKED.
func (s *Service) VerifyIntegrity(ctx context.Context, projectID string) error {
	if _, err := s.projects.GetProject(ctx, projectID); err != nil {
		return err
	}
	return s.db.View(ctx, func(txn *badger.Txn) error {
		plans, err := plansForProject(txn, projectID)
		if err != nil {
			return err
		}
		for _, p := range plans {
			if !p.State.IsFrozen() {
				continue
			}
			want := datatypes.ComputeContentHash(p.Title, p.Content, p.Embedding)
			if p.ContentHash != want {
				return fmt.Errorf("%w: plan %s content hash mismatch", datatypes.ErrIntegrity, p.ID)
			}
		}
		_, err = lockedInTxn(txn, projectID)
		return err
	})
}

// =============================================================================
// Indexing
// =============================================================================

// indexPlan splits the plan into chunks and upserts them into the project
// partition. Chunk ids are stable per plan so re-indexing replaces them.
func (s *Service) indexPlan(ctx context.Context, p *datatypes.SacredPlan) error {
	handle, err := s.resolver.Resolve(ctx, p.ProjectID)
	if err != nil {
		return err
	}
	chunks, err := s.splitter.SplitText(planText(p.Title, p.Content))
	if err != nil {
		return fmt.Errorf("split plan: %w", err)
	}
	for i, chunk := range chunks {
		vec, err := s.embedder.Embed(ctx, chunk)
		if err != nil {
			return fmt.Errorf("embed chunk %d: %w", i, err)
		}
		md := map[string]string{
			MetadataPlanKey: p.ID,
			"chunk":         strconv.Itoa(i),
			"title":         p.Title,
		}
		if err := handle.Upsert(ctx, p.ID+"#"+strconv.Itoa(i), vec, chunk, md); err != nil {
			return err
		}
	}
	s.logger.Debug("locked plan indexed", "plan_id", p.ID, "chunks", len(chunks))
	return nil
}
