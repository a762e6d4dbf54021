// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
	"github.com/AleutianAI/AleutianGovernance/services/governance/embedding"
	"github.com/AleutianAI/AleutianGovernance/services/governance/observability"
	"github.com/AleutianAI/AleutianGovernance/services/governance/vectorindex"
)

var tracer = otel.Tracer("aleutian.governance.project")

// =============================================================================
// Index Handle
// =============================================================================

// IndexHandle is the only way to reach the vector index. A handle is bound
// to one project's partition for its whole life and exposes no way to name
// another partition.
type IndexHandle interface {
	ProjectID() string
	Upsert(ctx context.Context, id string, vector []float32, text string, metadata map[string]string) error
	Query(ctx context.Context, vector []float32, k int) ([]vectorindex.Match, error)
}

type indexHandle struct {
	projectID string
	index     vectorindex.Index
	timeout   time.Duration
	onMissing func(projectID string)
}

func (h *indexHandle) ProjectID() string { return h.projectID }

func (h *indexHandle) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.timeout)
}

func (h *indexHandle) Upsert(ctx context.Context, id string, vector []float32, text string, metadata map[string]string) error {
	ctx, cancel := h.bound(ctx)
	defer cancel()

	md := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		md[k] = v
	}
	md[vectorindex.MetadataProjectKey] = h.projectID

	if err := h.index.Upsert(ctx, h.projectID, id, vector, text, md); err != nil {
		return h.mapErr("upsert", err)
	}
	return nil
}

func (h *indexHandle) Query(ctx context.Context, vector []float32, k int) ([]vectorindex.Match, error) {
	ctx, cancel := h.bound(ctx)
	defer cancel()

	matches, err := h.index.Query(ctx, h.projectID, vector, k)
	if err != nil {
		return nil, h.mapErr("query", err)
	}
	out := matches[:0]
	for _, m := range matches {
		if m.Metadata[vectorindex.MetadataProjectKey] == h.projectID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (h *indexHandle) mapErr(op string, err error) error {
	switch {
	case errors.Is(err, vectorindex.ErrPartitionNotFound):
		if h.onMissing != nil {
			h.onMissing(h.projectID)
		}
		return fmt.Errorf("%w: %s: partition vanished", datatypes.ErrProjectNotFound, h.projectID)
	case errors.Is(err, datatypes.ErrIndexUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %s %s: %v", datatypes.ErrIndexUnavailable, op, h.projectID, err)
	}
}

// =============================================================================
// Router
// =============================================================================

// RouterConfig configures a Router.
type RouterConfig struct {
	// IndexTimeout bounds every index call made through a handle.
	IndexTimeout time.Duration
	Logger       *slog.Logger
	Metrics      *observability.Metrics
}

// Router resolves project ids to index handles.
//
// # Description
//
// A handle is cached once its project is known to the registry and its
// partition is initialized. A cache miss triggers exactly one lazy
// re-initialization pass (registry lookup + EnsurePartition); if that pass
// does not produce a handle the resolution fails for good. Concurrent
// misses for one id share a single pass.
//
// There is no default project. An empty id is ErrProjectNotFound.
//
// # Thread Safety
//
// Safe for concurrent use; the handle cache is read-mostly.
type Router struct {
	lookup Lookup
	index  vectorindex.Index
	cfg    RouterConfig
	logger *slog.Logger

	mu      sync.RWMutex
	handles map[string]*indexHandle
	group   singleflight.Group
}

// NewRouter creates a router.
func NewRouter(lookup Lookup, index vectorindex.Index, cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		lookup:  lookup,
		index:   index,
		cfg:     cfg,
		logger:  logger,
		handles: make(map[string]*indexHandle),
	}
}

// Resolve returns the handle for projectID.
//
// # Outputs
//
//   - IndexHandle: bound to projectID's partition
//   - error: ErrProjectNotFound for an empty/unknown id, ErrIndexUnavailable
//     if the partition could not be initialized
func (r *Router) Resolve(ctx context.Context, projectID string) (IndexHandle, error) {
	ctx, span := tracer.Start(ctx, "project.Router.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("project_id", projectID))

	if projectID == "" {
		r.cfg.Metrics.RecordResolution("not_found")
		span.SetStatus(codes.Error, "missing project id")
		return nil, fmt.Errorf("%w: project id is required", datatypes.ErrProjectNotFound)
	}

	if h := r.cached(projectID); h != nil {
		r.cfg.Metrics.RecordResolution("hit")
		return h, nil
	}

	v, err, _ := r.group.Do(projectID, func() (any, error) {
		return r.reinit(ctx, projectID)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve failed")
		if errors.Is(err, datatypes.ErrProjectNotFound) {
			r.cfg.Metrics.RecordResolution("not_found")
		} else {
			r.cfg.Metrics.RecordResolution("error")
		}
		return nil, err
	}
	r.cfg.Metrics.RecordResolution("reinit")
	return v.(*indexHandle), nil
}

func (r *Router) cached(projectID string) *indexHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handles[projectID]
}

// reinit is the single lazy re-initialization pass for one id.
func (r *Router) reinit(ctx context.Context, projectID string) (*indexHandle, error) {
	if h := r.cached(projectID); h != nil {
		return h, nil
	}
	if _, err := r.lookup.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	if err := r.ensure(ctx, projectID); err != nil {
		return nil, err
	}
	r.logger.Debug("project partition initialized", "project_id", projectID)
	return r.cached(projectID), nil
}

func (r *Router) ensure(ctx context.Context, projectID string) error {
	ictx, cancel := context.WithCancel(ctx)
	if r.cfg.IndexTimeout > 0 {
		ictx, cancel = context.WithTimeout(ctx, r.cfg.IndexTimeout)
	}
	defer cancel()

	if err := r.index.EnsurePartition(ictx, projectID); err != nil {
		if errors.Is(err, datatypes.ErrIndexUnavailable) {
			return err
		}
		return fmt.Errorf("%w: ensure partition %s: %v", datatypes.ErrIndexUnavailable, projectID, err)
	}

	r.mu.Lock()
	if _, ok := r.handles[projectID]; !ok {
		r.handles[projectID] = &indexHandle{
			projectID: projectID,
			index:     r.index,
			timeout:   r.cfg.IndexTimeout,
			onMissing: r.Evict,
		}
	}
	r.mu.Unlock()
	return nil
}

// Initialize eagerly prepares partitions for the given projects, typically
// every registered project at startup. Failures are logged and left for
// lazy re-initialization.
func (r *Router) Initialize(ctx context.Context, projects []datatypes.Project) {
	for _, p := range projects {
		if err := r.ensure(ctx, p.ID); err != nil {
			r.logger.Warn("project partition init deferred", "project_id", p.ID, "error", err)
		}
	}
}

// Evict drops the cached handle so the next Resolve re-initializes.
func (r *Router) Evict(projectID string) {
	r.mu.Lock()
	delete(r.handles, projectID)
	r.mu.Unlock()
}

// DropProject evicts the handle and deletes the partition's data.
func (r *Router) DropProject(ctx context.Context, projectID string) error {
	r.Evict(projectID)
	if err := r.index.DropPartition(ctx, projectID); err != nil {
		return fmt.Errorf("drop partition %s: %w", projectID, err)
	}
	return nil
}

// =============================================================================
// Search
// =============================================================================

// Searcher runs ad-hoc retrieval queries through the router.
type Searcher struct {
	router   *Router
	embedder embedding.Provider
}

// NewSearcher creates a searcher. embedder should already be timeout-bounded.
func NewSearcher(router *Router, embedder embedding.Provider) *Searcher {
	return &Searcher{router: router, embedder: embedder}
}

// Search embeds text and returns the k nearest chunks of projectID only.
// The project is resolved before the embedding call so an unknown id fails
// without touching the provider.
func (s *Searcher) Search(ctx context.Context, projectID, text string, k int) ([]vectorindex.Match, error) {
	h, err := s.router.Resolve(ctx, projectID)
	if err != nil {
		return nil, err
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return h.Query(ctx, vec, k)
}
