// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package drift scores recent project activity against the project's
// locked sacred plan.
//
// An analysis embeds the activity text, takes the cosine similarity with the
// plan embedding, buckets the score into a DriftStatus and asks a Classifier
// for concrete violations. Results are kept in a bounded per-project history
// and optionally exported to InfluxDB.
package drift

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianGovernance/services/governance/activity"
	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
	"github.com/AleutianAI/AleutianGovernance/services/governance/embedding"
	"github.com/AleutianAI/AleutianGovernance/services/governance/observability"
)

var tracer = otel.Tracer("aleutian.governance.drift")

// DegenerateSignal describes an analysis whose activity could not be scored.
const DegenerateSignal = "empty or degenerate activity signal"

// DefaultHistorySize is the per-project history length when unset.
const DefaultHistorySize = 50

// Plans is the plan store surface the engine needs.
type Plans interface {
	LockedPlan(ctx context.Context, projectID string) (*datatypes.SacredPlan, error)
}

// Recorder exports completed analyses. Failures are logged, never returned
// to the caller of Analyze.
type Recorder interface {
	Record(ctx context.Context, a *datatypes.DriftAnalysis) error
}

// Config configures an Engine.
type Config struct {
	Plans    Plans
	Activity activity.Extractor
	// Embedder should already be wrapped with embedding.WithTimeout.
	Embedder   embedding.Provider
	Classifier Classifier
	Thresholds datatypes.Thresholds
	// ActivityWindow is how far back activity is read.
	ActivityWindow  time.Duration
	ActivityTimeout time.Duration
	HistorySize     int
	Recorder        Recorder
	Metrics         *observability.Metrics
	Logger          *slog.Logger
	Now             func() time.Time
}

// Engine runs drift analyses. Safe for concurrent use.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu         sync.RWMutex
	thresholds datatypes.Thresholds
	history    map[string][]*datatypes.DriftAnalysis
}

// NewEngine creates an engine.
//
// # Outputs
//
//   - *Engine: ready engine
//   - error: invalid thresholds
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Thresholds == (datatypes.Thresholds{}) {
		cfg.Thresholds = datatypes.DefaultThresholds()
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if cfg.Classifier == nil {
		cfg.Classifier = NewLexicalClassifier(nil)
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.ActivityWindow <= 0 {
		cfg.ActivityWindow = 24 * time.Hour
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		cfg:        cfg,
		logger:     logger,
		now:        now,
		thresholds: cfg.Thresholds,
		history:    make(map[string][]*datatypes.DriftAnalysis),
	}, nil
}

// Thresholds returns the thresholds currently in effect.
func (e *Engine) Thresholds() datatypes.Thresholds {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.thresholds
}

// SetThresholds swaps the thresholds used by subsequent analyses.
func (e *Engine) SetThresholds(t datatypes.Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.thresholds = t
	e.mu.Unlock()
	return nil
}

// Analyze scores projectID's recent activity against its locked plan.
//
// # Description
//
// Steps, each failing the whole analysis:
//
//  1. Load the LOCKED plan (ErrProjectNotFound, ErrNoActivePlan).
//  2. Read activity inside the window (ErrActivityUnavailable).
//  3. Embed the activity (ErrEmbeddingUnavailable).
//
// A blank activity text, a zero-norm vector or a dimension mismatch yields
// score 0 with CRITICAL_VIOLATION and a single degenerate-signal violation.
// Otherwise the cosine score is classified by the current thresholds and the
// classifier adds violations.
//
// # Outputs
//
//   - *datatypes.DriftAnalysis: immutable result, also appended to history
//   - error: see above; infrastructure errors satisfy datatypes.IsRetryable
func (e *Engine) Analyze(ctx context.Context, projectID string) (*datatypes.DriftAnalysis, error) {
	ctx, span := tracer.Start(ctx, "drift.Engine.Analyze")
	defer span.End()
	span.SetAttributes(attribute.String("project_id", projectID))
	start := e.now()

	a, err := e.analyze(ctx, projectID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "analysis failed")
		e.cfg.Metrics.RecordAnalysisError(errorReason(err))
		return nil, err
	}

	span.SetAttributes(
		attribute.String("status", string(a.Status)),
		attribute.Float64("score", a.Score),
		attribute.Int("violations", len(a.Violations)),
	)
	e.cfg.Metrics.RecordAnalysis(projectID, string(a.Status), a.Score, e.now().Sub(start).Seconds())
	e.remember(a)

	if e.cfg.Recorder != nil {
		if err := e.cfg.Recorder.Record(ctx, a); err != nil {
			e.logger.Warn("drift history export failed", "project_id", projectID, "error", err)
		}
	}
	e.logger.Info("drift analysis complete",
		"project_id", projectID,
		"plan_id", a.PlanID,
		"status", a.Status,
		"score", a.Score,
		"violations", len(a.Violations))
	return a, nil
}

func (e *Engine) analyze(ctx context.Context, projectID string) (*datatypes.DriftAnalysis, error) {
	p, err := e.cfg.Plans.LockedPlan(ctx, projectID)
	if err != nil {
		return nil, err
	}

	text, err := e.readActivity(ctx, projectID)
	if err != nil {
		return nil, err
	}

	th := e.Thresholds()
	a := &datatypes.DriftAnalysis{
		ProjectID:      projectID,
		PlanID:         p.ID,
		AnalyzedAt:     e.now().UTC(),
		ActivityDigest: digest(text),
		Thresholds:     th,
	}

	score, ok := 0.0, false
	if strings.TrimSpace(text) != "" {
		vec, err := e.cfg.Embedder.Embed(ctx, text)
		if err != nil {
			if !errors.Is(err, datatypes.ErrEmbeddingUnavailable) {
				err = fmt.Errorf("%w: %v", datatypes.ErrEmbeddingUnavailable, err)
			}
			return nil, err
		}
		score, ok = Cosine(p.Embedding, vec)
	}

	if !ok {
		a.Score = 0
		a.Status = datatypes.DriftCriticalViolation
		a.Violations = []datatypes.Violation{{
			Kind:        datatypes.ViolationArchitectural,
			Severity:    datatypes.SeverityCritical,
			Description: DegenerateSignal,
		}}
		a.Recommendations = Recommend(p, a.Violations)
		return a, nil
	}

	a.Score = score
	a.Status = th.Classify(score)
	a.Violations = e.cfg.Classifier.Classify(ClassifyInput{
		Plan:       p,
		Activity:   text,
		Score:      score,
		Status:     a.Status,
		Thresholds: th,
	})
	if a.Violations == nil {
		a.Violations = []datatypes.Violation{}
	}
	// Classifiers are pluggable; the most severe violation always leads.
	SortViolations(a.Violations)
	a.Recommendations = Recommend(p, a.Violations)
	return a, nil
}

func (e *Engine) readActivity(ctx context.Context, projectID string) (string, error) {
	if e.cfg.ActivityTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ActivityTimeout)
		defer cancel()
	}
	text, err := e.cfg.Activity.RecentActivity(ctx, projectID, e.cfg.ActivityWindow)
	switch {
	case err == nil:
		return text, nil
	case errors.Is(err, datatypes.ErrProjectNotFound), errors.Is(err, datatypes.ErrActivityUnavailable):
		return "", err
	default:
		return "", fmt.Errorf("%w: %v", datatypes.ErrActivityUnavailable, err)
	}
}

func digest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, datatypes.ErrProjectNotFound):
		return "project_not_found"
	case errors.Is(err, datatypes.ErrNoActivePlan):
		return "no_active_plan"
	case errors.Is(err, datatypes.ErrActivityUnavailable):
		return "activity_unavailable"
	case errors.Is(err, datatypes.ErrEmbeddingUnavailable):
		return "embedding_unavailable"
	case errors.Is(err, datatypes.ErrIntegrity):
		return "integrity"
	default:
		return "other"
	}
}

// =============================================================================
// History
// =============================================================================

func (e *Engine) remember(a *datatypes.DriftAnalysis) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := append(e.history[a.ProjectID], a)
	if over := len(h) - e.cfg.HistorySize; over > 0 {
		h = append([]*datatypes.DriftAnalysis(nil), h[over:]...)
	}
	e.history[a.ProjectID] = h
}

// LatestAnalysis returns the most recent analysis of projectID, or nil.
func (e *Engine) LatestAnalysis(projectID string) *datatypes.DriftAnalysis {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h := e.history[projectID]
	if len(h) == 0 {
		return nil
	}
	return h[len(h)-1]
}

// History returns up to limit analyses of projectID, newest first.
// limit <= 0 returns all retained entries.
func (e *Engine) History(projectID string, limit int) []*datatypes.DriftAnalysis {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h := e.history[projectID]
	if limit <= 0 || limit > len(h) {
		limit = len(h)
	}
	out := make([]*datatypes.DriftAnalysis, 0, limit)
	for i := len(h) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h[i])
	}
	return out
}

// Forget drops the history of a deleted project.
func (e *Engine) Forget(projectID string) {
	e.mu.Lock()
	delete(e.history, projectID)
	e.mu.Unlock()
	e.cfg.Metrics.ForgetProject(projectID)
}
