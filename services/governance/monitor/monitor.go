// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package monitor runs drift analyses on a fixed interval for every project
// with a locked plan and turns status changes into alerts.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
	"github.com/AleutianAI/AleutianGovernance/services/governance/observability"
)

// Analyzer runs one drift analysis.
type Analyzer interface {
	Analyze(ctx context.Context, projectID string) (*datatypes.DriftAnalysis, error)
}

// ProjectLister lists the projects that currently hold a LOCKED plan.
type ProjectLister interface {
	LockedProjects(ctx context.Context) ([]string, error)
}

// Config configures a Monitor.
type Config struct {
	Analyzer Analyzer
	Projects ProjectLister
	Sink     AlertSink
	// Interval between cycles. Defaults to DefaultInterval.
	Interval time.Duration
	// MaxConcurrent bounds parallel analyses within one cycle.
	MaxConcurrent int
	Metrics       *observability.Metrics
	Logger        *slog.Logger
}

// DefaultInterval is the cycle interval when none is configured.
const DefaultInterval = 5 * time.Minute

// CycleResult summarizes one cycle.
type CycleResult struct {
	Projects int `json:"projects"`
	Analyzed int `json:"analyzed"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	Alerts   int `json:"alerts"`
}

// projectState is the per-project bookkeeping. busy guards the single
// in-flight analysis; the remaining fields are protected by Monitor.mu.
type projectState struct {
	busy     atomic.Bool
	cancel   context.CancelFunc
	last     datatypes.DriftStatus
	haveLast bool
	pending  *pendingAlert
}

// pendingAlert is an alert some sinks of a MultiSink missed. Only those
// sinks are retried.
type pendingAlert struct {
	alert Alert
	sinks MultiSink
}

// Monitor schedules drift analyses.
//
// # Description
//
// Each cycle lists projects with a LOCKED plan and analyzes them in
// parallel. A project whose previous analysis is still running is skipped,
// not queued. Errors are logged and counted; the project is simply tried
// again next cycle and its remembered status is left untouched.
//
// An alert is sent when a successful analysis yields MODERATE_DRIFT or
// CRITICAL_VIOLATION and the previous successful analysis of that project
// had a different status. A failed delivery leaves the remembered status
// unchanged so the next cycle tries again. When a MultiSink delivers to some
// sinks but not others, the status is remembered and the next cycles resend
// the same alert to the failed sinks only.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Monitor struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	projects map[string]*projectState
	running  bool
	stop     context.CancelFunc
	reset    chan time.Duration
	interval time.Duration
	wg       sync.WaitGroup
}

// New creates a stopped monitor.
func New(cfg Config) *Monitor {
	if cfg.Sink == nil {
		cfg.Sink = NopSink{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:      cfg,
		logger:   logger,
		projects: make(map[string]*projectState),
		reset:    make(chan time.Duration, 1),
		interval: cfg.Interval,
	}
}

// Start launches the cycle loop. The first cycle runs immediately.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("monitor is already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	m.running = true
	m.stop = cancel

	m.logger.Info("drift monitor starting",
		"interval", m.interval.String(),
		"max_concurrent", m.cfg.MaxConcurrent)

	m.wg.Add(1)
	go m.runLoop(ctx, m.interval)
	return nil
}

// Stop cancels in-flight analyses and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.logger.Info("drift monitor stopping")
	m.running = false
	m.stop()
	m.mu.Unlock()
	m.wg.Wait()
}

// SetInterval changes the cycle interval; a running loop picks it up at
// its next tick.
func (m *Monitor) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.interval = d
	m.mu.Unlock()
	for {
		select {
		case m.reset <- d:
			return
		default:
		}
		// Drop a stale pending value and retry.
		select {
		case <-m.reset:
		default:
		}
	}
}

// RunNow runs one cycle and waits for it.
func (m *Monitor) RunNow(ctx context.Context) (CycleResult, error) {
	return m.runCycle(ctx)
}

// CancelProject cancels projectID's in-flight analysis, if any, and forgets
// its alert state. Other projects are unaffected.
func (m *Monitor) CancelProject(projectID string) {
	m.mu.Lock()
	st, ok := m.projects[projectID]
	var cancel context.CancelFunc
	if ok {
		delete(m.projects, projectID)
		cancel = st.cancel
	}
	m.mu.Unlock()
	if cancel != nil {
		cancel()
		m.logger.Info("drift monitor cancelled project", "project_id", projectID)
	}
}

// LastStatus returns the status of projectID's last successful analysis.
func (m *Monitor) LastStatus(projectID string) (datatypes.DriftStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.projects[projectID]
	if !ok || !st.haveLast {
		return "", false
	}
	return st.last, true
}

func (m *Monitor) runLoop(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var cycles sync.WaitGroup
	defer cycles.Wait()

	launch := func() {
		cycles.Add(1)
		go func() {
			defer cycles.Done()
			if _, err := m.runCycle(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("drift monitor cycle failed", "error", err)
			}
		}()
	}

	launch()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("drift monitor stopped")
			return
		case d := <-m.reset:
			ticker.Reset(d)
			m.logger.Info("drift monitor interval changed", "interval", d.String())
		case <-ticker.C:
			launch()
		}
	}
}

// runCycle lists projects and analyzes each one that is not busy. Cycles
// may overlap when an analysis outlives the interval; the busy flag keeps
// them from analyzing the same project twice.
func (m *Monitor) runCycle(ctx context.Context) (CycleResult, error) {
	ids, err := m.cfg.Projects.LockedProjects(ctx)
	if err != nil {
		return CycleResult{}, fmt.Errorf("list locked projects: %w", err)
	}

	var analyzed, skipped, failed, alerts atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(m.cfg.MaxConcurrent)

	for _, id := range ids {
		st := m.state(id)
		if !st.busy.CompareAndSwap(false, true) {
			skipped.Add(1)
			m.cfg.Metrics.RecordMonitorSkip()
			m.logger.Debug("drift analysis still running, skipping", "project_id", id)
			continue
		}
		g.Go(func() error {
			defer st.busy.Store(false)
			alerted, err := m.analyzeProject(ctx, id, st)
			switch {
			case err != nil:
				failed.Add(1)
			default:
				analyzed.Add(1)
				if alerted {
					alerts.Add(1)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	res := CycleResult{
		Projects: len(ids),
		Analyzed: int(analyzed.Load()),
		Skipped:  int(skipped.Load()),
		Failed:   int(failed.Load()),
		Alerts:   int(alerts.Load()),
	}
	if res.Projects > 0 {
		m.logger.Debug("drift monitor cycle complete",
			"projects", res.Projects,
			"analyzed", res.Analyzed,
			"skipped", res.Skipped,
			"failed", res.Failed,
			"alerts", res.Alerts)
	}
	return res, nil
}

func (m *Monitor) state(projectID string) *projectState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.projects[projectID]
	if !ok {
		st = &projectState{}
		m.projects[projectID] = st
	}
	return st
}

func (m *Monitor) analyzeProject(ctx context.Context, projectID string, st *projectState) (bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.mu.Lock()
	if m.projects[projectID] != st {
		// Cancelled between scheduling and start.
		m.mu.Unlock()
		return false, context.Canceled
	}
	st.cancel = cancel
	m.mu.Unlock()

	m.redeliver(ctx, projectID, st)

	a, err := m.cfg.Analyzer.Analyze(ctx, projectID)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, context.Canceled) || errors.Is(err, datatypes.ErrNoActivePlan) {
			level = slog.LevelInfo
		}
		m.logger.Log(ctx, level, "drift analysis failed",
			"project_id", projectID,
			"retryable", datatypes.IsRetryable(err),
			"error", err)
		return false, err
	}

	m.mu.Lock()
	prev, havePrev := st.last, st.haveLast
	m.mu.Unlock()

	if !shouldAlert(prev, havePrev, a.Status) {
		if a.Status.Alerting() {
			m.cfg.Metrics.RecordAlert(string(a.Status), "suppressed")
		}
		m.remember(projectID, st, a.Status)
		return false, nil
	}

	alert := Alert{
		ID:             uuid.NewString(),
		ProjectID:      projectID,
		PlanID:         a.PlanID,
		Status:         a.Status,
		PreviousStatus: prev,
		Score:          a.Score,
		Violations:     a.Violations,
		AnalyzedAt:     a.AnalyzedAt,
	}
	var pending *pendingAlert
	if err := m.cfg.Sink.Send(ctx, alert); err != nil {
		var partial *DeliveryError
		if !errors.As(err, &partial) || partial.Delivered == 0 {
			m.cfg.Metrics.RecordAlert(string(a.Status), "failed")
			m.logger.Error("drift alert delivery failed", "project_id", projectID, "status", a.Status, "error", err)
			return false, nil
		}
		pending = &pendingAlert{alert: alert, sinks: partial.Failed}
		m.cfg.Metrics.RecordAlert(string(a.Status), "partial")
		m.logger.Error("drift alert missed some sinks",
			"project_id", projectID,
			"status", a.Status,
			"failed_sinks", len(partial.Failed),
			"error", err)
	} else {
		m.cfg.Metrics.RecordAlert(string(a.Status), "emitted")
	}
	m.logger.Warn("drift alert emitted",
		"project_id", projectID,
		"plan_id", a.PlanID,
		"status", a.Status,
		"previous_status", prev,
		"score", a.Score)
	m.rememberAlert(projectID, st, a.Status, pending)
	return true, nil
}

// remember stores status unless the project was cancelled meanwhile.
func (m *Monitor) remember(projectID string, st *projectState, status datatypes.DriftStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.projects[projectID] != st {
		return
	}
	st.last = status
	st.haveLast = true
}

// rememberAlert stores status along with the sinks still owed the alert. A
// new alert replaces any older pending one.
func (m *Monitor) rememberAlert(projectID string, st *projectState, status datatypes.DriftStatus, pending *pendingAlert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.projects[projectID] != st {
		return
	}
	st.last = status
	st.haveLast = true
	st.pending = pending
}

// redeliver resends a pending alert to the sinks that missed it.
func (m *Monitor) redeliver(ctx context.Context, projectID string, st *projectState) {
	m.mu.Lock()
	p := st.pending
	m.mu.Unlock()
	if p == nil {
		return
	}

	next := p
	err := p.sinks.Send(ctx, p.alert)
	var partial *DeliveryError
	switch {
	case err == nil:
		next = nil
		m.cfg.Metrics.RecordAlert(string(p.alert.Status), "redelivered")
		m.logger.Info("drift alert redelivered", "project_id", projectID, "alert_id", p.alert.ID)
	case errors.As(err, &partial):
		next = &pendingAlert{alert: p.alert, sinks: partial.Failed}
		m.logger.Warn("drift alert redelivery failed",
			"project_id", projectID,
			"alert_id", p.alert.ID,
			"failed_sinks", len(partial.Failed),
			"error", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.projects[projectID] == st && st.pending == p {
		st.pending = next
	}
}
