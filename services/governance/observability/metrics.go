// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics and OpenTelemetry
// tracing setup for the governance service.
//
// # Metrics
//
// All metrics live under the "aleutian_governance" prefix:
//
//   - drift_analyses_total{status}: completed analyses by status
//   - drift_analysis_errors_total{reason}: failed analyses by error class
//   - drift_analysis_duration_seconds: analysis latency
//   - drift_score{project_id}: latest alignment score
//   - alerts_total{status, outcome}: alerts emitted or suppressed
//   - monitor_skips_total: cycles skipped because a project was busy
//   - approval_attempts_total{outcome}: approve calls by outcome
//   - router_resolutions_total{result}: router resolutions by result
//   - plan_transitions_total{from, to}: lifecycle transitions
//
// Every method is safe on a nil *Metrics so components can run without
// metrics in tests.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace    = "aleutian"
	governanceSubsystem = "governance"
)

// Metrics holds every governance collector.
type Metrics struct {
	AnalysesTotal       *prometheus.CounterVec
	AnalysisErrorsTotal *prometheus.CounterVec
	AnalysisDuration    prometheus.Histogram
	DriftScore          *prometheus.GaugeVec
	AlertsTotal         *prometheus.CounterVec
	MonitorSkipsTotal   prometheus.Counter
	ApprovalAttempts    *prometheus.CounterVec
	RouterResolutions   *prometheus.CounterVec
	PlanTransitions     *prometheus.CounterVec
}

// NewMetrics registers all collectors with reg. Pass
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AnalysesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: governanceSubsystem,
			Name:      "drift_analyses_total",
			Help:      "Completed drift analyses by resulting status",
		}, []string{"status"}),

		AnalysisErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: governanceSubsystem,
			Name:      "drift_analysis_errors_total",
			Help:      "Failed drift analyses by error class",
		}, []string{"reason"}),

		AnalysisDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: governanceSubsystem,
			Name:      "drift_analysis_duration_seconds",
			Help:      "Drift analysis latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		DriftScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: governanceSubsystem,
			Name:      "drift_score",
			Help:      "Latest alignment score per project",
		}, []string{"project_id"}),

		AlertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: governanceSubsystem,
			Name:      "alerts_total",
			Help:      "Drift alerts by status and outcome (emitted, partial, redelivered, suppressed, failed)",
		}, []string{"status", "outcome"}),

		MonitorSkipsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: governanceSubsystem,
			Name:      "monitor_skips_total",
			Help:      "Monitor cycles skipped because the project analysis was still running",
		}),

		ApprovalAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: governanceSubsystem,
			Name:      "approval_attempts_total",
			Help:      "Plan approval attempts by outcome",
		}, []string{"outcome"}),

		RouterResolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: governanceSubsystem,
			Name:      "router_resolutions_total",
			Help:      "Project index resolutions by result (hit, reinit, not_found, error)",
		}, []string{"result"}),

		PlanTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: governanceSubsystem,
			Name:      "plan_transitions_total",
			Help:      "Sacred plan lifecycle transitions",
		}, []string{"from", "to"}),
	}
}

// RecordAnalysis records a completed analysis.
func (m *Metrics) RecordAnalysis(projectID, status string, score, seconds float64) {
	if m == nil {
		return
	}
	m.AnalysesTotal.WithLabelValues(status).Inc()
	m.AnalysisDuration.Observe(seconds)
	m.DriftScore.WithLabelValues(projectID).Set(score)
}

// RecordAnalysisError records a failed analysis.
func (m *Metrics) RecordAnalysisError(reason string) {
	if m == nil {
		return
	}
	m.AnalysisErrorsTotal.WithLabelValues(reason).Inc()
}

// RecordAlert records an alert decision.
func (m *Metrics) RecordAlert(status, outcome string) {
	if m == nil {
		return
	}
	m.AlertsTotal.WithLabelValues(status, outcome).Inc()
}

// RecordMonitorSkip records a skipped project cycle.
func (m *Metrics) RecordMonitorSkip() {
	if m == nil {
		return
	}
	m.MonitorSkipsTotal.Inc()
}

// RecordApproval records an approval attempt outcome.
func (m *Metrics) RecordApproval(outcome string) {
	if m == nil {
		return
	}
	m.ApprovalAttempts.WithLabelValues(outcome).Inc()
}

// RecordResolution records a router resolution result.
func (m *Metrics) RecordResolution(result string) {
	if m == nil {
		return
	}
	m.RouterResolutions.WithLabelValues(result).Inc()
}

// RecordTransition records a plan state change.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.PlanTransitions.WithLabelValues(from, to).Inc()
}

// ForgetProject drops per-project series after a project is deleted.
func (m *Metrics) ForgetProject(projectID string) {
	if m == nil {
		return
	}
	m.DriftScore.DeleteLabelValues(projectID)
}
