// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the entities shared by the governance services:
// projects, sacred plans, verification challenges and drift analyses, along
// with the error taxonomy every component reports through.
package datatypes

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// =============================================================================
// Project
// =============================================================================

// Project is a unit of isolation. It owns exactly one index partition and
// zero or more sacred plans.
//
// Focused is informational only. No component resolves a missing project id
// to the focused project.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	RootPath  string    `json:"root_path,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Focused   bool      `json:"focused"`
}

// =============================================================================
// Sacred Plan
// =============================================================================

// PlanState is a lifecycle state of a SacredPlan.
type PlanState string

const (
	PlanStateDraft           PlanState = "DRAFT"
	PlanStatePendingApproval PlanState = "PENDING_APPROVAL"
	PlanStateApproved        PlanState = "APPROVED"
	PlanStateLocked          PlanState = "LOCKED"
	PlanStateDeprecated      PlanState = "DEPRECATED"
)

// IsFrozen reports whether content and embedding are immutable in this state.
func (s PlanState) IsFrozen() bool {
	switch s {
	case PlanStateApproved, PlanStateLocked, PlanStateDeprecated:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known state.
func (s PlanState) Valid() bool {
	switch s {
	case PlanStateDraft, PlanStatePendingApproval, PlanStateApproved,
		PlanStateLocked, PlanStateDeprecated:
		return true
	default:
		return false
	}
}

// PlanIDPrefix tags every sacred plan identifier.
const PlanIDPrefix = "sacred-"

// planIDHashLen is the number of hex characters kept from the digest.
const planIDHashLen = 16

// SacredPlan is an architectural decision document. Once APPROVED its title,
// content and embedding never change.
type SacredPlan struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Embedding    []float32 `json:"embedding,omitempty"`
	State        PlanState `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	ApprovedBy   string    `json:"approved_by,omitempty"`
	ApprovedAt   time.Time `json:"approved_at,omitempty"`
	Supersedes   string    `json:"supersedes,omitempty"`
	SupersededBy string    `json:"superseded_by,omitempty"`
	ContentHash  string    `json:"content_hash,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate stored embeddings.
func (p *SacredPlan) Clone() *SacredPlan {
	if p == nil {
		return nil
	}
	out := *p
	if p.Embedding != nil {
		out.Embedding = append([]float32(nil), p.Embedding...)
	}
	return &out
}

// NewPlanID derives a plan identifier from its origin. The nanosecond
// creation time keeps two identical drafts in one project distinct.
func NewPlanID(projectID, title, content string, createdAt time.Time) string {
	h := sha256.New()
	h.Write([]byte(projectID))
	h.Write([]byte{0})
	h.Write([]byte(title))
	h.Write([]byte{0})
	h.Write([]byte(content))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(createdAt.UnixNano(), 10)))
	return PlanIDPrefix + hex.EncodeToString(h.Sum(nil))[:planIDHashLen]
}

// ComputeContentHash hashes the frozen parts of a plan: title, content and
// embedding.
func ComputeContentHash(title, content string, embedding []float32) string {
	h := sha256.New()
	h.Write([]byte(title))
	h.Write([]byte{0})
	h.Write([]byte(content))
	h.Write([]byte{0})
	for _, v := range embedding {
		fmt.Fprintf(h, "%x,", v)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// =============================================================================
// Verification Challenge
// =============================================================================

// VerificationChallenge is the short-lived first factor of plan approval.
// It lives only in memory between RequestApproval and completion or expiry.
type VerificationChallenge struct {
	PlanID    string    `json:"plan_id"`
	Code      string    `json:"code"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Consumed  bool      `json:"consumed"`
}

// ExpiredAt reports whether the challenge is expired at now. Both times
// should come from the same clock so monotonic readings are compared.
func (c *VerificationChallenge) ExpiredAt(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// =============================================================================
// Drift Analysis
// =============================================================================

// DriftStatus classifies an alignment score.
type DriftStatus string

const (
	DriftAligned           DriftStatus = "ALIGNED"
	DriftMinor             DriftStatus = "MINOR_DRIFT"
	DriftModerate          DriftStatus = "MODERATE_DRIFT"
	DriftCriticalViolation DriftStatus = "CRITICAL_VIOLATION"
)

// Rank orders statuses from best (0) to worst (3). Unknown statuses rank -1.
func (s DriftStatus) Rank() int {
	switch s {
	case DriftAligned:
		return 0
	case DriftMinor:
		return 1
	case DriftModerate:
		return 2
	case DriftCriticalViolation:
		return 3
	default:
		return -1
	}
}

// Alerting reports whether the status warrants an alert.
func (s DriftStatus) Alerting() bool {
	return s == DriftModerate || s == DriftCriticalViolation
}

// ViolationKind categorizes a violation.
type ViolationKind string

const (
	ViolationArchitectural    ViolationKind = "architectural"
	ViolationTechnologyChoice ViolationKind = "technology-choice"
	ViolationPattern          ViolationKind = "pattern"
)

// Severity grades a violation.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Weight orders severities; higher is worse.
func (s Severity) Weight() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Violation is one deviation detected in an analysis.
type Violation struct {
	Kind        ViolationKind `json:"kind"`
	Severity    Severity      `json:"severity"`
	Description string        `json:"description"`
	ActivityRef string        `json:"activity_ref,omitempty"`
	// Planned names what the plan specifies in the violated category, if
	// anything.
	Planned string `json:"planned,omitempty"`
}

// Thresholds are the lower bounds of each non-critical status.
type Thresholds struct {
	Aligned  float64 `json:"aligned" yaml:"aligned" validate:"gt=0,lte=1"`
	Minor    float64 `json:"minor" yaml:"minor" validate:"gt=0,lte=1"`
	Moderate float64 `json:"moderate" yaml:"moderate" validate:"gte=-1,lte=1"`
}

// DefaultThresholds returns 0.8 / 0.6 / 0.3.
func DefaultThresholds() Thresholds {
	return Thresholds{Aligned: 0.8, Minor: 0.6, Moderate: 0.3}
}

// Validate checks that thresholds are strictly descending.
func (t Thresholds) Validate() error {
	if !(t.Aligned > t.Minor && t.Minor > t.Moderate) {
		return fmt.Errorf("thresholds must be strictly descending, got aligned=%.3f minor=%.3f moderate=%.3f",
			t.Aligned, t.Minor, t.Moderate)
	}
	return nil
}

// Classify maps a score to a status, highest threshold first.
func (t Thresholds) Classify(score float64) DriftStatus {
	switch {
	case score >= t.Aligned:
		return DriftAligned
	case score >= t.Minor:
		return DriftMinor
	case score >= t.Moderate:
		return DriftModerate
	default:
		return DriftCriticalViolation
	}
}

// DriftAnalysis is the immutable result of one analysis run.
type DriftAnalysis struct {
	ProjectID       string      `json:"project_id"`
	PlanID          string      `json:"plan_id"`
	Score           float64     `json:"score"`
	Status          DriftStatus `json:"status"`
	Violations      []Violation `json:"violations"`
	Recommendations []string    `json:"recommendations"`
	AnalyzedAt      time.Time   `json:"analyzed_at"`
	ActivityDigest  string      `json:"activity_digest"`
	Thresholds      Thresholds  `json:"thresholds"`
}
