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
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrProjectNotFound is returned when a project id is empty, unknown, or
	// has no initialized index partition. Never retried automatically.
	ErrProjectNotFound = errors.New("project not found")

	// ErrPlanNotFound is returned for an unknown plan id.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrInvalidState is returned for an illegal lifecycle transition.
	// Use errors.As with *InvalidStateError for the current/expected states.
	ErrInvalidState = errors.New("invalid plan state")

	// ErrPlanImmutable is returned when editing an APPROVED, LOCKED or
	// DEPRECATED plan.
	ErrPlanImmutable = errors.New("plan is immutable")

	// ErrVerificationFailed is returned when either approval factor fails.
	// It never discloses which one.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrChallengeExpired is returned when the verification code expired.
	ErrChallengeExpired = errors.New("verification challenge expired")

	// ErrChallengeConsumed is returned when a code is replayed.
	ErrChallengeConsumed = errors.New("verification challenge already consumed")

	// ErrEmbeddingUnavailable is a transient embedding provider failure.
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

	// ErrIndexUnavailable is a transient vector index failure.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrActivityUnavailable is a transient activity extractor failure.
	ErrActivityUnavailable = errors.New("activity extractor unavailable")

	// ErrNoActivePlan is returned when a project has no LOCKED plan.
	ErrNoActivePlan = errors.New("no active (locked) plan for project")

	// ErrIntegrity is returned when a stored invariant is found broken, such
	// as two LOCKED plans in one project. The operation is aborted.
	ErrIntegrity = errors.New("governance integrity violation")

	// ErrRateLimited is returned when approval attempts exceed the limit.
	ErrRateLimited = errors.New("too many approval attempts")
)

// =============================================================================
// Typed Errors
// =============================================================================

// InvalidStateError carries the states involved in a rejected transition.
type InvalidStateError struct {
	PlanID   string
	Op       string
	Current  PlanState
	Expected []PlanState
}

func (e *InvalidStateError) Error() string {
	expected := make([]string, len(e.Expected))
	for i, s := range e.Expected {
		expected[i] = string(s)
	}
	return fmt.Sprintf("%s: plan %q is %s, expected %s",
		e.Op, e.PlanID, e.Current, strings.Join(expected, " or "))
}

// Is makes errors.Is(err, ErrInvalidState) hold.
func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// NewInvalidStateError builds an InvalidStateError.
func NewInvalidStateError(op, planID string, current PlanState, expected ...PlanState) error {
	return &InvalidStateError{PlanID: planID, Op: op, Current: current, Expected: expected}
}

// IsRetryable reports whether err is a transient infrastructure failure
// that a scheduler should retry on its next cycle.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrEmbeddingUnavailable) ||
		errors.Is(err, ErrIndexUnavailable) ||
		errors.Is(err, ErrActivityUnavailable)
}
