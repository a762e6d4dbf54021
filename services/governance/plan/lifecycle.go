// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package plan

import (
	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
)

// --- Sacred plan state machine ---
//
//	DRAFT --submit--> PENDING_APPROVAL
//	PENDING_APPROVAL --approve--> APPROVED
//	PENDING_APPROVAL --reject|expire--> DRAFT
//	APPROVED --lock--> LOCKED
//	APPROVED|LOCKED --supersede--> DEPRECATED
//
// DEPRECATED is terminal.

// Event names a lifecycle transition.
type Event string

const (
	EventSubmit    Event = "submit_for_approval"
	EventApprove   Event = "approve"
	EventReject    Event = "reject"
	EventExpire    Event = "expire"
	EventLock      Event = "lock"
	EventSupersede Event = "supersede"
)

type transition struct {
	from []datatypes.PlanState
	to   datatypes.PlanState
}

var transitions = map[Event]transition{
	EventSubmit:    {from: []datatypes.PlanState{datatypes.PlanStateDraft}, to: datatypes.PlanStatePendingApproval},
	EventApprove:   {from: []datatypes.PlanState{datatypes.PlanStatePendingApproval}, to: datatypes.PlanStateApproved},
	EventReject:    {from: []datatypes.PlanState{datatypes.PlanStatePendingApproval}, to: datatypes.PlanStateDraft},
	EventExpire:    {from: []datatypes.PlanState{datatypes.PlanStatePendingApproval}, to: datatypes.PlanStateDraft},
	EventLock:      {from: []datatypes.PlanState{datatypes.PlanStateApproved}, to: datatypes.PlanStateLocked},
	EventSupersede: {from: []datatypes.PlanState{datatypes.PlanStateApproved, datatypes.PlanStateLocked}, to: datatypes.PlanStateDeprecated},
}

// CanTransition checks whether ev is legal for p's current state.
// Returns a *datatypes.InvalidStateError otherwise.
func CanTransition(p *datatypes.SacredPlan, ev Event) error {
	t, ok := transitions[ev]
	if !ok {
		return datatypes.NewInvalidStateError(string(ev), p.ID, p.State)
	}
	for _, s := range t.from {
		if p.State == s {
			return nil
		}
	}
	return datatypes.NewInvalidStateError(string(ev), p.ID, p.State, t.from...)
}

// Target returns the state ev leads to.
func Target(ev Event) datatypes.PlanState {
	return transitions[ev].to
}
