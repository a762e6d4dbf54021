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
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
	"github.com/AleutianAI/AleutianGovernance/services/governance/storage"
)

// Key layout:
//
//	plan/<planID>                   SacredPlan JSON
//	projplan/<projectID>/<planID>   empty marker, per-project index
//	lock/<projectID>                planID of the LOCKED plan
//
// Every lock change writes lock/<projectID>, so two concurrent LockPlan
// transactions on one project conflict and one of them is retried.
const (
	planKeyPrefix        = "plan/"
	projectPlanKeyPrefix = "projplan/"
	lockKeyPrefix        = "lock/"
)

func planKey(id string) string { return planKeyPrefix + id }

func projectPlanPrefix(projectID string) string {
	return projectPlanKeyPrefix + projectID + "/"
}

func lockKey(projectID string) string { return lockKeyPrefix + projectID }

func loadPlan(txn *badger.Txn, id string) (*datatypes.SacredPlan, error) {
	var p datatypes.SacredPlan
	if err := storage.GetJSON(txn, planKey(id), &p); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", datatypes.ErrPlanNotFound, id)
		}
		return nil, err
	}
	return &p, nil
}

func savePlan(txn *badger.Txn, p *datatypes.SacredPlan) error {
	if err := storage.PutJSON(txn, planKey(p.ID), p); err != nil {
		return err
	}
	return txn.Set([]byte(projectPlanPrefix(p.ProjectID)+p.ID), nil)
}

func deletePlan(txn *badger.Txn, p *datatypes.SacredPlan) error {
	if err := storage.Delete(txn, planKey(p.ID)); err != nil {
		return err
	}
	return storage.Delete(txn, projectPlanPrefix(p.ProjectID)+p.ID)
}

// plansForProject returns the project's plans ordered by creation time.
func plansForProject(txn *badger.Txn, projectID string) ([]*datatypes.SacredPlan, error) {
	prefix := projectPlanPrefix(projectID)
	var out []*datatypes.SacredPlan
	for _, key := range storage.KeysWithPrefix(txn, prefix) {
		p, err := loadPlan(txn, strings.TrimPrefix(key, prefix))
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// lockedInTxn returns the project's LOCKED plan, or nil if there is none.
// More than one LOCKED plan, or a lock pointer that disagrees with the
// plan records, is an integrity violation.
func lockedInTxn(txn *badger.Txn, projectID string) (*datatypes.SacredPlan, error) {
	plans, err := plansForProject(txn, projectID)
	if err != nil {
		return nil, err
	}
	var locked []*datatypes.SacredPlan
	for _, p := range plans {
		if p.State == datatypes.PlanStateLocked {
			locked = append(locked, p)
		}
	}
	if len(locked) > 1 {
		ids := make([]string, len(locked))
		for i, p := range locked {
			ids[i] = p.ID
		}
		return nil, fmt.Errorf("%w: project %s has %d locked plans (%s)",
			datatypes.ErrIntegrity, projectID, len(locked), strings.Join(ids, ", "))
	}

	pointer, err := readLockPointer(txn, projectID)
	if err != nil {
		return nil, err
	}
	switch {
	case len(locked) == 0 && pointer != "":
		return nil, fmt.Errorf("%w: project %s lock points at %s which is not locked",
			datatypes.ErrIntegrity, projectID, pointer)
	case len(locked) == 1 && pointer != locked[0].ID:
		return nil, fmt.Errorf("%w: project %s lock points at %q but %s is locked",
			datatypes.ErrIntegrity, projectID, pointer, locked[0].ID)
	case len(locked) == 0:
		return nil, nil
	}
	return locked[0], nil
}

func readLockPointer(txn *badger.Txn, projectID string) (string, error) {
	item, err := txn.Get([]byte(lockKey(projectID)))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(v), nil
}
