// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package project holds the project registry and the isolation router that
// binds every vector index operation to exactly one project partition.
package project

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
	"github.com/AleutianAI/AleutianGovernance/services/governance/storage"
)

const projectKeyPrefix = "project/"

// ErrProjectExists is returned when creating a project whose id is taken.
var ErrProjectExists = errors.New("project already exists")

// ErrInvalidProjectID is returned for ids outside [A-Za-z0-9._-]{1,64}.
var ErrInvalidProjectID = errors.New("invalid project id")

var projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// Lookup is the read side of the registry used by the router.
type Lookup interface {
	GetProject(ctx context.Context, id string) (*datatypes.Project, error)
}

// CreateRequest describes a new project. ID is generated when empty.
type CreateRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name" binding:"required"`
	RootPath string `json:"root_path"`
}

// Registry persists projects in badger.
type Registry struct {
	db  *storage.DB
	now func() time.Time
}

// NewRegistry creates a registry over db.
func NewRegistry(db *storage.DB) *Registry {
	return &Registry{db: db, now: time.Now}
}

func projectKey(id string) string { return projectKeyPrefix + id }

// CreateProject registers a project. Projects are only ever created here;
// no lookup path creates one implicitly.
func (r *Registry) CreateProject(ctx context.Context, req CreateRequest) (*datatypes.Project, error) {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if !projectIDPattern.MatchString(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProjectID, id)
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, errors.New("project name is required")
	}

	p := &datatypes.Project{
		ID:        id,
		Name:      req.Name,
		RootPath:  req.RootPath,
		CreatedAt: r.now().UTC(),
	}
	err := r.db.Update(ctx, func(txn *badger.Txn) error {
		var existing datatypes.Project
		switch err := storage.GetJSON(txn, projectKey(id), &existing); {
		case err == nil:
			return fmt.Errorf("%w: %s", ErrProjectExists, id)
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}
		return storage.PutJSON(txn, projectKey(id), p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetProject returns the project or datatypes.ErrProjectNotFound. An empty
// id is always not found.
func (r *Registry) GetProject(ctx context.Context, id string) (*datatypes.Project, error) {
	if id == "" {
		return nil, datatypes.ErrProjectNotFound
	}
	var p datatypes.Project
	err := r.db.View(ctx, func(txn *badger.Txn) error {
		return storage.GetJSON(txn, projectKey(id), &p)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", datatypes.ErrProjectNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProjects returns all projects ordered by id.
func (r *Registry) ListProjects(ctx context.Context) ([]datatypes.Project, error) {
	var out []datatypes.Project
	err := r.db.View(ctx, func(txn *badger.Txn) error {
		for _, key := range storage.KeysWithPrefix(txn, projectKeyPrefix) {
			var p datatypes.Project
			if err := storage.GetJSON(txn, key, &p); err != nil {
				return err
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetFocus marks one project as focused and clears the flag elsewhere.
// The flag is informational for UIs; nothing resolves ids through it.
func (r *Registry) SetFocus(ctx context.Context, id string) error {
	return r.db.Update(ctx, func(txn *badger.Txn) error {
		var target datatypes.Project
		if err := storage.GetJSON(txn, projectKey(id), &target); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%w: %s", datatypes.ErrProjectNotFound, id)
			}
			return err
		}
		for _, key := range storage.KeysWithPrefix(txn, projectKeyPrefix) {
			var p datatypes.Project
			if err := storage.GetJSON(txn, key, &p); err != nil {
				return err
			}
			want := p.ID == id
			if p.Focused != want {
				p.Focused = want
				if err := storage.PutJSON(txn, key, p); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// DeleteProject removes the project record. Plans and index data are
// removed by their owners.
func (r *Registry) DeleteProject(ctx context.Context, id string) error {
	return r.db.Update(ctx, func(txn *badger.Txn) error {
		var p datatypes.Project
		if err := storage.GetJSON(txn, projectKey(id), &p); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%w: %s", datatypes.ErrProjectNotFound, id)
			}
			return err
		}
		return storage.Delete(txn, projectKey(id))
	})
}

var _ Lookup = (*Registry)(nil)
