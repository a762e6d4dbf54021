// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package activity records what happened in a project so the drift engine
// can compare it to the locked plan.
package activity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
	"github.com/AleutianAI/AleutianGovernance/services/governance/project"
	"github.com/AleutianAI/AleutianGovernance/services/governance/storage"
)

const activityKeyPrefix = "activity/"

// ErrInvalidActivity is returned for an item that cannot be recorded.
var ErrInvalidActivity = errors.New("invalid activity item")

// Kinds of recorded items.
const (
	KindText = "text"
	KindDiff = "diff"
)

// DefaultRetention bounds how long items are kept.
const DefaultRetention = 30 * 24 * time.Hour

// Extractor supplies recent activity text for one project.
type Extractor interface {
	// RecentActivity returns the project's activity inside window, oldest
	// first. An empty string means nothing happened.
	RecentActivity(ctx context.Context, projectID string, window time.Duration) (string, error)
}

// RecordRequest is one submitted activity item.
type RecordRequest struct {
	// Kind is "text" (default) or "diff" for a unified diff.
	Kind   string `json:"kind"`
	Text   string `json:"text" binding:"required"`
	Source string `json:"source,omitempty"`
}

// Item is a stored activity item. For diffs, Text is the summary.
type Item struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	Kind       string    `json:"kind"`
	Source     string    `json:"source,omitempty"`
	Text       string    `json:"text"`
	Files      []string  `json:"files,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Feed is an Extractor over items posted by callers, kept in badger with a
// TTL of Retention.
type Feed struct {
	db        *storage.DB
	projects  project.Lookup
	retention time.Duration
	now       func() time.Time
	seq       atomic.Uint64
}

// NewFeed creates a feed. retention <= 0 uses DefaultRetention.
func NewFeed(db *storage.DB, projects project.Lookup, retention time.Duration) *Feed {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Feed{db: db, projects: projects, retention: retention, now: time.Now}
}

func projectPrefix(projectID string) string {
	return activityKeyPrefix + projectID + "/"
}

// itemKey sorts by time within a project.
func (f *Feed) itemKey(projectID string, at time.Time) string {
	return fmt.Sprintf("%s%020d-%06d", projectPrefix(projectID), at.UnixNano(), f.seq.Add(1)%1_000_000)
}

// Record stores one item for projectID.
func (f *Feed) Record(ctx context.Context, projectID string, req RecordRequest) (*Item, error) {
	if _, err := f.projects.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("%w: text is required", ErrInvalidActivity)
	}
	item := &Item{
		ID:         uuid.NewString(),
		ProjectID:  projectID,
		Kind:       req.Kind,
		Source:     req.Source,
		RecordedAt: f.now().UTC(),
	}
	switch req.Kind {
	case "", KindText:
		item.Kind = KindText
		item.Text = req.Text
	case KindDiff:
		summary, err := SummarizeDiff(req.Text)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidActivity, err)
		}
		item.Text = summary.Text()
		item.Files = summary.Files
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidActivity, req.Kind)
	}

	key := f.itemKey(projectID, item.RecordedAt)
	err := f.db.Update(ctx, func(txn *badger.Txn) error {
		return storage.PutJSONWithTTL(txn, key, item, f.retention)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// Items returns the project's items recorded at or after since, oldest first.
func (f *Feed) Items(ctx context.Context, projectID string, since time.Time) ([]Item, error) {
	prefix := projectPrefix(projectID)
	from := prefix + fmt.Sprintf("%020d", since.UnixNano())
	var out []Item
	err := f.db.View(ctx, func(txn *badger.Txn) error {
		for _, key := range storage.KeysWithPrefix(txn, prefix) {
			if key < from {
				continue
			}
			var it Item
			if err := storage.GetJSON(txn, key, &it); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				return err
			}
			out = append(out, it)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}

// RecentActivity implements Extractor.
func (f *Feed) RecentActivity(ctx context.Context, projectID string, window time.Duration) (string, error) {
	if _, err := f.projects.GetProject(ctx, projectID); err != nil {
		return "", err
	}
	items, err := f.Items(ctx, projectID, f.now().Add(-window))
	if err != nil {
		return "", fmt.Errorf("%w: %v", datatypes.ErrActivityUnavailable, err)
	}
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, it.Text)
	}
	return strings.Join(parts, "\n"), nil
}

// Purge deletes every item of projectID.
func (f *Feed) Purge(ctx context.Context, projectID string) error {
	return f.db.Update(ctx, func(txn *badger.Txn) error {
		for _, key := range storage.KeysWithPrefix(txn, projectPrefix(projectID)) {
			if err := storage.Delete(txn, key); err != nil {
				return err
			}
		}
		return nil
	})
}

// Static is an Extractor returning fixed text per project.
type Static map[string]string

func (s Static) RecentActivity(ctx context.Context, projectID string, _ time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s[projectID], nil
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, projectID string, window time.Duration) (string, error)

func (f ExtractorFunc) RecentActivity(ctx context.Context, projectID string, window time.Duration) (string, error) {
	return f(ctx, projectID, window)
}

var (
	_ Extractor = (*Feed)(nil)
	_ Extractor = Static(nil)
	_ Extractor = ExtractorFunc(nil)
)
