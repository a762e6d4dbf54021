// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package activity

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
	"github.com/AleutianAI/AleutianGovernance/services/governance/project"
	"github.com/AleutianAI/AleutianGovernance/services/governance/storage"
)

const samplePatch = `diff --git a/internal/store/db.go b/internal/store/db.go
index 1111111..2222222 100644
--- a/internal/store/db.go
+++ b/internal/store/db.go
@@ -1,3 +1,4 @@
 package store
-import "github.com/jackc/pgx/v5"
+import "go.mongodb.org/mongo-driver/mongo"
+// switch to MongoDB collections
 func Open() {}
diff --git a/go.mod b/go.mod
index 3333333..4444444 100644
--- a/go.mod
+++ b/go.mod
@@ -3,1 +3,2 @@
 require (
+	go.mongodb.org/mongo-driver v1.13.0
`

func newTestFeed(t *testing.T) (*Feed, *time.Time) {
	t.Helper()
	db, err := storage.Open(storage.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	reg := project.NewRegistry(db)
	for _, id := range []string{"alpha", "beta"} {
		_, err := reg.CreateProject(context.Background(), project.CreateRequest{ID: id, Name: id})
		require.NoError(t, err)
	}
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f := NewFeed(db, reg, 0)
	f.now = func() time.Time { return now }
	return f, &now
}

// TestSummarizeDiff verifies files and added lines are extracted.
func TestSummarizeDiff(t *testing.T) {
	s, err := SummarizeDiff(samplePatch)
	require.NoError(t, err)
	assert.Equal(t, []string{"internal/store/db.go", "go.mod"}, s.Files)
	assert.Equal(t, []string{
		`import "go.mongodb.org/mongo-driver/mongo"`,
		"// switch to MongoDB collections",
	}, s.Added["internal/store/db.go"])

	text := s.Text()
	assert.Contains(t, text, "changed go.mod")
	assert.Contains(t, text, "go.mongodb.org/mongo-driver v1.13.0")
	assert.NotContains(t, text, "jackc/pgx")

	_, err = SummarizeDiff("not a diff")
	assert.Error(t, err)
}

// TestFeed_RecordAndWindow verifies window filtering and ordering.
func TestFeed_RecordAndWindow(t *testing.T) {
	f, now := newTestFeed(t)
	ctx := context.Background()

	_, err := f.Record(ctx, "alpha", RecordRequest{Text: "old work on postgres"})
	require.NoError(t, err)

	*now = now.Add(2 * time.Hour)
	_, err = f.Record(ctx, "alpha", RecordRequest{Text: "added redis cache"})
	require.NoError(t, err)
	item, err := f.Record(ctx, "alpha", RecordRequest{Kind: KindDiff, Text: samplePatch, Source: "git"})
	require.NoError(t, err)
	assert.Equal(t, []string{"internal/store/db.go", "go.mod"}, item.Files)

	text, err := f.RecentActivity(ctx, "alpha", time.Hour)
	require.NoError(t, err)
	assert.NotContains(t, text, "postgres")
	assert.True(t, strings.HasPrefix(text, "added redis cache\n"))
	assert.Contains(t, text, "mongo-driver")

	all, err := f.RecentActivity(ctx, "alpha", 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(all, "old work on postgres"))
}

// TestFeed_Isolation verifies items never leak across projects.
func TestFeed_Isolation(t *testing.T) {
	f, _ := newTestFeed(t)
	ctx := context.Background()
	_, err := f.Record(ctx, "alpha", RecordRequest{Text: "alpha only"})
	require.NoError(t, err)

	text, err := f.RecentActivity(ctx, "beta", time.Hour)
	require.NoError(t, err)
	assert.Empty(t, text)

	_, err = f.RecentActivity(ctx, "ghost", time.Hour)
	assert.ErrorIs(t, err, datatypes.ErrProjectNotFound)
	_, err = f.Record(ctx, "", RecordRequest{Text: "x"})
	assert.ErrorIs(t, err, datatypes.ErrProjectNotFound)
}

// TestFeed_RecordErrors verifies request validation.
func TestFeed_RecordErrors(t *testing.T) {
	f, _ := newTestFeed(t)
	ctx := context.Background()

	_, err := f.Record(ctx, "alpha", RecordRequest{Text: "  "})
	assert.Error(t, err)
	_, err = f.Record(ctx, "alpha", RecordRequest{Kind: "video", Text: "x"})
	assert.Error(t, err)
	_, err = f.Record(ctx, "alpha", RecordRequest{Kind: KindDiff, Text: "no diff here"})
	assert.Error(t, err)
}

// TestFeed_Purge verifies purge removes only the target project's items.
func TestFeed_Purge(t *testing.T) {
	f, _ := newTestFeed(t)
	ctx := context.Background()
	_, err := f.Record(ctx, "alpha", RecordRequest{Text: "a"})
	require.NoError(t, err)
	_, err = f.Record(ctx, "beta", RecordRequest{Text: "b"})
	require.NoError(t, err)

	require.NoError(t, f.Purge(ctx, "alpha"))
	text, err := f.RecentActivity(ctx, "alpha", time.Hour)
	require.NoError(t, err)
	assert.Empty(t, text)
	text, err = f.RecentActivity(ctx, "beta", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "b", text)
}
