// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
)

// TestMemoryIndex_QueryOrdersByDistance verifies nearest-first ordering and k truncation.
func TestMemoryIndex_QueryOrdersByDistance(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.EnsurePartition(ctx, "p1"))

	require.NoError(t, idx.Upsert(ctx, "p1", "same", []float32{1, 0}, "same", nil))
	require.NoError(t, idx.Upsert(ctx, "p1", "diag", []float32{1, 1}, "diag", nil))
	require.NoError(t, idx.Upsert(ctx, "p1", "orth", []float32{0, 1}, "orth", map[string]string{"kind": "x"}))

	got, err := idx.Query(ctx, "p1", []float32{2, 0}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "same", got[0].ID)
	assert.InDelta(t, 0, got[0].Distance, 1e-6)
	assert.Equal(t, "diag", got[1].ID)
	assert.Equal(t, "p1", got[0].Metadata[MetadataProjectKey])
}

// TestMemoryIndex_PartitionIsolation verifies a query never sees another partition.
func TestMemoryIndex_PartitionIsolation(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.EnsurePartition(ctx, "a"))
	require.NoError(t, idx.EnsurePartition(ctx, "b"))
	require.NoError(t, idx.Upsert(ctx, "a", "secret", []float32{1, 0}, "project a secret", nil))

	got, err := idx.Query(ctx, "b", []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = idx.Query(ctx, "missing", []float32{1, 0}, 10)
	assert.ErrorIs(t, err, ErrPartitionNotFound)
	assert.ErrorIs(t, idx.Upsert(ctx, "missing", "x", []float32{1}, "", nil), ErrPartitionNotFound)
}

// TestMemoryIndex_UpsertReplaces verifies the same id overwrites.
func TestMemoryIndex_UpsertReplaces(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.EnsurePartition(ctx, "p"))
	require.NoError(t, idx.Upsert(ctx, "p", "x", []float32{1, 0}, "v1", nil))
	require.NoError(t, idx.Upsert(ctx, "p", "x", []float32{1, 0}, "v2", nil))

	got, err := idx.Query(ctx, "p", []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "v2", got[0].Text)

	require.NoError(t, idx.DropPartition(ctx, "p"))
	ok, err := idx.HasPartition(ctx, "p")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestParseQueryResponse verifies hits from a foreign partition are dropped.
func TestParseQueryResponse(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]any{
				"GovernanceChunk": []any{
					map[string]any{
						"project_id":    "p1",
						"chunk_id":      "sacred-1#0",
						"content":       "DB uses Postgres",
						"metadata_json": `{"plan_id":"sacred-1"}`,
						"_additional":   map[string]any{"distance": 0.12},
					},
					map[string]any{
						"project_id": "p2",
						"chunk_id":   "leak",
						"content":    "other project",
					},
				},
			},
		},
	}

	got, err := parseQueryResponse(resp, "GovernanceChunk", "p1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "sacred-1#0", got[0].ID)
	assert.Equal(t, "sacred-1", got[0].Metadata["plan_id"])
	assert.InDelta(t, 0.12, got[0].Distance, 1e-6)
}

// TestParseQueryResponse_Errors verifies GraphQL errors map to ErrIndexUnavailable.
func TestParseQueryResponse_Errors(t *testing.T) {
	resp := &models.GraphQLResponse{Errors: []*models.GraphQLError{{Message: "class not found"}}}
	_, err := parseQueryResponse(resp, "GovernanceChunk", "p1")
	assert.ErrorIs(t, err, datatypes.ErrIndexUnavailable)

	_, err = parseQueryResponse(nil, "GovernanceChunk", "p1")
	assert.ErrorIs(t, err, datatypes.ErrIndexUnavailable)
}

// TestObjectID verifies ids are stable per (partition, id) and distinct across partitions.
func TestObjectID(t *testing.T) {
	assert.Equal(t, objectID("p1", "x"), objectID("p1", "x"))
	assert.NotEqual(t, objectID("p1", "x"), objectID("p2", "x"))
}

// TestChunkClass verifies the partition key is filterable with field tokenization.
func TestChunkClass(t *testing.T) {
	class := ChunkClass("GovernanceChunk")
	assert.Equal(t, "none", class.Vectorizer)
	require.NotEmpty(t, class.Properties)
	assert.Equal(t, MetadataProjectKey, class.Properties[0].Name)
	assert.Equal(t, "field", class.Properties[0].Tokenization)
	require.NotNil(t, class.Properties[0].IndexFilterable)
	assert.True(t, *class.Properties[0].IndexFilterable)
}

// TestNewWeaviateClient_InvalidURL verifies URL validation.
func TestNewWeaviateClient_InvalidURL(t *testing.T) {
	_, err := NewWeaviateClient("weaviate:8080")
	assert.Error(t, err)
	c, err := NewWeaviateClient("\"http://localhost:8080/\"")
	require.NoError(t, err)
	assert.NotNil(t, c)
}
