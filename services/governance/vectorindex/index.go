// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vectorindex stores (id, vector, text, metadata) tuples in
// partitions keyed by project id and answers nearest-neighbor queries
// within a single partition.
//
// There is deliberately no cross-partition query. Callers reach an Index
// only through project.Router, which binds a handle to one partition.
package vectorindex

import (
	"context"
	"errors"
)

// MetadataProjectKey is set on every stored tuple to its partition key.
const MetadataProjectKey = "project_id"

// ErrPartitionNotFound is returned by operations on a partition that was
// never ensured.
var ErrPartitionNotFound = errors.New("index partition not found")

// Match is one query result. Distance is cosine distance (0 = identical).
type Match struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Distance float32           `json:"distance"`
}

// Index is a partitioned vector store.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Index interface {
	// EnsurePartition initializes the partition if needed. Idempotent.
	EnsurePartition(ctx context.Context, partition string) error

	// HasPartition reports whether the partition has been initialized.
	HasPartition(ctx context.Context, partition string) (bool, error)

	// Upsert inserts or replaces the tuple id within partition.
	Upsert(ctx context.Context, partition, id string, vector []float32, text string, metadata map[string]string) error

	// Query returns up to k nearest tuples within partition, nearest first.
	Query(ctx context.Context, partition string, vector []float32, k int) ([]Match, error)

	// DropPartition removes every tuple of partition.
	DropPartition(ctx context.Context, partition string) error
}
