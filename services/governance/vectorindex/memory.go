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
	"fmt"
	"math"
	"sort"
	"sync"
)

type memoryEntry struct {
	vector   []float32
	norm     float64
	text     string
	metadata map[string]string
}

// MemoryIndex is an in-process Index using exact cosine search.
type MemoryIndex struct {
	mu         sync.RWMutex
	partitions map[string]map[string]memoryEntry
}

// NewMemoryIndex creates an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{partitions: make(map[string]map[string]memoryEntry)}
}

func (m *MemoryIndex) EnsurePartition(_ context.Context, partition string) error {
	if partition == "" {
		return fmt.Errorf("ensure partition: empty key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.partitions[partition]; !ok {
		m.partitions[partition] = make(map[string]memoryEntry)
	}
	return nil
}

func (m *MemoryIndex) HasPartition(_ context.Context, partition string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.partitions[partition]
	return ok, nil
}

func (m *MemoryIndex) Upsert(ctx context.Context, partition, id string, vector []float32, text string, metadata map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	part, ok := m.partitions[partition]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPartitionNotFound, partition)
	}
	md := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		md[k] = v
	}
	md[MetadataProjectKey] = partition
	part[id] = memoryEntry{
		vector:   append([]float32(nil), vector...),
		norm:     norm(vector),
		text:     text,
		metadata: md,
	}
	return nil
}

func (m *MemoryIndex) Query(ctx context.Context, partition string, vector []float32, k int) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	part, ok := m.partitions[partition]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPartitionNotFound, partition)
	}

	qn := norm(vector)
	matches := make([]Match, 0, len(part))
	for id, e := range part {
		if len(e.vector) != len(vector) {
			continue
		}
		sim := 0.0
		if qn > 0 && e.norm > 0 {
			sim = dot(vector, e.vector) / (qn * e.norm)
		}
		md := make(map[string]string, len(e.metadata))
		for k, v := range e.metadata {
			md[k] = v
		}
		matches = append(matches, Match{ID: id, Text: e.text, Metadata: md, Distance: float32(1 - sim)})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (m *MemoryIndex) DropPartition(_ context.Context, partition string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.partitions, partition)
	return nil
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}

var _ Index = (*MemoryIndex)(nil)
