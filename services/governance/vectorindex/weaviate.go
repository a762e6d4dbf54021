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
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
)

// WeaviateIndex stores every partition in one Weaviate class and isolates
// partitions with a project_id equality filter on every read, write and
// delete.
//
// # Description
//
// Vectors are supplied by the caller (Vectorizer "none"). Object ids are
// derived from (partition, id) so Upsert through the batch endpoint
// replaces the previous object instead of duplicating it.
//
// # Limitations
//
//   - Partition existence is tracked in-process; a restarted service
//     relearns partitions when the router re-initializes them.
type WeaviateIndex struct {
	client    *weaviate.Client
	className string
	logger    *slog.Logger

	schemaOnce sync.Once
	schemaErr  error

	mu         sync.RWMutex
	partitions map[string]struct{}
}

// NewWeaviateIndex creates an index over an existing client.
func NewWeaviateIndex(client *weaviate.Client, className string, logger *slog.Logger) *WeaviateIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &WeaviateIndex{
		client:     client,
		className:  className,
		logger:     logger,
		partitions: make(map[string]struct{}),
	}
}

// NewWeaviateClient parses a URL such as "http://weaviate:8080" into a client.
func NewWeaviateClient(rawURL string) (*weaviate.Client, error) {
	rawURL = strings.Trim(rawURL, "\"' ")
	scheme, host, ok := strings.Cut(rawURL, "://")
	if !ok || scheme == "" || host == "" {
		return nil, fmt.Errorf("invalid Weaviate URL: %s", rawURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: strings.TrimSuffix(host, "/"), Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("create Weaviate client: %w", err)
	}
	return client, nil
}

// ChunkClass returns the schema for the chunk class.
func ChunkClass(className string) *models.Class {
	filterable := true
	return &models.Class{
		Class:       className,
		Description: "Project-partitioned governance chunks (locked plans, indexed activity).",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            MetadataProjectKey,
				DataType:        []string{"text"},
				Description:     "Partition key. Every query filters on it.",
				IndexFilterable: &filterable,
				Tokenization:    "field",
			},
			{
				Name:            "chunk_id",
				DataType:        []string{"text"},
				IndexFilterable: &filterable,
				Tokenization:    "field",
			},
			{
				Name:     "content",
				DataType: []string{"text"},
			},
			{
				Name:     "metadata_json",
				DataType: []string{"text"},
			},
		},
	}
}

func (w *WeaviateIndex) ensureSchema(ctx context.Context) error {
	w.schemaOnce.Do(func() {
		if _, err := w.client.Schema().ClassGetter().WithClassName(w.className).Do(ctx); err == nil {
			return
		}
		w.logger.Info("creating Weaviate class", "class", w.className)
		if err := w.client.Schema().ClassCreator().WithClass(ChunkClass(w.className)).Do(ctx); err != nil {
			w.schemaErr = fmt.Errorf("%w: create class %s: %v", datatypes.ErrIndexUnavailable, w.className, err)
		}
	})
	return w.schemaErr
}

func (w *WeaviateIndex) EnsurePartition(ctx context.Context, partition string) error {
	if partition == "" {
		return fmt.Errorf("ensure partition: empty key")
	}
	if err := w.ensureSchema(ctx); err != nil {
		return err
	}
	w.mu.Lock()
	w.partitions[partition] = struct{}{}
	w.mu.Unlock()
	return nil
}

func (w *WeaviateIndex) HasPartition(_ context.Context, partition string) (bool, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.partitions[partition]
	return ok, nil
}

func (w *WeaviateIndex) requirePartition(partition string) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if _, ok := w.partitions[partition]; !ok {
		return fmt.Errorf("%w: %s", ErrPartitionNotFound, partition)
	}
	return nil
}

// objectID derives a stable UUID for (partition, id).
func objectID(partition, id string) strfmt.UUID {
	sum := sha256.Sum256([]byte(partition + "\x00" + id))
	u, _ := uuid.FromBytes(sum[:16])
	return strfmt.UUID(u.String())
}

func (w *WeaviateIndex) Upsert(ctx context.Context, partition, id string, vector []float32, text string, metadata map[string]string) error {
	if err := w.requirePartition(partition); err != nil {
		return err
	}
	mdJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	obj := &models.Object{
		Class:  w.className,
		ID:     objectID(partition, id),
		Vector: vector,
		Properties: map[string]any{
			MetadataProjectKey: partition,
			"chunk_id":         id,
			"content":          text,
			"metadata_json":    string(mdJSON),
		},
	}

	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(obj).Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: upsert: %v", datatypes.ErrIndexUnavailable, err)
	}
	for _, item := range resp {
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			return fmt.Errorf("%w: upsert %s: %s", datatypes.ErrIndexUnavailable, id, item.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

// partitionFilter is the only where-clause used against the class.
func partitionFilter(partition string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{MetadataProjectKey}).
		WithOperator(filters.Equal).
		WithValueString(partition)
}

func (w *WeaviateIndex) Query(ctx context.Context, partition string, vector []float32, k int) ([]Match, error) {
	if err := w.requirePartition(partition); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	fields := []graphql.Field{
		{Name: MetadataProjectKey},
		{Name: "chunk_id"},
		{Name: "content"},
		{Name: "metadata_json"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}
	nearVector := w.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	resp, err := w.client.GraphQL().Get().
		WithClassName(w.className).
		WithFields(fields...).
		WithWhere(partitionFilter(partition)).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", datatypes.ErrIndexUnavailable, err)
	}
	return parseQueryResponse(resp, w.className, partition)
}

// weaviateHit is one entry of Get.<Class> in a GraphQL response.
type weaviateHit struct {
	ProjectID    string `json:"project_id"`
	ChunkID      string `json:"chunk_id"`
	Content      string `json:"content"`
	MetadataJSON string `json:"metadata_json"`
	Additional   struct {
		Distance float32 `json:"distance"`
	} `json:"_additional"`
}

// parseQueryResponse converts a GraphQL response into matches, dropping any
// hit whose project_id is not partition.
func parseQueryResponse(resp *models.GraphQLResponse, className, partition string) ([]Match, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: nil GraphQL response", datatypes.ErrIndexUnavailable)
	}
	if len(resp.Errors) > 0 && resp.Errors[0] != nil {
		return nil, fmt.Errorf("%w: graphql: %s", datatypes.ErrIndexUnavailable, resp.Errors[0].Message)
	}
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal GraphQL data: %w", err)
	}
	var data struct {
		Get map[string][]weaviateHit `json:"Get"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse GraphQL data: %w", err)
	}

	hits := data.Get[className]
	out := make([]Match, 0, len(hits))
	for _, h := range hits {
		if h.ProjectID != partition {
			continue
		}
		md := map[string]string{}
		if h.MetadataJSON != "" {
			_ = json.Unmarshal([]byte(h.MetadataJSON), &md)
		}
		md[MetadataProjectKey] = partition
		out = append(out, Match{ID: h.ChunkID, Text: h.Content, Metadata: md, Distance: h.Additional.Distance})
	}
	return out, nil
}

func (w *WeaviateIndex) DropPartition(ctx context.Context, partition string) error {
	_, err := w.client.Batch().ObjectsBatchDeleter().
		WithClassName(w.className).
		WithOutput("minimal").
		WithWhere(partitionFilter(partition)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: drop partition %s: %v", datatypes.ErrIndexUnavailable, partition, err)
	}
	w.mu.Lock()
	delete(w.partitions, partition)
	w.mu.Unlock()
	return nil
}

var _ Index = (*WeaviateIndex)(nil)
