// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embedding maps text to fixed-length vectors.
//
// Three providers are available:
//
//   - HTTPProvider: the Aleutian embedding service ({"text": ...} -> {"vector": [...]})
//   - OpenAIProvider: the OpenAI embeddings API via go-openai
//   - HashingProvider: an in-process feature-hashing embedder for offline use
//
// Every provider should be wrapped with WithTimeout so that calls are bounded
// and failures surface as datatypes.ErrEmbeddingUnavailable.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
)

var tracer = otel.Tracer("aleutian.governance.embedding")

// Provider converts text into an embedding vector.
type Provider interface {
	// Embed returns the vector for text. Implementations must honor ctx.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, text string) ([]float32, error)

// Embed calls f.
func (f ProviderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// timeoutProvider bounds every call and normalizes errors.
type timeoutProvider struct {
	inner   Provider
	timeout time.Duration
}

// WithTimeout wraps p so each Embed call is bounded by timeout and any
// failure, including an empty vector, wraps datatypes.ErrEmbeddingUnavailable.
//
// # Inputs
//
//   - p: provider to wrap
//   - timeout: per-call bound; <= 0 leaves only the caller's deadline
//
// # Outputs
//
//   - Provider: bounded provider
func WithTimeout(p Provider, timeout time.Duration) Provider {
	return &timeoutProvider{inner: p, timeout: timeout}
}

func (t *timeoutProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "embedding.Embed")
	defer span.End()
	span.SetAttributes(attribute.Int("text_len", len(text)))

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	vec, err := t.inner.Embed(ctx, text)
	if err == nil && len(vec) == 0 {
		err = errors.New("provider returned an empty vector")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		if errors.Is(err, datatypes.ErrEmbeddingUnavailable) {
			return nil, err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: timed out after %s", datatypes.ErrEmbeddingUnavailable, t.timeout)
		}
		return nil, fmt.Errorf("%w: %v", datatypes.ErrEmbeddingUnavailable, err)
	}
	span.SetAttributes(attribute.Int("dim", len(vec)))
	return vec, nil
}

var _ Provider = (*timeoutProvider)(nil)
