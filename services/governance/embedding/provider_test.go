// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
)

// TestHTTPProvider_Embed verifies the request body and response parsing.
func TestHTTPProvider_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "DB uses Postgres", req.Text)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_ = json.NewEncoder(w).Encode(embedResponse{Text: req.Text, Vector: []float32{0.1, 0.2, 0.3}, Dim: 3})
	}))
	defer srv.Close()

	vec, err := NewHTTPProvider(srv.URL, nil).Embed(context.Background(), "DB uses Postgres")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

// TestHTTPProvider_ErrorStatus verifies non-200 responses fail.
func TestHTTPProvider_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := WithTimeout(NewHTTPProvider(srv.URL, nil), time.Second).Embed(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, datatypes.ErrEmbeddingUnavailable)
	assert.Contains(t, err.Error(), "503")
}

// TestWithTimeout_Deadline verifies a hung provider fails with a retryable error.
func TestWithTimeout_Deadline(t *testing.T) {
	slow := ProviderFunc(func(ctx context.Context, text string) ([]float32, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	start := time.Now()
	_, err := WithTimeout(slow, 20*time.Millisecond).Embed(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, datatypes.ErrEmbeddingUnavailable)
	assert.True(t, datatypes.IsRetryable(err))
	assert.Less(t, time.Since(start), time.Second)
}

// TestWithTimeout_EmptyVector verifies an empty vector is treated as unavailable.
func TestWithTimeout_EmptyVector(t *testing.T) {
	empty := ProviderFunc(func(ctx context.Context, text string) ([]float32, error) {
		return nil, nil
	})
	_, err := WithTimeout(empty, time.Second).Embed(context.Background(), "x")
	assert.ErrorIs(t, err, datatypes.ErrEmbeddingUnavailable)
}

// TestWithTimeout_PassesThroughWrappedSentinel verifies errors are not double wrapped.
func TestWithTimeout_PassesThroughWrappedSentinel(t *testing.T) {
	inner := errors.Join(datatypes.ErrEmbeddingUnavailable, errors.New("quota"))
	p := ProviderFunc(func(ctx context.Context, text string) ([]float32, error) { return nil, inner })
	_, err := WithTimeout(p, time.Second).Embed(context.Background(), "x")
	assert.Equal(t, inner, err)
}

// TestHashingProvider verifies determinism and lexical similarity.
func TestHashingProvider(t *testing.T) {
	p := NewHashingProvider(64)
	ctx := context.Background()

	a, err := p.Embed(ctx, "Postgres database")
	require.NoError(t, err)
	b, err := p.Embed(ctx, "postgres, DATABASE!")
	require.NoError(t, err)
	assert.Equal(t, a, b, "tokenization ignores case and punctuation")
	assert.Len(t, a, 64)

	zero, err := p.Embed(ctx, "   ")
	require.NoError(t, err)
	for _, v := range zero {
		assert.Zero(t, v)
	}
}

// TestNewOpenAIProvider_RequiresKey verifies construction fails without a key.
func TestNewOpenAIProvider_RequiresKey(t *testing.T) {
	_, err := NewOpenAIProvider("", "", "")
	assert.Error(t, err)

	p, err := NewOpenAIProvider("sk-test", "http://localhost:1", "")
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-3-small", string(p.model))
}

// TestOpenAIProvider_Embed verifies the go-openai client against a fake server.
func TestOpenAIProvider_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.5,0.25]}],"model":"text-embedding-3-small"}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider("sk-test", srv.URL, "")
	require.NoError(t, err)
	vec, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, vec)
}
