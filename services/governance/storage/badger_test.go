// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// TestOpen_RequiresPath verifies persistent mode needs a directory.
func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

// TestOpen_Persistent verifies data survives reopen and GC starts and stops cleanly.
func TestOpen_Persistent(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.GCInterval = 50 * time.Millisecond
	ctx := context.Background()

	db, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, db.Update(ctx, func(txn *badger.Txn) error {
		return PutJSON(txn, "k", record{Name: "a", Count: 1})
	}))
	require.NoError(t, db.Close())

	db, err = Open(cfg)
	require.NoError(t, err)
	defer db.Close()
	var got record
	require.NoError(t, db.View(ctx, func(txn *badger.Txn) error { return GetJSON(txn, "k", &got) }))
	assert.Equal(t, record{Name: "a", Count: 1}, got)
}

// TestGetJSON_NotFound verifies the sentinel for absent keys.
func TestGetJSON_NotFound(t *testing.T) {
	db := openTestDB(t)
	err := db.View(context.Background(), func(txn *badger.Txn) error {
		var r record
		return GetJSON(txn, "missing", &r)
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestKeysWithPrefix verifies prefix scans are ordered and bounded.
func TestKeysWithPrefix(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.Update(ctx, func(txn *badger.Txn) error {
		for _, k := range []string{"a/2", "a/1", "b/1"} {
			if err := PutJSON(txn, k, record{Name: k}); err != nil {
				return err
			}
		}
		return nil
	}))

	var keys []string
	require.NoError(t, db.View(ctx, func(txn *badger.Txn) error {
		keys = KeysWithPrefix(txn, "a/")
		return nil
	}))
	assert.Equal(t, []string{"a/1", "a/2"}, keys)
}

// TestUpdate_ConflictRetry verifies concurrent read-modify-write increments are not lost.
func TestUpdate_ConflictRetry(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.Update(ctx, func(txn *badger.Txn) error {
		return PutJSON(txn, "counter", record{})
	}))

	const workers = 4
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- db.Update(ctx, func(txn *badger.Txn) error {
				var r record
				if err := GetJSON(txn, "counter", &r); err != nil {
					return err
				}
				r.Count++
				return PutJSON(txn, "counter", r)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var r record
	require.NoError(t, db.View(ctx, func(txn *badger.Txn) error { return GetJSON(txn, "counter", &r) }))
	assert.Equal(t, workers, r.Count, fmt.Sprintf("expected %d increments", workers))
}

// TestUpdate_CancelledContext verifies a cancelled context short-circuits.
func TestUpdate_CancelledContext(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := db.Update(ctx, func(txn *badger.Txn) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

// TestPutJSONWithTTL verifies the entry carries an expiry.
func TestPutJSONWithTTL(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.Update(ctx, func(txn *badger.Txn) error {
		return PutJSONWithTTL(txn, "ttl/k", record{Name: "t"}, time.Hour)
	}))
	require.NoError(t, db.View(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("ttl/k"))
		if err != nil {
			return err
		}
		assert.NotZero(t, item.ExpiresAt())
		var got record
		require.NoError(t, GetJSON(txn, "ttl/k", &got))
		assert.Equal(t, "t", got.Name)
		return nil
	}))
}
