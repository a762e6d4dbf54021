// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package approval

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendN(t *testing.T, l *AuditLog, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := l.Append(context.Background(), AuditEntry{
			PlanID: "sacred-0000000000000001", ProjectID: "alpha",
			Actor: "alice", Action: ActionApprove, Outcome: OutcomeFailure,
		})
		require.NoError(t, err)
	}
}

// TestAuditLog_ChainAndResume verifies chaining, file mode and resumption on reopen.
func TestAuditLog_ChainAndResume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := OpenAuditLog(path, nil, nil)
	require.NoError(t, err)
	appendN(t, l, 3)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(auditLogFileMode), info.Mode().Perm())

	l, err = OpenAuditLog(path, nil, nil)
	require.NoError(t, err)
	defer l.Close()
	appendN(t, l, 1)

	entries, err := ReadAuditEntries(path)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, GenesisHash, entries[0].PrevHash)
	assert.Equal(t, int64(4), entries[3].Sequence)
	assert.Equal(t, entries[2].EntryHash, entries[3].PrevHash)

	valid, idx, err := l.VerifyChain()
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Equal(t, int64(-1), idx)
}

// TestAuditLog_TamperDetected verifies an edited line breaks the chain at that entry.
func TestAuditLog_TamperDetected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := OpenAuditLog(path, nil, nil)
	require.NoError(t, err)
	l.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	appendN(t, l, 3)
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	lines[1] = strings.Replace(lines[1], `"outcome":"failure"`, `"outcome":"success"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0600))

	valid, idx, err := VerifyAuditFile(path)
	require.NoError(t, err)
	assert.False(t, valid)
	assert.Equal(t, int64(1), idx)
}

// TestVerifyAuditFile_Missing verifies a missing file is an empty, valid chain.
func TestVerifyAuditFile_Missing(t *testing.T) {
	valid, idx, err := VerifyAuditFile(filepath.Join(t.TempDir(), "none.log"))
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Equal(t, int64(-1), idx)
}

// TestObjectName verifies archive object naming.
func TestObjectName(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	tests := []struct {
		prefix, path, want string
	}{
		{"governance/audit", "/var/log/approval_audit.log", "governance/audit/approval_audit-20250301T093000Z.log"},
		{"/x/", "audit", "x/audit-20250301T093000Z.jsonl"},
		{"", "a.jsonl", "a-20250301T093000Z.jsonl"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, objectName(tt.prefix, tt.path, at))
	}
}

// TestSecretStores verifies sealed lookup and missing secrets.
func TestSecretStores(t *testing.T) {
	ctx := context.Background()

	static := NewStaticSecretStore(map[string]string{"k": "v"})
	v, err := static.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))
	_, err = static.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	env := &EnvSecretStore{getenv: func(name string) string {
		if name == "SET" {
			return "from-env"
		}
		return ""
	}}
	for i := 0; i < 2; i++ {
		v, err = env.Get(ctx, "SET")
		require.NoError(t, err)
		assert.Equal(t, "from-env", string(v))
	}
	_, err = env.Get(ctx, "UNSET")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = env.Get(cancelled, "SET")
	assert.ErrorIs(t, err, context.Canceled)
}
