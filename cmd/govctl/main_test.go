// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianGovernance/pkg/logging"
	"github.com/AleutianAI/AleutianGovernance/services/governance"
	"github.com/AleutianAI/AleutianGovernance/services/governance/approval"
	"github.com/AleutianAI/AleutianGovernance/services/governance/config"
	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
	"github.com/AleutianAI/AleutianGovernance/services/governance/embedding"
)

const testSecret = "correct horse battery staple"

type testServer struct {
	url       string
	auditPath string
}

func startServer(t *testing.T) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.Server.APITokenEnv = ""
	cfg.Server.GinMode = gin.TestMode
	cfg.Storage.InMemory = true
	cfg.Storage.GCInterval = 0
	cfg.Embedding.Backend = "hashing"
	cfg.Monitor.Enabled = false
	cfg.Approval.AuditLogPath = filepath.Join(t.TempDir(), "approval_audit.log")

	svc, err := governance.New(cfg, governance.Options{
		Logger:   logging.New(logging.Config{Quiet: true}),
		Embedder: embedding.NewHashingProvider(256),
		Secrets:  approval.NewStaticSecretStore(map[string]string{cfg.Approval.SecretName: testSecret}),
	})
	require.NoError(t, err)
	srv := httptest.NewServer(svc.Router())
	t.Cleanup(func() {
		srv.Close()
		svc.Close()
	})
	return testServer{url: srv.URL, auditPath: cfg.Approval.AuditLogPath}
}

// run executes govctl with plain output against server and returns stdout.
func run(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--server", server, "--plain"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func runJSON(t *testing.T, server string, v any, args ...string) {
	t.Helper()
	out, err := run(t, server, append([]string{"--json"}, args...)...)
	require.NoError(t, err, out)
	require.NoError(t, json.Unmarshal([]byte(out), v), out)
}

// TestGovctl_PlanLifecycle verifies the CLI drives a plan from draft to a
// drift analysis against the locked plan.
func TestGovctl_PlanLifecycle(t *testing.T) {
	srv := startServer(t)
	t.Setenv("GOVERNANCE_APPROVAL_SECRET", testSecret)

	out, err := run(t, srv.url, "project", "create", "orders", "--name", "Orders")
	require.NoError(t, err)
	assert.Contains(t, out, "OK: project orders created")

	var p struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	runJSON(t, srv.url, &p, "plan", "create", "orders",
		"--title", "Orders Service Architecture",
		"--content", "PostgreSQL is the system of record. Services access relational tables through pgx connection pools.")
	require.NotEmpty(t, p.ID)
	assert.Equal(t, "DRAFT", p.State)

	var ch datatypes.VerificationChallenge
	runJSON(t, srv.url, &ch, "plan", "request-approval", "orders", p.ID)
	require.Len(t, ch.Code, 8)

	out, err = run(t, srv.url, "plan", "approve", "orders", p.ID, "--code", ch.Code)
	require.NoError(t, err, out)
	assert.Contains(t, out, "approved by local-user")

	out, err = run(t, srv.url, "plan", "lock", "orders", p.ID)
	require.NoError(t, err, out)
	assert.Contains(t, out, "LOCKED\t"+p.ID)

	out, err = run(t, srv.url, "plan", "integrity", "orders")
	require.NoError(t, err)
	assert.Contains(t, out, "OK: locked plan intact")

	out, err = run(t, srv.url, "activity", "record", "orders",
		"--text", "Added MongoDB driver; replaced order persistence with mongoose document collections.")
	require.NoError(t, err, out)
	assert.Contains(t, out, "OK: recorded text")

	var a datatypes.DriftAnalysis
	runJSON(t, srv.url, &a, "drift", "run", "orders")
	assert.Equal(t, "orders", a.ProjectID)
	assert.Equal(t, p.ID, a.PlanID)
	assert.Contains(t, []datatypes.DriftStatus{datatypes.DriftModerate, datatypes.DriftCriticalViolation}, a.Status)

	out, err = run(t, srv.url, "drift", "history", "orders")
	require.NoError(t, err)
	assert.Contains(t, out, string(a.Status))

	out, err = run(t, srv.url, "audit", "verify", srv.auditPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "chain intact")
}

// TestGovctl_ErrorsSurface verifies server errors reach the caller.
func TestGovctl_ErrorsSurface(t *testing.T) {
	srv := startServer(t)

	_, err := run(t, srv.url, "plan", "list", "ghost")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "project not found", apiErr.ErrorResponse.Error)

	_, err = run(t, srv.url, "plan", "create", "ghost", "--title", "t")
	assert.ErrorContains(t, err, "content is required")

	_, err = run(t, srv.url, "project", "delete", "ghost")
	assert.ErrorContains(t, err, "--yes")
}

// TestClient_APIError verifies error bodies are decoded and non-JSON bodies
// fall back to the status text.
func TestClient_APIError(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"json body", http.StatusNotFound, `{"error":"project not found"}`, "404 project not found"},
		{"with detail", http.StatusConflict, `{"error":"invalid state","detail":"plan p1 is LOCKED"}`, "409 invalid state: plan p1 is LOCKED"},
		{"not json", http.StatusBadGateway, `<html>bad gateway</html>`, "502 Bad Gateway"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL+"/", "tok").GetProject(context.Background(), "p")
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.wantMsg, err.Error())
		})
	}
}

// TestReadContent verifies inline content wins over files and "-" reads
// stdin.
func TestReadContent(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetIn(strings.NewReader("from stdin"))

	got, err := readContent(cmd, "inline", "ignored")
	require.NoError(t, err)
	assert.Equal(t, "inline", got)

	got, err = readContent(cmd, "", "-")
	require.NoError(t, err)
	assert.Equal(t, "from stdin", got)

	path := filepath.Join(t.TempDir(), "plan.md")
	require.NoError(t, os.WriteFile(path, []byte("from file"), 0o600))
	got, err = readContent(cmd, "", path)
	require.NoError(t, err)
	assert.Equal(t, "from file", got)

	_, err = readContent(cmd, "", filepath.Join(t.TempDir(), "missing.md"))
	assert.Error(t, err)
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "one", firstLine("one\ntwo"))
	assert.Equal(t, strings.Repeat("x", 69)+"...", firstLine(strings.Repeat("x", 100)))
}

// TestAuditVerify_MissingFile verifies a missing log is an empty, intact
// chain.
func TestAuditVerify_MissingFile(t *testing.T) {
	out, err := run(t, "http://unused", "audit", "verify", filepath.Join(t.TempDir(), "none.log"))
	require.NoError(t, err)
	assert.Contains(t, out, "chain intact\t0 entries")
}
