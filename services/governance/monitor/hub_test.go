// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
)

func dialHub(t *testing.T, srv *httptest.Server, projectID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?project=" + projectID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// TestHub_Broadcast verifies clients only receive their project's alerts.
func TestHub_Broadcast(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeWS(w, r, r.URL.Query().Get("project"))
	}))
	defer srv.Close()
	defer hub.Close()

	alpha := dialHub(t, srv, "alpha")
	beta := dialHub(t, srv, "beta")
	require.Eventually(t, func() bool {
		return hub.Clients("alpha") == 1 && hub.Clients("beta") == 1
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Send(context.Background(), Alert{
		ProjectID: "alpha",
		Status:    datatypes.DriftCriticalViolation,
		Score:     0.1,
	}))

	_ = alpha.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got Alert
	require.NoError(t, alpha.ReadJSON(&got))
	assert.Equal(t, "alpha", got.ProjectID)
	assert.Equal(t, datatypes.DriftCriticalViolation, got.Status)

	_ = beta.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := beta.ReadMessage()
	assert.Error(t, err, "beta must not receive alpha's alert")
}

// TestHub_DisconnectProject verifies a project's streams are closed.
func TestHub_DisconnectProject(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeWS(w, r, r.URL.Query().Get("project"))
	}))
	defer srv.Close()

	conn := dialHub(t, srv, "alpha")
	require.Eventually(t, func() bool { return hub.Clients("alpha") == 1 }, 5*time.Second, 5*time.Millisecond)

	hub.DisconnectProject("alpha")
	assert.Equal(t, 0, hub.Clients("alpha"))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	hub.Close()
	assert.NoError(t, hub.Send(context.Background(), Alert{ProjectID: "alpha"}))
}
