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
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	hubSendBuffer = 16
	hubWriteWait  = 10 * time.Second
)

// Hub broadcasts alerts to websocket clients subscribed to one project.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	closed  bool
}

type hubClient struct {
	projectID string
	conn      *websocket.Conn
	send      chan Alert
	once      sync.Once
}

func (c *hubClient) close() {
	c.once.Do(func() { close(c.send) })
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*hubClient]struct{}),
	}
}

// ServeWS upgrades the request and streams projectID's alerts until the
// client disconnects. The caller must have validated projectID.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, projectID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade alert stream: %w", err)
	}
	c := &hubClient{projectID: projectID, conn: conn, send: make(chan Alert, hubSendBuffer)}
	if !h.register(c) {
		_ = conn.Close()
		return fmt.Errorf("alert hub closed")
	}
	h.logger.Info("alert stream client connected", "project_id", projectID)

	go h.writeLoop(c)

	// Reads only detect the close; clients send nothing.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.unregister(c)
	h.logger.Info("alert stream client disconnected", "project_id", projectID)
	return nil
}

func (h *Hub) writeLoop(c *hubClient) {
	defer c.conn.Close()
	for a := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
		if err := c.conn.WriteJSON(a); err != nil {
			h.logger.Warn("alert stream write failed", "project_id", c.projectID, "error", err)
			h.unregister(c)
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) register(c *hubClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

// Send queues a to every client of a.ProjectID. A client whose buffer is
// full misses the alert.
func (h *Hub) Send(_ context.Context, a Alert) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.projectID != a.ProjectID {
			continue
		}
		select {
		case c.send <- a:
		default:
			h.logger.Warn("alert stream client slow, alert dropped", "project_id", a.ProjectID)
		}
	}
	return nil
}

// Clients returns the number of clients subscribed to projectID.
func (h *Hub) Clients(projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.clients {
		if c.projectID == projectID {
			n++
		}
	}
	return n
}

// DisconnectProject closes every stream of projectID.
func (h *Hub) DisconnectProject(projectID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.projectID == projectID {
			delete(h.clients, c)
			c.close()
		}
	}
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

var _ AlertSink = (*Hub)(nil)
