// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianGovernance/services/governance/activity"
	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
	"github.com/AleutianAI/AleutianGovernance/services/governance/drift"
	"github.com/AleutianAI/AleutianGovernance/services/governance/monitor"
	"github.com/AleutianAI/AleutianGovernance/services/governance/project"
)

// AnalyzeDrift handles POST /v1/projects/:projectId/drift.
func AnalyzeDrift(engine *drift.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, err := engine.Analyze(c.Request.Context(), c.Param("projectId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, a)
	}
}

// LatestDrift handles GET /v1/projects/:projectId/drift. With ?history=N the
// last N analyses are returned, newest first.
func LatestDrift(reg *project.Registry, engine *drift.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		projectID := c.Param("projectId")
		if _, err := reg.GetProject(c.Request.Context(), projectID); err != nil {
			respondError(c, err)
			return
		}
		if raw := c.Query("history"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request", Detail: "history must be a non-negative integer"})
				return
			}
			h := engine.History(projectID, n)
			if h == nil {
				h = []*datatypes.DriftAnalysis{}
			}
			c.JSON(http.StatusOK, gin.H{"analyses": h})
			return
		}
		a := engine.LatestAnalysis(projectID)
		if a == nil {
			c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{Error: "no analysis yet"})
			return
		}
		c.JSON(http.StatusOK, a)
	}
}

// RecordActivity handles POST /v1/projects/:projectId/activity.
func RecordActivity(feed *activity.Feed) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req activity.RecordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		item, err := feed.Record(c.Request.Context(), c.Param("projectId"), req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, item)
	}
}

// ListActivity handles GET /v1/projects/:projectId/activity?since=<duration>.
func ListActivity(reg *project.Registry, feed *activity.Feed) gin.HandlerFunc {
	return func(c *gin.Context) {
		projectID := c.Param("projectId")
		if _, err := reg.GetProject(c.Request.Context(), projectID); err != nil {
			respondError(c, err)
			return
		}
		window := 24 * time.Hour
		if raw := c.Query("since"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil || d <= 0 {
				c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request", Detail: "since must be a positive duration"})
				return
			}
			window = d
		}
		items, err := feed.Items(c.Request.Context(), projectID, time.Now().Add(-window))
		if err != nil {
			respondError(c, err)
			return
		}
		if items == nil {
			items = []activity.Item{}
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

// AlertStream handles GET /v1/projects/:projectId/alerts/stream by upgrading
// to a websocket that carries the project's drift alerts.
func AlertStream(reg *project.Registry, hub *monitor.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		projectID := c.Param("projectId")
		if _, err := reg.GetProject(c.Request.Context(), projectID); err != nil {
			respondError(c, err)
			return
		}
		if err := hub.ServeWS(c.Writer, c.Request, projectID); err != nil {
			slog.Warn("alert stream failed", "project_id", projectID, "error", err)
		}
	}
}
