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
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
	"github.com/AleutianAI/AleutianGovernance/services/governance/project"
)

// ProjectRemover deletes a project together with everything it owns.
type ProjectRemover interface {
	DeleteProject(ctx context.Context, projectID string) error
}

// ProjectInitializer prepares a new project's index partition.
type ProjectInitializer interface {
	Initialize(ctx context.Context, projects []datatypes.Project)
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// CreateProject handles POST /v1/projects.
func CreateProject(reg *project.Registry, init ProjectInitializer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req project.CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		p, err := reg.CreateProject(c.Request.Context(), req)
		if err != nil {
			respondError(c, err)
			return
		}
		if init != nil {
			init.Initialize(c.Request.Context(), []datatypes.Project{*p})
		}
		c.JSON(http.StatusCreated, p)
	}
}

// ListProjects handles GET /v1/projects.
func ListProjects(reg *project.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		projects, err := reg.ListProjects(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		if projects == nil {
			projects = []datatypes.Project{}
		}
		c.JSON(http.StatusOK, gin.H{"projects": projects})
	}
}

// GetProject handles GET /v1/projects/:projectId.
func GetProject(reg *project.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := reg.GetProject(c.Request.Context(), c.Param("projectId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// FocusProject handles POST /v1/projects/:projectId/focus.
func FocusProject(reg *project.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := reg.SetFocus(c.Request.Context(), c.Param("projectId")); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// DeleteProject handles DELETE /v1/projects/:projectId.
func DeleteProject(remover ProjectRemover) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := remover.DeleteProject(c.Request.Context(), c.Param("projectId")); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// Search handles POST /v1/projects/:projectId/search.
func Search(searcher *project.Searcher) gin.HandlerFunc {
	type request struct {
		Query string `json:"query" binding:"required"`
		K     int    `json:"k"`
	}
	return func(c *gin.Context) {
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		if req.K <= 0 || req.K > 50 {
			req.K = 5
		}
		matches, err := searcher.Search(c.Request.Context(), c.Param("projectId"), req.Query, req.K)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"matches": matches})
	}
}
