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
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianGovernance/services/governance/approval"
	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
	"github.com/AleutianAI/AleutianGovernance/services/governance/middleware"
	"github.com/AleutianAI/AleutianGovernance/services/governance/plan"
	"github.com/AleutianAI/AleutianGovernance/services/governance/project"
)

// PlanView is a plan as returned by the API. The embedding is summarized
// by its dimension.
type PlanView struct {
	ID           string              `json:"id"`
	ProjectID    string              `json:"project_id"`
	Title        string              `json:"title"`
	Content      string              `json:"content"`
	State        datatypes.PlanState `json:"state"`
	EmbeddingDim int                 `json:"embedding_dim"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
	ApprovedBy   string              `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time          `json:"approved_at,omitempty"`
	Supersedes   string              `json:"supersedes,omitempty"`
	SupersededBy string              `json:"superseded_by,omitempty"`
	ContentHash  string              `json:"content_hash,omitempty"`
}

// NewPlanView converts a stored plan.
func NewPlanView(p *datatypes.SacredPlan) PlanView {
	v := PlanView{
		ID:           p.ID,
		ProjectID:    p.ProjectID,
		Title:        p.Title,
		Content:      p.Content,
		State:        p.State,
		EmbeddingDim: len(p.Embedding),
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
		ApprovedBy:   p.ApprovedBy,
		Supersedes:   p.Supersedes,
		SupersededBy: p.SupersededBy,
		ContentHash:  p.ContentHash,
	}
	if !p.ApprovedAt.IsZero() {
		at := p.ApprovedAt
		v.ApprovedAt = &at
	}
	return v
}

// planInProject resolves the route's project, then loads the route's plan
// and hides plans of other projects. An unknown project is reported as such
// before any plan lookup.
func planInProject(c *gin.Context, projects project.Lookup, plans *plan.Service) (*datatypes.SacredPlan, bool) {
	if _, err := projects.GetProject(c.Request.Context(), c.Param("projectId")); err != nil {
		respondError(c, err)
		return nil, false
	}
	p, err := plans.GetPlan(c.Request.Context(), c.Param("planId"))
	if err == nil && p.ProjectID != c.Param("projectId") {
		err = fmt.Errorf("%w: %s", datatypes.ErrPlanNotFound, c.Param("planId"))
	}
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return p, true
}

// CreatePlan handles POST /v1/projects/:projectId/plans.
func CreatePlan(plans *plan.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req plan.CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		p, err := plans.CreatePlan(c.Request.Context(), c.Param("projectId"), req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, NewPlanView(p))
	}
}

// ListPlans handles GET /v1/projects/:projectId/plans.
func ListPlans(plans *plan.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := plans.ListPlans(c.Request.Context(), c.Param("projectId"))
		if err != nil {
			respondError(c, err)
			return
		}
		views := make([]PlanView, 0, len(list))
		for _, p := range list {
			views = append(views, NewPlanView(p))
		}
		c.JSON(http.StatusOK, gin.H{"plans": views})
	}
}

// GetPlan handles GET /v1/projects/:projectId/plans/:planId.
func GetPlan(projects project.Lookup, plans *plan.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := planInProject(c, projects, plans)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, NewPlanView(p))
	}
}

// UpdatePlan handles PATCH /v1/projects/:projectId/plans/:planId.
func UpdatePlan(projects project.Lookup, plans *plan.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := planInProject(c, projects, plans); !ok {
			return
		}
		var req plan.UpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		p, err := plans.UpdatePlan(c.Request.Context(), c.Param("planId"), req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, NewPlanView(p))
	}
}

// LockPlan handles POST /v1/projects/:projectId/plans/:planId/lock.
func LockPlan(projects project.Lookup, plans *plan.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := planInProject(c, projects, plans); !ok {
			return
		}
		p, err := plans.LockPlan(c.Request.Context(), c.Param("planId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, NewPlanView(p))
	}
}

// ActivePlan handles GET /v1/projects/:projectId/plans/active.
func ActivePlan(plans *plan.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := plans.LockedPlan(c.Request.Context(), c.Param("projectId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, NewPlanView(p))
	}
}

// VerifyIntegrity handles GET /v1/projects/:projectId/integrity.
func VerifyIntegrity(plans *plan.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := plans.VerifyIntegrity(c.Request.Context(), c.Param("projectId")); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// =============================================================================
// Approval
// =============================================================================

// ApprovalRequest is the body of POST .../approve.
type ApprovalRequest struct {
	Code         string `json:"code" binding:"required"`
	SecondaryKey string `json:"secondary_key" binding:"required"`
}

// RejectRequest is the body of POST .../reject.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// approvalService is the part of approval.Workflow the handlers use.
type approvalService interface {
	RequestApproval(ctx context.Context, planID, actor string) (*datatypes.VerificationChallenge, error)
	ApprovePlan(ctx context.Context, planID, code, secondaryKey, actor string) (*approval.Result, error)
	RejectPlan(ctx context.Context, planID, actor, reason string) (*datatypes.SacredPlan, error)
}

// RequestApproval handles POST .../plans/:planId/approval. The response
// carries the verification code for the approver; the secondary key never
// travels through this service.
func RequestApproval(projects project.Lookup, plans *plan.Service, wf approvalService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := planInProject(c, projects, plans); !ok {
			return
		}
		ch, err := wf.RequestApproval(c.Request.Context(), c.Param("planId"), middleware.Actor(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, ch)
	}
}

// ApprovePlan handles POST .../plans/:planId/approve.
func ApprovePlan(projects project.Lookup, plans *plan.Service, wf approvalService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := planInProject(c, projects, plans); !ok {
			return
		}
		var req ApprovalRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		res, err := wf.ApprovePlan(c.Request.Context(), c.Param("planId"), req.Code, req.SecondaryKey, middleware.Actor(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"plan":        NewPlanView(res.Plan),
			"approved_by": res.ApprovedBy,
			"approved_at": res.ApprovedAt,
		})
	}
}

// RejectPlan handles POST .../plans/:planId/reject.
func RejectPlan(projects project.Lookup, plans *plan.Service, wf approvalService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := planInProject(c, projects, plans); !ok {
			return
		}
		var req RejectRequest
		// An empty body is a rejection without reason.
		_ = c.ShouldBindJSON(&req)
		p, err := wf.RejectPlan(c.Request.Context(), c.Param("planId"), middleware.Actor(c), req.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, NewPlanView(p))
	}
}
