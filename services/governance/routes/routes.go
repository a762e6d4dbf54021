// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianGovernance/pkg/extensions"
	"github.com/AleutianAI/AleutianGovernance/services/governance/activity"
	"github.com/AleutianAI/AleutianGovernance/services/governance/approval"
	"github.com/AleutianAI/AleutianGovernance/services/governance/drift"
	"github.com/AleutianAI/AleutianGovernance/services/governance/handlers"
	"github.com/AleutianAI/AleutianGovernance/services/governance/middleware"
	"github.com/AleutianAI/AleutianGovernance/services/governance/monitor"
	"github.com/AleutianAI/AleutianGovernance/services/governance/plan"
	"github.com/AleutianAI/AleutianGovernance/services/governance/project"
)

// Deps are the components the API serves.
type Deps struct {
	Registry    *project.Registry
	Initializer handlers.ProjectInitializer
	Remover     handlers.ProjectRemover
	Searcher    *project.Searcher
	Plans       *plan.Service
	Approval    *approval.Workflow
	Feed        *activity.Feed
	Engine      *drift.Engine
	Hub         *monitor.Hub

	// Gatherer serves /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	// ServiceName enables otelgin spans when non-empty.
	ServiceName string
}

// SetupRoutes registers the governance API on router.
func SetupRoutes(router *gin.Engine, deps Deps, opts extensions.ServiceOptions) {
	opts = opts.Normalize()
	if deps.ServiceName != "" {
		router.Use(otelgin.Middleware(deps.ServiceName))
	}

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	can := func(action, resource string) gin.HandlerFunc {
		return middleware.Authorize(opts.AuthzProvider, action, resource)
	}

	v1 := router.Group("/v1")
	v1.Use(middleware.Authenticate(opts.AuthProvider))
	{
		v1.POST("/projects", can(middleware.ActionProjectWrite, "project"), handlers.CreateProject(deps.Registry, deps.Initializer))
		v1.GET("/projects", can(middleware.ActionRead, "project"), handlers.ListProjects(deps.Registry))

		p := v1.Group("/projects/:projectId")
		{
			p.GET("", can(middleware.ActionRead, "project"), handlers.GetProject(deps.Registry))
			p.DELETE("", can(middleware.ActionProjectWrite, "project"), handlers.DeleteProject(deps.Remover))
			p.POST("/focus", can(middleware.ActionProjectWrite, "project"), handlers.FocusProject(deps.Registry))
			p.POST("/search", can(middleware.ActionRead, "project"), handlers.Search(deps.Searcher))
			p.GET("/active-plan", can(middleware.ActionRead, "plan"), handlers.ActivePlan(deps.Plans))
			p.GET("/integrity", can(middleware.ActionRead, "plan"), handlers.VerifyIntegrity(deps.Plans))

			p.POST("/plans", can(middleware.ActionPlanWrite, "plan"), handlers.CreatePlan(deps.Plans))
			p.GET("/plans", can(middleware.ActionRead, "plan"), handlers.ListPlans(deps.Plans))
			p.GET("/plans/:planId", can(middleware.ActionRead, "plan"), handlers.GetPlan(deps.Registry, deps.Plans))
			p.PATCH("/plans/:planId", can(middleware.ActionPlanWrite, "plan"), handlers.UpdatePlan(deps.Registry, deps.Plans))
			p.POST("/plans/:planId/approval", can(middleware.ActionPlanWrite, "plan"), handlers.RequestApproval(deps.Registry, deps.Plans, deps.Approval))
			p.POST("/plans/:planId/approve", can(middleware.ActionPlanApprove, "plan"), handlers.ApprovePlan(deps.Registry, deps.Plans, deps.Approval))
			p.POST("/plans/:planId/reject", can(middleware.ActionPlanApprove, "plan"), handlers.RejectPlan(deps.Registry, deps.Plans, deps.Approval))
			p.POST("/plans/:planId/lock", can(middleware.ActionPlanLock, "plan"), handlers.LockPlan(deps.Registry, deps.Plans))

			p.POST("/activity", can(middleware.ActionPlanWrite, "activity"), handlers.RecordActivity(deps.Feed))
			p.GET("/activity", can(middleware.ActionRead, "activity"), handlers.ListActivity(deps.Registry, deps.Feed))

			p.POST("/drift", can(middleware.ActionDriftRun, "drift"), handlers.AnalyzeDrift(deps.Engine))
			p.GET("/drift", can(middleware.ActionRead, "drift"), handlers.LatestDrift(deps.Registry, deps.Engine))
			p.GET("/alerts/stream", can(middleware.ActionRead, "drift"), handlers.AlertStream(deps.Registry, deps.Hub))
		}
	}
}
