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
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/viewadvisor/services/advisor"
	"github.com/AleutianAI/viewadvisor/services/orchestrator/handlers"
	"github.com/AleutianAI/viewadvisor/services/orchestrator/observability"
	"github.com/AleutianAI/viewadvisor/services/policy_engine"
)

// Dependencies are the collaborators the HTTP surface is built from.
// Sessions and Metrics are optional.
type Dependencies struct {
	Advisor   *advisor.Advisor
	Validator *policy_engine.Validator
	Sessions  handlers.SessionReader
	Metrics   *observability.AdvisorMetrics
	Defaults  handlers.Defaults

	// Gatherer serves /metrics. Nil means the Prometheus default registry.
	Gatherer prometheus.Gatherer
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/ready", handlers.ReadinessCheck(deps.Advisor.Gateway()))
	if deps.Metrics != nil {
		gatherer := deps.Gatherer
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	var violations handlers.ViolationRecorder
	if deps.Metrics != nil {
		violations = deps.Metrics
	}
	cmd := func(name string, h gin.HandlerFunc) []gin.HandlerFunc {
		return []gin.HandlerFunc{instrument(deps.Metrics, name), h}
	}

	// API version 1 group
	v1 := router.Group("/v1")
	{
		views := v1.Group("/views")
		{
			views.POST("/baseline", cmd("analyze_baseline", handlers.HandleAnalyzeBaseline(deps.Advisor, deps.Defaults))...)
			views.POST("/proposals", cmd("generate_proposal", handlers.HandleGenerateProposal(deps.Advisor))...)
			views.POST("/sessions", cmd("analyze_and_propose", handlers.HandleAnalyzeAndPropose(deps.Advisor, deps.Defaults))...)
			views.POST("/reports", cmd("final_report", handlers.HandleGenerateFinalReport(deps.Advisor, deps.Defaults))...)
			views.POST("/measurements", cmd("measure", handlers.HandleMeasurePerformance(deps.Advisor, deps.Defaults))...)
			views.POST("/validations", cmd("validate_results", handlers.HandleValidateResults(deps.Advisor))...)
			views.POST("/steps/execute", cmd("execute_step", handlers.HandleExecuteStep(deps.Advisor))...)
			views.POST("/steps/rollback", cmd("rollback_step", handlers.HandleRollbackStep(deps.Advisor))...)
		}

		plans := v1.Group("/plans")
		{
			plans.POST("/analyze", cmd("plan_analyze", handlers.HandlePlanAnalyze())...)
			plans.POST("/compare", cmd("plan_compare", handlers.HandlePlanCompare())...)
		}

		v1.GET("/policy", handlers.HandleGetPolicy(deps.Validator))
		v1.POST("/policy/validate", cmd("policy_check", handlers.HandleValidatePolicy(deps.Validator, violations))...)

		// Session archive routes
		sessions := v1.Group("/sessions")
		{
			sessions.GET("", handlers.ListSessions(deps.Sessions))
			sessions.GET("/:sessionId", handlers.GetSession(deps.Sessions))
		}
	}
}

// instrument records the outcome and latency of one command.
func instrument(m *observability.AdvisorMetrics, command string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		m.RecordCommand(command, observability.StatusForCode(c.Writer.Status()), time.Since(start))
	}
}
