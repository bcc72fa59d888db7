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
	"net/http"

	"github.com/gin-gonic/gin"

	dt "github.com/AleutianAI/viewadvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/viewadvisor/services/plananalyzer"
)

// HandlePlanAnalyze serves POST /v1/plans/analyze. It needs no database.
func HandlePlanAnalyze() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dt.PlanAnalyzeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, err, nil)
			return
		}
		if err := req.Validate(); err != nil {
			respondBadRequest(c, err, nil)
			return
		}

		analysis, err := plananalyzer.Analyze(req.PlanXML)
		if err != nil {
			respondError(c, err, map[string]any{"plan_bytes": len(req.PlanXML)})
			return
		}
		c.JSON(http.StatusOK, analysis)
	}
}

// HandlePlanCompare serves POST /v1/plans/compare.
func HandlePlanCompare() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dt.PlanCompareRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, err, nil)
			return
		}
		if err := req.Validate(); err != nil {
			respondBadRequest(c, err, nil)
			return
		}

		comparison, err := plananalyzer.Compare(req.BeforePlanXML, req.AfterPlanXML)
		if err != nil {
			respondError(c, err, map[string]any{
				"before_plan_bytes": len(req.BeforePlanXML),
				"after_plan_bytes":  len(req.AfterPlanXML),
			})
			return
		}
		c.JSON(http.StatusOK, comparison)
	}
}
