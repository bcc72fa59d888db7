// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP command surface of the view advisor.
//
// Every handler binds a JSON body, validates it, calls one advisor command
// and replies with the command result or with the {error, message,
// context} failure body. Snapshot paths omitted by the caller fall back to
// the configured base path.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/viewadvisor/services/advisor"
	dt "github.com/AleutianAI/viewadvisor/services/orchestrator/datatypes"
)

// Defaults are the server-side fallbacks for optional request fields.
type Defaults struct {
	SnapshotBasePath string
}

func (d Defaults) snapshotPath(requested string) string {
	if p := strings.TrimSpace(requested); p != "" {
		return p
	}
	return d.SnapshotBasePath
}

// HandleAnalyzeBaseline serves POST /v1/views/baseline.
func HandleAnalyzeBaseline(a *advisor.Advisor, defaults Defaults) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dt.BaselineRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, err, nil)
			return
		}
		echo := map[string]any{"view_identifier": req.ViewIdentifier}
		if err := req.Validate(); err != nil {
			respondBadRequest(c, err, echo)
			return
		}

		result, err := a.AnalyzeViewBaseline(c.Request.Context(), req.ViewIdentifier, defaults.snapshotPath(req.SnapshotBasePath))
		if err != nil {
			respondError(c, err, echo)
			return
		}
		slog.Info("baseline analyzed",
			"view", result.ViewName,
			"exec_ms", result.Metrics.ExecutionTimeMs,
			"suggestions", len(result.Suggestions))
		c.JSON(http.StatusOK, result)
	}
}

// HandleGenerateProposal serves POST /v1/views/proposals.
func HandleGenerateProposal(a *advisor.Advisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dt.ProposalRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, err, nil)
			return
		}
		echo := map[string]any{"view_name": req.ViewName, "action_type": req.ActionType}
		if err := req.Validate(); err != nil {
			respondBadRequest(c, err, echo)
			return
		}
		action, err := dt.ParseActionType(req.ActionType)
		if err != nil {
			respondError(c, err, echo)
			return
		}

		proposal, err := a.GenerateOptimizationProposal(c.Request.Context(), req.ViewName, action, req.TargetObject)
		if err != nil {
			respondError(c, err, echo)
			return
		}
		c.JSON(http.StatusOK, proposal)
	}
}

// HandleAnalyzeAndPropose serves POST /v1/views/sessions. A session that
// ends in the Failed state is still a 200: the failure is part of the
// returned session. Only cancellation produces an error body.
func HandleAnalyzeAndPropose(a *advisor.Advisor, defaults Defaults) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dt.SessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, err, nil)
			return
		}
		echo := map[string]any{"view_identifier": req.ViewIdentifier}
		if err := req.Validate(); err != nil {
			respondBadRequest(c, err, echo)
			return
		}

		session, err := a.AnalyzeAndPropose(c.Request.Context(), req.ViewIdentifier, req.MaxProposals, defaults.snapshotPath(req.SnapshotBasePath))
		if err != nil {
			if session != nil {
				echo["session_id"] = session.ID
			}
			respondError(c, err, echo)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

type reportResponse struct {
	ViewName   string `json:"view_name"`
	Report     string `json:"report"`
	ReportPath string `json:"report_path"`
}

// HandleGenerateFinalReport serves POST /v1/views/reports.
func HandleGenerateFinalReport(a *advisor.Advisor, defaults Defaults) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dt.ReportRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, err, nil)
			return
		}
		echo := map[string]any{"view_name": req.ViewName}
		if err := req.Validate(); err != nil {
			respondBadRequest(c, err, echo)
			return
		}

		report, path, err := a.GenerateFinalReport(c.Request.Context(), req.ViewName, defaults.snapshotPath(req.SnapshotBasePath))
		if err != nil {
			respondError(c, err, echo)
			return
		}
		c.JSON(http.StatusOK, reportResponse{ViewName: req.ViewName, Report: report, ReportPath: path})
	}
}

// HandleMeasurePerformance serves POST /v1/views/measurements.
func HandleMeasurePerformance(a *advisor.Advisor, defaults Defaults) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dt.MeasureRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, err, nil)
			return
		}
		echo := map[string]any{"view_name": req.ViewName}
		if err := req.Validate(); err != nil {
			respondBadRequest(c, err, echo)
			return
		}

		result, err := a.MeasureViewPerformance(c.Request.Context(), req.ViewName, req.MeasurementRuns, defaults.snapshotPath(req.SnapshotBasePath))
		if err != nil {
			respondError(c, err, echo)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// HandleValidateResults serves POST /v1/views/validations.
func HandleValidateResults(a *advisor.Advisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dt.ResultValidationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, err, nil)
			return
		}
		echo := map[string]any{"view_name": req.ViewName}
		if err := req.Validate(); err != nil {
			respondBadRequest(c, err, echo)
			return
		}

		result, err := a.ValidateViewResults(c.Request.Context(), req.ViewName, req.BaselineChecksum)
		if err != nil {
			respondError(c, err, echo)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// HandleExecuteStep serves POST /v1/views/steps/execute. The advisor is
// read-only, so every well-formed request is answered with 409.
func HandleExecuteStep(a *advisor.Advisor) gin.HandlerFunc {
	return handleStep(a.ExecuteOptimizationStep)
}

// HandleRollbackStep serves POST /v1/views/steps/rollback.
func HandleRollbackStep(a *advisor.Advisor) gin.HandlerFunc {
	return handleStep(a.RollbackOptimizationStep)
}

func handleStep(op func(ctx context.Context, viewName string, stepNumber int) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dt.StepRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, err, nil)
			return
		}
		echo := map[string]any{"view_name": req.ViewName, "step_number": req.StepNumber}
		if err := req.Validate(); err != nil {
			respondBadRequest(c, err, echo)
			return
		}
		if err := op(c.Request.Context(), req.ViewName, req.StepNumber); err != nil {
			respondError(c, err, echo)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
