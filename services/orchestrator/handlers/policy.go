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

	"github.com/gin-gonic/gin"

	dt "github.com/AleutianAI/viewadvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/viewadvisor/services/policy_engine"
)

// ViolationRecorder counts policy violations. Nil disables counting.
type ViolationRecorder interface {
	RecordViolations(r policy_engine.Result)
}

type policyResponse struct {
	Constraints  policy_engine.Constraints `json:"constraints"`
	ConfigErrors []string                  `json:"config_errors,omitempty"`
}

// HandleGetPolicy serves GET /v1/policy: the active constraints and any
// pattern that failed to compile.
func HandleGetPolicy(v *policy_engine.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		policy := v.Policy()
		resp := policyResponse{Constraints: policy.Constraints()}
		for _, err := range policy.ConfigErrors() {
			resp.ConfigErrors = append(resp.ConfigErrors, err.Error())
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandleValidatePolicy serves POST /v1/policy/validate. A failed check is
// still a 200; the verdict is in the result body.
func HandleValidatePolicy(v *policy_engine.Validator, rec ViolationRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dt.PolicyCheckRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, err, nil)
			return
		}
		echo := map[string]any{"action_type": req.ActionType}
		if err := req.Validate(); err != nil {
			respondBadRequest(c, err, echo)
			return
		}

		result := v.ValidateAll(req.ActionType, req.SQLText, req.ViewDefinition)
		if rec != nil {
			rec.RecordViolations(result)
		}
		if !result.IsValid {
			slog.Info("policy check failed",
				"action", req.ActionType,
				"violations", len(result.Violations))
		}
		c.JSON(http.StatusOK, result)
	}
}
