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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/viewadvisor/services/advisor"
	"github.com/AleutianAI/viewadvisor/services/dbgateway"
	"github.com/AleutianAI/viewadvisor/services/optimizer"
	dt "github.com/AleutianAI/viewadvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/viewadvisor/services/plananalyzer"
	"github.com/AleutianAI/viewadvisor/services/snapshot"
	archive "github.com/AleutianAI/viewadvisor/services/storage/badger"
)

// StatusFor maps a command error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, advisor.ErrReadOnlyMode):
		return http.StatusConflict
	case errors.Is(err, optimizer.ErrUnsupportedAction), errors.Is(err, optimizer.ErrRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, advisor.ErrInvalidInput),
		errors.Is(err, snapshot.ErrInvalidInput),
		errors.Is(err, plananalyzer.ErrMalformedPlan),
		errors.Is(err, dbgateway.ErrInvalidName),
		errors.Is(err, dt.ErrUnknownAction):
		return http.StatusBadRequest
	case errors.Is(err, dbgateway.ErrViewNotFound), errors.Is(err, archive.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dt.ErrCollaborator):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the {error, message, context} failure body.
func respondError(c *gin.Context, err error, context map[string]any) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("command failed", "path", c.FullPath(), "status", status, "error", err)
	} else {
		slog.Warn("command rejected", "path", c.FullPath(), "status", status, "error", err)
	}
	c.JSON(status, dt.NewErrorResponse(err.Error(), context))
}

// respondBadRequest is used for bodies that fail to bind or validate.
func respondBadRequest(c *gin.Context, err error, context map[string]any) {
	slog.Warn("invalid request body", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusBadRequest, dt.NewErrorResponse("invalid request: "+err.Error(), context))
}
