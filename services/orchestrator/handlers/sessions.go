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
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	dt "github.com/AleutianAI/viewadvisor/services/orchestrator/datatypes"
)

// SessionReader looks up archived sessions.
type SessionReader interface {
	Get(ctx context.Context, id string) ([]byte, error)
	IDs(ctx context.Context) ([]string, error)
}

// ListSessions serves GET /v1/sessions.
func ListSessions(store SessionReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil {
			archiveDisabled(c, nil)
			return
		}
		ids, err := store.IDs(c.Request.Context())
		if err != nil {
			respondError(c, err, nil)
			return
		}
		if ids == nil {
			ids = []string{}
		}
		c.JSON(http.StatusOK, gin.H{"session_ids": ids})
	}
}

// GetSession serves GET /v1/sessions/:sessionId. The stored JSON is
// returned as is.
func GetSession(store SessionReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.Param("sessionId"))
		echo := map[string]any{"session_id": id}
		if store == nil {
			archiveDisabled(c, echo)
			return
		}

		slog.Info("Received request to fetch session", "session_id", id)
		data, err := store.Get(c.Request.Context(), id)
		if err != nil {
			respondError(c, err, echo)
			return
		}
		if !json.Valid(data) {
			slog.Error("archived session is not valid JSON", "session_id", id)
			c.JSON(http.StatusInternalServerError, dt.NewErrorResponse("archived session is corrupt", echo))
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", data)
	}
}

func archiveDisabled(c *gin.Context, echo map[string]any) {
	c.JSON(http.StatusNotFound, dt.NewErrorResponse("session archive is not enabled", echo))
}
