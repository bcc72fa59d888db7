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
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/viewadvisor/services/advisor"
	dt "github.com/AleutianAI/viewadvisor/services/orchestrator/datatypes"
	archive "github.com/AleutianAI/viewadvisor/services/storage/badger"
)

func sessionRouter(store SessionReader) *gin.Engine {
	r := gin.New()
	r.GET("/sessions", ListSessions(store))
	r.GET("/sessions/:sessionId", GetSession(store))
	return r
}

func openArchive(t *testing.T) *archive.SessionArchive {
	t.Helper()
	a, err := archive.Open(archive.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestGetSession(t *testing.T) {
	store := openArchive(t)
	data, err := json.Marshal(advisor.Session{ID: "s-1", ViewName: "dbo.vOrders", State: advisor.StateCompleted})
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), "s-1", data))

	w := do(t, sessionRouter(store), http.MethodGet, "/sessions/s-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	got := decode[advisor.Session](t, w)
	assert.Equal(t, "dbo.vOrders", got.ViewName)
	assert.Equal(t, advisor.StateCompleted, got.State)
}

func TestGetSession_Unknown(t *testing.T) {
	w := do(t, sessionRouter(openArchive(t)), http.MethodGet, "/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	resp := decode[dt.ErrorResponse](t, w)
	assert.Equal(t, "missing", resp.Context["session_id"])
}

func TestGetSession_Corrupt(t *testing.T) {
	store := openArchive(t)
	require.NoError(t, store.Save(context.Background(), "s-1", []byte("{not json")))

	w := do(t, sessionRouter(store), http.MethodGet, "/sessions/s-1", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSessions_ArchiveDisabled(t *testing.T) {
	router := sessionRouter(nil)
	for _, path := range []string{"/sessions", "/sessions/s-1"} {
		w := do(t, router, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.True(t, decode[dt.ErrorResponse](t, w).Error)
	}
}

func TestListSessions(t *testing.T) {
	store := openArchive(t)
	router := sessionRouter(store)

	w := do(t, router, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"session_ids":[]}`, w.Body.String())

	require.NoError(t, store.Save(context.Background(), "s-2", []byte("{}")))
	require.NoError(t, store.Save(context.Background(), "s-1", []byte("{}")))
	w = do(t, router, http.MethodGet, "/sessions", nil)
	assert.JSONEq(t, `{"session_ids":["s-1","s-2"]}`, w.Body.String())
}

type brokenReader struct{}

func (brokenReader) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("value log corrupt")
}

func (brokenReader) IDs(context.Context) ([]string, error) {
	return nil, errors.New("value log corrupt")
}

func TestSessions_StoreFailure(t *testing.T) {
	router := sessionRouter(brokenReader{})
	assert.Equal(t, http.StatusInternalServerError, do(t, router, http.MethodGet, "/sessions", nil).Code)
	assert.Equal(t, http.StatusInternalServerError, do(t, router, http.MethodGet, "/sessions/s-1", nil).Code)
}

func TestHealthCheck(t *testing.T) {
	router := gin.New()
	router.GET("/health", HealthCheck)

	w := do(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])
}

func TestReadinessCheck(t *testing.T) {
	db := newStubGateway()
	router := gin.New()
	router.GET("/ready", ReadinessCheck(db))

	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/ready", nil).Code)

	db.pingErr = errors.New("connection refused")
	w := do(t, router, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unavailable", decode[map[string]string](t, w)["status"])
}
