// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/viewadvisor/pkg/config"
	"github.com/AleutianAI/viewadvisor/services/advisor"
	dt "github.com/AleutianAI/viewadvisor/services/orchestrator/datatypes"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeGateway serves a single view with one nested DISTINCT.
type fakeGateway struct{}

func (fakeGateway) GetViewDefinition(context.Context, string) (string, error) {
	return "CREATE VIEW dbo.vOrders AS SELECT DISTINCT o.OrderID FROM dbo.Orders o " +
		"WHERE o.CustomerID IN (SELECT DISTINCT c.CustomerID FROM dbo.Customers c)", nil
}

func (fakeGateway) ComputeResultChecksum(context.Context, string) (string, error) {
	return "5A17", nil
}

func (fakeGateway) RunWithPlan(context.Context, string) (string, error) {
	return "", io.EOF
}

func (fakeGateway) RunWithStats(_ context.Context, _ string, n int) ([]dt.RunSample, error) {
	samples := make([]dt.RunSample, n)
	for i := range samples {
		samples[i] = dt.RunSample{Run: i + 1, ExecutionTimeMs: 40, LogicalReads: 12, RowCount: 3}
	}
	return samples, nil
}

func (fakeGateway) TestConnection(context.Context) error { return nil }

var _ advisor.Gateway = fakeGateway{}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.GinMode = gin.TestMode
	cfg.Server.OTelEndpoint = ""
	cfg.Advisor.SnapshotBasePath = t.TempDir()
	cfg.Archive = config.ArchiveConfig{Enabled: true, InMemory: true}
	return cfg
}

func newTestService(t *testing.T, cfg config.Config) Service {
	t.Helper()
	svc, err := New(cfg, &Options{
		Gateway:  fakeGateway{},
		Registry: prometheus.NewRegistry(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func serve(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// Construction Tests
// =============================================================================

func TestNew_ServesOperationalRoutes(t *testing.T) {
	router := newTestService(t, testConfig(t)).Router()

	for _, path := range []string{"/health", "/ready", "/metrics", "/v1/policy"} {
		w := serve(router, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w := serve(router, http.MethodGet, "/v1/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"session_ids":[]}`, w.Body.String())
}

func TestNew_SessionIsArchived(t *testing.T) {
	router := newTestService(t, testConfig(t)).Router()

	w := serve(router, http.MethodPost, "/v1/views/sessions", `{"view_identifier":"dbo.vOrders"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var session advisor.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
	assert.Equal(t, advisor.StateCompleted, session.State)
	assert.NotEmpty(t, session.Proposals)

	w = serve(router, http.MethodGet, "/v1/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), session.ID)

	w = serve(router, http.MethodGet, "/v1/sessions/"+session.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"view_name":"dbo.vOrders"`)

	w = serve(router, http.MethodGet, "/metrics", "")
	assert.Contains(t, w.Body.String(), `viewadvisor_session_finished_total{state="Completed"} 1`)
}

func TestNew_ArchiveDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive.Enabled = false
	router := newTestService(t, cfg).Router()

	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, "/v1/sessions", "").Code)
}

func TestNew_MetricsDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.EnableMetrics = false
	router := newTestService(t, cfg).Router()

	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, "/metrics", "").Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/health", "").Code)
}

func TestNew_StdoutTracer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.OTelEndpoint = StdoutExporter
	svc := newTestService(t, cfg)

	assert.Equal(t, http.StatusOK, serve(svc.Router(), http.MethodGet, "/health", "").Code)
	assert.NoError(t, svc.Close())
}

func TestNew_RequiresDatabaseDSN(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.DSN = ""

	svc, err := New(cfg, &Options{Registry: prometheus.NewRegistry()})
	assert.Error(t, err)
	assert.Nil(t, svc)
}

func TestNew_OpensGatewayFromConfig(t *testing.T) {
	// The pool connects lazily, so an unreachable server only fails /ready.
	cfg := testConfig(t)
	cfg.Database.DSN = "sqlserver://127.0.0.1:1?database=master&dial+timeout=1"
	cfg.Database.QueryTimeout = 2 * time.Second

	svc, err := New(cfg, &Options{Registry: prometheus.NewRegistry()})
	require.NoError(t, err)
	defer svc.Close()

	w := serve(svc.Router(), http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestClose_Idempotent(t *testing.T) {
	svc := newTestService(t, testConfig(t))
	assert.NoError(t, svc.Close())
	assert.NoError(t, svc.Close())
}

// =============================================================================
// Run Tests
// =============================================================================

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestRun_StopsWhenContextCancelled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = freePort(t)
	svc := newTestService(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRun_PortInUse(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	cfg := testConfig(t)
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = l.Addr().(*net.TCPAddr).Port
	svc := newTestService(t, cfg)

	err = svc.Run(context.Background())
	assert.Error(t, err)
}
