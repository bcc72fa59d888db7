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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/viewadvisor/pkg/config"
	"github.com/AleutianAI/viewadvisor/services/advisor"
	"github.com/AleutianAI/viewadvisor/services/dbgateway"
	"github.com/AleutianAI/viewadvisor/services/optimizer"
	dt "github.com/AleutianAI/viewadvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/viewadvisor/services/policy_engine"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var fixedTime = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

const ordersView = `CREATE VIEW dbo.vOrders AS
SELECT DISTINCT o.OrderID, c.CustomerCode
FROM dbo.Orders o
INNER JOIN dbo.Customers c ON c.CustomerID = o.CustomerID
WHERE o.CustomerID IN (SELECT DISTINCT CustomerID FROM dbo.ActiveCustomers)`

const simplePlan = `<ShowPlanXML xmlns="http://schemas.microsoft.com/sqlserver/2004/07/showplan" Version="1.564">
  <BatchSequence><Batch><Statements>
    <StmtSimple StatementSubTreeCost="2.0" StatementType="SELECT">
      <QueryPlan>
        <RelOp NodeId="0" PhysicalOp="Table Scan" LogicalOp="Table Scan" EstimateRows="100" EstimatedTotalSubtreeCost="2.0">
          <TableScan>
            <Object Database="[Shop]" Schema="[dbo]" Table="[Orders]" Alias="[o]" />
          </TableScan>
        </RelOp>
      </QueryPlan>
    </StmtSimple>
  </Statements></Batch></BatchSequence>
</ShowPlanXML>`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubGateway answers every query from memory.
type stubGateway struct {
	definitions map[string]string
	checksum    string
	execMs      int64

	definitionErr error
	statsErr      error
	pingErr       error
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		definitions: map[string]string{"dbo.vOrders": ordersView},
		checksum:    "ABC123",
		execMs:      1500,
	}
}

func (s *stubGateway) GetViewDefinition(ctx context.Context, viewName string) (string, error) {
	if s.definitionErr != nil {
		return "", s.definitionErr
	}
	def, ok := s.definitions[viewName]
	if !ok {
		return "", fmt.Errorf("%w: %s", dbgateway.ErrViewNotFound, viewName)
	}
	return def, nil
}

func (s *stubGateway) ComputeResultChecksum(ctx context.Context, viewName string) (string, error) {
	return s.checksum, ctx.Err()
}

func (s *stubGateway) RunWithPlan(ctx context.Context, viewName string) (string, error) {
	return simplePlan, ctx.Err()
}

func (s *stubGateway) RunWithStats(ctx context.Context, viewName string, repetitions int) ([]dt.RunSample, error) {
	if s.statsErr != nil {
		return nil, s.statsErr
	}
	out := make([]dt.RunSample, repetitions)
	for i := range out {
		out[i] = dt.RunSample{Run: i + 1, ExecutionTimeMs: s.execMs, LogicalReads: 600, Timestamp: fixedTime}
	}
	return out, nil
}

func (s *stubGateway) TestConnection(ctx context.Context) error { return s.pingErr }

func newTestValidator() *policy_engine.Validator {
	return policy_engine.NewValidator(policy_engine.DefaultPolicy(quietLogger()), quietLogger())
}

func newTestAdvisor(db *stubGateway) *advisor.Advisor {
	logger := quietLogger()
	gen := optimizer.NewGenerator(db, newTestValidator(),
		optimizer.WithLogger(logger),
		optimizer.WithClock(func() time.Time { return fixedTime }))
	return advisor.New(db, gen, config.DefaultConfig().Advisor,
		advisor.WithLogger(logger),
		advisor.WithClock(func() time.Time { return fixedTime }))
}

// do sends body (marshalled unless it is already a string) to router.
func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}
