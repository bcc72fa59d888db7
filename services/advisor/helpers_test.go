// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package advisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/viewadvisor/pkg/config"
	"github.com/AleutianAI/viewadvisor/services/optimizer"
	dt "github.com/AleutianAI/viewadvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/viewadvisor/services/policy_engine"
)

var fixedTime = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

const ordersView = `CREATE VIEW dbo.vOrders AS
SELECT o.OrderID, c.CustomerCode
FROM dbo.Orders o
INNER JOIN dbo.Customers c ON c.CustomerID = o.CustomerID
WHERE c.CustomerCode = N'ABC'
  AND o.CustomerID IN (SELECT DISTINCT CustomerID FROM dbo.ActiveCustomers)`

const ordersPlan = `<ShowPlanXML xmlns="http://schemas.microsoft.com/sqlserver/2004/07/showplan" Version="1.564">
  <BatchSequence><Batch><Statements>
    <StmtSimple StatementSubTreeCost="1.0" StatementType="SELECT">
      <QueryPlan>
        <RelOp NodeId="0" PhysicalOp="Table Scan" LogicalOp="Table Scan" EstimateRows="100" EstimatedTotalSubtreeCost="1.0">
          <TableScan>
            <Object Database="[Shop]" Schema="[dbo]" Table="[Customers]" Alias="[c]" />
            <Predicate>
              <ScalarOperator ScalarString="CONVERT_IMPLICIT(nvarchar(20),[c].[CustomerCode],0)=N'ABC'">
                <Compare CompareOp="EQ">
                  <ScalarOperator>
                    <Convert DataType="nvarchar" Length="40" Style="0" Implicit="true">
                      <ScalarOperator>
                        <Identifier>
                          <ColumnReference Schema="[dbo]" Table="[Customers]" Alias="[c]" Column="CustomerCode" />
                        </Identifier>
                      </ScalarOperator>
                    </Convert>
                  </ScalarOperator>
                  <ScalarOperator>
                    <Const ConstValue="N'ABC'" />
                  </ScalarOperator>
                </Compare>
              </ScalarOperator>
            </Predicate>
          </TableScan>
        </RelOp>
      </QueryPlan>
    </StmtSimple>
  </Statements></Batch></BatchSequence>
</ShowPlanXML>`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func samplesOf(ms ...int64) []dt.RunSample {
	out := make([]dt.RunSample, len(ms))
	for i, v := range ms {
		out[i] = dt.RunSample{Run: i + 1, ExecutionTimeMs: v, LogicalReads: 600, CPUTimeMs: v / 2, RowCount: 42, Timestamp: fixedTime}
	}
	return out
}

// fakeGateway is a synchronous in-memory Gateway. hook, when set, runs at
// the start of every call with the operation name.
type fakeGateway struct {
	mu sync.Mutex

	definitions map[string]string
	checksum    string
	samples     []dt.RunSample
	plan        string

	definitionErr error
	checksumErr   error
	statsErr      error
	planErr       error

	hook  func(op string)
	calls []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		definitions: map[string]string{"dbo.vOrders": ordersView},
		checksum:    "9F86D081884C7D65",
		samples:     samplesOf(1400, 1500, 1600),
		plan:        ordersPlan,
	}
}

func (f *fakeGateway) enter(ctx context.Context, op string) error {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		hook(op)
	}
	return ctx.Err()
}

func (f *fakeGateway) called(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *fakeGateway) GetViewDefinition(ctx context.Context, viewName string) (string, error) {
	if err := f.enter(ctx, "GetViewDefinition"); err != nil {
		return "", err
	}
	if f.definitionErr != nil {
		return "", f.definitionErr
	}
	def, ok := f.definitions[viewName]
	if !ok {
		return "", errors.New("view not found")
	}
	return def, nil
}

func (f *fakeGateway) ComputeResultChecksum(ctx context.Context, viewName string) (string, error) {
	if err := f.enter(ctx, "ComputeResultChecksum"); err != nil {
		return "", err
	}
	return f.checksum, f.checksumErr
}

func (f *fakeGateway) RunWithPlan(ctx context.Context, viewName string) (string, error) {
	if err := f.enter(ctx, "RunWithPlan"); err != nil {
		return "", err
	}
	return f.plan, f.planErr
}

func (f *fakeGateway) RunWithStats(ctx context.Context, viewName string, repetitions int) ([]dt.RunSample, error) {
	if err := f.enter(ctx, "RunWithStats"); err != nil {
		return nil, err
	}
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	if repetitions < len(f.samples) {
		return f.samples[:repetitions], nil
	}
	return f.samples, nil
}

func (f *fakeGateway) TestConnection(ctx context.Context) error {
	return f.enter(ctx, "TestConnection")
}

type fakeRecorder struct {
	mu        sync.Mutex
	finished  []State
	generated []dt.ActionType
	skipped   []dt.ActionType
}

func (r *fakeRecorder) SessionFinished(state State, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, state)
}

func (r *fakeRecorder) ProposalGenerated(action dt.ActionType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generated = append(r.generated, action)
}

func (r *fakeRecorder) CandidateSkipped(action dt.ActionType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped = append(r.skipped, action)
}

type fakeArchive struct {
	mu      sync.Mutex
	entries map[string][]byte
	err     error
}

func (a *fakeArchive) Save(ctx context.Context, id string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	if a.entries == nil {
		a.entries = make(map[string][]byte)
	}
	a.entries[id] = data
	return nil
}

func testAdvisorConfig() config.AdvisorConfig {
	return config.DefaultConfig().Advisor
}

func newTestAdvisor(db *fakeGateway, opts ...Option) *Advisor {
	logger := quietLogger()
	validator := policy_engine.NewValidator(policy_engine.DefaultPolicy(logger), logger)
	generator := optimizer.NewGenerator(db, validator,
		optimizer.WithLogger(logger),
		optimizer.WithClock(func() time.Time { return fixedTime }),
		optimizer.WithIDs(func() string { return "p-1" }),
	)
	base := []Option{
		WithLogger(logger),
		WithClock(func() time.Time { return fixedTime }),
		WithIDs(func() string { return "s-1" }),
	}
	return New(db, generator, testAdvisorConfig(), append(base, opts...)...)
}
