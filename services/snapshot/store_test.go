// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dt "github.com/AleutianAI/viewadvisor/services/orchestrator/datatypes"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSaveAndLoadBaseline(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	result := &dt.ViewAnalysisResult{
		ViewName:       "[dbo].[vOrders]",
		ViewDefinition: "CREATE VIEW dbo.vOrders AS SELECT 1 AS one",
		ResultChecksum: "1f2e3d",
		Metrics:        dt.PerformanceMetrics{ExecutionTimeMs: 120, LogicalReads: 42, MeasurementRuns: 3},
		ExecutionPlan:  "<ShowPlanXML/>",
		AnalyzedAt:     time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
	}

	dir, err := s.SaveBaseline(ctx, result)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Base(), "dbo.vOrders", BaselineDir), dir)

	for _, name := range []string{DefinitionFile, ChecksumFile, MetricsFile, PlanFile, AnalysisFile} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
	def, err := os.ReadFile(filepath.Join(dir, DefinitionFile))
	require.NoError(t, err)
	assert.Equal(t, result.ViewDefinition, string(def))

	loaded, err := s.LoadBaseline(ctx, "[dbo].[vOrders]")
	require.NoError(t, err)
	assert.Equal(t, result.ResultChecksum, loaded.ResultChecksum)
	assert.Equal(t, int64(42), loaded.Metrics.LogicalReads)
	assert.True(t, result.AnalyzedAt.Equal(loaded.AnalyzedAt))

	// The baseline is not a numbered step.
	steps, err := s.Steps(ctx, "dbo.vOrders")
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestLoadBaseline_NotFound(t *testing.T) {
	_, err := newTestStore(t).LoadBaseline(context.Background(), "dbo.missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStepsAreNumberedInOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	view := "dbo.vOrders"

	d1, err := s.SaveProposal(ctx, &dt.OptimizationProposal{ViewName: view, ActionType: dt.UpdateStatistics, ProposedSQL: "UPDATE STATISTICS dbo.Orders WITH FULLSCAN;"})
	require.NoError(t, err)
	d2, err := s.SaveMeasurement(ctx, view, dt.PerformanceMetrics{ExecutionTimeMs: 100})
	require.NoError(t, err)
	d3, err := s.SaveProposal(ctx, &dt.OptimizationProposal{ViewName: view, ActionType: dt.RemoveUnnecessaryDistinct})
	require.NoError(t, err)

	assert.Equal(t, "01_UpdateStatistics", filepath.Base(d1))
	assert.Equal(t, "02_Measurement", filepath.Base(d2))
	assert.Equal(t, "03_RemoveUnnecessaryDistinct", filepath.Base(d3))

	sql, err := os.ReadFile(filepath.Join(d1, ProposedSQLFile))
	require.NoError(t, err)
	assert.Equal(t, "UPDATE STATISTICS dbo.Orders WITH FULLSCAN;", string(sql))

	steps, err := s.Steps(ctx, view)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, []string{"UpdateStatistics", "Measurement", "RemoveUnnecessaryDistinct"},
		[]string{steps[0].Name, steps[1].Name, steps[2].Name})

	proposals, err := s.LoadProposals(ctx, view)
	require.NoError(t, err)
	require.Len(t, proposals, 2)
	assert.Equal(t, dt.UpdateStatistics, proposals[0].ActionType)
	assert.Equal(t, dt.RemoveUnnecessaryDistinct, proposals[1].ActionType)
}

func TestLatestMeasurement(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.LatestMeasurement(ctx, "dbo.v")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.SaveMeasurement(ctx, "dbo.v", dt.PerformanceMetrics{ExecutionTimeMs: 300})
	require.NoError(t, err)
	_, err = s.SaveMeasurement(ctx, "dbo.v", dt.PerformanceMetrics{ExecutionTimeMs: 200})
	require.NoError(t, err)
	_, err = s.SaveProposal(ctx, &dt.OptimizationProposal{ViewName: "dbo.v", ActionType: dt.RemoveUnnecessarySort})
	require.NoError(t, err)

	m, err := s.LatestMeasurement(ctx, "dbo.v")
	require.NoError(t, err)
	assert.Equal(t, int64(200), m.ExecutionTimeMs)
}

func TestLoadProposals_NoViewDir(t *testing.T) {
	proposals, err := newTestStore(t).LoadProposals(context.Background(), "dbo.none")
	require.NoError(t, err)
	assert.Nil(t, proposals)
}

func TestSaveReport(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	path, err := s.SaveReport(ctx, "dbo.v", "# Report\n")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.ViewDir("dbo.v"), ReportFile), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# Report\n", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())

	// The report file does not count as a step.
	steps, err := s.Steps(ctx, "dbo.v")
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestInvalidInput(t *testing.T) {
	ctx := context.Background()

	_, err := New("", nil).SaveMeasurement(ctx, "dbo.v", dt.PerformanceMetrics{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	s := newTestStore(t)
	_, err = s.SaveProposal(ctx, &dt.OptimizationProposal{ViewName: " "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.SaveBaseline(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.SaveProposal(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestStore(t).SaveMeasurement(ctx, "dbo.v", dt.PerformanceMetrics{})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDirName(t *testing.T) {
	tests := map[string]string{
		"dbo.vOrders":        "dbo.vOrders",
		"[dbo].[vOrders]":    "dbo.vOrders",
		"  sales.v  ":        "sales.v",
		`a/b\c:d*e?f"g<h>i|`: "a_b_c_d_e_f_g_h_i_",
		"..":                 "_",
		"":                   "_",
		"tab\there":          "tab_here",
	}
	for in, want := range tests {
		assert.Equal(t, want, dirName(in), in)
	}
}

func TestParseStep(t *testing.T) {
	num, name, ok := parseStep("07_FixImplicitConversion")
	assert.True(t, ok)
	assert.Equal(t, 7, num)
	assert.Equal(t, "FixImplicitConversion", name)

	for _, bad := range []string{"final_report.md", "Baseline", "7_short", ".snapshot-1.tmp"} {
		_, _, ok := parseStep(bad)
		assert.False(t, ok, bad)
	}
}

func TestConcurrentStepAllocation_SeparateStores(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// Each request builds its own Store over the shared base path.
	writers := []func() (string, error){
		func() (string, error) {
			return New(base, logger).SaveProposal(ctx, &dt.OptimizationProposal{ViewName: "dbo.v", ActionType: dt.UpdateStatistics})
		},
		func() (string, error) {
			return New(base, logger).SaveProposal(ctx, &dt.OptimizationProposal{ViewName: "dbo.v", ActionType: dt.RemoveUnnecessaryDistinct})
		},
		func() (string, error) {
			return New(base, logger).SaveMeasurement(ctx, "dbo.v", dt.PerformanceMetrics{ExecutionTimeMs: 1})
		},
	}

	var wg sync.WaitGroup
	for round := 0; round < 5; round++ {
		for _, write := range writers {
			wg.Add(1)
			go func(write func() (string, error)) {
				defer wg.Done()
				_, err := write()
				assert.NoError(t, err)
			}(write)
		}
	}
	wg.Wait()

	steps, err := New(base, logger).Steps(ctx, "dbo.v")
	require.NoError(t, err)
	require.Len(t, steps, 15)
	seen := make(map[int]string, len(steps))
	for i, step := range steps {
		if prev, dup := seen[step.Number]; dup {
			t.Fatalf("step %d shared by %s and %s", step.Number, prev, step.Name)
		}
		seen[step.Number] = step.Name
		assert.Equal(t, i+1, step.Number)
	}
}

func TestLockForSharesEquivalentPaths(t *testing.T) {
	base := t.TempDir()
	assert.Same(t, lockFor(base), lockFor(filepath.Join(base, ".")))
	assert.Same(t, New(base, nil).mu, New(base+string(filepath.Separator), nil).mu)
	assert.NotSame(t, lockFor(base), lockFor(t.TempDir()))
}

func TestConcurrentStepAllocation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.SaveMeasurement(ctx, "dbo.v", dt.PerformanceMetrics{ExecutionTimeMs: 1})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	steps, err := s.Steps(ctx, "dbo.v")
	require.NoError(t, err)
	require.Len(t, steps, 10)
	for i, step := range steps {
		assert.Equal(t, i+1, step.Number)
	}
}
