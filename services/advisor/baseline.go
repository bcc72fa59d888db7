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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	dt "github.com/AleutianAI/viewadvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/viewadvisor/services/optimizer"
	"github.com/AleutianAI/viewadvisor/services/plananalyzer"
	"github.com/AleutianAI/viewadvisor/services/snapshot"
)

// Gateway is the read-only database collaborator.
type Gateway interface {
	optimizer.DefinitionSource

	// ComputeResultChecksum hashes the view's full result set.
	ComputeResultChecksum(ctx context.Context, viewName string) (string, error)

	// RunWithPlan runs the view once and returns the actual execution plan.
	RunWithPlan(ctx context.Context, viewName string) (string, error)

	// RunWithStats runs the view repetitions times and samples each run.
	RunWithStats(ctx context.Context, viewName string, repetitions int) ([]dt.RunSample, error)

	// TestConnection checks that the database is reachable.
	TestConnection(ctx context.Context) error
}

// BaselineAnalyzer captures the baseline of a view: its definition, result
// checksum, timing, execution plan and derived suggestions.
type BaselineAnalyzer struct {
	db     Gateway
	runs   int
	logger *slog.Logger
	now    func() time.Time
}

// NewBaselineAnalyzer creates a BaselineAnalyzer that measures runs
// executions per baseline (3 when runs <= 0).
func NewBaselineAnalyzer(db Gateway, runs int, logger *slog.Logger) *BaselineAnalyzer {
	if runs <= 0 {
		runs = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BaselineAnalyzer{db: db, runs: runs, logger: logger, now: time.Now}
}

// IsDefinitionFile reports whether a view identifier names a .sql file
// rather than a database object.
func IsDefinitionFile(identifier string) bool {
	return strings.HasSuffix(strings.ToLower(identifier), ".sql") ||
		strings.ContainsAny(identifier, `/\`)
}

// viewNameFromFile returns the file base name without its extension.
func viewNameFromFile(path string) string {
	base := filepath.Base(strings.ReplaceAll(path, `\`, "/"))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Analyze captures the baseline for viewIdentifier. When snapshotPath is
// non-empty the baseline is also written to the snapshot store; a failed
// write is logged and reported in SnapshotWarning rather than returned.
//
// A missing execution plan is not fatal either: the analysis is left nil
// and the remaining suggestions are still produced.
func (b *BaselineAnalyzer) Analyze(ctx context.Context, viewIdentifier, snapshotPath string) (*dt.ViewAnalysisResult, error) {
	ctx, span := tracer.Start(ctx, "advisor.BaselineAnalyzer.Analyze",
		trace.WithAttributes(attribute.String("view.identifier", viewIdentifier)))
	defer span.End()

	result, err := b.analyze(ctx, viewIdentifier, snapshotPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("view.name", result.ViewName),
		attribute.Int64("baseline.execution_time_ms", result.Metrics.ExecutionTimeMs),
		attribute.Int("baseline.suggestions", len(result.Suggestions)),
	)
	return result, nil
}

func (b *BaselineAnalyzer) analyze(ctx context.Context, viewIdentifier, snapshotPath string) (*dt.ViewAnalysisResult, error) {
	identifier := strings.TrimSpace(viewIdentifier)
	if identifier == "" {
		return nil, fmt.Errorf("%w: view identifier is required", ErrInvalidInput)
	}

	result := &dt.ViewAnalysisResult{ViewName: identifier}
	if IsDefinitionFile(identifier) {
		data, err := os.ReadFile(identifier)
		if err != nil {
			return nil, fmt.Errorf("%w: reading definition file: %v", ErrInvalidInput, err)
		}
		result.ViewName = viewNameFromFile(identifier)
		result.ViewDefinition = string(data)
		result.DefinitionFile = identifier
	} else {
		definition, err := b.db.GetViewDefinition(ctx, identifier)
		if err != nil {
			return nil, dbErr(ctx, "GetViewDefinition", err)
		}
		result.ViewDefinition = definition
	}
	view := result.ViewName

	checksum, err := b.db.ComputeResultChecksum(ctx, view)
	if err != nil {
		return nil, dbErr(ctx, "ComputeResultChecksum", err)
	}
	result.ResultChecksum = checksum

	samples, err := b.db.RunWithStats(ctx, view, b.runs)
	if err != nil {
		return nil, dbErr(ctx, "RunWithStats", err)
	}
	result.Metrics = dt.SummarizeRuns(samples, b.now().UTC())

	plan, err := b.db.RunWithPlan(ctx, view)
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil:
		b.logger.Warn("execution plan unavailable", "view", view, "error", err)
	default:
		result.ExecutionPlan = plan
		analysis, aerr := plananalyzer.Analyze(plan)
		if aerr != nil {
			b.logger.Warn("execution plan not analyzed", "view", view, "error", aerr)
		} else {
			result.PlanAnalysis = analysis
		}
	}

	result.Suggestions = Suggest(result.ViewDefinition, result.PlanAnalysis)
	result.AnalyzedAt = b.now().UTC()

	if strings.TrimSpace(snapshotPath) != "" {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		store := snapshot.New(snapshotPath, b.logger)
		dir, err := store.SaveBaseline(ctx, result)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			b.logger.Error("baseline snapshot not saved", "view", view, "error", err)
			result.SnapshotWarning = fmt.Sprintf("baseline snapshot not saved: %v", err)
		} else {
			result.SnapshotPath = dir
		}
	}

	b.logger.Info("baseline captured",
		"view", view,
		"execution_time_ms", result.Metrics.ExecutionTimeMs,
		"logical_reads", result.Metrics.LogicalReads,
		"suggestions", len(result.Suggestions))
	return result, nil
}

// dbErr wraps a gateway failure, preferring the context error when the
// call was cancelled.
func dbErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return dt.NewCollaboratorError("database", op, err)
}
