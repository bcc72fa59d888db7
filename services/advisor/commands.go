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
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	dt "github.com/AleutianAI/viewadvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/viewadvisor/services/policy_engine"
	"github.com/AleutianAI/viewadvisor/services/snapshot"
)

// MeasurementResult is the outcome of MeasureViewPerformance. Baseline,
// PolicyCheck and the improvement percentage in Metrics are set only when a
// baseline snapshot exists for the view.
type MeasurementResult struct {
	ViewName        string                 `json:"view_name"`
	Metrics         dt.PerformanceMetrics  `json:"metrics"`
	Baseline        *dt.PerformanceMetrics `json:"baseline,omitempty"`
	PolicyCheck     *policy_engine.Result  `json:"policy_check,omitempty"`
	SnapshotPath    string                 `json:"snapshot_path,omitempty"`
	SnapshotWarning string                 `json:"snapshot_warning,omitempty"`
}

// AnalyzeViewBaseline captures the baseline of a view or a .sql file.
func (a *Advisor) AnalyzeViewBaseline(ctx context.Context, viewIdentifier, snapshotPath string) (*dt.ViewAnalysisResult, error) {
	return a.baseline.Analyze(ctx, viewIdentifier, snapshotPath)
}

// GenerateOptimizationProposal builds one proposal for a view stored in
// the database.
func (a *Advisor) GenerateOptimizationProposal(ctx context.Context, viewName string, action dt.ActionType, target string) (*dt.OptimizationProposal, error) {
	if strings.TrimSpace(viewName) == "" {
		return nil, fmt.Errorf("%w: view name is required", ErrInvalidInput)
	}
	return a.generator.GenerateProposal(ctx, strings.TrimSpace(viewName), action, target)
}

// GenerateFinalReport rebuilds the report for viewName from its snapshots
// and writes it next to them. The returned path is empty when the write
// failed; the report is still returned.
func (a *Advisor) GenerateFinalReport(ctx context.Context, viewName, snapshotPath string) (report, path string, err error) {
	report, err = a.generator.GenerateFinalReport(ctx, viewName, snapshotPath)
	if err != nil {
		return "", "", err
	}
	path, err = snapshot.New(snapshotPath, a.logger).SaveReport(ctx, viewName, report)
	if err != nil {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		a.logger.Error("final report not saved", "view", viewName, "error", err)
		return report, "", nil
	}
	return report, path, nil
}

// MeasureViewPerformance times runs executions of viewName (the configured
// default when runs <= 0). With a snapshot path the measurement is saved as
// a step, and when a baseline exists there the improvement is computed and
// checked against the performance thresholds.
func (a *Advisor) MeasureViewPerformance(ctx context.Context, viewName string, runs int, snapshotPath string) (*MeasurementResult, error) {
	view := strings.TrimSpace(viewName)
	if view == "" {
		return nil, fmt.Errorf("%w: view name is required", ErrInvalidInput)
	}
	if runs <= 0 {
		runs = a.cfg.MeasurementRuns
	}
	if runs <= 0 {
		runs = 3
	}

	ctx, span := tracer.Start(ctx, "advisor.Advisor.MeasureViewPerformance",
		trace.WithAttributes(attribute.String("view.name", view), attribute.Int("measure.runs", runs)))
	defer span.End()

	samples, err := a.db.RunWithStats(ctx, view, runs)
	if err != nil {
		return nil, dbErr(ctx, "RunWithStats", err)
	}
	result := &MeasurementResult{
		ViewName: view,
		Metrics:  dt.SummarizeRuns(samples, a.now().UTC()),
	}

	if strings.TrimSpace(snapshotPath) == "" {
		return result, nil
	}
	store := snapshot.New(snapshotPath, a.logger)

	baseline, err := store.LoadBaseline(ctx, view)
	switch {
	case err == nil:
		improvement := result.Metrics.ImprovementOver(baseline.Metrics)
		result.Metrics.ImprovementPercentage = &improvement
		result.Baseline = &baseline.Metrics
		check := a.generator.Validator().ValidatePerformance(improvement, result.Metrics.ExecutionTimeMs)
		result.PolicyCheck = &check
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case !errors.Is(err, snapshot.ErrNotFound):
		a.logger.Warn("baseline snapshot unreadable", "view", view, "error", err)
	}

	dir, err := store.SaveMeasurement(ctx, view, result.Metrics)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Error("measurement snapshot not saved", "view", view, "error", err)
		result.SnapshotWarning = fmt.Sprintf("measurement snapshot not saved: %v", err)
		return result, nil
	}
	result.SnapshotPath = dir
	return result, nil
}

// ValidateViewResults computes the result checksum of viewName. With a
// baseline checksum the two are compared; without one the checksum is
// returned as valid.
func (a *Advisor) ValidateViewResults(ctx context.Context, viewName, baselineChecksum string) (*dt.ResultValidation, error) {
	view := strings.TrimSpace(viewName)
	if view == "" {
		return nil, fmt.Errorf("%w: view name is required", ErrInvalidInput)
	}

	start := time.Now()
	checksum, err := a.db.ComputeResultChecksum(ctx, view)
	if err != nil {
		return nil, dbErr(ctx, "ComputeResultChecksum", err)
	}

	result := &dt.ResultValidation{
		ViewName:         view,
		IsValid:          true,
		BaselineChecksum: strings.TrimSpace(baselineChecksum),
		CurrentChecksum:  checksum,
		ValidatedAt:      a.now().UTC(),
		DurationMs:       time.Since(start).Milliseconds(),
	}
	switch {
	case result.BaselineChecksum == "":
		result.Message = "checksum computed; no baseline supplied"
	case strings.EqualFold(result.BaselineChecksum, checksum):
		result.Message = "result set matches the baseline"
	default:
		result.IsValid = false
		result.Message = "result set differs from the baseline"
		a.logger.Warn("result checksum mismatch", "view", view)
	}
	return result, nil
}
