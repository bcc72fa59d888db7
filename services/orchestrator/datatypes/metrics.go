// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"math"
	"time"
)

// RunSample is a single timed execution of a view.
type RunSample struct {
	Run             int       `json:"run"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	LogicalReads    int64     `json:"logical_reads"`
	PhysicalReads   int64     `json:"physical_reads"`
	CPUTimeMs       int64     `json:"cpu_time_ms"`
	RowCount        int64     `json:"row_count"`
	Timestamp       time.Time `json:"timestamp"`
}

// PerformanceMetrics summarizes repeated executions of a view.
type PerformanceMetrics struct {
	ExecutionTimeMs       int64       `json:"execution_time_ms"`
	CPUTimeMs             int64       `json:"cpu_time_ms"`
	LogicalReads          int64       `json:"logical_reads"`
	PhysicalReads         int64       `json:"physical_reads"`
	RowCount              int64       `json:"row_count"`
	AverageExecutionTime  float64     `json:"average_execution_time"`
	StandardDeviation     float64     `json:"standard_deviation"`
	MeasurementRuns       int         `json:"measurement_runs"`
	Samples               []RunSample `json:"samples,omitempty"`
	ImprovementPercentage *float64    `json:"improvement_percentage,omitempty"`
	MeasuredAt            time.Time   `json:"measured_at"`
}

// SummarizeRuns reduces run samples to PerformanceMetrics. Execution time is
// the rounded average; the standard deviation is the population deviation.
// Reads and CPU time are averaged per run.
func SummarizeRuns(samples []RunSample, measuredAt time.Time) PerformanceMetrics {
	m := PerformanceMetrics{
		MeasurementRuns: len(samples),
		Samples:         samples,
		MeasuredAt:      measuredAt,
	}
	if len(samples) == 0 {
		return m
	}

	n := float64(len(samples))
	var sumTime, sumReads, sumPhys, sumCPU float64
	for _, s := range samples {
		sumTime += float64(s.ExecutionTimeMs)
		sumReads += float64(s.LogicalReads)
		sumPhys += float64(s.PhysicalReads)
		sumCPU += float64(s.CPUTimeMs)
	}
	avg := sumTime / n

	var variance float64
	for _, s := range samples {
		d := float64(s.ExecutionTimeMs) - avg
		variance += d * d
	}
	variance /= n

	m.AverageExecutionTime = avg
	m.ExecutionTimeMs = int64(math.Round(avg))
	m.StandardDeviation = math.Sqrt(variance)
	m.LogicalReads = int64(math.Round(sumReads / n))
	m.PhysicalReads = int64(math.Round(sumPhys / n))
	m.CPUTimeMs = int64(math.Round(sumCPU / n))
	m.RowCount = samples[len(samples)-1].RowCount
	return m
}

// ImprovementOver returns the execution-time reduction of m relative to
// baseline as a percentage. A zero baseline yields 0.
func (m PerformanceMetrics) ImprovementOver(baseline PerformanceMetrics) float64 {
	if baseline.AverageExecutionTime <= 0 {
		return 0
	}
	return (baseline.AverageExecutionTime - m.AverageExecutionTime) / baseline.AverageExecutionTime * 100
}
