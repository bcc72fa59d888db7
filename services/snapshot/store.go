// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package snapshot persists advisor artifacts to a directory tree.
//
// Layout under the base path:
//
//	<view>/00_Baseline/view_definition.sql
//	<view>/00_Baseline/result_checksum.txt
//	<view>/00_Baseline/performance_metrics.json
//	<view>/00_Baseline/execution_plan.xml
//	<view>/00_Baseline/analysis_result.json
//	<view>/NN_<Action>/proposal.json
//	<view>/NN_<Action>/proposed.sql
//	<view>/NN_Measurement/performance_metrics.json
//	<view>/final_report.md
//
// Step numbers grow per view and are never reused. Every file is written
// through a temp file and renamed into place.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	dt "github.com/AleutianAI/viewadvisor/services/orchestrator/datatypes"
)

// File and directory names.
const (
	BaselineDir     = "00_Baseline"
	MeasurementStep = "Measurement"
	DefinitionFile  = "view_definition.sql"
	ChecksumFile    = "result_checksum.txt"
	MetricsFile     = "performance_metrics.json"
	PlanFile        = "execution_plan.xml"
	AnalysisFile    = "analysis_result.json"
	ProposalFile    = "proposal.json"
	ProposedSQLFile = "proposed.sql"
	ReportFile      = "final_report.md"
)

var (
	// ErrNotFound is returned when a requested artifact does not exist.
	ErrNotFound = errors.New("snapshot artifact not found")

	// ErrInvalidInput is returned for empty base paths or view names.
	ErrInvalidInput = errors.New("invalid snapshot input")
)

// Step is one numbered step directory of a view.
type Step struct {
	Number int    `json:"number"`
	Name   string `json:"name"`
	Dir    string `json:"dir"`
}

// Store reads and writes the snapshot tree rooted at one base path.
//
// Thread Safety: safe for concurrent use. Step allocation is serialized
// across every Store of the process that shares a base path, so two writers
// never share a step number.
type Store struct {
	base   string
	logger *slog.Logger
	mu     *sync.Mutex
}

// baseLocks maps a cleaned absolute base path to its step allocation lock.
var baseLocks sync.Map

func lockFor(base string) *sync.Mutex {
	key := filepath.Clean(base)
	if abs, err := filepath.Abs(key); err == nil {
		key = abs
	}
	mu, _ := baseLocks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// New creates a Store rooted at base. The directory is created lazily on
// the first write.
func New(base string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{base: base, logger: logger, mu: lockFor(base)}
}

// Base returns the root directory.
func (s *Store) Base() string { return s.base }

// ViewDir returns the directory holding a view's artifacts.
func (s *Store) ViewDir(view string) string {
	return filepath.Join(s.base, dirName(view))
}

func (s *Store) check(ctx context.Context, view string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(s.base) == "" {
		return fmt.Errorf("%w: base path must not be empty", ErrInvalidInput)
	}
	if strings.TrimSpace(view) == "" {
		return fmt.Errorf("%w: view name must not be empty", ErrInvalidInput)
	}
	return nil
}

// SaveBaseline writes the five baseline files for result.ViewName.
//
// Description:
//
//	Overwrites any previous baseline of the view. Step directories written
//	earlier are left in place.
//
// Outputs:
//
//	string - The baseline directory.
//	error - Non-nil if any file cannot be written.
func (s *Store) SaveBaseline(ctx context.Context, result *dt.ViewAnalysisResult) (string, error) {
	if result == nil {
		return "", fmt.Errorf("%w: nil baseline", ErrInvalidInput)
	}
	if err := s.check(ctx, result.ViewName); err != nil {
		return "", err
	}

	dir := filepath.Join(s.ViewDir(result.ViewName), BaselineDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create baseline dir: %w", err)
	}

	metrics, err := json.MarshalIndent(result.Metrics, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal metrics: %w", err)
	}
	analysis, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal analysis: %w", err)
	}

	files := []struct {
		name string
		data []byte
	}{
		{DefinitionFile, []byte(result.ViewDefinition)},
		{ChecksumFile, []byte(result.ResultChecksum)},
		{MetricsFile, metrics},
		{PlanFile, []byte(result.ExecutionPlan)},
		{AnalysisFile, analysis},
	}
	for _, f := range files {
		if err := writeAtomic(filepath.Join(dir, f.name), f.data); err != nil {
			return "", err
		}
	}

	s.logger.Info("baseline snapshot saved", "view", result.ViewName, "dir", dir)
	return dir, nil
}

// LoadBaseline reads a view's baseline analysis. It returns ErrNotFound
// when no baseline was saved.
func (s *Store) LoadBaseline(ctx context.Context, view string) (*dt.ViewAnalysisResult, error) {
	if err := s.check(ctx, view); err != nil {
		return nil, err
	}
	var result dt.ViewAnalysisResult
	if err := readJSON(filepath.Join(s.ViewDir(view), BaselineDir, AnalysisFile), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SaveProposal writes a proposal into the next step directory of its view.
func (s *Store) SaveProposal(ctx context.Context, p *dt.OptimizationProposal) (string, error) {
	if p == nil {
		return "", fmt.Errorf("%w: nil proposal", ErrInvalidInput)
	}
	if err := s.check(ctx, p.ViewName); err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal proposal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.nextStep(p.ViewName, string(p.ActionType))
	if err != nil {
		return "", err
	}
	if err := writeAtomic(filepath.Join(dir, ProposalFile), data); err != nil {
		return "", err
	}
	if err := writeAtomic(filepath.Join(dir, ProposedSQLFile), []byte(p.ProposedSQL)); err != nil {
		return "", err
	}
	return dir, nil
}

// LoadProposals returns every saved proposal of a view in step order. A
// view without a directory has no proposals.
func (s *Store) LoadProposals(ctx context.Context, view string) ([]dt.OptimizationProposal, error) {
	steps, err := s.Steps(ctx, view)
	if err != nil {
		return nil, err
	}
	var out []dt.OptimizationProposal
	for _, step := range steps {
		var p dt.OptimizationProposal
		err := readJSON(filepath.Join(step.Dir, ProposalFile), &p)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// SaveMeasurement writes metrics into the next step directory of a view.
func (s *Store) SaveMeasurement(ctx context.Context, view string, metrics dt.PerformanceMetrics) (string, error) {
	if err := s.check(ctx, view); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal metrics: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.nextStep(view, MeasurementStep)
	if err != nil {
		return "", err
	}
	if err := writeAtomic(filepath.Join(dir, MetricsFile), data); err != nil {
		return "", err
	}
	return dir, nil
}

// LatestMeasurement returns the most recent saved measurement, or
// ErrNotFound.
func (s *Store) LatestMeasurement(ctx context.Context, view string) (*dt.PerformanceMetrics, error) {
	steps, err := s.Steps(ctx, view)
	if err != nil {
		return nil, err
	}
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Name != MeasurementStep {
			continue
		}
		var m dt.PerformanceMetrics
		if err := readJSON(filepath.Join(steps[i].Dir, MetricsFile), &m); err != nil {
			return nil, err
		}
		return &m, nil
	}
	return nil, fmt.Errorf("%w: no measurement for %s", ErrNotFound, view)
}

// SaveReport writes the final report of a view.
func (s *Store) SaveReport(ctx context.Context, view, report string) (string, error) {
	if err := s.check(ctx, view); err != nil {
		return "", err
	}
	dir := s.ViewDir(view)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create view dir: %w", err)
	}
	path := filepath.Join(dir, ReportFile)
	if err := writeAtomic(path, []byte(report)); err != nil {
		return "", err
	}
	return path, nil
}

// Steps lists the numbered step directories of a view, excluding the
// baseline, in ascending order.
func (s *Store) Steps(ctx context.Context, view string) ([]Step, error) {
	if err := s.check(ctx, view); err != nil {
		return nil, err
	}
	root := s.ViewDir(view)
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read view dir: %w", err)
	}

	var steps []Step
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		num, name, ok := parseStep(e.Name())
		if !ok || num == 0 {
			continue
		}
		steps = append(steps, Step{Number: num, Name: name, Dir: filepath.Join(root, e.Name())})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Number < steps[j].Number })
	return steps, nil
}

const maxStepAttempts = 16

// nextStep creates the directory for the next step. Callers hold s.mu.
func (s *Store) nextStep(view, name string) (string, error) {
	root := s.ViewDir(view)
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", fmt.Errorf("create view dir: %w", err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("read view dir: %w", err)
	}
	last := 0
	for _, e := range entries {
		if num, _, ok := parseStep(e.Name()); ok && num > last {
			last = num
		}
	}
	// Another process may claim the same number first.
	for attempt := 0; attempt < maxStepAttempts; attempt++ {
		dir := filepath.Join(root, fmt.Sprintf("%02d_%s", last+1+attempt, dirName(name)))
		err := os.Mkdir(dir, 0755)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("create step dir: %w", err)
		}
	}
	return "", fmt.Errorf("create step dir: no free step number after %d attempts", maxStepAttempts)
}

func parseStep(name string) (int, string, bool) {
	prefix, rest, ok := strings.Cut(name, "_")
	if !ok || len(prefix) < 2 {
		return 0, "", false
	}
	num, err := strconv.Atoi(prefix)
	if err != nil || num < 0 {
		return 0, "", false
	}
	return num, rest, true
}

// dirName makes a view name safe as a single path element.
func dirName(view string) string {
	name := strings.NewReplacer("[", "", "]", "").Replace(strings.TrimSpace(view))
	name = strings.Map(func(r rune) rune {
		if r < 32 || strings.ContainsRune(`<>:"/\|?*`, r) {
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeAtomic writes data to a temp file in the target directory and
// renames it over path.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("chmod %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	success = true
	return nil
}
