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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/viewadvisor/pkg/config"
	"github.com/AleutianAI/viewadvisor/services/optimizer"
	dt "github.com/AleutianAI/viewadvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/viewadvisor/services/snapshot"
)

var tracer = otel.Tracer("viewadvisor.advisor")

// Recorder receives session outcomes for metrics.
type Recorder interface {
	SessionFinished(state State, duration time.Duration)
	ProposalGenerated(action dt.ActionType)
	CandidateSkipped(action dt.ActionType)
}

type noopRecorder struct{}

func (noopRecorder) SessionFinished(State, time.Duration) {}
func (noopRecorder) ProposalGenerated(dt.ActionType)      {}
func (noopRecorder) CandidateSkipped(dt.ActionType)       {}

// Archive stores finished sessions by id.
type Archive interface {
	Save(ctx context.Context, id string, data []byte) error
}

// Advisor runs analysis sessions and the single-shot advisory commands.
// It is safe for concurrent use; each Session belongs to the call that
// created it.
type Advisor struct {
	db        Gateway
	generator *optimizer.Generator
	baseline  *BaselineAnalyzer
	machine   *StateMachine
	cfg       config.AdvisorConfig

	logger   *slog.Logger
	recorder Recorder
	archive  Archive
	now      func() time.Time
	newID    func() string
}

// Option configures an Advisor.
type Option func(*Advisor)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Advisor) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(a *Advisor) {
		if r != nil {
			a.recorder = r
		}
	}
}

// WithArchive stores every finished session, successful or not.
func WithArchive(archive Archive) Option {
	return func(a *Advisor) { a.archive = archive }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Advisor) { a.now = now }
}

// WithIDs replaces the session id generator.
func WithIDs(newID func() string) Option {
	return func(a *Advisor) { a.newID = newID }
}

// New creates an Advisor. cfg supplies the proposal cap, the number of
// measurement runs and the candidate thresholds.
func New(db Gateway, generator *optimizer.Generator, cfg config.AdvisorConfig, opts ...Option) *Advisor {
	a := &Advisor{
		db:        db,
		generator: generator,
		machine:   NewStateMachine(),
		cfg:       cfg,
		logger:    slog.Default(),
		recorder:  noopRecorder{},
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.baseline = NewBaselineAnalyzer(db, cfg.MeasurementRuns, a.logger)
	a.baseline.now = a.now
	return a
}

// Generator returns the proposal generator.
func (a *Advisor) Generator() *optimizer.Generator { return a.generator }

// Gateway returns the database collaborator.
func (a *Advisor) Gateway() Gateway { return a.db }

func (a *Advisor) thresholds() Thresholds {
	return Thresholds{SlowExecutionMs: a.cfg.SlowExecutionMs, HighLogicalReads: a.cfg.HighLogicalReads}
}

// AnalyzeAndPropose runs a complete session for viewIdentifier: baseline,
// candidate proposals, and the final report. maxProposals <= 0 uses the
// configured cap. When snapshotPath is empty nothing is written to disk.
//
// Failures move the session to Failed and are recorded in ErrorMessage;
// the session is still returned with a nil error. Only cancellation of ctx
// is returned as an error, together with the failed session.
func (a *Advisor) AnalyzeAndPropose(ctx context.Context, viewIdentifier string, maxProposals int, snapshotPath string) (*Session, error) {
	if maxProposals <= 0 {
		maxProposals = a.cfg.MaxProposals
	}
	session := &Session{
		ID:           a.newID(),
		ViewName:     strings.TrimSpace(viewIdentifier),
		SnapshotPath: strings.TrimSpace(snapshotPath),
		MaxProposals: maxProposals,
		State:        StateInitializing,
		History:      []HistoryEntry{},
		Candidates:   []dt.ActionType{},
		Proposals:    []dt.OptimizationProposal{},
		StartedAt:    a.now().UTC(),
	}

	ctx, span := tracer.Start(ctx, "advisor.Advisor.AnalyzeAndPropose",
		trace.WithAttributes(
			attribute.String("session.id", session.ID),
			attribute.String("view.identifier", session.ViewName),
			attribute.Int("session.max_proposals", maxProposals),
		))
	defer span.End()

	a.logger.Info("analysis session started", "session_id", session.ID, "view", session.ViewName)

	err := a.run(ctx, session)
	if err != nil {
		a.fail(session, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		attribute.String("session.state", session.State.String()),
		attribute.Int("session.proposals", len(session.Proposals)),
		attribute.Int("session.skipped", len(session.Skipped)),
	)
	a.finish(ctx, session)

	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return session, err
	}
	return session, nil
}

func (a *Advisor) run(ctx context.Context, session *Session) error {
	if err := a.transition(ctx, session, StateAnalyzingBaseline); err != nil {
		return err
	}
	baseline, err := a.baseline.Analyze(ctx, session.ViewName, session.SnapshotPath)
	if err != nil {
		return fmt.Errorf("baseline analysis: %w", err)
	}
	session.Baseline = baseline
	session.ViewName = baseline.ViewName
	if baseline.SnapshotWarning != "" {
		session.Warnings = append(session.Warnings, baseline.SnapshotWarning)
	}

	if err := a.transition(ctx, session, StateGeneratingProposals); err != nil {
		return err
	}
	if err := a.propose(ctx, session); err != nil {
		return err
	}

	if err := a.transition(ctx, session, StateCreatingReports); err != nil {
		return err
	}
	if err := a.report(ctx, session); err != nil {
		return err
	}

	if err := a.transition(ctx, session, StateCompleted); err != nil {
		return err
	}
	completed := a.now().UTC()
	session.CompletedAt = &completed
	return nil
}

// propose turns every candidate into a proposal. Candidate failures are
// logged and recorded as skipped; only cancellation stops the loop.
func (a *Advisor) propose(ctx context.Context, session *Session) error {
	baseline := session.Baseline
	session.Candidates = DeriveCandidates(baseline, a.thresholds(), session.MaxProposals)

	var store *snapshot.Store
	if session.SnapshotPath != "" {
		store = snapshot.New(session.SnapshotPath, a.logger)
	}

	for _, action := range session.Candidates {
		if err := ctx.Err(); err != nil {
			return err
		}

		proposal, err := a.generator.ProposeForDefinition(ctx, session.ViewName, baseline.ViewDefinition, action, targetFor(action, baseline))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Warn("candidate skipped",
				"session_id", session.ID,
				"view", session.ViewName,
				"action", action,
				"error", err)
			session.Skipped = append(session.Skipped, dt.SkippedCandidate{ActionType: action, Reason: err.Error()})
			a.recorder.CandidateSkipped(action)
			continue
		}

		session.Proposals = append(session.Proposals, *proposal)
		a.recorder.ProposalGenerated(action)

		if store == nil {
			continue
		}
		if _, err := store.SaveProposal(ctx, proposal); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Error("proposal snapshot not saved", "view", session.ViewName, "action", action, "error", err)
			session.Warnings = append(session.Warnings, fmt.Sprintf("proposal %s not saved: %v", action, err))
		}
	}
	return nil
}

func (a *Advisor) report(ctx context.Context, session *Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	baseline := session.Baseline
	session.FinalReport = optimizer.BuildReport(optimizer.ReportInput{
		ViewName:     session.ViewName,
		GeneratedAt:  a.now().UTC(),
		Baseline:     &baseline.Metrics,
		PlanAnalysis: baseline.PlanAnalysis,
		Proposals:    session.Proposals,
		Skipped:      session.Skipped,
	})

	if session.SnapshotPath == "" {
		return nil
	}
	path, err := snapshot.New(session.SnapshotPath, a.logger).SaveReport(ctx, session.ViewName, session.FinalReport)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.Error("final report not saved", "view", session.ViewName, "error", err)
		session.Warnings = append(session.Warnings, fmt.Sprintf("final report not saved: %v", err))
		return nil
	}
	session.ReportPath = path
	return nil
}

func (a *Advisor) transition(ctx context.Context, session *Session, to State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.machine.Transition(session, to, a.now().UTC()); err != nil {
		return err
	}
	a.logger.Debug("session state changed", "session_id", session.ID, "state", to)
	return nil
}

func (a *Advisor) fail(session *Session, cause error) {
	session.ErrorMessage = cause.Error()
	if !session.State.IsTerminal() {
		if err := a.machine.Transition(session, StateFailed, a.now().UTC()); err != nil {
			a.logger.Error("session not marked failed", "session_id", session.ID, "error", err)
		}
	}
	completed := a.now().UTC()
	session.CompletedAt = &completed
	a.logger.Error("analysis session failed",
		"session_id", session.ID,
		"view", session.ViewName,
		"error", cause)
}

// finish records metrics and archives the session. The archive write
// ignores cancellation of ctx so that cancelled sessions are kept too.
func (a *Advisor) finish(ctx context.Context, session *Session) {
	a.recorder.SessionFinished(session.State, session.Duration())
	a.logger.Info("analysis session finished",
		"session_id", session.ID,
		"view", session.ViewName,
		"state", session.State,
		"proposals", len(session.Proposals),
		"skipped", len(session.Skipped),
		"duration", session.Duration())

	if a.archive == nil {
		return
	}
	data, err := json.Marshal(session)
	if err != nil {
		a.logger.Warn("session not archived", "session_id", session.ID, "error", err)
		return
	}
	if err := a.archive.Save(context.WithoutCancel(ctx), session.ID, data); err != nil {
		a.logger.Warn("session not archived", "session_id", session.ID, "error", err)
	}
}

// ExecuteOptimizationStep always fails: the advisor never changes the
// database.
func (a *Advisor) ExecuteOptimizationStep(ctx context.Context, viewName string, stepNumber int) error {
	a.logger.Warn("execute refused in read-only mode", "view", viewName, "step", stepNumber)
	return fmt.Errorf("execute step %d of %s: %w", stepNumber, viewName, ErrReadOnlyMode)
}

// RollbackOptimizationStep always fails: the advisor never changes the
// database.
func (a *Advisor) RollbackOptimizationStep(ctx context.Context, viewName string, stepNumber int) error {
	a.logger.Warn("rollback refused in read-only mode", "view", viewName, "step", stepNumber)
	return fmt.Errorf("roll back step %d of %s: %w", stepNumber, viewName, ErrReadOnlyMode)
}
