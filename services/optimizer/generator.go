// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package optimizer turns optimization actions into reviewed proposals.
//
// Each action type maps to a fixed text-rewrite strategy (see Rewrite).
// The Generator fetches the current view definition, applies the strategy,
// checks the result against the constraint policy and attaches the static
// impact, risk and execution-guide metadata for the action. Nothing here
// executes SQL against the database.
package optimizer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	dt "github.com/AleutianAI/viewadvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/viewadvisor/services/policy_engine"
)

// DefinitionSource supplies current view definitions.
type DefinitionSource interface {
	GetViewDefinition(ctx context.Context, viewName string) (string, error)
}

// Generator builds optimization proposals. It is safe for concurrent use.
type Generator struct {
	source    DefinitionSource
	validator *policy_engine.Validator
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithClock replaces time.Now for proposal and report timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithIDs replaces the proposal id generator.
func WithIDs(newID func() string) Option {
	return func(g *Generator) { g.newID = newID }
}

// NewGenerator creates a Generator. source may be nil when only
// UpdateStatistics SQL with an explicit target is generated.
func NewGenerator(source DefinitionSource, validator *policy_engine.Validator, opts ...Option) *Generator {
	g := &Generator{
		source:    source,
		validator: validator,
		logger:    slog.Default(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Validator returns the policy validator proposals are checked against.
func (g *Generator) Validator() *policy_engine.Validator { return g.validator }

// GenerateSql returns the SQL for action against targetName. For
// UpdateStatistics targetName is the table list; for every other action it
// is the view whose definition is rewritten. When the strategy changes
// nothing the result is a comment block explaining why.
func (g *Generator) GenerateSql(ctx context.Context, action dt.ActionType, targetName string) (string, error) {
	if !Supports(action) {
		return "", &UnsupportedActionError{Action: action}
	}
	if action == dt.UpdateStatistics {
		res, _ := Rewrite(action, targetName, "")
		return renderSQL(targetName, res), nil
	}

	definition, err := g.definition(ctx, targetName)
	if err != nil {
		return "", err
	}
	res, err := Rewrite(action, "", definition)
	if err != nil {
		return "", err
	}
	return renderSQL(targetName, res), nil
}

// GenerateProposal fetches the definition of viewName and builds a proposal
// for action. target is optional: a table list for UpdateStatistics or a
// column for FixImplicitConversion.
//
// Unsupported actions fail with *UnsupportedActionError; actions or SQL the
// policy refuses fail with *RejectedError. Non-critical policy findings are
// attached to the proposal as ValidationWarnings.
func (g *Generator) GenerateProposal(ctx context.Context, viewName string, action dt.ActionType, target string) (*dt.OptimizationProposal, error) {
	if err := g.checkAction(ctx, action); err != nil {
		return nil, err
	}
	definition, err := g.definition(ctx, viewName)
	if err != nil {
		return nil, err
	}
	return g.build(ctx, viewName, definition, action, target)
}

// ProposeForDefinition is GenerateProposal for a definition the caller
// already holds, such as one read from a .sql file.
func (g *Generator) ProposeForDefinition(ctx context.Context, viewName, definition string, action dt.ActionType, target string) (*dt.OptimizationProposal, error) {
	if err := g.checkAction(ctx, action); err != nil {
		return nil, err
	}
	return g.build(ctx, viewName, definition, action, target)
}

func (g *Generator) checkAction(ctx context.Context, action dt.ActionType) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !Supports(action) {
		return &UnsupportedActionError{Action: action}
	}
	if result := g.validator.ValidateAction(string(action)); !result.IsValid {
		return &RejectedError{Action: action, Stage: "action", Result: result}
	}
	return nil
}

func (g *Generator) definition(ctx context.Context, viewName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if g.source == nil {
		return "", dt.NewCollaboratorError("database", "GetViewDefinition", fmt.Errorf("no definition source configured"))
	}
	definition, err := g.source.GetViewDefinition(ctx, viewName)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", dt.NewCollaboratorError("database", "GetViewDefinition", err)
	}
	return definition, nil
}

func (g *Generator) build(ctx context.Context, viewName, definition string, action dt.ActionType, target string) (*dt.OptimizationProposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := Rewrite(action, target, definition)
	if err != nil {
		return nil, err
	}
	proposed := renderSQL(viewName, res)

	var newDefinition string
	if res.Changed && action != dt.UpdateStatistics {
		newDefinition = proposed
	}
	result := g.validator.ValidateAll(string(action), proposed, newDefinition)
	if result.HasCritical() {
		g.logger.Warn("proposal rejected by policy",
			"view", viewName,
			"action", action,
			"violations", len(result.Violations))
		return nil, &RejectedError{Action: action, Stage: "proposal", Result: result}
	}

	profile := catalog[action]
	proposal := &dt.OptimizationProposal{
		ProposalID:          g.newID(),
		ViewName:            viewName,
		ActionType:          action,
		TargetObject:        target,
		Description:         profile.describe(viewName, target),
		Priority:            profile.priority,
		ProposedSQL:         proposed,
		OriginalDefinition:  definition,
		ExpectedImprovement: profile.expected(res.Sites > 0),
		RiskAssessment:      profile.assessment(action, viewName),
		ExecutionGuide:      profile.guide(action, viewName, proposed),
		RewriteNotes:        res.Notes,
		ValidationWarnings:  append(result.Messages(), result.Warnings...),
		GeneratedAt:         g.now().UTC(),
	}

	g.logger.Debug("proposal generated",
		"view", viewName,
		"action", action,
		"changed", res.Changed,
		"sites", res.Sites)
	return proposal, nil
}

// renderSQL turns a rewrite result into proposal SQL: statistics statements
// as generated, rewritten definitions as ALTER VIEW, and a comment block
// when nothing changed.
func renderSQL(viewName string, res RewriteResult) string {
	if res.Changed {
		if res.Action == dt.UpdateStatistics {
			return res.SQL
		}
		return NormalizeAlterView(viewName, res.SQL)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "-- %s for %s: no automatic rewrite applied\n", res.Action, viewName)
	for _, note := range res.Notes {
		for _, line := range strings.Split(note, "\n") {
			fmt.Fprintf(&sb, "-- %s\n", line)
		}
	}
	return sb.String()
}

// NormalizeAlterView rewrites a leading CREATE [OR ALTER] VIEW to ALTER
// VIEW. A bare SELECT is wrapped as ALTER VIEW viewName AS ...
func NormalizeAlterView(viewName, definition string) string {
	s := scanSQL(definition)
	if s.isWord(0, "CREATE") {
		k := 1
		if s.isWord(1, "OR") && s.isWord(2, "ALTER") {
			k = 3
		}
		if s.isWord(k, "VIEW") {
			return definition[:s.tok(0).start] + "ALTER VIEW" + definition[s.tok(k).end:]
		}
	}
	if s.isWord(0, "ALTER") && s.isWord(1, "VIEW") {
		return definition
	}
	return fmt.Sprintf("ALTER VIEW %s AS\n%s", viewName, strings.TrimSpace(definition))
}
