// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the advisor service.
//
// # Description
//
// Metrics cover the command surface and the analyze-and-propose session:
//   - Command counters and latency by command and outcome
//   - Session outcomes and durations by terminal state
//   - Proposals generated and candidates skipped by action type
//   - Constraint violations by constraint name and severity
//
// Metrics are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/viewadvisor/services/advisor"
	dt "github.com/AleutianAI/viewadvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/viewadvisor/services/policy_engine"
)

// Namespace for all metrics
const metricsNamespace = "viewadvisor"

const (
	commandSubsystem = "command"
	sessionSubsystem = "session"
	policySubsystem  = "policy"
)

// AdvisorMetrics holds all Prometheus metrics of the service.
//
// # Description
//
// Create once at startup via NewAdvisorMetrics. AdvisorMetrics implements
// advisor.Recorder so sessions report their outcome directly.
type AdvisorMetrics struct {
	// CommandsTotal counts commands by name and outcome.
	// Labels: command, status (success, client_error, server_error)
	CommandsTotal *prometheus.CounterVec

	// CommandDurationSeconds measures command latency.
	// Labels: command
	CommandDurationSeconds *prometheus.HistogramVec

	// SessionsTotal counts finished sessions by terminal state.
	// Labels: state (Completed, Failed)
	SessionsTotal *prometheus.CounterVec

	// SessionDurationSeconds measures session wall time.
	// Labels: state
	SessionDurationSeconds *prometheus.HistogramVec

	// ProposalsTotal counts proposals that passed the constraint policy.
	// Labels: action
	ProposalsTotal *prometheus.CounterVec

	// SkippedCandidatesTotal counts session candidates that yielded no
	// proposal.
	// Labels: action
	SkippedCandidatesTotal *prometheus.CounterVec

	// ViolationsTotal counts constraint violations reported by the policy
	// endpoints.
	// Labels: constraint, severity
	ViolationsTotal *prometheus.CounterVec
}

// NewAdvisorMetrics creates and registers all metrics with reg. A nil reg
// registers with the Prometheus default registry.
//
// # Limitations
//
//   - Panics if called twice with the same registry (duplicate registration).
func NewAdvisorMetrics(reg prometheus.Registerer) *AdvisorMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &AdvisorMetrics{
		CommandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: commandSubsystem,
				Name:      "requests_total",
				Help:      "Total number of commands by name and outcome",
			},
			[]string{"command", "status"},
		),

		CommandDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: commandSubsystem,
				Name:      "duration_seconds",
				Help:      "Command latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"command"},
		),

		SessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: sessionSubsystem,
				Name:      "finished_total",
				Help:      "Total analyze-and-propose sessions by terminal state",
			},
			[]string{"state"},
		),

		SessionDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: sessionSubsystem,
				Name:      "duration_seconds",
				Help:      "Analyze-and-propose session duration in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 900},
			},
			[]string{"state"},
		),

		ProposalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: sessionSubsystem,
				Name:      "proposals_total",
				Help:      "Total proposals generated by action type",
			},
			[]string{"action"},
		),

		SkippedCandidatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: sessionSubsystem,
				Name:      "skipped_candidates_total",
				Help:      "Total session candidates that produced no proposal",
			},
			[]string{"action"},
		),

		ViolationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: policySubsystem,
				Name:      "violations_total",
				Help:      "Total constraint violations by constraint and severity",
			},
			[]string{"constraint", "severity"},
		),
	}
}

// =============================================================================
// Command Outcomes
// =============================================================================

// Status is the outcome label of a command.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusClientError Status = "client_error"
	StatusServerError Status = "server_error"
)

// StatusForCode maps an HTTP status code to a Status label.
func StatusForCode(code int) Status {
	switch {
	case code >= 500:
		return StatusServerError
	case code >= 400:
		return StatusClientError
	default:
		return StatusSuccess
	}
}

// RecordCommand records one finished command.
func (m *AdvisorMetrics) RecordCommand(command string, status Status, elapsed time.Duration) {
	m.CommandsTotal.WithLabelValues(command, string(status)).Inc()
	m.CommandDurationSeconds.WithLabelValues(command).Observe(elapsed.Seconds())
}

// RecordViolations counts every violation in r.
func (m *AdvisorMetrics) RecordViolations(r policy_engine.Result) {
	for _, v := range r.Violations {
		m.ViolationsTotal.WithLabelValues(v.ConstraintName, string(v.Severity)).Inc()
	}
}

// =============================================================================
// advisor.Recorder
// =============================================================================

// SessionFinished records a session that reached a terminal state.
func (m *AdvisorMetrics) SessionFinished(state advisor.State, duration time.Duration) {
	m.SessionsTotal.WithLabelValues(state.String()).Inc()
	m.SessionDurationSeconds.WithLabelValues(state.String()).Observe(duration.Seconds())
}

// ProposalGenerated records an accepted proposal.
func (m *AdvisorMetrics) ProposalGenerated(action dt.ActionType) {
	m.ProposalsTotal.WithLabelValues(string(action)).Inc()
}

// CandidateSkipped records a candidate that produced no proposal.
func (m *AdvisorMetrics) CandidateSkipped(action dt.ActionType) {
	m.SkippedCandidatesTotal.WithLabelValues(string(action)).Inc()
}

var _ advisor.Recorder = (*AdvisorMetrics)(nil)
