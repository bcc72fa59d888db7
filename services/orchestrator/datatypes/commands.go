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
	"github.com/go-playground/validator/v10"
)

const (
	// MaxPlanDocumentBytes bounds plan documents accepted over the wire.
	MaxPlanDocumentBytes = 16 * 1024 * 1024

	// MaxSQLTextBytes bounds SQL and view text accepted over the wire.
	MaxSQLTextBytes = 1024 * 1024

	// MaxProposalsPerSession bounds the per-session proposal cap.
	MaxProposalsPerSession = 50

	// MaxMeasurementRuns bounds repeated executions per measurement.
	MaxMeasurementRuns = 100
)

// commandValidate is the validator instance for command payloads.
var commandValidate *validator.Validate

func init() {
	commandValidate = validator.New()
	_ = commandValidate.RegisterValidation("actiontype", validateActionType)
}

// validateActionType accepts any known action type name, case-insensitively.
func validateActionType(fl validator.FieldLevel) bool {
	_, err := ParseActionType(fl.Field().String())
	return err == nil
}

// BaselineRequest asks for a baseline analysis of a view or a .sql file.
type BaselineRequest struct {
	ViewIdentifier   string `json:"view_identifier" validate:"required,max=4096"`
	SnapshotBasePath string `json:"snapshot_base_path,omitempty" validate:"max=4096"`
}

func (r *BaselineRequest) Validate() error { return commandValidate.Struct(r) }

// ProposalRequest asks for a single optimization proposal.
type ProposalRequest struct {
	ViewName     string `json:"view_name" validate:"required,max=512"`
	ActionType   string `json:"action_type" validate:"required,actiontype"`
	TargetObject string `json:"target_object,omitempty" validate:"max=512"`
}

func (r *ProposalRequest) Validate() error { return commandValidate.Struct(r) }

// SessionRequest runs a complete analyze-and-propose session.
type SessionRequest struct {
	ViewIdentifier   string `json:"view_identifier" validate:"required,max=4096"`
	MaxProposals     int    `json:"max_proposals,omitempty" validate:"gte=0,lte=50"`
	SnapshotBasePath string `json:"snapshot_base_path,omitempty" validate:"max=4096"`
}

func (r *SessionRequest) Validate() error { return commandValidate.Struct(r) }

// ReportRequest asks for a final report assembled from snapshots.
type ReportRequest struct {
	ViewName         string `json:"view_name" validate:"required,max=512"`
	SnapshotBasePath string `json:"snapshot_base_path,omitempty" validate:"max=4096"`
}

func (r *ReportRequest) Validate() error { return commandValidate.Struct(r) }

// MeasureRequest asks for a timed measurement of a view.
type MeasureRequest struct {
	ViewName         string `json:"view_name" validate:"required,max=512"`
	MeasurementRuns  int    `json:"measurement_runs,omitempty" validate:"gte=0,lte=100"`
	SnapshotBasePath string `json:"snapshot_base_path,omitempty" validate:"max=4096"`
}

func (r *MeasureRequest) Validate() error { return commandValidate.Struct(r) }

// ResultValidationRequest compares a view's current checksum to a baseline.
type ResultValidationRequest struct {
	ViewName         string `json:"view_name" validate:"required,max=512"`
	BaselineChecksum string `json:"baseline_checksum,omitempty" validate:"max=256"`
}

func (r *ResultValidationRequest) Validate() error { return commandValidate.Struct(r) }

// StepRequest names an optimization step to execute or roll back.
type StepRequest struct {
	ViewName   string `json:"view_name" validate:"required,max=512"`
	StepNumber int    `json:"step_number" validate:"gte=0"`
}

func (r *StepRequest) Validate() error { return commandValidate.Struct(r) }

// PlanAnalyzeRequest carries a raw plan document.
type PlanAnalyzeRequest struct {
	PlanXML string `json:"plan_xml" validate:"required,max=16777216"`
}

func (r *PlanAnalyzeRequest) Validate() error { return commandValidate.Struct(r) }

// PlanCompareRequest carries two plan documents.
type PlanCompareRequest struct {
	BeforePlanXML string `json:"before_plan_xml" validate:"required,max=16777216"`
	AfterPlanXML  string `json:"after_plan_xml" validate:"required,max=16777216"`
}

func (r *PlanCompareRequest) Validate() error { return commandValidate.Struct(r) }

// PolicyCheckRequest runs the constraint validator over ad-hoc input.
type PolicyCheckRequest struct {
	ActionType     string `json:"action_type,omitempty" validate:"required_without_all=SQLText ViewDefinition,max=128"`
	SQLText        string `json:"sql_text,omitempty" validate:"max=1048576"`
	ViewDefinition string `json:"view_definition,omitempty" validate:"max=1048576"`
}

func (r *PolicyCheckRequest) Validate() error { return commandValidate.Struct(r) }

// ErrorResponse is the failure payload of every command. Context echoes the
// identifiers the caller supplied.
type ErrorResponse struct {
	Error   bool           `json:"error"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// NewErrorResponse builds an ErrorResponse.
func NewErrorResponse(message string, context map[string]any) ErrorResponse {
	return ErrorResponse{Error: true, Message: message, Context: context}
}
