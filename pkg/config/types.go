// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the view advisor configuration.
//
// A Config is built once at startup (defaults, then the YAML file, then
// environment overrides), validated, and passed by value to every
// component. Nothing in this package keeps global state.
package config

import (
	"time"

	"github.com/AleutianAI/viewadvisor/pkg/logging"
	"github.com/AleutianAI/viewadvisor/services/policy_engine"
)

// CurrentConfigVersion is written into new config files.
const CurrentConfigVersion = "1"

type Config struct {
	Meta        MetaConfig                `yaml:"meta"`
	Advisor     AdvisorConfig             `yaml:"advisor"`
	Constraints policy_engine.Constraints `yaml:"constraints"`
	Database    DatabaseConfig            `yaml:"database"`
	Server      ServerConfig              `yaml:"server"`
	Archive     ArchiveConfig             `yaml:"archive"`
	Logging     LoggingConfig             `yaml:"logging"`
}

type MetaConfig struct {
	Version string `yaml:"version"`
}

// AdvisorConfig tunes the analyze-and-propose session.
type AdvisorConfig struct {
	SnapshotBasePath string `yaml:"snapshot_base_path" validate:"required"`
	MaxProposals     int    `yaml:"max_proposals" validate:"gte=1,lte=50"`
	MeasurementRuns  int    `yaml:"measurement_runs" validate:"gte=1,lte=100"`

	// SlowExecutionMs and HighLogicalReads are the baseline thresholds that
	// add plan-shape candidates to a session.
	SlowExecutionMs  int64 `yaml:"slow_execution_ms" validate:"gte=0"`
	HighLogicalReads int64 `yaml:"high_logical_reads" validate:"gte=0"`
}

type DatabaseConfig struct {
	Driver       string        `yaml:"driver" validate:"required,oneof=sqlserver mssql"`
	DSN          string        `yaml:"dsn"`
	QueryTimeout time.Duration `yaml:"query_timeout" validate:"gte=0"`
	MaxOpenConns int           `yaml:"max_open_conns" validate:"gte=0"`
}

type ServerConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port" validate:"gte=1,lte=65535"`
	ServiceName   string `yaml:"service_name" validate:"required"`
	OTelEndpoint  string `yaml:"otel_endpoint"`
	EnableMetrics bool   `yaml:"enable_metrics"`
	GinMode       string `yaml:"gin_mode" validate:"omitempty,oneof=debug release test"`
}

// ArchiveConfig controls the badger-backed archive of completed sessions.
type ArchiveConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Path     string `yaml:"path" validate:"required_if=Enabled true InMemory false"`
	InMemory bool   `yaml:"in_memory"`
}

type LoggingConfig struct {
	Level  logging.Level `yaml:"level"`
	LogDir string        `yaml:"log_dir"`
	JSON   bool          `yaml:"json"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Meta: MetaConfig{Version: CurrentConfigVersion},
		Advisor: AdvisorConfig{
			SnapshotBasePath: "./performance_snapshots/",
			MaxProposals:     10,
			MeasurementRuns:  3,
			SlowExecutionMs:  1000,
			HighLogicalReads: 500,
		},
		Constraints: policy_engine.DefaultConstraints(),
		Database: DatabaseConfig{
			Driver:       "sqlserver",
			DSN:          "sqlserver://localhost:1433?database=master&encrypt=disable",
			QueryTimeout: 5 * time.Minute,
			MaxOpenConns: 4,
		},
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          12210,
			ServiceName:   "viewadvisor",
			EnableMetrics: true,
			GinMode:       "release",
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Path:    "~/.viewadvisor/sessions",
		},
		Logging: LoggingConfig{
			Level: logging.LevelInfo,
		},
	}
}
