// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/viewadvisor/pkg/config"
	"github.com/AleutianAI/viewadvisor/pkg/logging"
	"github.com/AleutianAI/viewadvisor/pkg/ux"
	"github.com/AleutianAI/viewadvisor/services/advisor"
	"github.com/AleutianAI/viewadvisor/services/dbgateway"
	"github.com/AleutianAI/viewadvisor/services/optimizer"
	"github.com/AleutianAI/viewadvisor/services/policy_engine"
	archive "github.com/AleutianAI/viewadvisor/services/storage/badger"
)

// viewGateway is the database collaborator the CLI opens per command.
type viewGateway interface {
	advisor.Gateway
	Close() error
}

// app is the state shared by every subcommand of one invocation.
type app struct {
	// flags
	configPath   string
	outputMode   string
	asJSON       bool
	verbose      bool
	snapshotPath string

	cfg     config.Config
	printer *ux.Printer
	logger  *logging.Logger

	// openGateway is replaced in tests.
	openGateway func(cfg config.DatabaseConfig, logger *slog.Logger) (viewGateway, error)
}

func newApp() *app {
	return &app{
		openGateway: func(cfg config.DatabaseConfig, logger *slog.Logger) (viewGateway, error) {
			return dbgateway.Open(cfg, logger)
		},
	}
}

// setup loads configuration and builds the printer and logger. Console
// logging is silent unless --verbose is set; the log file, when configured,
// always receives records.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.initPrinter(cmd)

	a.logger = logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		LogDir:  cfg.Logging.LogDir,
		Service: "viewadvisor-cli",
		JSON:    cfg.Logging.JSON,
		Quiet:   !a.verbose,
		Output:  cmd.ErrOrStderr(),
	})
	return nil
}

// initPrinter honors --output, falling back to terminal detection.
func (a *app) initPrinter(cmd *cobra.Command) {
	mode := ux.DetectMode(cmd.OutOrStdout())
	if a.outputMode != "" {
		mode = ux.ParseMode(a.outputMode)
	}
	a.printer = &ux.Printer{Out: cmd.OutOrStdout(), Err: cmd.ErrOrStderr(), Mode: mode}
}

func (a *app) teardown() {
	if a.logger != nil {
		a.logger.Close()
	}
}

func (a *app) slog() *slog.Logger {
	if a.logger == nil {
		return slog.Default()
	}
	return a.logger.Slog()
}

// snapshotBase returns the --snapshot-path flag or the configured default.
func (a *app) snapshotBase() string {
	if a.snapshotPath != "" {
		return a.snapshotPath
	}
	return a.cfg.Advisor.SnapshotBasePath
}

func (a *app) validator() *policy_engine.Validator {
	policy := policy_engine.NewPolicy(a.cfg.Constraints, a.slog())
	for _, cfgErr := range policy.ConfigErrors() {
		a.printer.Warning(fmt.Sprintf("ignoring invalid policy pattern: %v", cfgErr))
	}
	return policy_engine.NewValidator(policy, a.slog())
}

// withAdvisor opens the database and, when enabled, the session archive,
// then runs fn with an Advisor over them.
func (a *app) withAdvisor(fn func(*advisor.Advisor) error) error {
	gw, err := a.openGateway(a.cfg.Database, a.slog())
	if err != nil {
		return err
	}
	defer gw.Close()

	opts := []advisor.Option{advisor.WithLogger(a.slog())}
	if a.cfg.Archive.Enabled {
		store, err := archive.Open(archive.FromAppConfig(a.cfg.Archive, a.slog()))
		if err != nil {
			return fmt.Errorf("failed to open session archive: %w", err)
		}
		defer store.Close()
		opts = append(opts, advisor.WithArchive(store))
	}

	gen := optimizer.NewGenerator(gw, a.validator(), optimizer.WithLogger(a.slog()))
	return fn(advisor.New(gw, gen, a.cfg.Advisor, opts...))
}

// emitJSON writes v as indented JSON to stdout.
func (a *app) emitJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	a.printer.Raw(string(data))
	return nil
}
