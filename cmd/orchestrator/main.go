// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command orchestrator runs the view advisor HTTP service. It reads the
// config file named by VIEWADVISOR_CONFIG (default
// ~/.viewadvisor/viewadvisor.yaml) and stops cleanly on SIGINT or SIGTERM.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/viewadvisor/pkg/config"
	"github.com/AleutianAI/viewadvisor/pkg/logging"
	"github.com/AleutianAI/viewadvisor/services/orchestrator"
)

func main() {
	cfg, err := config.Load(os.Getenv("VIEWADVISOR_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		LogDir:  cfg.Logging.LogDir,
		Service: cfg.Server.ServiceName,
		JSON:    true,
	})
	defer logger.Close()
	logger.Install()

	logger.Info("Starting orchestrator",
		"port", cfg.Server.Port,
		"snapshot_base_path", cfg.Advisor.SnapshotBasePath,
		"archive", cfg.Archive.Enabled,
		"otel_endpoint", cfg.Server.OTelEndpoint,
	)

	svc, err := orchestrator.New(cfg, &orchestrator.Options{Logger: logger.Slog()})
	if err != nil {
		logger.Error("Failed to create orchestrator", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		logger.Error("Orchestrator error", "error", err)
		svc.Close()
		os.Exit(1)
	}
}
