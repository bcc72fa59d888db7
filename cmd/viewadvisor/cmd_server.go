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
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/viewadvisor/pkg/config"
	"github.com/AleutianAI/viewadvisor/services/advisor"
	"github.com/AleutianAI/viewadvisor/services/orchestrator"
	archive "github.com/AleutianAI/viewadvisor/services/storage/badger"
)

// =============================================================================
// serve
// =============================================================================

func newServeCmd(a *app) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP command service",
		Long: `Run the HTTP service exposing every advisor command under /v1,
plus /health, /ready and /metrics. Stops cleanly on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if port > 0 {
				cfg.Server.Port = port
			}
			if a.snapshotPath != "" {
				cfg.Advisor.SnapshotBasePath = a.snapshotPath
			}

			svc, err := orchestrator.New(cfg, &orchestrator.Options{Logger: a.slog()})
			if err != nil {
				return err
			}
			defer svc.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a.printer.Success(fmt.Sprintf("Serving on %s:%d", cfg.Server.Host, cfg.Server.Port))
			return svc.Run(ctx)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (default from config)")
	return cmd
}

// =============================================================================
// sessions
// =============================================================================

func newSessionsCmd(a *app) *cobra.Command {
	sessions := &cobra.Command{
		Use:   "sessions",
		Short: "Browse archived analysis sessions",
	}

	open := func() (*archive.SessionArchive, error) {
		if !a.cfg.Archive.Enabled {
			return nil, errors.New("the session archive is disabled; set archive.enabled in the config file")
		}
		return archive.Open(archive.FromAppConfig(a.cfg.Archive, a.slog()))
	}

	sessions.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List archived session ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()

			ids, err := store.IDs(cmd.Context())
			if err != nil {
				return err
			}
			if a.asJSON {
				return a.emitJSON(map[string][]string{"session_ids": ids})
			}
			if len(ids) == 0 {
				a.printer.Info("No archived sessions")
				return nil
			}
			for _, id := range ids {
				a.printer.Info(id)
			}
			return nil
		},
	})

	sessions.AddCommand(&cobra.Command{
		Use:   "show [session-id]",
		Short: "Print one archived session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()

			data, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if a.asJSON {
				a.printer.Raw(string(data))
				return nil
			}
			var session advisor.Session
			if err := json.Unmarshal(data, &session); err != nil {
				return fmt.Errorf("archived session %s is corrupt: %w", args[0], err)
			}
			renderSession(a.printer, &session)
			return nil
		},
	})
	return sessions
}

// =============================================================================
// config
// =============================================================================

func newConfigCmd(a *app) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration (default ~/.viewadvisor/viewadvisor.yaml)",
		Args:  cobra.MaximumNArgs(1),
		// Loading is skipped: init must work before a valid file exists.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.initPrinter(cmd)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				p, err := config.DefaultPath()
				if err != nil {
					return err
				}
				path = p
			}
			if err := config.WriteDefault(path); err != nil {
				if errors.Is(err, os.ErrExist) {
					a.printer.Warning(fmt.Sprintf("%s already exists; leaving it unchanged", path))
					return nil
				}
				return err
			}
			a.printer.Success("Wrote " + path)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML after file and environment overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := yaml.Marshal(a.cfg)
			if err != nil {
				return err
			}
			a.printer.Raw(string(data))
			return nil
		},
	})
	return cfgCmd
}
