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
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianCouncil/services/council/api"
)

// --- Serve Command Flags ---
var (
	serveAddr      string
	serveNoMetrics bool
)

// serveCmd runs the HTTP coordination service until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordination HTTP API",
	Long: `Serve exposes the lock manager and transaction coordinator over HTTP
and runs the stale-lock watchdog in the background.

Examples:
  council serve                       # listen on :8080
  council serve --addr 127.0.0.1:9000 # custom address`,
	Run: runServeCommand,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080",
		"Listen address")
	serveCmd.Flags().BoolVar(&serveNoMetrics, "no-metrics", false,
		"Disable the /metrics endpoint")
}

func runServeCommand(cmd *cobra.Command, args []string) {
	repo, err := resolveRepo()
	if err != nil {
		OutputError("serve", "Failed to resolve repository path", err)
		os.Exit(CLIExitError)
	}

	manager, err := newLockManager()
	if err != nil {
		OutputError("serve", "Failed to open lock state", err)
		os.Exit(CLIExitError)
	}
	defer manager.Close()

	coord, err := newCoordinator()
	if err != nil {
		OutputError("serve", "Failed to open transaction state", err)
		os.Exit(CLIExitError)
	}

	config := api.DefaultServerConfig(repo)
	config.Addr = serveAddr
	config.EnableMetrics = !serveNoMetrics
	server, err := api.NewServer(config, manager, coord)
	if err != nil {
		OutputError("serve", "Failed to build server", err)
		os.Exit(CLIExitError)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager.StartWatchdog(ctx)
	defer manager.StopWatchdog()

	if err := server.Run(ctx); err != nil {
		OutputError("serve", "Server exited with error", err)
		os.Exit(CLIExitError)
	}
}
