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
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianCouncil/services/council/lock"
)

var watchdogInterval time.Duration

// watchdogCmd runs the stale-lock reaper until interrupted. It sweeps
// on the configured interval and, through the state-dir watcher, reacts
// immediately when another process removes or replaces the lock file.
var watchdogCmd = &cobra.Command{
	Use:   "watchdog",
	Short: "Reap stale locks and prune the queue until interrupted",
	Run:   runWatchdogCommand,
}

func init() {
	watchdogCmd.Flags().DurationVar(&watchdogInterval, "interval", 30*time.Second,
		"Time between stale-lock sweeps")
}

func runWatchdogCommand(cmd *cobra.Command, args []string) {
	repo, err := resolveRepo()
	if err != nil {
		OutputError("watchdog", "Failed to resolve repository path", err)
		os.Exit(CLIExitError)
	}

	config := lock.DefaultManagerConfig()
	config.StateDir = filepath.Join(councilStateDir(repo), "locks")
	config.WatchdogInterval = watchdogInterval
	manager, err := lock.NewManager(config)
	if err != nil {
		OutputError("watchdog", "Failed to open lock state", err)
		os.Exit(CLIExitError)
	}
	defer manager.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("watchdog running", "interval", watchdogInterval, "state_dir", config.StateDir)
	manager.StartWatchdog(ctx)
	<-ctx.Done()
	manager.StopWatchdog()
	slog.Info("watchdog stopped")
}
