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
	"os"
	"time"

	"github.com/spf13/cobra"
)

var queuePruneMaxAge time.Duration

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and maintain the lock wait queue",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue entries with per-status counts",
	Run:   runQueueStatus,
}

var queuePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop completed and failed queue entries older than --max-age",
	Run:   runQueuePrune,
}

func init() {
	queuePruneCmd.Flags().DurationVar(&queuePruneMaxAge, "max-age", time.Hour,
		"Terminal entries older than this are removed")
}

func runQueueStatus(cmd *cobra.Command, args []string) {
	manager, err := newLockManager()
	if err != nil {
		OutputError("queue status", "Failed to open lock state", err)
		os.Exit(CLIExitError)
	}
	defer manager.Close()

	OutputResult("queue status", manager.Queue().Status())
}

func runQueuePrune(cmd *cobra.Command, args []string) {
	manager, err := newLockManager()
	if err != nil {
		OutputError("queue prune", "Failed to open lock state", err)
		os.Exit(CLIExitError)
	}
	defer manager.Close()

	removed, err := manager.Queue().Prune(queuePruneMaxAge)
	if err != nil {
		OutputError("queue prune", "Failed to prune queue", err)
		os.Exit(CLIExitError)
	}
	OutputResult("queue prune", map[string]int{"removed": removed})
}
