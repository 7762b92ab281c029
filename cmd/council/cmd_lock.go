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
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianCouncil/services/council/lock"
)

// --- Lock Command Flags ---
var (
	lockAgentID     string
	lockOperation   string
	lockTTL         time.Duration
	lockWaitTimeout time.Duration
	lockForce       bool
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Inspect and manage the global write lock",
}

// lockAcquireCmd takes the global write lock and holds it until
// interrupted. The lock record carries this process's PID, so exiting
// without releasing leaves a record the next acquirer reclaims as
// dead_process.
var lockAcquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Acquire the global write lock and hold it until interrupted",
	Run:   runLockAcquire,
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Release the global write lock (--force to evict another holder)",
	Run:   runLockRelease,
}

var lockStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current lock holder",
	Run:   runLockStatus,
}

func init() {
	lockAcquireCmd.Flags().StringVarP(&lockAgentID, "agent", "a", "",
		"Agent identity to acquire as")
	lockAcquireCmd.MarkFlagRequired("agent")
	lockAcquireCmd.Flags().StringVar(&lockOperation, "operation", "manual_hold",
		"Operation type recorded on the lock")
	lockAcquireCmd.Flags().DurationVar(&lockTTL, "ttl", 5*time.Minute,
		"Lock time-to-live; expired locks are reclaimable")
	lockAcquireCmd.Flags().DurationVar(&lockWaitTimeout, "timeout", 30*time.Second,
		"How long to wait for a busy lock")

	lockReleaseCmd.Flags().BoolVar(&lockForce, "force", false,
		"Remove the lock even when held by another owner")
}

func runLockAcquire(cmd *cobra.Command, args []string) {
	manager, err := newLockManager()
	if err != nil {
		OutputError("lock acquire", "Failed to open lock state", err)
		os.Exit(CLIExitError)
	}
	defer manager.Close()

	ctx := context.Background()
	record, err := manager.Acquire(ctx, lockAgentID, lockOperation, lockTTL, lockWaitTimeout)
	if err != nil {
		OutputError("lock acquire", "Failed to acquire lock", err)
		if errors.Is(err, lock.ErrLockTimeout) {
			os.Exit(CLIExitBusy)
		}
		os.Exit(CLIExitError)
	}
	OutputResult("lock acquire", record)

	// Hold until interrupted; a record from an exited process is
	// immediately stale, so exiting here without releasing would make
	// the hold a no-op.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	if _, err := manager.Release(ctx, false); err != nil {
		OutputError("lock acquire", "Failed to release lock", err)
		os.Exit(CLIExitError)
	}
}

func runLockRelease(cmd *cobra.Command, args []string) {
	manager, err := newLockManager()
	if err != nil {
		OutputError("lock release", "Failed to open lock state", err)
		os.Exit(CLIExitError)
	}
	defer manager.Close()

	released, err := manager.Release(context.Background(), lockForce)
	if err != nil {
		OutputError("lock release", "Failed to release lock", err)
		if errors.Is(err, lock.ErrNotOwner) {
			os.Exit(CLIExitBusy)
		}
		os.Exit(CLIExitError)
	}
	OutputResult("lock release", map[string]bool{"released": released})
}

func runLockStatus(cmd *cobra.Command, args []string) {
	manager, err := newLockManager()
	if err != nil {
		OutputError("lock status", "Failed to open lock state", err)
		os.Exit(CLIExitError)
	}
	defer manager.Close()

	OutputResult("lock status", manager.Status())
}
