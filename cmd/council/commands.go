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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianCouncil/pkg/logging"
	"github.com/AleutianAI/AleutianCouncil/services/council/lock"
	"github.com/AleutianAI/AleutianCouncil/services/council/transaction"
)

// --- Global Command Variables ---
var (
	repoPath string // Governance repository root
	stateDir string // Override for the coordination state directory
	logLevel string // Minimum log severity
	logDir   string // Optional directory for JSON log files

	appLogger *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "council",
		Short: "A cli to coordinate multi-agent writes to a governance repository",
		Long: `Council serializes writes from multiple agents to a shared
git-backed document repository: a global write lock with stale-holder
recovery, a two-phase commit coordinator with rollback, and a priority
wait queue.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger, err := logging.New(logging.Config{
				Level:   logLevel,
				LogDir:  logDir,
				Service: "council",
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
				os.Exit(CLIExitError)
			}
			appLogger = logger
			slog.SetDefault(logger.Logger)
		},
	}
)

// closeLogger flushes the file-backed logger, if one was created.
func closeLogger() {
	if appLogger != nil {
		appLogger.Close()
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&repoPath, "repo", "r", ".",
		"Path to the governance repository")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "",
		"Coordination state directory (default <repo>/.council)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"Minimum log severity: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "",
		"Directory for JSON log files (default stderr only)")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(lockCmd)
	lockCmd.AddCommand(lockAcquireCmd)
	lockCmd.AddCommand(lockReleaseCmd)
	lockCmd.AddCommand(lockStatusCmd)
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueStatusCmd)
	queueCmd.AddCommand(queuePruneCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(watchdogCmd)
	rootCmd.AddCommand(serveCmd)
}

// resolveRepo returns the repository root as an absolute path.
func resolveRepo() (string, error) {
	return filepath.Abs(repoPath)
}

// councilStateDir resolves the state directory from flags.
func councilStateDir(repo string) string {
	if stateDir != "" {
		return stateDir
	}
	return filepath.Join(repo, ".council")
}

// newLockManager builds a lock manager over the configured state dir.
func newLockManager() (*lock.Manager, error) {
	repo, err := resolveRepo()
	if err != nil {
		return nil, err
	}
	config := lock.DefaultManagerConfig()
	config.StateDir = filepath.Join(councilStateDir(repo), "locks")
	return lock.NewManager(config)
}

// newCoordinator builds a transaction coordinator over the repository.
func newCoordinator() (*transaction.Coordinator, error) {
	repo, err := resolveRepo()
	if err != nil {
		return nil, err
	}
	config := transaction.DefaultConfig(repo)
	config.StateDir = filepath.Join(councilStateDir(repo), "transactions")
	return transaction.NewCoordinator(config)
}
