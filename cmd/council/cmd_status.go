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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianCouncil/services/council/api"
)

// statusCmd reports the combined lock, queue and transaction state.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show lock, queue and transaction state as JSON",
	Run:   runStatusCommand,
}

func runStatusCommand(cmd *cobra.Command, args []string) {
	manager, err := newLockManager()
	if err != nil {
		OutputError("status", "Failed to open lock state", err)
		os.Exit(CLIExitError)
	}
	defer manager.Close()

	coord, err := newCoordinator()
	if err != nil {
		OutputError("status", "Failed to open transaction state", err)
		os.Exit(CLIExitError)
	}

	OutputResult("status", api.SystemStatusResponse{
		Lock:        manager.Status(),
		Queue:       manager.Queue().Status(),
		Transaction: coord.Status(),
	})
}
