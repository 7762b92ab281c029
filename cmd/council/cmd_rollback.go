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
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// --- Rollback Command Flags ---
var (
	rollbackTxID   string
	rollbackReason string
)

// rollbackCmd abandons the active transaction, restoring files and
// undoing any unconfirmed commit. Without --tx it targets whatever
// transaction is currently on disk, which is how an operator recovers
// after a crashed agent.
var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Roll back the active transaction",
	Run:   runRollbackCommand,
}

func init() {
	rollbackCmd.Flags().StringVar(&rollbackTxID, "tx", "",
		"Transaction ID (default: the active transaction)")
	rollbackCmd.Flags().StringVar(&rollbackReason, "reason", "operator",
		"Reason recorded on the rollback")
}

func runRollbackCommand(cmd *cobra.Command, args []string) {
	coord, err := newCoordinator()
	if err != nil {
		OutputError("rollback", "Failed to open transaction state", err)
		os.Exit(CLIExitError)
	}

	txID := rollbackTxID
	if txID == "" {
		record := coord.Status()
		if record == nil {
			OutputError("rollback", "Nothing to roll back", errors.New("no transaction on disk"))
			os.Exit(CLIExitBusy)
		}
		if record.Phase.Terminal() {
			OutputError("rollback", "Nothing to roll back",
				fmt.Errorf("last transaction %s already %s", record.TransactionID, record.Phase))
			os.Exit(CLIExitBusy)
		}
		txID = record.TransactionID
	}

	result, err := coord.Rollback(context.Background(), txID, rollbackReason)
	if err != nil {
		OutputError("rollback", "Rollback failed", err)
		os.Exit(CLIExitError)
	}
	OutputResult("rollback", result)
}
