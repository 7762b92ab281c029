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
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianCouncil/services/council/fsutil"
	"github.com/AleutianAI/AleutianCouncil/services/council/lock"
	"github.com/AleutianAI/AleutianCouncil/services/council/validate"
)

// --- Submit Command Flags ---
var (
	submitAgentID  string
	submitFilePath string
	submitDocType  string
	submitDocument string
	submitPriority int
	submitMessage  string
)

// submitCmd runs the full write path from the command line: validate
// the document, queue behind the global lock, then write and commit it
// in one transaction.
var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Validate a governance document and commit it under the global lock",
	Long: `Submit reads a JSON document, validates it against the rules for its
type, and writes it to the target path inside a lock-guarded transaction.

Examples:
  council submit -a agent-a -f docs/prop-001.json -t proposal -d prop.json
  cat decision.json | council submit -a agent-c -f docs/dec-001.json -t decision -d -`,
	Run: runSubmitCommand,
}

func init() {
	submitCmd.Flags().StringVarP(&submitAgentID, "agent", "a", "",
		"Agent identity submitting the document")
	submitCmd.MarkFlagRequired("agent")
	submitCmd.Flags().StringVarP(&submitFilePath, "file", "f", "",
		"Target path inside the repository")
	submitCmd.MarkFlagRequired("file")
	submitCmd.Flags().StringVarP(&submitDocType, "type", "t", "proposal",
		"Document type: proposal, challenge, decision or snapshot")
	submitCmd.Flags().StringVarP(&submitDocument, "document", "d", "",
		"Path to the JSON document, or - for stdin")
	submitCmd.MarkFlagRequired("document")
	submitCmd.Flags().IntVarP(&submitPriority, "priority", "p", 0,
		"Queue priority; higher runs sooner")
	submitCmd.Flags().StringVarP(&submitMessage, "message", "m", "",
		"Commit message (default derived from type and path)")
}

func runSubmitCommand(cmd *cobra.Command, args []string) {
	payload, err := readDocument(submitDocument)
	if err != nil {
		OutputError("submit", "Failed to read document", err)
		os.Exit(CLIExitError)
	}

	validator := validate.NewValidator(0)
	verdict := validator.Validate(payload, validate.DocumentType(submitDocType))
	if !verdict.Valid {
		OutputError("submit", "Document failed validation",
			fmt.Errorf("%s (reasons: %v)", verdict.Message, verdict.Reasons))
		os.Exit(CLIExitError)
	}

	manager, err := newLockManager()
	if err != nil {
		OutputError("submit", "Failed to open lock state", err)
		os.Exit(CLIExitError)
	}
	defer manager.Close()

	coord, err := newCoordinator()
	if err != nil {
		OutputError("submit", "Failed to open transaction state", err)
		os.Exit(CLIExitError)
	}

	repo, err := resolveRepo()
	if err != nil {
		OutputError("submit", "Failed to resolve repository path", err)
		os.Exit(CLIExitError)
	}

	message := submitMessage
	if message == "" {
		message = fmt.Sprintf("%s: %s by %s", submitDocType, submitFilePath, submitAgentID)
	}

	ctx := context.Background()
	var commitSHA string
	result, err := manager.Submit(ctx, submitAgentID, "submit_"+submitDocType, submitFilePath, submitPriority, func() error {
		record, err := coord.Begin(ctx, submitAgentID, []string{submitFilePath})
		if err != nil {
			return err
		}
		target := filepath.Join(repo, submitFilePath)
		if err := fsutil.WriteFileAtomic(target, payload, 0644); err != nil {
			if _, rbErr := coord.Rollback(ctx, record.TransactionID, "write_failure"); rbErr != nil {
				return rbErr
			}
			return err
		}
		res, err := coord.Commit(ctx, record.TransactionID, message)
		if err != nil {
			return err
		}
		commitSHA = res.CommitSHA
		return nil
	})
	if err != nil {
		OutputError("submit", "Submit failed", err)
		if errors.Is(err, lock.ErrLockTimeout) {
			os.Exit(CLIExitBusy)
		}
		os.Exit(CLIExitError)
	}

	OutputResult("submit", map[string]string{
		"status":     string(result.Status),
		"queue_id":   result.QueueID,
		"commit_sha": commitSHA,
	})
}

// readDocument loads the payload from a file or stdin when path is "-".
func readDocument(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
