// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"encoding/json"

	"github.com/AleutianAI/AleutianCouncil/services/council/lock"
	"github.com/AleutianAI/AleutianCouncil/services/council/transaction"
)

// SubmitProposalRequest carries a new proposal for the governance
// documents.
type SubmitProposalRequest struct {
	AgentID  string          `json:"agent_id" binding:"required"`
	FilePath string          `json:"file_path" binding:"required"`
	Priority int             `json:"priority"`
	Document json.RawMessage `json:"document" binding:"required"`
}

// DecideRequest carries a governance decision.
type DecideRequest struct {
	AgentID  string          `json:"agent_id" binding:"required"`
	FilePath string          `json:"file_path" binding:"required"`
	Priority int             `json:"priority"`
	Document json.RawMessage `json:"document" binding:"required"`
}

// SubmitResponse reports the outcome of a queued write.
type SubmitResponse struct {
	Status    string `json:"status"`
	QueueID   string `json:"queue_id,omitempty"`
	CommitSHA string `json:"commit_sha,omitempty"`
	Error     string `json:"error,omitempty"`
}

// BeginTransactionRequest opens a transaction over explicit files.
type BeginTransactionRequest struct {
	AgentID string   `json:"agent_id" binding:"required"`
	Files   []string `json:"files" binding:"required,min=1"`
}

// CommitTransactionRequest finishes a transaction.
type CommitTransactionRequest struct {
	TransactionID string `json:"transaction_id" binding:"required"`
	Message       string `json:"message" binding:"required"`
}

// RollbackTransactionRequest abandons a transaction.
type RollbackTransactionRequest struct {
	TransactionID string `json:"transaction_id" binding:"required"`
	Reason        string `json:"reason"`
}

// SystemStatusResponse is the combined health snapshot.
type SystemStatusResponse struct {
	Lock        lock.LockStatus     `json:"lock"`
	Queue       lock.QueueStatus    `json:"queue"`
	Transaction *transaction.Record `json:"transaction,omitempty"`
}
