// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transaction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianCouncil/services/council/fsutil"
	"github.com/AleutianAI/AleutianCouncil/services/council/lock"
)

const recordFileName = "transaction.json"

// Coordinator drives two-phase write transactions against the
// governance repository.
//
// # Description
//
// At most one transaction is live at a time. Begin snapshots the target
// files and records the original HEAD; Commit stages, commits, and
// confirms; Rollback restores file content from the snapshot and, when
// a git commit may exist, reverts or resets the repository.
//
// A transaction begun by a process that has since died is an orphan:
// the next Begin detects it via PID and process start time, rolls it
// back, and proceeds.
//
// # Thread Safety
//
// All public methods are safe for concurrent use within a process.
// Cross-process exclusion is the lock manager's job; callers are
// expected to hold the global lock around the whole
// begin-mutate-commit sequence.
type Coordinator struct {
	cfg    Config
	git    GitClient
	store  *BackupStore
	tracer *Tracer
	logger *slog.Logger

	recordPath string
	mu         sync.Mutex
}

// NewCoordinator creates a coordinator using the command-line git
// client.
//
// # Inputs
//
//   - config: Coordinator configuration. Zero fields are defaulted.
//
// # Outputs
//
//   - *Coordinator: Ready-to-use coordinator.
//   - error: Non-nil if the repository path is invalid or the state
//     directory cannot be created.
func NewCoordinator(config Config) (*Coordinator, error) {
	git, err := NewGitClient(config.RepoPath, config.GitTimeout)
	if err != nil {
		return nil, err
	}
	return NewCoordinatorWithGit(config, git)
}

// NewCoordinatorWithGit creates a coordinator with a caller-supplied
// git client. Used by tests and by embedders that wrap git operations.
func NewCoordinatorWithGit(config Config, git GitClient) (*Coordinator, error) {
	if !filepath.IsAbs(config.RepoPath) {
		return nil, fmt.Errorf("RepoPath must be absolute: %s", config.RepoPath)
	}

	defaults := DefaultConfig(config.RepoPath)
	if config.StateDir == "" {
		config.StateDir = filepath.Join(config.RepoPath, ".council", "transactions")
	}
	if config.BackupDir == "" {
		config.BackupDir = filepath.Join(config.StateDir, "backups")
	}
	if config.GitTimeout <= 0 {
		config.GitTimeout = defaults.GitTimeout
	}
	if config.BackupRetention <= 0 {
		config.BackupRetention = defaults.BackupRetention
	}
	if config.MaxMessageLen <= 0 {
		config.MaxMessageLen = defaults.MaxMessageLen
	}

	if err := os.MkdirAll(config.StateDir, 0755); err != nil {
		return nil, fmt.Errorf("creating transaction state directory: %w", err)
	}

	SetMetricsEnabled(config.EnableMetrics)

	logger := slog.Default().With("component", "transaction_coordinator")

	return &Coordinator{
		cfg:        config,
		git:        git,
		store:      NewBackupStore(config.BackupDir, logger),
		tracer:     NewTracer(logger, config.EnableTracing),
		logger:     logger,
		recordPath: filepath.Join(config.StateDir, recordFileName),
	}, nil
}

// Begin starts a transaction covering the given files.
//
// # Description
//
// Validates every path, snapshots current file content, records the
// original HEAD, and persists the prepared record. If a live
// transaction already exists Begin fails with ErrTransactionConflict;
// if the existing transaction's owner process is dead, the orphan is
// rolled back first and Begin proceeds.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - agentID: Identity of the agent driving the transaction.
//   - files: Repository-relative paths the transaction will mutate.
//
// # Outputs
//
//   - *Record: The prepared transaction.
//   - error: ErrTransactionConflict, a *ValidationError, or a git or
//     filesystem error.
func (c *Coordinator) Begin(ctx context.Context, agentID string, files []string) (*Record, error) {
	ctx, span := c.tracer.StartPhase(ctx, "begin", "", agentID)
	record, err := c.begin(ctx, agentID, files)
	c.tracer.EndPhase(span, record, err)
	recordBegin(ctx, len(files), err == nil)
	return record, err
}

func (c *Coordinator) begin(ctx context.Context, agentID string, files []string) (*Record, error) {
	if len(files) == 0 {
		return nil, &ValidationError{Field: "files", Value: "", Reason: "at least one file is required"}
	}
	for _, f := range files {
		if err := ValidateRelPath(c.cfg.RepoPath, f); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if current := c.readRecord(); current != nil && !current.Phase.Terminal() {
		if lock.ProcessAlive(current.ProcessID, current.ProcessStartTime) {
			return nil, fmt.Errorf("%w: transaction %s by %s (pid %d)",
				ErrTransactionConflict, current.TransactionID, current.AgentID, current.ProcessID)
		}

		c.logger.Warn("taking over orphaned transaction",
			"tx_id", current.TransactionID,
			"orphan_agent", current.AgentID,
			"orphan_pid", current.ProcessID)
		recordOrphanTakeover(ctx)
		if _, err := c.rollbackLocked(ctx, current, "orphan"); err != nil {
			return nil, fmt.Errorf("recovering orphaned transaction %s: %w", current.TransactionID, err)
		}
	}

	if !c.git.IsRepository(ctx) {
		return nil, fmt.Errorf("%s is not a git repository", c.cfg.RepoPath)
	}
	head, err := c.git.CurrentHead(ctx)
	if err != nil {
		return nil, err
	}
	branch, err := c.git.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}

	// A dirty tree at prepare time means uncommitted changes outside
	// this transaction; they would be swept into the commit by staging.
	if status, err := c.git.StatusPorcelain(ctx); err == nil && status != "" {
		c.logger.Warn("working tree dirty at transaction start",
			"agent_id", agentID, "branch", branch)
	}

	txID := uuid.NewString()
	backupDir, err := c.store.Create(txID, c.cfg.RepoPath, files, head)
	if err != nil {
		return nil, err
	}

	record := &Record{
		TransactionID:    txID,
		Phase:            PhasePrepared,
		AgentID:          agentID,
		Files:            append([]string(nil), files...),
		BackupDir:        backupDir,
		OriginalVCSHead:  head,
		ProcessID:        os.Getpid(),
		ProcessStartTime: lock.CurrentProcessStartTime(),
		StartedAt:        time.Now(),
	}
	if err := c.writeRecord(record); err != nil {
		c.store.Remove(backupDir)
		return nil, err
	}

	c.store.GC(c.cfg.BackupRetention)

	c.logger.Info("transaction prepared",
		"tx_id", txID,
		"agent_id", agentID,
		"files", len(files),
		"original_head", head)
	return record, nil
}

// Commit finishes the transaction: stages the covered files, creates
// the git commit, and confirms the new HEAD.
//
// # Description
//
// The RestoreGitState flag is persisted immediately before `git commit`
// runs and cleared only after the new HEAD is confirmed. A crash
// anywhere in that window leaves the flag set, which is exactly the
// condition under which rollback must examine the repository for a
// commit to undo. Any failure during commit triggers an automatic
// rollback.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - txID: The transaction to commit.
//   - message: Commit message; sanitized before use.
//
// # Outputs
//
//   - *Result: Commit outcome with the new commit SHA.
//   - error: ErrNoTransaction, ErrNotOwner, or the commit failure
//     (after automatic rollback).
func (c *Coordinator) Commit(ctx context.Context, txID, message string) (*Result, error) {
	ctx, span := c.tracer.StartPhase(ctx, "commit", txID, "")

	c.mu.Lock()
	defer c.mu.Unlock()

	record, err := c.checkActive(txID)
	if err != nil {
		c.tracer.EndPhase(span, nil, err)
		recordCommit(ctx, 0, false)
		return nil, err
	}
	if record.Phase != PhasePrepared {
		err := fmt.Errorf("%w: transaction %s is %s, not prepared", ErrNoTransaction, txID, record.Phase)
		c.tracer.EndPhase(span, record, err)
		recordCommit(ctx, 0, false)
		return nil, err
	}

	result, err := c.commitLocked(ctx, record, message)
	c.tracer.EndPhase(span, record, err)
	recordCommit(ctx, time.Since(record.StartedAt), err == nil)
	return result, err
}

func (c *Coordinator) commitLocked(ctx context.Context, record *Record, message string) (*Result, error) {
	message = SanitizeMessage(message, c.cfg.MaxMessageLen)
	logger := LoggerWithTrace(ctx, c.logger)

	if err := c.transition(ctx, record, PhaseCommitting); err != nil {
		return nil, err
	}

	fail := func(stage string, opErr error) (*Result, error) {
		logger.Error("commit failed, rolling back",
			"tx_id", record.TransactionID,
			"stage", stage,
			"error", opErr)
		// The failure is recorded before rollback starts so the record
		// carries the cause even if rollback itself dies midway; the
		// message survives into the rolled-back record.
		record.ErrorMessage = opErr.Error()
		if err := c.transition(ctx, record, PhaseFailed); err != nil {
			logger.Error("failed to persist failed phase",
				"tx_id", record.TransactionID, "error", err)
		}
		if _, rbErr := c.rollbackLocked(ctx, record, "commit_failure"); rbErr != nil {
			return nil, fmt.Errorf("commit %s failed (%v) and rollback also failed: %w", stage, opErr, rbErr)
		}
		return nil, fmt.Errorf("commit %s failed, transaction rolled back: %w", stage, opErr)
	}

	_, gitSpan := c.tracer.StartGitOp(ctx, "add")
	err := c.git.Add(ctx, record.Files...)
	c.tracer.EndGitOp(gitSpan, err)
	if err != nil {
		return fail("staging", err)
	}

	// From this point a git commit may exist even if we crash, so the
	// flag must hit disk before the commit runs.
	record.RestoreGitState = true
	if err := c.writeRecord(record); err != nil {
		return fail("flagging", err)
	}

	_, gitSpan = c.tracer.StartGitOp(ctx, "commit")
	err = c.git.Commit(ctx, message)
	c.tracer.EndGitOp(gitSpan, err)
	if err != nil {
		return fail("committing", err)
	}

	newHead, err := c.git.CurrentHead(ctx)
	if err != nil {
		return fail("confirming", err)
	}

	record.NewVCSHead = newHead
	record.RestoreGitState = false
	completed := time.Now()
	record.CompletedAt = &completed
	if err := c.transition(ctx, record, PhaseCommitted); err != nil {
		// The commit is already on the branch. Rolling back here would
		// restore pre-commit file content over a confirmed commit, so
		// the flag is re-armed in memory and the on-disk record stays
		// mid-commit for recovery to examine. The backup is kept.
		record.RestoreGitState = true
		logger.Error("commit created but finalizing the record failed",
			"tx_id", record.TransactionID,
			"commit", newHead,
			"error", err)
		return nil, fmt.Errorf("commit %s created but finalizing the record failed: %w", newHead, err)
	}

	if err := c.store.Remove(record.BackupDir); err != nil {
		c.logger.Warn("failed to remove backup after commit",
			"tx_id", record.TransactionID, "error", err)
	}

	logger.Info("transaction committed",
		"tx_id", record.TransactionID,
		"agent_id", record.AgentID,
		"commit", newHead)
	return &Result{
		TransactionID: record.TransactionID,
		Phase:         record.Phase,
		CommitSHA:     newHead,
		Duration:      time.Since(record.StartedAt),
	}, nil
}

// Rollback abandons the transaction and restores the original state.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - txID: The transaction to roll back.
//   - reason: Recorded in logs and metrics.
//
// # Outputs
//
//   - *Result: Rollback outcome.
//   - error: ErrNoTransaction, ErrNotOwner, or ErrRollbackFailed when
//     the original state could not be restored.
func (c *Coordinator) Rollback(ctx context.Context, txID, reason string) (*Result, error) {
	ctx, span := c.tracer.StartPhase(ctx, "rollback", txID, "")

	c.mu.Lock()
	defer c.mu.Unlock()

	record, err := c.checkActive(txID)
	if err != nil {
		c.tracer.EndPhase(span, nil, err)
		return nil, err
	}

	if reason == "" {
		reason = "user"
	}
	result, err := c.rollbackLocked(ctx, record, reason)
	c.tracer.EndPhase(span, record, err)
	return result, err
}

// rollbackLocked restores the original state. Caller holds c.mu.
//
// VCS state is restored first (a hard reset would clobber restored
// working-tree files), then file content from the backup. A panic
// anywhere in the sequence is converted into the failed phase rather
// than a crash that leaves the record mid-rollback.
func (c *Coordinator) rollbackLocked(ctx context.Context, record *Record, reason string) (result *Result, err error) {
	logger := LoggerWithTrace(ctx, c.logger)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic during rollback",
				"tx_id", record.TransactionID, "panic", r)
			c.markFailed(ctx, record, fmt.Sprintf("panic during rollback: %v", r))
			result = nil
			err = fmt.Errorf("%w: panic: %v", ErrRollbackFailed, r)
		}
	}()

	if err := c.transition(ctx, record, PhaseRollingBack); err != nil {
		return nil, err
	}

	vcsReverted := false
	if record.RestoreGitState {
		head, headErr := c.git.CurrentHead(ctx)
		if headErr != nil {
			c.markFailed(ctx, record, headErr.Error())
			recordRollback(ctx, time.Since(record.StartedAt), reason, false)
			return nil, fmt.Errorf("%w: reading HEAD: %v", ErrRollbackFailed, headErr)
		}

		// The flag alone does not prove a commit was created; only a
		// moved HEAD does. Reverting on the flag alone would undo a
		// commit this transaction never made.
		if head != record.OriginalVCSHead {
			if gitErr := c.undoCommit(ctx, head, record.OriginalVCSHead); gitErr != nil {
				c.markFailed(ctx, record, gitErr.Error())
				recordRollback(ctx, time.Since(record.StartedAt), reason, false)
				return nil, fmt.Errorf("%w: %v", ErrRollbackFailed, gitErr)
			}
			vcsReverted = true
		}
	}

	restored, restoreErr := c.store.Restore(record.BackupDir, c.cfg.RepoPath)
	if restoreErr != nil {
		// Backups are retained for the operator; deleting them here
		// would destroy the only remaining copy of the original state.
		c.markFailed(ctx, record, restoreErr.Error())
		recordRollback(ctx, time.Since(record.StartedAt), reason, false)
		return nil, fmt.Errorf("%w: restoring files: %v", ErrRollbackFailed, restoreErr)
	}

	record.RestoreGitState = false
	completed := time.Now()
	record.CompletedAt = &completed
	if err := c.transition(ctx, record, PhaseRolledBack); err != nil {
		return nil, err
	}

	if err := c.store.Remove(record.BackupDir); err != nil {
		c.logger.Warn("failed to remove backup after rollback",
			"tx_id", record.TransactionID, "error", err)
	}

	recordRollback(ctx, time.Since(record.StartedAt), reason, true)
	logger.Info("transaction rolled back",
		"tx_id", record.TransactionID,
		"reason", reason,
		"files_restored", restored,
		"vcs_reverted", vcsReverted)
	return &Result{
		TransactionID: record.TransactionID,
		Phase:         record.Phase,
		FilesRestored: restored,
		VCSReverted:   vcsReverted,
		Duration:      time.Since(record.StartedAt),
	}, nil
}

// undoCommit removes head from the branch: a revert commit when the
// hash is already on a remote, a hard reset to the original head when
// it is still local-only.
func (c *Coordinator) undoCommit(ctx context.Context, head, originalHead string) error {
	pushed, err := c.git.IsAncestorOfRemote(ctx, head)
	if err != nil {
		return fmt.Errorf("checking whether %s was pushed: %w", head, err)
	}

	if pushed {
		_, span := c.tracer.StartGitOp(ctx, "revert")
		err = c.git.Revert(ctx, head)
		c.tracer.EndGitOp(span, err)
		if err != nil {
			return fmt.Errorf("reverting pushed commit %s: %w", head, err)
		}
		return nil
	}

	_, span := c.tracer.StartGitOp(ctx, "reset_hard")
	err = c.git.ResetHard(ctx, originalHead)
	c.tracer.EndGitOp(span, err)
	if err != nil {
		return fmt.Errorf("resetting to %s: %w", originalHead, err)
	}
	return nil
}

// Status returns the current transaction record, or nil when no
// transaction exists.
func (c *Coordinator) Status() *Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readRecord()
}

// checkActive loads the record and verifies txID names the live
// transaction owned by this process.
func (c *Coordinator) checkActive(txID string) (*Record, error) {
	record := c.readRecord()
	if record == nil || record.Phase.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrNoTransaction, txID)
	}
	if record.TransactionID != txID {
		return nil, fmt.Errorf("%w: active transaction is %s, not %s",
			ErrNoTransaction, record.TransactionID, txID)
	}
	if record.ProcessID != os.Getpid() {
		if lock.ProcessAlive(record.ProcessID, record.ProcessStartTime) {
			return nil, fmt.Errorf("%w: pid %d", ErrNotOwner, record.ProcessID)
		}
		// Owner is dead; the caller is performing recovery.
		c.logger.Warn("operating on orphaned transaction",
			"tx_id", record.TransactionID,
			"orphan_pid", record.ProcessID)
	}
	return record, nil
}

// transition persists a phase change.
func (c *Coordinator) transition(ctx context.Context, record *Record, to Phase) error {
	from := record.Phase
	record.Phase = to
	if err := c.writeRecord(record); err != nil {
		record.Phase = from
		return err
	}
	c.tracer.RecordPhaseTransition(ctx, record.TransactionID, from, to)
	return nil
}

// markFailed moves the record to the failed phase, keeping the backup
// for operator recovery. Best effort: a persist failure here is logged.
func (c *Coordinator) markFailed(ctx context.Context, record *Record, message string) {
	record.ErrorMessage = message
	completed := time.Now()
	record.CompletedAt = &completed
	if err := c.transition(ctx, record, PhaseFailed); err != nil {
		c.logger.Error("failed to persist failed phase",
			"tx_id", record.TransactionID, "error", err)
	}
}

// readRecord loads the transaction record. Missing or corrupt records
// read as absent; corruption is logged.
func (c *Coordinator) readRecord() *Record {
	data, err := os.ReadFile(c.recordPath)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("failed to read transaction record", "path", c.recordPath, "error", err)
		}
		return nil
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		c.logger.Warn("corrupt transaction record, treating as absent",
			"path", c.recordPath, "error", err)
		return nil
	}
	if record.TransactionID == "" {
		return nil
	}
	return &record
}

func (c *Coordinator) writeRecord(record *Record) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling transaction record: %w", err)
	}
	if err := fsutil.WriteFileAtomic(c.recordPath, data, 0644); err != nil {
		return fmt.Errorf("writing transaction record: %w", err)
	}
	return nil
}
