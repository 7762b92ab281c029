// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transaction implements two-phase write transactions over the
// shared governance documents: file backups before mutation, a durable
// phase record, git commits on success, and rollback with file and VCS
// restoration on failure.
package transaction

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Phase is the lifecycle state of a transaction.
type Phase string

// Transaction phases. Transitions are one-directional:
// idle -> prepared -> committing -> committed, with any non-terminal
// phase able to divert through rolling_back -> rolled_back, or to
// failed when rollback itself cannot complete.
const (
	PhaseIdle        Phase = "idle"
	PhasePrepared    Phase = "prepared"
	PhaseCommitting  Phase = "committing"
	PhaseCommitted   Phase = "committed"
	PhaseRollingBack Phase = "rolling_back"
	PhaseRolledBack  Phase = "rolled_back"
	PhaseFailed      Phase = "failed"
)

// Terminal reports whether the phase is an end state.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCommitted, PhaseRolledBack, PhaseFailed:
		return true
	}
	return false
}

// Sentinel errors returned by the coordinator.
var (
	// ErrTransactionConflict means a live transaction already exists.
	// Recoverable: retry after the current transaction finishes.
	ErrTransactionConflict = errors.New("another transaction is in progress")

	// ErrNoTransaction means the named transaction does not exist or
	// has already reached a terminal phase.
	ErrNoTransaction = errors.New("no active transaction")

	// ErrNotOwner means a commit or rollback targeted a transaction
	// begun by a different process.
	ErrNotOwner = errors.New("transaction is owned by another process")

	// ErrRollbackFailed means rollback could not restore the original
	// state. The transaction is left in the failed phase with its
	// backups retained; operator intervention is required.
	ErrRollbackFailed = errors.New("rollback failed to restore original state")
)

// ValidationError reports a rejected input (path, hash, branch, or
// message) before any git command was attempted.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// Record is the durable transaction state.
//
// # Description
//
// Persisted atomically after every phase transition so a crashed
// coordinator can be recovered by any successor process. The
// RestoreGitState flag is the sole signal that a git commit may exist
// for this transaction: it is set immediately before `git commit` runs
// and cleared only after the new head is confirmed, so rollback reverts
// the repository exactly when a commit could have been created.
type Record struct {
	TransactionID    string     `json:"transaction_id"`
	Phase            Phase      `json:"phase"`
	AgentID          string     `json:"agent_id"`
	Files            []string   `json:"files"`
	BackupDir        string     `json:"backup_dir"`
	OriginalVCSHead  string     `json:"original_vcs_head"`
	NewVCSHead       string     `json:"new_vcs_head,omitempty"`
	RestoreGitState  bool       `json:"restore_git_state"`
	ProcessID        int        `json:"process_id"`
	ProcessStartTime float64    `json:"process_start_time"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
}

// Result reports the outcome of a commit or rollback.
type Result struct {
	TransactionID string        `json:"transaction_id"`
	Phase         Phase         `json:"phase"`
	CommitSHA     string        `json:"commit_sha,omitempty"`
	FilesRestored int           `json:"files_restored,omitempty"`
	VCSReverted   bool          `json:"vcs_reverted,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// Config configures a Coordinator.
type Config struct {
	// RepoPath is the absolute path to the git repository containing
	// the governance documents.
	RepoPath string

	// StateDir holds the transaction record. Defaults to a directory
	// under RepoPath.
	StateDir string

	// BackupDir holds per-transaction file backups. Defaults to a
	// directory under StateDir.
	BackupDir string

	// GitTimeout bounds each git subprocess.
	GitTimeout time.Duration

	// BackupRetention is how many finished transaction backups are
	// kept for post-mortem inspection before garbage collection.
	BackupRetention int

	// MaxMessageLen caps commit messages after sanitization.
	MaxMessageLen int

	// EnableMetrics controls OpenTelemetry metric recording.
	EnableMetrics bool

	// EnableTracing controls OpenTelemetry span creation.
	EnableTracing bool
}

// DefaultConfig returns a config with sensible defaults for repoPath.
func DefaultConfig(repoPath string) Config {
	return Config{
		RepoPath:        repoPath,
		GitTimeout:      60 * time.Second,
		BackupRetention: 5,
		MaxMessageLen:   500,
		EnableMetrics:   true,
		EnableTracing:   false,
	}
}

// Validation patterns for values that reach git argument vectors.
// Hashes are lowercase hex between short and full SHA length; branch
// names are restricted to a conservative character class well inside
// git's own rules.
var (
	hashPattern   = regexp.MustCompile(`^[a-f0-9]{7,40}$`)
	branchPattern = regexp.MustCompile(`^[A-Za-z0-9_./-]+$`)
)

// dangerousChars never appear in validated paths or sanitized messages.
// Commands are run as argument vectors, never through a shell, so this
// is defense in depth against a second consumer of the same values.
const dangerousChars = "|;&$`\n\r"

// ValidateHash rejects anything that is not a plausible commit hash.
func ValidateHash(hash string) error {
	if !hashPattern.MatchString(hash) {
		return &ValidationError{Field: "hash", Value: hash, Reason: "must be 7-40 lowercase hex characters"}
	}
	return nil
}

// ValidateBranch rejects branch names outside the allowed character set.
func ValidateBranch(branch string) error {
	if branch == "" || !branchPattern.MatchString(branch) {
		return &ValidationError{Field: "branch", Value: branch, Reason: "contains disallowed characters"}
	}
	if strings.HasPrefix(branch, "-") {
		return &ValidationError{Field: "branch", Value: branch, Reason: "must not begin with a dash"}
	}
	return nil
}

// SanitizeMessage strips control and shell metacharacters from a commit
// message and truncates it to maxLen. The result is never empty: a
// message reduced to nothing becomes a placeholder.
func SanitizeMessage(message string, maxLen int) string {
	var b strings.Builder
	for _, r := range message {
		if strings.ContainsRune(dangerousChars, r) {
			continue
		}
		if r < 0x20 && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	cleaned := strings.TrimSpace(b.String())
	if maxLen > 0 && len(cleaned) > maxLen {
		// Truncate on a rune boundary so a multi-byte character is
		// never split into invalid UTF-8.
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(cleaned[cut]) {
			cut--
		}
		cleaned = strings.TrimSpace(cleaned[:cut])
	}
	if cleaned == "" {
		cleaned = "governance update"
	}
	return cleaned
}
