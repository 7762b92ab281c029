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
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func gitAvailable() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// runGit runs a git command in dir and fails the test on error.
func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

// setupTestRepo creates a git repository with one committed file.
func setupTestRepo(t *testing.T) string {
	t.Helper()
	repo := t.TempDir()
	runGit(t, repo, "init", "-q")
	runGit(t, repo, "config", "user.email", "council@example.com")
	runGit(t, repo, "config", "user.name", "Council Test")
	runGit(t, repo, "config", "commit.gpgsign", "false")

	writeRepoFile(t, repo, "docs/canon.md", "original canon\n")
	runGit(t, repo, "add", "-A")
	runGit(t, repo, "commit", "-q", "-m", "initial")
	return repo
}

func createIntegrationCoordinator(t *testing.T, repo string) *Coordinator {
	t.Helper()
	config := DefaultConfig(repo)
	config.StateDir = filepath.Join(repo, ".council", "transactions")
	config.EnableMetrics = false

	coord, err := NewCoordinator(config)
	if err != nil {
		t.Fatalf("NewCoordinator failed: %v", err)
	}
	return coord
}

func TestIntegration_CommitFlow(t *testing.T) {
	if !gitAvailable() {
		t.Skip("git not available")
	}
	ctx := context.Background()
	repo := setupTestRepo(t)
	coord := createIntegrationCoordinator(t, repo)

	originalHead := runGit(t, repo, "rev-parse", "HEAD")

	record, err := coord.Begin(ctx, "agent-a", []string{"docs/canon.md"})
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if record.OriginalVCSHead != originalHead {
		t.Errorf("Expected original head %s, got %s", originalHead, record.OriginalVCSHead)
	}

	writeRepoFile(t, repo, "docs/canon.md", "amended canon\n")

	result, err := coord.Commit(ctx, record.TransactionID, "amend canon")
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	newHead := runGit(t, repo, "rev-parse", "HEAD")
	if newHead == originalHead {
		t.Error("Expected HEAD to advance")
	}
	if result.CommitSHA != newHead {
		t.Errorf("Expected recorded SHA %s, got %s", newHead, result.CommitSHA)
	}
	if status := runGit(t, repo, "status", "--porcelain"); status != "" {
		t.Errorf("Expected clean tree after commit, got %q", status)
	}
	if msg := runGit(t, repo, "log", "-1", "--format=%s"); msg != "amend canon" {
		t.Errorf("Expected commit message 'amend canon', got %q", msg)
	}
}

func TestIntegration_RollbackFlow(t *testing.T) {
	if !gitAvailable() {
		t.Skip("git not available")
	}
	ctx := context.Background()
	repo := setupTestRepo(t)
	coord := createIntegrationCoordinator(t, repo)

	originalHead := runGit(t, repo, "rev-parse", "HEAD")

	record, err := coord.Begin(ctx, "agent-a", []string{"docs/canon.md", "docs/extra.md"})
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	writeRepoFile(t, repo, "docs/canon.md", "half-finished edit\n")
	writeRepoFile(t, repo, "docs/extra.md", "brand new file\n")

	result, err := coord.Rollback(ctx, record.TransactionID, "user")
	if err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if result.Phase != PhaseRolledBack {
		t.Errorf("Expected rolled_back phase, got %s", result.Phase)
	}

	if got := readRepoFile(t, repo, "docs/canon.md"); got != "original canon\n" {
		t.Errorf("Expected original content, got %q", got)
	}
	if _, err := os.Stat(filepath.Join(repo, "docs/extra.md")); !os.IsNotExist(err) {
		t.Error("Expected created file to be removed")
	}
	if head := runGit(t, repo, "rev-parse", "HEAD"); head != originalHead {
		t.Errorf("Expected HEAD unchanged, got %s", head)
	}
}

func TestIntegration_UnconfirmedCommitRecovery(t *testing.T) {
	if !gitAvailable() {
		t.Skip("git not available")
	}
	ctx := context.Background()
	repo := setupTestRepo(t)
	coord := createIntegrationCoordinator(t, repo)

	originalHead := runGit(t, repo, "rev-parse", "HEAD")

	record, err := coord.Begin(ctx, "agent-a", []string{"docs/canon.md"})
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	writeRepoFile(t, repo, "docs/canon.md", "crashed mid-commit\n")

	// Simulate a crash after the commit ran but before confirmation:
	// the commit exists and the record still carries the restore flag.
	runGit(t, repo, "add", "-A")
	runGit(t, repo, "commit", "-q", "-m", "zombie commit")
	record.Phase = PhaseCommitting
	record.RestoreGitState = true
	if err := coord.writeRecord(record); err != nil {
		t.Fatalf("Failed to write record: %v", err)
	}

	result, err := coord.Rollback(ctx, record.TransactionID, "recovery")
	if err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if !result.VCSReverted {
		t.Error("Expected the zombie commit to be undone")
	}
	if head := runGit(t, repo, "rev-parse", "HEAD"); head != originalHead {
		t.Errorf("Expected HEAD reset to %s, got %s", originalHead, head)
	}
	if got := readRepoFile(t, repo, "docs/canon.md"); got != "original canon\n" {
		t.Errorf("Expected original content, got %q", got)
	}
}

func TestIntegration_GitClientValidation(t *testing.T) {
	if !gitAvailable() {
		t.Skip("git not available")
	}
	ctx := context.Background()
	repo := setupTestRepo(t)

	client, err := NewGitClient(repo, 0)
	if err != nil {
		t.Fatalf("NewGitClient failed: %v", err)
	}

	if !client.IsRepository(ctx) {
		t.Error("Expected IsRepository to be true")
	}
	head, err := client.CurrentHead(ctx)
	if err != nil {
		t.Fatalf("CurrentHead failed: %v", err)
	}
	if err := ValidateHash(head); err != nil {
		t.Errorf("HEAD %q failed validation: %v", head, err)
	}

	if err := client.Add(ctx, "../outside.md"); err == nil {
		t.Error("Expected Add to reject traversal path")
	}
	if err := client.ResetHard(ctx, "HEAD; rm -rf /"); err == nil {
		t.Error("Expected ResetHard to reject unvalidated ref")
	}
	if err := client.Commit(ctx, "msg with\nnewline"); err == nil {
		t.Error("Expected Commit to reject unsanitized message")
	}

	pushed, err := client.IsAncestorOfRemote(ctx, head)
	if err != nil {
		t.Fatalf("IsAncestorOfRemote failed: %v", err)
	}
	if pushed {
		t.Error("Expected local-only commit to not be on a remote")
	}
}
