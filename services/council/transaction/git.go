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
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// GitClient abstracts the git operations the coordinator needs.
//
// # Description
//
// Implemented by DefaultGitClient using the git command line. Tests
// substitute a fake to exercise coordinator phase logic without a real
// repository.
type GitClient interface {
	// IsRepository reports whether the configured path is inside a git
	// repository.
	IsRepository(ctx context.Context) bool

	// CurrentHead returns the full SHA of HEAD.
	CurrentHead(ctx context.Context) (string, error)

	// CurrentBranch returns the current branch name, or "HEAD" when
	// detached.
	CurrentBranch(ctx context.Context) (string, error)

	// Add stages the given repository-relative paths.
	Add(ctx context.Context, paths ...string) error

	// Commit creates a commit with the given message. Fails if nothing
	// is staged.
	Commit(ctx context.Context, message string) error

	// ResetHard resets the working tree and index to the given hash.
	ResetHard(ctx context.Context, hash string) error

	// Revert creates a new commit undoing the given hash, without
	// rewriting history.
	Revert(ctx context.Context, hash string) error

	// IsAncestorOfRemote reports whether the given hash has been
	// pushed to any remote-tracking branch.
	IsAncestorOfRemote(ctx context.Context, hash string) (bool, error)

	// StatusPorcelain returns the raw `git status --porcelain` output.
	StatusPorcelain(ctx context.Context) (string, error)
}

// DefaultGitClient implements GitClient using the git command line.
//
// # Description
//
// Executes git as argument vectors with a per-command timeout. Every
// value that reaches an argument vector is validated first: hashes
// against hashPattern, branch names against branchPattern, paths
// against the repository-relative rules in ValidateRelPath.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type DefaultGitClient struct {
	repoPath string
	timeout  time.Duration
}

// NewGitClient creates a git client for the specified repository.
//
// # Inputs
//
//   - repoPath: Absolute path to the git repository.
//   - timeout: Maximum duration for each git operation.
//
// # Outputs
//
//   - *DefaultGitClient: Ready-to-use git client.
//   - error: Non-nil if repoPath is not absolute.
func NewGitClient(repoPath string, timeout time.Duration) (*DefaultGitClient, error) {
	if !filepath.IsAbs(repoPath) {
		return nil, fmt.Errorf("repoPath must be absolute: %s", repoPath)
	}

	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &DefaultGitClient{
		repoPath: repoPath,
		timeout:  timeout,
	}, nil
}

// run executes a git command and returns stdout.
func (g *DefaultGitClient) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.repoPath

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("git %s: timeout after %v", args[0], g.timeout)
		}
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, stderr.String())
	}

	return strings.TrimSpace(stdout.String()), nil
}

// runSilent executes a git command and returns only success/failure.
func (g *DefaultGitClient) runSilent(ctx context.Context, args ...string) error {
	_, err := g.run(ctx, args...)
	return err
}

// IsRepository checks if the path is a git repository.
func (g *DefaultGitClient) IsRepository(ctx context.Context) bool {
	err := g.runSilent(ctx, "rev-parse", "--git-dir")
	return err == nil
}

// CurrentHead returns the full SHA of HEAD.
func (g *DefaultGitClient) CurrentHead(ctx context.Context) (string, error) {
	sha, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	return sha, nil
}

// CurrentBranch returns the current branch name, or "HEAD" if in
// detached HEAD state.
func (g *DefaultGitClient) CurrentBranch(ctx context.Context) (string, error) {
	branch, err := g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("getting current branch: %w", err)
	}
	if err := ValidateBranch(branch); err != nil {
		return "", fmt.Errorf("repository reported suspicious branch name: %w", err)
	}
	return branch, nil
}

// Add stages files for commit. Paths must already be validated as
// repository-relative; they are re-checked here and passed after a
// "--" separator so they can never be parsed as options.
func (g *DefaultGitClient) Add(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	for _, p := range paths {
		if err := ValidateRelPath(g.repoPath, p); err != nil {
			return err
		}
	}
	args := append([]string{"add", "--"}, paths...)
	return g.runSilent(ctx, args...)
}

// Commit creates a new commit with the staged changes.
func (g *DefaultGitClient) Commit(ctx context.Context, message string) error {
	if strings.ContainsAny(message, dangerousChars) {
		return &ValidationError{Field: "message", Value: message, Reason: "contains disallowed characters"}
	}
	return g.runSilent(ctx, "commit", "-m", message)
}

// ResetHard performs a hard reset to the specified hash. All
// uncommitted changes are discarded.
func (g *DefaultGitClient) ResetHard(ctx context.Context, hash string) error {
	if err := ValidateHash(hash); err != nil {
		return err
	}
	return g.runSilent(ctx, "reset", "--hard", hash)
}

// Revert creates a commit undoing the specified hash. Used instead of
// ResetHard when the hash is already visible on a remote, so shared
// history is never rewritten.
func (g *DefaultGitClient) Revert(ctx context.Context, hash string) error {
	if err := ValidateHash(hash); err != nil {
		return err
	}
	return g.runSilent(ctx, "revert", "--no-edit", hash)
}

// IsAncestorOfRemote reports whether any remote-tracking branch
// contains the specified hash.
func (g *DefaultGitClient) IsAncestorOfRemote(ctx context.Context, hash string) (bool, error) {
	if err := ValidateHash(hash); err != nil {
		return false, err
	}
	output, err := g.run(ctx, "branch", "-r", "--contains", hash)
	if err != nil {
		// An unknown hash is not on any remote.
		if strings.Contains(err.Error(), "no such commit") || strings.Contains(err.Error(), "malformed object name") {
			return false, nil
		}
		return false, fmt.Errorf("checking remote branches for %s: %w", hash, err)
	}
	return output != "", nil
}

// StatusPorcelain returns the raw porcelain status output.
func (g *DefaultGitClient) StatusPorcelain(ctx context.Context) (string, error) {
	output, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return "", fmt.Errorf("getting status: %w", err)
	}
	return output, nil
}

// ValidateRelPath checks that relPath is a safe repository-relative
// path.
//
// # Description
//
// Rejects absolute paths, parent traversal, dangerous characters, and
// paths whose resolved location (following symlinks on every existing
// ancestor) escapes the repository root. A path whose file does not
// exist yet is fine as long as its directory chain stays inside the
// repository.
//
// # Inputs
//
//   - repoPath: Absolute repository root.
//   - relPath: Candidate repository-relative path.
//
// # Outputs
//
//   - error: A *ValidationError describing the rejection, or nil.
func ValidateRelPath(repoPath, relPath string) error {
	if relPath == "" {
		return &ValidationError{Field: "path", Value: relPath, Reason: "empty"}
	}
	if strings.ContainsAny(relPath, dangerousChars) {
		return &ValidationError{Field: "path", Value: relPath, Reason: "contains disallowed characters"}
	}
	if filepath.IsAbs(relPath) {
		return &ValidationError{Field: "path", Value: relPath, Reason: "must be repository-relative"}
	}
	if strings.HasPrefix(relPath, "-") {
		return &ValidationError{Field: "path", Value: relPath, Reason: "must not begin with a dash"}
	}

	cleaned := filepath.Clean(relPath)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return &ValidationError{Field: "path", Value: relPath, Reason: "escapes the repository root"}
	}

	// Resolve symlinks on the deepest existing ancestor so a link
	// inside the repository cannot smuggle the write outside it.
	root, err := filepath.EvalSymlinks(repoPath)
	if err != nil {
		return &ValidationError{Field: "path", Value: relPath, Reason: "repository root cannot be resolved"}
	}
	resolved, err := resolveExisting(filepath.Join(root, cleaned))
	if err != nil {
		return &ValidationError{Field: "path", Value: relPath, Reason: "cannot be resolved"}
	}
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return &ValidationError{Field: "path", Value: relPath, Reason: "resolves outside the repository root"}
	}
	return nil
}

// resolveExisting resolves symlinks for the deepest existing prefix of
// path and rejoins the nonexistent remainder.
func resolveExisting(path string) (string, error) {
	remainder := ""
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(resolved, remainder), nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		remainder = filepath.Join(filepath.Base(current), remainder)
		current = parent
	}
}
