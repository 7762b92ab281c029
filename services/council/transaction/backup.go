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
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/AleutianAI/AleutianCouncil/services/council/fsutil"
)

const manifestFileName = "manifest.json"

// manifestEntry records one backed-up file. Existed distinguishes "the
// file held this content" from "the file was absent", so restore can
// delete files a transaction created.
type manifestEntry struct {
	Path    string `json:"path"`
	Existed bool   `json:"existed"`
}

// manifest is the backup directory's index.
type manifest struct {
	TransactionID   string          `json:"transaction_id"`
	OriginalVCSHead string          `json:"original_vcs_head"`
	CreatedAt       time.Time       `json:"created_at"`
	Entries         []manifestEntry `json:"entries"`
}

// BackupStore snapshots transaction files before mutation and restores
// them on rollback.
//
// # Description
//
// Each transaction gets its own directory under the base directory,
// containing byte copies of every file plus a manifest. Backups of
// finished transactions are retained for post-mortem inspection and
// garbage-collected beyond a retention count.
type BackupStore struct {
	baseDir string
	logger  *slog.Logger
}

// NewBackupStore creates a store rooted at baseDir.
func NewBackupStore(baseDir string, logger *slog.Logger) *BackupStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &BackupStore{
		baseDir: baseDir,
		logger:  logger.With("component", "backup_store"),
	}
}

// Create snapshots the given repository-relative files.
//
// # Inputs
//
//   - txID: Transaction the backup belongs to.
//   - repoPath: Absolute repository root.
//   - files: Repository-relative paths to snapshot.
//   - originalHead: HEAD hash at snapshot time, recorded in the manifest.
//
// # Outputs
//
//   - string: The created backup directory.
//   - error: Non-nil if any copy fails; a partial backup is removed.
func (s *BackupStore) Create(txID, repoPath string, files []string, originalHead string) (string, error) {
	dir := filepath.Join(s.baseDir, txID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}

	m := manifest{
		TransactionID:   txID,
		OriginalVCSHead: originalHead,
		CreatedAt:       time.Now(),
	}

	for _, rel := range files {
		src := filepath.Join(repoPath, rel)
		entry := manifestEntry{Path: rel}
		if _, err := os.Stat(src); err == nil {
			entry.Existed = true
			dst := filepath.Join(dir, "files", rel)
			if err := fsutil.CopyFile(src, dst); err != nil {
				os.RemoveAll(dir)
				return "", fmt.Errorf("backing up %s: %w", rel, err)
			}
		} else if !os.IsNotExist(err) {
			os.RemoveAll(dir)
			return "", fmt.Errorf("inspecting %s: %w", rel, err)
		}
		m.Entries = append(m.Entries, entry)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("marshaling manifest: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, manifestFileName), data, 0644); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("writing manifest: %w", err)
	}
	return dir, nil
}

// Restore puts every file back the way the manifest recorded it:
// existing files get their saved content, files that did not exist are
// deleted.
//
// # Outputs
//
//   - int: Number of files restored or removed.
//   - error: Non-nil if the manifest is unreadable or any file could
//     not be restored. A partial restore is reported as an error; the
//     backup is left in place.
func (s *BackupStore) Restore(backupDir, repoPath string) (int, error) {
	data, err := os.ReadFile(filepath.Join(backupDir, manifestFileName))
	if err != nil {
		return 0, fmt.Errorf("reading backup manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return 0, fmt.Errorf("parsing backup manifest: %w", err)
	}

	restored := 0
	for _, entry := range m.Entries {
		target := filepath.Join(repoPath, entry.Path)
		if entry.Existed {
			saved := filepath.Join(backupDir, "files", entry.Path)
			if err := fsutil.CopyFile(saved, target); err != nil {
				return restored, fmt.Errorf("restoring %s: %w", entry.Path, err)
			}
		} else {
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				return restored, fmt.Errorf("removing created file %s: %w", entry.Path, err)
			}
		}
		restored++
	}
	return restored, nil
}

// Remove deletes a backup directory.
func (s *BackupStore) Remove(backupDir string) error {
	if backupDir == "" {
		return nil
	}
	if err := os.RemoveAll(backupDir); err != nil {
		return fmt.Errorf("removing backup %s: %w", backupDir, err)
	}
	return nil
}

// GC keeps the newest keep backups and deletes the rest.
//
// Errors on individual directories are logged and skipped so one bad
// entry cannot block collection of the others.
func (s *BackupStore) GC(keep int) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to list backups", "dir", s.baseDir, "error", err)
		}
		return
	}

	type aged struct {
		name string
		mod  time.Time
	}
	var dirs []aged
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, aged{name: entry.Name(), mod: info.ModTime()})
	}
	if len(dirs) <= keep {
		return
	}

	sort.Slice(dirs, func(i, j int) bool { return dirs[i].mod.After(dirs[j].mod) })
	for _, d := range dirs[keep:] {
		path := filepath.Join(s.baseDir, d.name)
		if err := os.RemoveAll(path); err != nil {
			s.logger.Warn("failed to collect old backup", "path", path, "error", err)
			continue
		}
		s.logger.Debug("collected old backup", "path", path)
	}
}
