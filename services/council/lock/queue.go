// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lock

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianCouncil/services/council/fsutil"
)

// WaitQueue persists the ordered set of agents waiting for the lock.
//
// # Description
//
// Entries are ordered by priority (higher first), then queue time
// (earlier first). The queue is advisory: it informs schedulers and
// operators who is waiting, but the lock Record alone enforces mutual
// exclusion, so a corrupt or missing queue file never blocks progress —
// it is treated as empty and rebuilt on the next write.
//
// # Thread Safety
//
// Safe for concurrent use within a process. Cross-process callers must
// wrap mutating calls in the manager's critical section.
type WaitQueue struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
}

// NewWaitQueue creates a queue persisted at the given path.
func NewWaitQueue(path string, logger *slog.Logger) *WaitQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &WaitQueue{
		path:   path,
		logger: logger.With("component", "wait_queue"),
	}
}

// Enqueue adds a pending entry and returns its queue ID. An agent
// appears at most once among live (pending or processing) entries:
// enqueueing again returns the existing entry's ID with created=false.
func (q *WaitQueue) Enqueue(agentID, operationType, filePath string, priority int) (string, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.load()
	for _, e := range entries {
		if e.AgentID == agentID && (e.Status == StatusPending || e.Status == StatusProcessing) {
			return e.QueueID, false, nil
		}
	}

	entry := QueueEntry{
		QueueID:       uuid.NewString(),
		AgentID:       agentID,
		OperationType: operationType,
		FilePath:      filePath,
		Priority:      priority,
		QueuedAt:      time.Now(),
		Status:        StatusPending,
	}
	entries = append(entries, entry)
	if err := q.save(entries); err != nil {
		return "", false, err
	}
	return entry.QueueID, true, nil
}

// Dequeue marks the highest-priority pending entry as processing and
// returns it. Returns nil when nothing is pending.
func (q *WaitQueue) Dequeue(processingBy string) (*QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.load()
	sortEntries(entries)
	for i := range entries {
		if entries[i].Status != StatusPending {
			continue
		}
		entries[i].Status = StatusProcessing
		entries[i].ProcessingBy = processingBy
		if err := q.save(entries); err != nil {
			return nil, err
		}
		picked := entries[i]
		return &picked, nil
	}
	return nil, nil
}

// Complete marks an entry completed or failed by queue ID.
func (q *WaitQueue) Complete(queueID string, succeeded bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.load()
	for i := range entries {
		if entries[i].QueueID != queueID {
			continue
		}
		if succeeded {
			entries[i].Status = StatusCompleted
		} else {
			entries[i].Status = StatusFailed
		}
		return q.save(entries)
	}
	return fmt.Errorf("queue entry %s not found", queueID)
}

// Remove deletes an entry by queue ID. Removing an absent entry is not
// an error: a watchdog sweep may have already pruned it.
func (q *WaitQueue) Remove(queueID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.load()
	kept := entries[:0]
	for _, e := range entries {
		if e.QueueID != queueID {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(entries) {
		return nil
	}
	return q.save(kept)
}

// Prune drops completed and failed entries older than maxAge and
// reports how many were removed.
func (q *WaitQueue) Prune(maxAge time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	entries := q.load()
	kept := entries[:0]
	for _, e := range entries {
		terminal := e.Status == StatusCompleted || e.Status == StatusFailed
		if terminal && e.QueuedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, e)
	}
	removed := len(entries) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	return removed, q.save(kept)
}

// Status returns counts per state plus the entries in scheduling order.
func (q *WaitQueue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.load()
	sortEntries(entries)
	status := QueueStatus{Total: len(entries), Entries: entries}
	for _, e := range entries {
		switch e.Status {
		case StatusPending:
			status.Pending++
		case StatusProcessing:
			status.Processing++
		case StatusCompleted:
			status.Completed++
		case StatusFailed:
			status.Failed++
		}
	}
	return status
}

// load reads the queue file. Missing or corrupt files yield an empty
// queue; corruption is logged but never propagated.
func (q *WaitQueue) load() []QueueEntry {
	data, err := os.ReadFile(q.path)
	if err != nil {
		if !os.IsNotExist(err) {
			q.logger.Warn("failed to read queue file, treating as empty",
				"path", q.path, "error", err)
		}
		return nil
	}
	var entries []QueueEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		q.logger.Warn("corrupt queue file, treating as empty",
			"path", q.path, "error", err)
		return nil
	}
	return entries
}

func (q *WaitQueue) save(entries []QueueEntry) error {
	if entries == nil {
		entries = []QueueEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling queue: %w", err)
	}
	if err := fsutil.WriteFileAtomic(q.path, data, 0644); err != nil {
		return fmt.Errorf("writing queue file: %w", err)
	}
	return nil
}

// sortEntries orders by priority descending, then queue time ascending.
func sortEntries(entries []QueueEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority > entries[j].Priority
		}
		return entries[i].QueuedAt.Before(entries[j].QueuedAt)
	})
}
