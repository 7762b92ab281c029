// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lock implements the global mutual-exclusion lock that
// serializes agent writes to the shared governance documents.
//
// The lock is a single JSON record on disk; its presence means
// "locked". Staleness (TTL expiry, dead holder process, PID reuse) is
// detected on every acquire attempt and additionally swept by a
// background watchdog. A separate mutex file, held only for the
// duration of a read-decide-write sequence, makes lock transitions
// atomic across processes.
package lock

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned by the lock manager.
var (
	// ErrLockTimeout means the acquire deadline elapsed while another
	// agent held the lock. Recoverable: the caller should retry or
	// surface "system busy".
	ErrLockTimeout = errors.New("timed out waiting for global lock")

	// ErrNotOwner means a release or renew targeted a lock held by a
	// different owner. Always a programming or race bug on the caller's
	// side; the operation is refused.
	ErrNotOwner = errors.New("lock is held by another owner")

	// ErrMutexBusy means the cross-process critical section could not
	// be entered before its timeout.
	ErrMutexBusy = errors.New("critical section busy")
)

// HeldError reports that the lock is currently held by another agent.
type HeldError struct {
	Holder *Record
}

func (e *HeldError) Error() string {
	if e.Holder == nil {
		return "global lock is held"
	}
	return fmt.Sprintf("global lock is held by %s (pid %d) until %s",
		e.Holder.AgentID, e.Holder.ProcessID,
		e.Holder.ExpiresAt.Format(time.RFC3339))
}

// Record is the durable lock record.
//
// # Description
//
// At most one record file exists at any instant. OwnerID is an opaque
// random token distinct from the process id; it is the only identity
// release and renew trust. ProcessStartTime disambiguates PID reuse: a
// record is stale if the named process is not alive with that exact
// start time.
type Record struct {
	OwnerID          string    `json:"owner_id"`
	AgentID          string    `json:"agent_id"`
	ProcessID        int       `json:"process_id"`
	ProcessStartTime float64   `json:"process_start_time"`
	Hostname         string    `json:"hostname"`
	AcquiredAt       time.Time `json:"acquired_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	OperationType    string    `json:"operation_type"`
}

// IsExpired reports whether the record's TTL has elapsed.
func (r *Record) IsExpired() bool {
	return time.Now().After(r.ExpiresAt)
}

// IsStale reports whether the record no longer represents a live,
// legitimate holder: TTL expired, holder process dead, or holder PID
// reused by a different process.
func (r *Record) IsStale() bool {
	if r.IsExpired() {
		return true
	}
	return !ProcessAlive(r.ProcessID, r.ProcessStartTime)
}

// Queue entry statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// QueueEntry is one agent waiting for the lock.
//
// The queue is advisory/observability state: it records who is waiting
// and in what order, but mutual exclusion is enforced by the Record
// alone.
type QueueEntry struct {
	QueueID       string    `json:"queue_id"`
	AgentID       string    `json:"agent_id"`
	OperationType string    `json:"operation_type"`
	FilePath      string    `json:"file_path,omitempty"`
	Priority      int       `json:"priority"`
	QueuedAt      time.Time `json:"queued_at"`
	Status        string    `json:"status"`
	ProcessingBy  string    `json:"processing_by,omitempty"`
}

// QueueStatus summarizes the wait queue.
type QueueStatus struct {
	Total      int          `json:"total"`
	Pending    int          `json:"pending"`
	Processing int          `json:"processing"`
	Completed  int          `json:"completed"`
	Failed     int          `json:"failed"`
	Entries    []QueueEntry `json:"entries"`
}

// LockStatus is the caller-visible snapshot of the lock state.
type LockStatus struct {
	IsLocked bool    `json:"is_locked"`
	Holder   *Record `json:"holder,omitempty"`
	IsStale  bool    `json:"is_stale,omitempty"`
}
