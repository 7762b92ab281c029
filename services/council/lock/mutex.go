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
	"context"
	"fmt"
	"os"
	"time"
)

// CriticalSection serializes multi-step mutations of the shared state
// files across processes.
//
// # Description
//
// A dedicated mutex file is advisory-locked for the duration of each
// "read lock state, decide, write lock state" sequence, eliminating the
// check-then-act race inherent in separately reading and writing a
// plain file. This file is a sub-mechanism of the lock manager and is
// distinct from the domain-level lock Record.
//
// # Thread Safety
//
// Safe for concurrent use from multiple goroutines and processes. The
// advisory lock is released on process exit, so a crashed holder cannot
// wedge the section.
type CriticalSection struct {
	path   string
	locker FileLocker
	retry  time.Duration
}

// NewCriticalSection creates a critical section over the given mutex
// file path. The file is created on first use.
func NewCriticalSection(path string) *CriticalSection {
	return &CriticalSection{
		path:   path,
		locker: newFileLocker(),
		retry:  10 * time.Millisecond,
	}
}

// Do runs fn while holding the cross-process mutex.
//
// # Description
//
// Polls the advisory lock until it is acquired, the timeout elapses, or
// ctx is cancelled. Returns ErrMutexBusy on timeout so callers can
// distinguish contention from fn's own errors.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - timeout: Maximum time to wait for the mutex. Values <= 0 mean a
//     single non-blocking attempt.
//   - fn: Body to run inside the critical section.
//
// # Outputs
//
//   - error: ErrMutexBusy, ctx.Err(), a filesystem error, or fn's error.
func (cs *CriticalSection) Do(ctx context.Context, timeout time.Duration, fn func() error) error {
	f, err := os.OpenFile(cs.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("opening mutex file %s: %w", cs.path, err)
	}
	defer f.Close()

	deadline := time.Now().Add(timeout)
	for {
		err := cs.locker.TryLock(f)
		if err == nil {
			break
		}
		if err != ErrWouldBlock {
			return fmt.Errorf("locking mutex file %s: %w", cs.path, err)
		}
		if !time.Now().Before(deadline) {
			return ErrMutexBusy
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cs.retry):
		}
	}
	defer cs.locker.Unlock(f)

	return fn()
}
