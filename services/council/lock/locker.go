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
	"errors"
	"os"
)

// ErrWouldBlock is returned by FileLocker.TryLock when another process
// already holds the advisory lock.
var ErrWouldBlock = errors.New("file is locked by another process")

// FileLocker abstracts platform-specific advisory file locking.
//
// # Description
//
// Provides a unified interface across Unix and Windows. Unix uses
// syscall.Flock, Windows uses LockFileEx. The lock is released on
// Unlock, on file close, or on process exit — the last property is
// what makes the critical section safe against crashed holders.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use on different files.
type FileLocker interface {
	// TryLock acquires an exclusive lock on the file without blocking.
	// Returns ErrWouldBlock if another process holds the lock.
	TryLock(f *os.File) error

	// Unlock releases a previously acquired lock. Safe to call even if
	// the file is not locked.
	Unlock(f *os.File) error
}

// ProcessAlive reports whether a process with the given PID is running
// with the given start time.
//
// # Description
//
// Used for stale lock and orphaned transaction detection. Liveness is
// checked with a signal-0 probe; when startTime is positive the
// process's actual creation time must match within one second,
// otherwise the PID has been reused by an unrelated process and the
// original holder is considered dead.
//
// A startTime of zero (or an unreadable /proc) skips the identity
// check and degrades to plain liveness, matching the behavior when
// start-time information is unavailable on the platform.
//
// # Inputs
//
//   - pid: Process ID to check.
//   - startTime: Expected process creation time as Unix seconds, or 0.
//
// # Outputs
//
//   - bool: True if the process exists and its identity matches.
func ProcessAlive(pid int, startTime float64) bool {
	if !isProcessAlive(pid) {
		return false
	}
	if startTime <= 0 {
		return true
	}
	actual, err := processStartTime(pid)
	if err != nil || actual <= 0 {
		return true
	}
	diff := actual - startTime
	if diff < 0 {
		diff = -diff
	}
	return diff <= startTimeTolerance
}

// startTimeTolerance absorbs clock-tick rounding when comparing process
// creation times.
const startTimeTolerance = 1.0

// CurrentProcessStartTime returns the creation time of this process as
// Unix seconds, or 0 when it cannot be determined.
func CurrentProcessStartTime() float64 {
	t, err := processStartTime(os.Getpid())
	if err != nil {
		return 0
	}
	return t
}

// newFileLocker creates a platform-appropriate FileLocker.
func newFileLocker() FileLocker {
	return newPlatformLocker()
}
