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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func createTestManager(t *testing.T, dir string) *Manager {
	t.Helper()
	config := DefaultManagerConfig()
	config.StateDir = dir
	config.DefaultTTL = 30 * time.Second
	config.AcquireTimeout = 200 * time.Millisecond
	config.PollInterval = 10 * time.Millisecond
	config.MutexTimeout = time.Second
	config.EnableWatcher = false
	config.EnableMetrics = false

	manager, err := NewManager(config)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(func() { manager.Close() })
	return manager
}

func writeRawRecord(t *testing.T, dir string, record Record) {
	t.Helper()
	data, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("Failed to marshal record: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, lockFileName), data, 0644); err != nil {
		t.Fatalf("Failed to write lock record: %v", err)
	}
}

func TestNewManager(t *testing.T) {
	t.Run("creates state directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "locks")
		config := DefaultManagerConfig()
		config.StateDir = dir
		config.EnableWatcher = false
		config.EnableMetrics = false

		manager, err := NewManager(config)
		if err != nil {
			t.Fatalf("NewManager failed: %v", err)
		}
		defer manager.Close()

		if _, err := os.Stat(dir); os.IsNotExist(err) {
			t.Error("State directory was not created")
		}
	})

	t.Run("fails with unwritable state directory", func(t *testing.T) {
		config := DefaultManagerConfig()
		config.StateDir = "/proc/nonexistent/locks"
		config.EnableWatcher = false
		config.EnableMetrics = false

		if _, err := NewManager(config); err == nil {
			t.Error("Expected error for unwritable state directory")
		}
	})
}

func TestManager_AcquireRelease(t *testing.T) {
	ctx := context.Background()

	t.Run("acquire and release", func(t *testing.T) {
		dir := t.TempDir()
		manager := createTestManager(t, dir)

		record, err := manager.Acquire(ctx, "agent-a", "update_canon", 0, 0)
		if err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		if record.AgentID != "agent-a" {
			t.Errorf("Expected agent-a, got %q", record.AgentID)
		}
		if record.ProcessID != os.Getpid() {
			t.Errorf("Expected PID %d, got %d", os.Getpid(), record.ProcessID)
		}
		if record.OwnerID == "" {
			t.Error("Expected owner token to be set")
		}
		if manager.OwnerID() != record.OwnerID {
			t.Error("Manager did not adopt the written owner token")
		}

		status := manager.Status()
		if !status.IsLocked {
			t.Error("Expected lock to be held")
		}

		released, err := manager.Release(ctx, false)
		if err != nil {
			t.Fatalf("Release failed: %v", err)
		}
		if !released {
			t.Error("Expected release to report true")
		}
		if manager.OwnerID() != "" {
			t.Error("Expected owner token to be cleared after release")
		}
		if manager.Status().IsLocked {
			t.Error("Expected lock to be free after release")
		}
	})

	t.Run("release when not held reports false", func(t *testing.T) {
		dir := t.TempDir()
		manager := createTestManager(t, dir)

		released, err := manager.Release(ctx, false)
		if err != nil {
			t.Fatalf("Release failed: %v", err)
		}
		if released {
			t.Error("Expected release of free lock to report false")
		}
	})
}

func TestManager_MutualExclusion(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	holder := createTestManager(t, dir)
	contender := createTestManager(t, dir)

	if _, err := holder.Acquire(ctx, "agent-a", "update_canon", 0, 0); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	_, err := contender.Acquire(ctx, "agent-b", "update_canon", 0, 50*time.Millisecond)
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("Expected ErrLockTimeout, got %v", err)
	}

	// The timed-out contender must not have disturbed the holder.
	status := holder.Status()
	if !status.IsLocked || status.Holder.AgentID != "agent-a" {
		t.Error("Holder lost the lock to a timed-out contender")
	}
}

func TestManager_TimeoutKeepsWaiterVisible(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	holder := createTestManager(t, dir)
	contender := createTestManager(t, dir)

	if _, err := holder.Acquire(ctx, "agent-a", "update_canon", 0, 0); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	_, err := contender.Acquire(ctx, "agent-b", "update_canon", 0, 50*time.Millisecond)
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("Expected ErrLockTimeout, got %v", err)
	}

	// The waiter stays in the queue as failed so operators can see who
	// gave up; only a successful acquire removes its entry.
	status := contender.Queue().Status()
	if status.Total != 1 || status.Failed != 1 {
		t.Fatalf("Expected 1 failed queue entry, got %+v", status)
	}
	if status.Entries[0].AgentID != "agent-b" {
		t.Errorf("Expected agent-b in queue, got %s", status.Entries[0].AgentID)
	}

	// Winning the lock removes the waiter's entry entirely.
	go func() {
		time.Sleep(30 * time.Millisecond)
		_, _ = holder.Release(ctx, false)
	}()
	if _, err := contender.Acquire(ctx, "agent-b", "update_canon", 0, time.Second); err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	status = contender.Queue().Status()
	if status.Pending != 0 || status.Processing != 0 {
		t.Errorf("Winner's queue entry not removed: %+v", status)
	}
	if status.Failed != 1 {
		t.Errorf("Expected the earlier failed entry to remain, got %+v", status)
	}
}

func TestManager_ReentrantRenewal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	manager := createTestManager(t, dir)

	first, err := manager.Acquire(ctx, "agent-a", "update_canon", time.Second, 0)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	second, err := manager.Acquire(ctx, "agent-a", "update_canon", time.Second, 0)
	if err != nil {
		t.Fatalf("Re-entrant acquire failed: %v", err)
	}
	if second.OwnerID != first.OwnerID {
		t.Error("Re-entrant acquire minted a new owner token")
	}
	if !second.ExpiresAt.After(first.ExpiresAt) {
		t.Error("Re-entrant acquire did not extend the expiry")
	}
}

func TestManager_ForeignRelease(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	holder := createTestManager(t, dir)
	other := createTestManager(t, dir)

	record, err := holder.Acquire(ctx, "agent-a", "update_canon", 0, 0)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	t.Run("without force is refused", func(t *testing.T) {
		released, err := other.Release(ctx, false)
		if !errors.Is(err, ErrNotOwner) {
			t.Fatalf("Expected ErrNotOwner, got %v", err)
		}
		if released {
			t.Error("Expected foreign release to report false")
		}

		status := holder.Status()
		if !status.IsLocked || status.Holder.OwnerID != record.OwnerID {
			t.Error("Foreign release disturbed the lock record")
		}
	})

	t.Run("with force removes the lock", func(t *testing.T) {
		released, err := other.Release(ctx, true)
		if err != nil {
			t.Fatalf("Force release failed: %v", err)
		}
		if !released {
			t.Error("Expected force release to report true")
		}
		if holder.Status().IsLocked {
			t.Error("Expected lock to be gone after force release")
		}
	})
}

func TestManager_Renew(t *testing.T) {
	ctx := context.Background()

	t.Run("owner extends expiry", func(t *testing.T) {
		dir := t.TempDir()
		manager := createTestManager(t, dir)

		record, err := manager.Acquire(ctx, "agent-a", "update_canon", time.Second, 0)
		if err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}

		renewed, err := manager.Renew(ctx, time.Minute)
		if err != nil {
			t.Fatalf("Renew failed: %v", err)
		}
		if !renewed.ExpiresAt.After(record.ExpiresAt) {
			t.Error("Renew did not extend the expiry")
		}
	})

	t.Run("non-owner is refused", func(t *testing.T) {
		dir := t.TempDir()
		holder := createTestManager(t, dir)
		other := createTestManager(t, dir)

		if _, err := holder.Acquire(ctx, "agent-a", "update_canon", 0, 0); err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		if _, err := other.Renew(ctx, time.Minute); !errors.Is(err, ErrNotOwner) {
			t.Fatalf("Expected ErrNotOwner, got %v", err)
		}
	})

	t.Run("free lock is refused", func(t *testing.T) {
		dir := t.TempDir()
		manager := createTestManager(t, dir)

		if _, err := manager.Renew(ctx, time.Minute); !errors.Is(err, ErrNotOwner) {
			t.Fatalf("Expected ErrNotOwner, got %v", err)
		}
	})
}

func TestManager_StaleReclaim(t *testing.T) {
	ctx := context.Background()

	t.Run("expired lock is reclaimed", func(t *testing.T) {
		dir := t.TempDir()
		holder := createTestManager(t, dir)
		contender := createTestManager(t, dir)

		if _, err := holder.Acquire(ctx, "agent-a", "update_canon", 20*time.Millisecond, 0); err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		time.Sleep(30 * time.Millisecond)

		record, err := contender.Acquire(ctx, "agent-b", "update_canon", 0, 0)
		if err != nil {
			t.Fatalf("Expected expired lock to be reclaimed, got %v", err)
		}
		if record.AgentID != "agent-b" {
			t.Errorf("Expected agent-b to hold the lock, got %q", record.AgentID)
		}
	})

	t.Run("dead holder process is reclaimed", func(t *testing.T) {
		dir := t.TempDir()
		manager := createTestManager(t, dir)

		writeRawRecord(t, dir, Record{
			OwnerID:    "dead-owner",
			AgentID:    "agent-gone",
			ProcessID:  1 << 29, // beyond any real pid_max
			AcquiredAt: time.Now(),
			ExpiresAt:  time.Now().Add(time.Hour),
		})

		if _, err := manager.Acquire(ctx, "agent-b", "update_canon", 0, 0); err != nil {
			t.Fatalf("Expected dead-holder lock to be reclaimed, got %v", err)
		}
	})

	t.Run("reused pid is reclaimed", func(t *testing.T) {
		actual := CurrentProcessStartTime()
		if actual <= 0 {
			t.Skip("process start time not available on this platform")
		}

		dir := t.TempDir()
		manager := createTestManager(t, dir)

		// Our own pid is alive, but the recorded start time names a
		// process that booted 100 seconds earlier: a reused pid.
		writeRawRecord(t, dir, Record{
			OwnerID:          "reused-owner",
			AgentID:          "agent-gone",
			ProcessID:        os.Getpid(),
			ProcessStartTime: actual - 100,
			AcquiredAt:       time.Now(),
			ExpiresAt:        time.Now().Add(time.Hour),
		})

		if _, err := manager.Acquire(ctx, "agent-b", "update_canon", 0, 0); err != nil {
			t.Fatalf("Expected reused-pid lock to be reclaimed, got %v", err)
		}
	})

	t.Run("corrupt record is reclaimed", func(t *testing.T) {
		dir := t.TempDir()
		manager := createTestManager(t, dir)

		if err := os.WriteFile(filepath.Join(dir, lockFileName), []byte("{not json"), 0644); err != nil {
			t.Fatalf("Failed to write corrupt record: %v", err)
		}

		if _, err := manager.Acquire(ctx, "agent-b", "update_canon", 0, 0); err != nil {
			t.Fatalf("Expected corrupt lock to be reclaimed, got %v", err)
		}
	})
}

func TestManager_WithLock(t *testing.T) {
	ctx := context.Background()

	t.Run("runs body while holding the lock", func(t *testing.T) {
		dir := t.TempDir()
		manager := createTestManager(t, dir)

		ran := false
		err := manager.WithLock(ctx, "agent-a", "update_canon", 0, 0, func() error {
			ran = true
			if !manager.Status().IsLocked {
				t.Error("Expected lock to be held inside WithLock body")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("WithLock failed: %v", err)
		}
		if !ran {
			t.Error("WithLock body did not run")
		}
		if manager.Status().IsLocked {
			t.Error("Expected lock to be released after WithLock")
		}
	})

	t.Run("releases even when the body fails", func(t *testing.T) {
		dir := t.TempDir()
		manager := createTestManager(t, dir)

		bodyErr := fmt.Errorf("body failed")
		if err := manager.WithLock(ctx, "agent-a", "update_canon", 0, 0, func() error {
			return bodyErr
		}); !errors.Is(err, bodyErr) {
			t.Fatalf("Expected body error, got %v", err)
		}
		if manager.Status().IsLocked {
			t.Error("Expected lock to be released after failed body")
		}
	})

	t.Run("acquire failure never touches a foreign lock", func(t *testing.T) {
		dir := t.TempDir()
		holder := createTestManager(t, dir)
		contender := createTestManager(t, dir)

		record, err := holder.Acquire(ctx, "agent-a", "update_canon", 0, 0)
		if err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}

		err = contender.WithLock(ctx, "agent-b", "update_canon", 0, 50*time.Millisecond, func() error {
			t.Error("Body must not run when the acquire fails")
			return nil
		})
		if !errors.Is(err, ErrLockTimeout) {
			t.Fatalf("Expected ErrLockTimeout, got %v", err)
		}

		status := holder.Status()
		if !status.IsLocked || status.Holder.OwnerID != record.OwnerID {
			t.Error("Failed WithLock disturbed the foreign lock")
		}
	})
}

func TestManager_SweepStale(t *testing.T) {
	ctx := context.Background()

	t.Run("reclaims expired record", func(t *testing.T) {
		dir := t.TempDir()
		manager := createTestManager(t, dir)

		writeRawRecord(t, dir, Record{
			OwnerID:    "stale-owner",
			AgentID:    "agent-gone",
			ProcessID:  os.Getpid(),
			AcquiredAt: time.Now().Add(-time.Hour),
			ExpiresAt:  time.Now().Add(-time.Minute),
		})

		if !manager.SweepStale(ctx) {
			t.Error("Expected sweep to reclaim the expired record")
		}
		if manager.Status().IsLocked {
			t.Error("Expected lock to be free after sweep")
		}
	})

	t.Run("leaves live record alone", func(t *testing.T) {
		dir := t.TempDir()
		holder := createTestManager(t, dir)
		sweeper := createTestManager(t, dir)

		if _, err := holder.Acquire(ctx, "agent-a", "update_canon", time.Minute, 0); err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		if sweeper.SweepStale(ctx) {
			t.Error("Sweep reclaimed a live lock")
		}
		if !holder.Status().IsLocked {
			t.Error("Expected live lock to survive the sweep")
		}
	})
}

func TestManager_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("runs operation and completes queue entry", func(t *testing.T) {
		dir := t.TempDir()
		manager := createTestManager(t, dir)

		ran := false
		result, err := manager.Submit(ctx, "agent-a", "update_canon", "docs/canon.md", 5, func() error {
			ran = true
			return nil
		})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if !ran {
			t.Error("Submit did not run the operation")
		}
		if result.Status != SubmitSuccess {
			t.Errorf("Expected success, got %q", result.Status)
		}

		status := manager.Queue().Status()
		if status.Completed != 1 {
			t.Errorf("Expected 1 completed entry, got %d", status.Completed)
		}
	})

	t.Run("failed operation marks entry failed", func(t *testing.T) {
		dir := t.TempDir()
		manager := createTestManager(t, dir)

		opErr := fmt.Errorf("operation failed")
		result, err := manager.Submit(ctx, "agent-a", "update_canon", "", 0, func() error {
			return opErr
		})
		if !errors.Is(err, opErr) {
			t.Fatalf("Expected operation error, got %v", err)
		}
		if result.Status != SubmitError {
			t.Errorf("Expected error status, got %q", result.Status)
		}
		if manager.Status().IsLocked {
			t.Error("Expected lock to be released after failed operation")
		}

		status := manager.Queue().Status()
		if status.Failed != 1 {
			t.Errorf("Expected 1 failed entry, got %d", status.Failed)
		}
	})

	t.Run("blocked submit reports timeout", func(t *testing.T) {
		dir := t.TempDir()
		holder := createTestManager(t, dir)
		submitter := createTestManager(t, dir)

		if _, err := holder.Acquire(ctx, "agent-a", "update_canon", 0, 0); err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}

		result, err := submitter.Submit(ctx, "agent-b", "update_canon", "", 0, func() error {
			t.Error("Operation must not run without the lock")
			return nil
		})
		if !errors.Is(err, ErrLockTimeout) {
			t.Fatalf("Expected ErrLockTimeout, got %v", err)
		}
		if result.Status != SubmitTimeout {
			t.Errorf("Expected timeout status, got %q", result.Status)
		}
	})
}

func TestManager_History(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	manager := createTestManager(t, dir)

	if _, err := manager.Acquire(ctx, "agent-a", "update_canon", 0, 0); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, err := manager.Release(ctx, false); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, historyFileName))
	if err != nil {
		t.Fatalf("Failed to read history: %v", err)
	}
	var events []historyEvent
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("Failed to parse history: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 history events, got %d", len(events))
	}
	if events[0].Event != "acquired" || events[1].Event != "released" {
		t.Errorf("Unexpected event sequence: %s, %s", events[0].Event, events[1].Event)
	}
}

func TestProcessAlive(t *testing.T) {
	t.Run("own process is alive", func(t *testing.T) {
		if !ProcessAlive(os.Getpid(), 0) {
			t.Error("Expected own process to be alive")
		}
	})

	t.Run("matching start time is alive", func(t *testing.T) {
		start := CurrentProcessStartTime()
		if start <= 0 {
			t.Skip("process start time not available on this platform")
		}
		if !ProcessAlive(os.Getpid(), start) {
			t.Error("Expected own process with matching start time to be alive")
		}
	})

	t.Run("mismatched start time is dead", func(t *testing.T) {
		start := CurrentProcessStartTime()
		if start <= 0 {
			t.Skip("process start time not available on this platform")
		}
		if ProcessAlive(os.Getpid(), start-100) {
			t.Error("Expected mismatched start time to be treated as pid reuse")
		}
	})

	t.Run("impossible pid is dead", func(t *testing.T) {
		if ProcessAlive(1<<29, 0) {
			t.Error("Expected impossible pid to be dead")
		}
	})

	t.Run("nonpositive pid is dead", func(t *testing.T) {
		if ProcessAlive(0, 0) || ProcessAlive(-1, 0) {
			t.Error("Expected nonpositive pids to be dead")
		}
	})
}
