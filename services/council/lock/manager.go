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
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianCouncil/services/council/fsutil"
)

// State file names within the manager's state directory.
const (
	lockFileName    = "global_write.lock"
	mutexFileName   = "global_write.lock.mutex"
	queueFileName   = "lock_queue.json"
	historyFileName = "lock_history.json"
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// StateDir holds the lock record, mutex file, queue, and history.
	StateDir string

	// DefaultTTL is the lock lifetime used when Acquire is called with
	// a zero TTL.
	DefaultTTL time.Duration

	// AcquireTimeout is the default wait budget for Acquire when the
	// caller passes a zero timeout.
	AcquireTimeout time.Duration

	// PollInterval bounds how long a waiter sleeps between acquire
	// attempts when no filesystem event wakes it sooner.
	PollInterval time.Duration

	// MutexTimeout bounds entry into the cross-process critical
	// section. The section only covers short read-decide-write
	// sequences, so this should stay small.
	MutexTimeout time.Duration

	// WatchdogInterval is the sweep period for the background stale
	// lock reaper started by StartWatchdog.
	WatchdogInterval time.Duration

	// HistoryLimit caps the number of retained lock history events.
	HistoryLimit int

	// QueueMaxAge is how long completed and failed queue entries are
	// retained before the watchdog prunes them.
	QueueMaxAge time.Duration

	// EnableWatcher turns on fsnotify-based wakeups so waiters react to
	// a release immediately instead of at the next poll tick.
	EnableWatcher bool

	// EnableMetrics controls OpenTelemetry metric recording.
	EnableMetrics bool
}

// DefaultManagerConfig returns a config with sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		StateDir:         ".council/locks",
		DefaultTTL:       5 * time.Minute,
		AcquireTimeout:   30 * time.Second,
		PollInterval:     200 * time.Millisecond,
		MutexTimeout:     5 * time.Second,
		WatchdogInterval: 30 * time.Second,
		HistoryLimit:     1000,
		QueueMaxAge:      time.Hour,
		EnableWatcher:    true,
		EnableMetrics:    true,
	}
}

// Manager coordinates the single global write lock shared by all agent
// processes.
//
// # Description
//
// The lock is one JSON record on disk whose presence means "locked".
// Every state transition (acquire, renew, release, stale reclaim) runs
// inside a flock-backed critical section so that concurrent processes
// never interleave a read-decide-write sequence.
//
// A Manager carries at most one owner token at a time. The token is
// generated fresh for each acquisition and adopted only after the lock
// record has been written and read back, so a crash between "decided to
// acquire" and "wrote the record" can never leave the manager believing
// it owns a lock it doesn't.
//
// # Thread Safety
//
// All public methods are safe for concurrent use from multiple
// goroutines.
type Manager struct {
	cfg         ManagerConfig
	lockPath    string
	historyPath string
	cs          *CriticalSection
	queue       *WaitQueue
	logger      *slog.Logger
	hostname    string

	mu      sync.Mutex
	ownerID string

	watcher *fsnotify.Watcher
	notify  chan struct{}

	watchdogMu     sync.Mutex
	watchdogCancel context.CancelFunc
	watchdogDone   chan struct{}
}

// NewManager creates a lock manager rooted at config.StateDir.
//
// # Inputs
//
//   - config: Manager configuration. Use DefaultManagerConfig() for
//     defaults; zero fields are filled in.
//
// # Outputs
//
//   - *Manager: Ready-to-use lock manager.
//   - error: Non-nil if the state directory or watcher cannot be set up.
func NewManager(config ManagerConfig) (*Manager, error) {
	defaults := DefaultManagerConfig()
	if config.StateDir == "" {
		config.StateDir = defaults.StateDir
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = defaults.DefaultTTL
	}
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = defaults.AcquireTimeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.MutexTimeout <= 0 {
		config.MutexTimeout = defaults.MutexTimeout
	}
	if config.WatchdogInterval <= 0 {
		config.WatchdogInterval = defaults.WatchdogInterval
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = defaults.HistoryLimit
	}
	if config.QueueMaxAge <= 0 {
		config.QueueMaxAge = defaults.QueueMaxAge
	}

	if err := os.MkdirAll(config.StateDir, 0755); err != nil {
		return nil, fmt.Errorf("creating lock state directory %s: %w", config.StateDir, err)
	}

	SetMetricsEnabled(config.EnableMetrics)

	hostname, _ := os.Hostname()

	logger := slog.Default().With("component", "lock_manager")

	m := &Manager{
		cfg:         config,
		lockPath:    filepath.Join(config.StateDir, lockFileName),
		historyPath: filepath.Join(config.StateDir, historyFileName),
		cs:          NewCriticalSection(filepath.Join(config.StateDir, mutexFileName)),
		queue:       NewWaitQueue(filepath.Join(config.StateDir, queueFileName), logger),
		logger:      logger,
		hostname:    hostname,
		notify:      make(chan struct{}, 1),
	}

	if config.EnableWatcher {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("creating file watcher: %w", err)
		}
		if err := watcher.Add(config.StateDir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watching lock state directory: %w", err)
		}
		m.watcher = watcher
		go m.watchLoop()
	}

	return m, nil
}

// Close releases watcher resources and stops the watchdog if running.
func (m *Manager) Close() error {
	m.StopWatchdog()
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

// Queue exposes the advisory wait queue.
func (m *Manager) Queue() *WaitQueue {
	return m.queue
}

// OwnerID returns the manager's current owner token, or "" when it does
// not hold the lock.
func (m *Manager) OwnerID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ownerID
}

// Acquire obtains the global lock, waiting up to timeout.
//
// # Description
//
// Attempts the acquisition in a loop: each attempt runs inside the
// cross-process critical section and either takes a free lock, reclaims
// a stale one, renews a lock this manager already holds, or observes a
// live foreign holder and waits. Waiters are registered in the advisory
// queue so operators can see who is blocked.
//
// The owner token is adopted only after the written record has been
// read back from disk, never before.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - agentID: Identity of the requesting agent (recorded, not trusted).
//   - operationType: What the agent intends to do while holding the lock.
//   - ttl: Lock lifetime; 0 means the configured default.
//   - timeout: Maximum wait; 0 means the configured default.
//
// # Outputs
//
//   - *Record: The held lock record on success.
//   - error: ErrLockTimeout if a live holder outlasted the wait,
//     ErrMutexBusy if the critical section stayed contended, or a
//     filesystem error.
func (m *Manager) Acquire(ctx context.Context, agentID, operationType string, ttl, timeout time.Duration) (*Record, error) {
	if ttl <= 0 {
		ttl = m.cfg.DefaultTTL
	}
	if timeout <= 0 {
		timeout = m.cfg.AcquireTimeout
	}

	start := time.Now()
	deadline := start.Add(timeout)

	// A waiter entry created here is removed only when the lock is won.
	// On timeout it is marked failed and left in the queue so operators
	// can see who waited and gave up.
	var queueID string
	acquired := false
	defer func() {
		if queueID == "" {
			return
		}
		if acquired {
			if err := m.queue.Remove(queueID); err != nil {
				m.logger.Warn("failed to remove queue entry", "queue_id", queueID, "error", err)
			}
		} else if err := m.queue.Complete(queueID, false); err != nil {
			m.logger.Warn("failed to mark queue entry failed", "queue_id", queueID, "error", err)
		}
		adjustQueueDepth(ctx, -1)
	}()

	for {
		record, result, err := m.tryAcquire(ctx, agentID, operationType, ttl)
		if err == nil {
			acquired = true
			recordAcquire(ctx, result, time.Since(start))
			m.logger.Info("lock acquired",
				"agent_id", agentID,
				"operation_type", operationType,
				"result", result,
				"expires_at", record.ExpiresAt)
			return record, nil
		}

		var held *HeldError
		if !errors.As(err, &held) {
			recordAcquire(ctx, "error", time.Since(start))
			return nil, err
		}

		if queueID == "" {
			id, created, qerr := m.queue.Enqueue(agentID, operationType, "", 0)
			switch {
			case qerr != nil:
				m.logger.Warn("failed to enqueue waiter", "agent_id", agentID, "error", qerr)
			case created:
				queueID = id
				adjustQueueDepth(ctx, 1)
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			recordAcquire(ctx, "timeout", time.Since(start))
			m.logger.Warn("lock acquire timed out",
				"agent_id", agentID,
				"holder", held.Holder.AgentID,
				"waited", time.Since(start))
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, held.Error())
		}

		wait := m.cfg.PollInterval
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			recordAcquire(ctx, "error", time.Since(start))
			return nil, ctx.Err()
		case <-m.notify:
		case <-time.After(wait):
		}
	}
}

// tryAcquire performs one acquisition attempt inside the critical
// section. Returns the held record and a result label (acquired,
// renewed, reclaimed), or a *HeldError when a live foreign holder
// exists.
func (m *Manager) tryAcquire(ctx context.Context, agentID, operationType string, ttl time.Duration) (*Record, string, error) {
	var (
		record *Record
		result string
	)
	err := m.cs.Do(ctx, m.cfg.MutexTimeout, func() error {
		current, corrupt := m.readRecord()

		result = "acquired"
		switch {
		case current == nil && corrupt:
			// A corrupt record cannot identify a holder, so it cannot
			// protect one. Reclaim.
			result = "reclaimed"
			recordStaleReclaimed(ctx, "corrupt")
			m.appendHistory("reclaimed_corrupt", nil)
		case current == nil:
			// Free.
		case m.ownsLocked(current):
			// Re-entrant renewal: extend rather than re-take.
			current.ExpiresAt = time.Now().Add(ttl)
			current.OperationType = operationType
			if err := m.writeRecord(current); err != nil {
				return err
			}
			record = current
			result = "renewed"
			return nil
		case current.IsStale():
			reason := "dead_process"
			if current.IsExpired() {
				reason = "expired"
			} else if isProcessAlive(current.ProcessID) {
				reason = "pid_reuse"
			}
			result = "reclaimed"
			recordStaleReclaimed(ctx, reason)
			m.appendHistory("reclaimed_"+reason, current)
			m.logger.Warn("reclaiming stale lock",
				"holder", current.AgentID,
				"holder_pid", current.ProcessID,
				"reason", reason)
		default:
			return &HeldError{Holder: current}
		}

		candidate := uuid.NewString()
		now := time.Now()
		fresh := &Record{
			OwnerID:          candidate,
			AgentID:          agentID,
			ProcessID:        os.Getpid(),
			ProcessStartTime: CurrentProcessStartTime(),
			Hostname:         m.hostname,
			AcquiredAt:       now,
			ExpiresAt:        now.Add(ttl),
			OperationType:    operationType,
		}
		if err := m.writeRecord(fresh); err != nil {
			return err
		}

		// Adopt the token only after the write is confirmed on disk.
		written, _ := m.readRecord()
		if written == nil || written.OwnerID != candidate {
			return fmt.Errorf("lock record verification failed after write")
		}

		m.mu.Lock()
		m.ownerID = candidate
		m.mu.Unlock()

		record = written
		m.appendHistory(result, written)
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return record, result, nil
}

// Release gives up the lock.
//
// # Description
//
// Normally only the owner can release; force bypasses the ownership
// check for operator intervention against wedged holders. Releasing a
// lock that is not held reports false without error.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - force: Remove the record regardless of owner.
//
// # Outputs
//
//   - bool: True if a record was removed.
//   - error: ErrNotOwner if a foreign lock was targeted without force.
func (m *Manager) Release(ctx context.Context, force bool) (bool, error) {
	released := false
	err := m.cs.Do(ctx, m.cfg.MutexTimeout, func() error {
		current, _ := m.readRecord()
		if current == nil {
			recordRelease(ctx, "not_held")
			return nil
		}
		if !force && !m.ownsLocked(current) {
			recordRelease(ctx, "not_owner")
			return fmt.Errorf("%w: held by %s (pid %d)", ErrNotOwner, current.AgentID, current.ProcessID)
		}
		if err := os.Remove(m.lockPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing lock record: %w", err)
		}
		released = true

		event := "released"
		if force && !m.ownsLocked(current) {
			event = "force_released"
			m.logger.Warn("lock force-released",
				"holder", current.AgentID,
				"holder_pid", current.ProcessID)
		}
		recordRelease(ctx, event)
		m.appendHistory(event, current)

		if m.ownsLocked(current) {
			m.mu.Lock()
			m.ownerID = ""
			m.mu.Unlock()
		}
		return nil
	})
	return released, err
}

// Renew extends the expiry of a lock this manager holds.
//
// # Outputs
//
//   - *Record: The updated record.
//   - error: ErrNotOwner when the lock is absent or foreign.
func (m *Manager) Renew(ctx context.Context, ttl time.Duration) (*Record, error) {
	if ttl <= 0 {
		ttl = m.cfg.DefaultTTL
	}
	var record *Record
	err := m.cs.Do(ctx, m.cfg.MutexTimeout, func() error {
		current, _ := m.readRecord()
		if current == nil {
			return fmt.Errorf("%w: lock is not held", ErrNotOwner)
		}
		if !m.ownsLocked(current) {
			return fmt.Errorf("%w: held by %s (pid %d)", ErrNotOwner, current.AgentID, current.ProcessID)
		}
		current.ExpiresAt = time.Now().Add(ttl)
		if err := m.writeRecord(current); err != nil {
			return err
		}
		record = current
		return nil
	})
	return record, err
}

// WithLock runs fn while holding the global lock.
//
// # Description
//
// Acquires, runs fn, then releases. An acquisition failure returns
// immediately and never touches the lock state, so a timed-out waiter
// cannot release a lock some other agent legitimately holds.
func (m *Manager) WithLock(ctx context.Context, agentID, operationType string, ttl, timeout time.Duration, fn func() error) error {
	if _, err := m.Acquire(ctx, agentID, operationType, ttl, timeout); err != nil {
		return err
	}
	defer func() {
		if _, err := m.Release(ctx, false); err != nil {
			m.logger.Error("failed to release lock", "agent_id", agentID, "error", err)
		}
	}()
	return fn()
}

// Status returns a point-in-time snapshot of the lock state.
//
// The snapshot is read without the critical section: it is advisory and
// may be outdated by the time the caller acts on it.
func (m *Manager) Status() LockStatus {
	current, _ := m.readRecord()
	if current == nil {
		return LockStatus{IsLocked: false}
	}
	return LockStatus{
		IsLocked: true,
		Holder:   current,
		IsStale:  current.IsStale(),
	}
}

// ownsLocked reports whether this manager's token matches the record.
// PID must also match so a token leaked across processes is not honored.
func (m *Manager) ownsLocked(record *Record) bool {
	m.mu.Lock()
	owner := m.ownerID
	m.mu.Unlock()
	return owner != "" && record.OwnerID == owner && record.ProcessID == os.Getpid()
}

// readRecord loads the lock record. Returns (nil, false) when absent
// and (nil, true) when present but unparseable.
func (m *Manager) readRecord() (*Record, bool) {
	data, err := os.ReadFile(m.lockPath)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn("failed to read lock record", "path", m.lockPath, "error", err)
		}
		return nil, false
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		m.logger.Warn("corrupt lock record", "path", m.lockPath, "error", err)
		return nil, true
	}
	if record.OwnerID == "" || record.ProcessID <= 0 {
		m.logger.Warn("lock record missing identity fields", "path", m.lockPath)
		return nil, true
	}
	return &record, false
}

func (m *Manager) writeRecord(record *Record) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling lock record: %w", err)
	}
	if err := fsutil.WriteFileAtomic(m.lockPath, data, 0644); err != nil {
		return fmt.Errorf("writing lock record: %w", err)
	}
	return nil
}

// historyEvent is one line of the bounded lock audit trail.
type historyEvent struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	AgentID   string    `json:"agent_id,omitempty"`
	OwnerID   string    `json:"owner_id,omitempty"`
	ProcessID int       `json:"process_id,omitempty"`
}

// appendHistory records a lock transition, keeping at most
// cfg.HistoryLimit events. History is best-effort observability: write
// failures are logged and dropped.
func (m *Manager) appendHistory(event string, record *Record) {
	entry := historyEvent{Event: event, Timestamp: time.Now()}
	if record != nil {
		entry.AgentID = record.AgentID
		entry.OwnerID = record.OwnerID
		entry.ProcessID = record.ProcessID
	}

	var events []historyEvent
	if data, err := os.ReadFile(m.historyPath); err == nil {
		if err := json.Unmarshal(data, &events); err != nil {
			m.logger.Warn("corrupt lock history, starting fresh", "error", err)
			events = nil
		}
	}
	events = append(events, entry)
	if len(events) > m.cfg.HistoryLimit {
		events = events[len(events)-m.cfg.HistoryLimit:]
	}

	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		m.logger.Warn("failed to marshal lock history", "error", err)
		return
	}
	if err := fsutil.WriteFileAtomic(m.historyPath, data, 0644); err != nil {
		m.logger.Warn("failed to write lock history", "error", err)
	}
}

// watchLoop forwards lock-file removals to waiters so a release wakes
// them before the next poll tick.
func (m *Manager) watchLoop() {
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Name != m.lockPath {
				continue
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			select {
			case m.notify <- struct{}{}:
			default:
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("lock watcher error", "error", err)
		}
	}
}

// StartWatchdog launches the background stale lock reaper.
//
// # Description
//
// Every WatchdogInterval the watchdog reclaims a stale lock record and
// prunes aged-out queue entries. Safe to call once per manager; a
// second call while running is a no-op.
func (m *Manager) StartWatchdog(ctx context.Context) {
	m.watchdogMu.Lock()
	defer m.watchdogMu.Unlock()
	if m.watchdogCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.watchdogCancel = cancel
	m.watchdogDone = make(chan struct{})

	go func() {
		defer close(m.watchdogDone)
		ticker := time.NewTicker(m.cfg.WatchdogInterval)
		defer ticker.Stop()
		m.logger.Info("lock watchdog started", "interval", m.cfg.WatchdogInterval)
		for {
			select {
			case <-ctx.Done():
				m.logger.Info("lock watchdog stopped")
				return
			case <-ticker.C:
				m.SweepStale(ctx)
			}
		}
	}()
}

// StopWatchdog stops the reaper and waits for it to exit.
func (m *Manager) StopWatchdog() {
	m.watchdogMu.Lock()
	cancel := m.watchdogCancel
	done := m.watchdogDone
	m.watchdogCancel = nil
	m.watchdogDone = nil
	m.watchdogMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// SweepStale performs one watchdog pass: reclaim a stale lock record
// and prune old queue entries. Returns true if a lock was reclaimed.
func (m *Manager) SweepStale(ctx context.Context) bool {
	reclaimed := false
	err := m.cs.Do(ctx, m.cfg.MutexTimeout, func() error {
		current, corrupt := m.readRecord()
		if current == nil && !corrupt {
			return nil
		}
		if current != nil && !current.IsStale() {
			return nil
		}

		reason := "corrupt"
		if current != nil {
			reason = "dead_process"
			if current.IsExpired() {
				reason = "expired"
			} else if isProcessAlive(current.ProcessID) {
				reason = "pid_reuse"
			}
		}
		if err := os.Remove(m.lockPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing stale lock record: %w", err)
		}
		reclaimed = true
		recordStaleReclaimed(ctx, reason)
		m.appendHistory("watchdog_reclaimed_"+reason, current)
		m.logger.Warn("watchdog reclaimed stale lock", "reason", reason)
		return nil
	})
	if err != nil {
		m.logger.Warn("watchdog sweep failed", "error", err)
	}

	if _, err := m.queue.Prune(m.cfg.QueueMaxAge); err != nil {
		m.logger.Warn("queue prune failed", "error", err)
	}
	return reclaimed
}

// SubmitStatus labels the outcome of a queued operation.
type SubmitStatus string

// Submit outcomes.
const (
	SubmitSuccess SubmitStatus = "success"
	SubmitTimeout SubmitStatus = "timeout"
	SubmitError   SubmitStatus = "error"
)

// SubmitResult reports how a queued operation ended.
type SubmitResult struct {
	QueueID string       `json:"queue_id"`
	Status  SubmitStatus `json:"status"`
	Error   string       `json:"error,omitempty"`
}

// Submit enqueues an operation, waits for the lock, runs fn while
// holding it, and records the outcome in the queue.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - agentID: Identity of the submitting agent.
//   - operationType: What fn does.
//   - filePath: Primary file the operation touches (informational).
//   - priority: Scheduling priority; higher runs sooner.
//   - fn: Operation body, run while the lock is held.
//
// # Outputs
//
//   - *SubmitResult: Outcome with the queue ID for follow-up queries.
//   - error: The error from fn or from lock handling; the result's
//     Status field classifies it.
func (m *Manager) Submit(ctx context.Context, agentID, operationType, filePath string, priority int, fn func() error) (*SubmitResult, error) {
	queueID, _, err := m.queue.Enqueue(agentID, operationType, filePath, priority)
	if err != nil {
		return &SubmitResult{Status: SubmitError, Error: err.Error()}, err
	}
	result := &SubmitResult{QueueID: queueID}

	if _, err := m.Acquire(ctx, agentID, operationType, 0, 0); err != nil {
		result.Error = err.Error()
		if errors.Is(err, ErrLockTimeout) {
			result.Status = SubmitTimeout
		} else {
			result.Status = SubmitError
		}
		if cerr := m.queue.Complete(queueID, false); cerr != nil {
			m.logger.Warn("failed to mark queue entry failed", "queue_id", queueID, "error", cerr)
		}
		return result, err
	}
	defer func() {
		if _, rerr := m.Release(ctx, false); rerr != nil {
			m.logger.Error("failed to release lock after submit", "queue_id", queueID, "error", rerr)
		}
	}()

	fnErr := fn()
	if cerr := m.queue.Complete(queueID, fnErr == nil); cerr != nil {
		m.logger.Warn("failed to update queue entry", "queue_id", queueID, "error", cerr)
	}
	if fnErr != nil {
		result.Status = SubmitError
		result.Error = fnErr.Error()
		return result, fnErr
	}
	result.Status = SubmitSuccess
	return result, nil
}
