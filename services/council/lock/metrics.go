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
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for lock metrics.
var meter = otel.Meter("council.lock")

// Metric instruments for lock operations.
var (
	acquireTotal        metric.Int64Counter
	releaseTotal        metric.Int64Counter
	staleReclaimedTotal metric.Int64Counter
	acquireWait         metric.Float64Histogram
	queueDepth          metric.Int64UpDownCounter

	metricsOnce sync.Once
	metricsErr  error
)

// metricsEnabled controls whether metrics are recorded.
// Set by the Manager on initialization.
//
// Thread Safety: Uses atomic operations for safe concurrent access.
var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

// SetMetricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Safe for concurrent use.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// initMetrics initializes all metric instruments.
// Safe to call multiple times; uses sync.Once internally.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		acquireTotal, err = meter.Int64Counter(
			"lock_acquire_total",
			metric.WithDescription("Total number of lock acquire attempts"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		releaseTotal, err = meter.Int64Counter(
			"lock_release_total",
			metric.WithDescription("Total number of lock release operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		staleReclaimedTotal, err = meter.Int64Counter(
			"lock_stale_reclaimed_total",
			metric.WithDescription("Total number of stale locks reclaimed"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		acquireWait, err = meter.Float64Histogram(
			"lock_acquire_wait_seconds",
			metric.WithDescription("Time spent waiting to acquire the lock"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		queueDepth, err = meter.Int64UpDownCounter(
			"lock_queue_depth",
			metric.WithDescription("Number of agents waiting in the lock queue"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordAcquire records a lock acquire attempt.
//
// # Inputs
//
//   - ctx: Context for metric recording.
//   - result: Outcome (acquired, renewed, timeout, error).
//   - wait: How long the caller waited.
func recordAcquire(ctx context.Context, result string, wait time.Duration) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("result", result))
	acquireTotal.Add(ctx, 1, attrs)
	acquireWait.Record(ctx, wait.Seconds(), attrs)
}

// recordRelease records a lock release operation.
//
// # Inputs
//
//   - ctx: Context for metric recording.
//   - result: Outcome (released, forced, not_owner, not_held).
func recordRelease(ctx context.Context, result string) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	releaseTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
	))
}

// recordStaleReclaimed records reclamation of a stale lock.
//
// # Inputs
//
//   - ctx: Context for metric recording.
//   - reason: Why the lock was stale (expired, dead_process, pid_reuse, corrupt).
func recordStaleReclaimed(ctx context.Context, reason string) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	staleReclaimedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// adjustQueueDepth moves the queue depth gauge by delta.
func adjustQueueDepth(ctx context.Context, delta int64) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	queueDepth.Add(ctx, delta)
}
