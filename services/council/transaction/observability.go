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
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const transactionTracerName = "council.transaction"

// Tracer provides OpenTelemetry tracing for transaction operations.
//
// # Description
//
// Wraps the OpenTelemetry tracer with transaction-specific span
// creation. When disabled, returns noop spans for zero overhead.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Tracer struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	enabled bool
}

// NewTracer creates a new transaction tracer.
//
// # Inputs
//
//   - logger: Logger for structured logging. Uses slog.Default() if nil.
//   - enabled: Whether tracing is enabled. When false, uses noop spans.
//
// # Outputs
//
//   - *Tracer: Ready-to-use tracer instance.
func NewTracer(logger *slog.Logger, enabled bool) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		tracer:  otel.Tracer(transactionTracerName),
		logger:  logger,
		enabled: enabled,
	}
}

// StartPhase starts a span for a transaction lifecycle operation.
//
// # Inputs
//
//   - ctx: Parent context for span creation.
//   - operation: Lifecycle operation name (begin, commit, rollback).
//   - txID: Transaction identifier; may be empty for begin.
//   - agentID: Agent driving the operation.
//
// # Outputs
//
//   - context.Context: Context with span attached.
//   - trace.Span: The created span. Caller must call End() when done.
func (t *Tracer) StartPhase(ctx context.Context, operation, txID, agentID string) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}

	ctx, span := t.tracer.Start(ctx, "transaction."+operation,
		trace.WithAttributes(
			attribute.String("tx.id", txID),
			attribute.String("tx.agent_id", agentID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	t.logger.DebugContext(ctx, "transaction operation started",
		slog.String("operation", operation),
		slog.String("tx_id", txID),
		slog.String("agent_id", agentID),
	)

	return ctx, span
}

// EndPhase completes a lifecycle span.
//
// # Inputs
//
//   - span: The span to end.
//   - record: The transaction record after the operation (may be nil).
//   - err: Error if the operation failed.
func (t *Tracer) EndPhase(span trace.Span, record *Record, err error) {
	if span == nil {
		return
	}
	defer span.End()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	span.SetStatus(codes.Ok, "")
	if record != nil {
		span.SetAttributes(
			attribute.String("tx.phase", string(record.Phase)),
			attribute.Int("tx.files_count", len(record.Files)),
		)
	}
}

// StartGitOp starts a child span for a git operation.
//
// # Inputs
//
//   - ctx: Parent context (should contain parent span).
//   - operation: Name of the git operation (e.g., "commit", "reset_hard").
//
// # Outputs
//
//   - context.Context: Context with span attached.
//   - trace.Span: The created span. Caller must call End() when done.
func (t *Tracer) StartGitOp(ctx context.Context, operation string) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}

	return t.tracer.Start(ctx, "transaction.git."+operation,
		trace.WithAttributes(
			attribute.String("git.operation", operation),
		),
	)
}

// EndGitOp completes a git operation span.
//
// # Inputs
//
//   - span: The span to end.
//   - err: Error if the operation failed.
func (t *Tracer) EndGitOp(span trace.Span, err error) {
	if span == nil {
		return
	}
	defer span.End()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	span.SetStatus(codes.Ok, "")
}

// RecordPhaseTransition records a phase transition event on the
// current span.
//
// # Inputs
//
//   - ctx: Context containing the active span.
//   - txID: Transaction identifier.
//   - from: Previous phase.
//   - to: New phase.
func (t *Tracer) RecordPhaseTransition(ctx context.Context, txID string, from, to Phase) {
	span := trace.SpanFromContext(ctx)
	// Note: SpanFromContext returns noop span (not nil) when no span exists.
	// We check validity to avoid unnecessary calls to noop spans.
	if span.SpanContext().IsValid() {
		span.AddEvent("phase_transition",
			trace.WithAttributes(
				attribute.String("tx.id", txID),
				attribute.String("tx.from_phase", string(from)),
				attribute.String("tx.to_phase", string(to)),
			),
		)
	}

	t.logger.DebugContext(ctx, "transaction phase transition",
		slog.String("tx_id", txID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
}

// LoggerWithTrace returns a logger with trace context fields.
//
// # Description
//
// Extracts trace_id and span_id from the context and adds them
// to the logger for correlation with distributed traces.
//
// # Inputs
//
//   - ctx: Context that may contain trace information.
//   - logger: Base logger to extend.
//
// # Outputs
//
//   - *slog.Logger: Logger with trace_id and span_id if available.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}
