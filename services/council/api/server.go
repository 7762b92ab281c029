// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes the lock manager and commit coordinator over
// HTTP. Handlers are thin: they validate input, call into the core,
// and translate typed errors to status codes without leaking internal
// paths or stack traces.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianCouncil/services/council/fsutil"
	"github.com/AleutianAI/AleutianCouncil/services/council/lock"
	"github.com/AleutianAI/AleutianCouncil/services/council/transaction"
	"github.com/AleutianAI/AleutianCouncil/services/council/validate"
)

// Config configures the HTTP server.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// RepoPath is the governance repository root; document writes land
	// under it.
	RepoPath string

	// MaxPayload caps accepted document payloads in bytes.
	MaxPayload int

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration

	// EnableMetrics exposes /metrics with the OpenTelemetry registry.
	EnableMetrics bool
}

// DefaultServerConfig returns a config with sensible defaults.
func DefaultServerConfig(repoPath string) Config {
	return Config{
		Addr:            ":8080",
		RepoPath:        repoPath,
		MaxPayload:      validate.DefaultMaxPayload,
		ShutdownTimeout: 10 * time.Second,
		EnableMetrics:   true,
	}
}

// Server wires the HTTP surface to the lock manager and coordinator.
type Server struct {
	cfg         Config
	locks       *lock.Manager
	coordinator *transaction.Coordinator
	validator   *validate.Validator
	logger      *slog.Logger
	engine      *gin.Engine
}

// NewServer creates the HTTP server and registers all routes.
//
// # Inputs
//
//   - config: Server configuration.
//   - locks: Lock manager guarding the shared documents.
//   - coordinator: Transaction coordinator for document writes.
//
// # Outputs
//
//   - *Server: Ready-to-run server.
//   - error: Non-nil if the metrics endpoint cannot be initialized.
func NewServer(config Config, locks *lock.Manager, coordinator *transaction.Coordinator) (*Server, error) {
	if config.MaxPayload <= 0 {
		config.MaxPayload = validate.DefaultMaxPayload
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		cfg:         config,
		locks:       locks,
		coordinator: coordinator,
		validator:   validate.NewValidator(config.MaxPayload),
		logger:      slog.Default().With("component", "api_server"),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/health", s.handleHealth)
	if config.EnableMetrics {
		metricsHandler, err := newMetricsHandler()
		if err != nil {
			return nil, fmt.Errorf("initializing metrics endpoint: %w", err)
		}
		engine.GET("/metrics", gin.WrapH(metricsHandler))
	}

	apiGroup := engine.Group("/api")
	{
		apiGroup.POST("/proposal/submit", s.handleSubmitProposal)
		apiGroup.POST("/governance/decide", s.handleDecide)

		tx := apiGroup.Group("/transaction")
		{
			tx.POST("/begin", s.handleBeginTransaction)
			tx.POST("/commit", s.handleCommitTransaction)
			tx.POST("/rollback", s.handleRollbackTransaction)
		}

		apiGroup.GET("/lock/status", s.handleLockStatus)
		apiGroup.GET("/queue/status", s.handleQueueStatus)
		apiGroup.GET("/system/status", s.handleSystemStatus)
	}

	s.engine = engine
	return s, nil
}

// Router exposes the underlying gin engine, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down api server: %w", err)
	}
	return <-errCh
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleLockStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.locks.Status())
}

func (s *Server) handleQueueStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.locks.Queue().Status())
}

func (s *Server) handleSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, SystemStatusResponse{
		Lock:        s.locks.Status(),
		Queue:       s.locks.Queue().Status(),
		Transaction: s.coordinator.Status(),
	})
}

func (s *Server) handleSubmitProposal(c *gin.Context) {
	var req SubmitProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if result := s.validator.Validate(req.Document, validate.TypeProposal); !result.Valid {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      result.Message,
			"reasons":    result.Reasons,
			"confidence": result.Confidence,
		})
		return
	}

	message := fmt.Sprintf("proposal: %s by %s", req.FilePath, req.AgentID)
	s.submitDocument(c, req.AgentID, "submit_proposal", req.FilePath, req.Priority, req.Document, message)
}

func (s *Server) handleDecide(c *gin.Context) {
	var req DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if result := s.validator.Validate(req.Document, validate.TypeDecision); !result.Valid {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      result.Message,
			"reasons":    result.Reasons,
			"confidence": result.Confidence,
		})
		return
	}

	message := fmt.Sprintf("decision: %s by %s", req.FilePath, req.AgentID)
	s.submitDocument(c, req.AgentID, "governance_decision", req.FilePath, req.Priority, req.Document, message)
}

// submitDocument runs the full write path: queue, lock, begin, write,
// commit. Any failure inside the transaction is rolled back by the
// coordinator before the error reaches the client.
func (s *Server) submitDocument(c *gin.Context, agentID, opType, filePath string, priority int, content []byte, message string) {
	ctx := c.Request.Context()

	var commitSHA string
	result, err := s.locks.Submit(ctx, agentID, opType, filePath, priority, func() error {
		record, err := s.coordinator.Begin(ctx, agentID, []string{filePath})
		if err != nil {
			return err
		}

		target := filepath.Join(s.cfg.RepoPath, filePath)
		if err := fsutil.WriteFileAtomic(target, content, 0644); err != nil {
			if _, rbErr := s.coordinator.Rollback(ctx, record.TransactionID, "write_failure"); rbErr != nil {
				return rbErr
			}
			return err
		}

		res, err := s.coordinator.Commit(ctx, record.TransactionID, message)
		if err != nil {
			return err
		}
		commitSHA = res.CommitSHA
		return nil
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SubmitResponse{
		Status:    string(result.Status),
		QueueID:   result.QueueID,
		CommitSHA: commitSHA,
	})
}

func (s *Server) handleBeginTransaction(c *gin.Context) {
	var req BeginTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	record, err := s.coordinator.Begin(c.Request.Context(), req.AgentID, req.Files)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

func (s *Server) handleCommitTransaction(c *gin.Context) {
	var req CommitTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := s.coordinator.Commit(c.Request.Context(), req.TransactionID, req.Message)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleRollbackTransaction(c *gin.Context) {
	var req RollbackTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := s.coordinator.Rollback(c.Request.Context(), req.TransactionID, req.Reason)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// respondError maps typed core errors to HTTP statuses. Messages stay
// generic: internal paths, hashes, and stack traces never reach the
// client.
func (s *Server) respondError(c *gin.Context, err error) {
	var verr *transaction.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
	case errors.Is(err, lock.ErrLockTimeout) || errors.Is(err, lock.ErrMutexBusy):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "system busy, try again later"})
	case errors.Is(err, transaction.ErrTransactionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "another transaction is in progress"})
	case errors.Is(err, transaction.ErrNoTransaction):
		c.JSON(http.StatusNotFound, gin.H{"error": "no such transaction"})
	case errors.Is(err, transaction.ErrNotOwner) || errors.Is(err, lock.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "not the owner"})
	case errors.Is(err, transaction.ErrRollbackFailed):
		s.logger.Error("rollback failure surfaced to api", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "rollback failed, operator intervention required"})
	default:
		s.logger.Error("internal error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
