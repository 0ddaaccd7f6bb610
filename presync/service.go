// Copyright 2025 Fabian Lopez
// SPDX-License-Identifier: Apache-2.0

// Package presync implements the server side of the USA Presence Calculator
// offline-first multi-device sync engine: payload sanitization, optimistic
// concurrency conflict detection, transactional push/pull orchestration and
// the HTTP handlers exposing the wire contract.
package presync

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SyncService provides the core synchronization functionality. It is the
// only code path permitted to mutate trip and settings rows during a sync.
type SyncService struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	config *ServiceConfig

	mu     sync.RWMutex
	closed bool
}

// ServiceConfig holds configuration for the sync service. Zero values fall
// back to defaults.
type ServiceConfig struct {
	AppName         string        // Application name for connection tracking
	MaxBatchSize    int           // Maximum number of trips in a single push (default 100)
	MaxPullPageSize int           // Maximum trips returned in one pull page (default 100)
	PayloadLimits   PayloadLimits // Structural payload guards
}

const (
	defaultMaxBatchSize    = 100
	defaultMaxPullPageSize = 100
)

// NewSyncService creates a new sync service instance from an existing pool.
// The pool's lifecycle belongs to the caller.
func NewSyncService(pool *pgxpool.Pool, config *ServiceConfig, logger *slog.Logger) (*SyncService, error) {
	if config == nil {
		config = &ServiceConfig{AppName: "presence-sync"}
	}
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = defaultMaxBatchSize
	}
	if config.MaxPullPageSize <= 0 {
		config.MaxPullPageSize = defaultMaxPullPageSize
	}
	config.PayloadLimits = config.PayloadLimits.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	return &SyncService{
		pool:   pool,
		logger: logger,
		config: config,
	}, nil
}

// Close shuts down the sync service. It does not close the pool. Safe to
// call multiple times.
func (s *SyncService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.logger.Debug("Shutting down sync service")
	s.closed = true
	return nil
}

// Pool returns the underlying database connection pool.
func (s *SyncService) Pool() *pgxpool.Pool {
	return s.pool
}

// Config returns the effective service configuration.
func (s *SyncService) Config() *ServiceConfig {
	return s.config
}

func (s *SyncService) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("sync service has been closed")
	}
	return nil
}

// globalSyncVersion returns the highest version across a user's trips and
// settings. Used as the pull baseline when no trips are returned.
func (s *SyncService) globalSyncVersion(ctx context.Context, userID string) (int64, error) {
	var version int64
	err := s.pool.QueryRow(ctx, `
		SELECT GREATEST(
			COALESCE((SELECT MAX(sync_version) FROM trips WHERE user_id = $1), 0),
			COALESCE((SELECT sync_version FROM user_settings WHERE user_id = $1), 0)
		)`, userID).Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}
