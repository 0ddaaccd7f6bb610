// Package presqlite provides the SQLite-backed client store for USA Presence
// Calculator multi-device sync: a local mirror of trips and settings, a
// durable pending-operation queue, and the push/pull loop that drains it.
// Copyright 2025 Fabian Lopez
// SPDX-License-Identifier: Apache-2.0

package presqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/fabianlopezdev/usa-presence-calculator-sub003/presync"
)

// Operation type constants for pending operations
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Entity constants for pending operations
const (
	EntityTrip     = "trip"
	EntityUser     = "user"
	EntitySettings = "settings"
)

// MaxRetryCount is the retry ceiling after which a pending operation is no
// longer sent automatically. Exceeded entries stay in the queue and are
// surfaced via FailedOperations for the user to act on.
const MaxRetryCount = 3

// Client manages the local SQLite database and the sync operations against
// the server. A single client never issues two concurrent pushes.
type Client struct {
	DB       *sql.DB
	BaseURL  string
	Token    func(context.Context) (string, error) // returns a bearer token
	UserID   string
	DeviceID string
	HTTP     *http.Client
	config   *Config
	logger   *slog.Logger
	writeMu  sync.Mutex // Serializes sync passes and local writes
}

// Config holds configuration for the SQLite sync client. Pull paging is
// dictated by the server; only push batching is a client knob.
type Config struct {
	PushLimit  int           // Max queue entries per push batch (e.g. 100)
	BackoffMin time.Duration // e.g. 1s
	BackoffMax time.Duration // e.g. 60s
}

// DefaultConfig returns a default client configuration.
func DefaultConfig() *Config {
	return &Config{
		PushLimit:  100,
		BackoffMin: 1 * time.Second,
		BackoffMax: 60 * time.Second,
	}
}

// NewClient creates a new SQLite sync client, initializing the local schema.
func NewClient(db *sql.DB, baseURL, userID, deviceID string, tok func(ctx context.Context) (string, error), config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := initializeDatabase(db); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	client := &Client{
		DB:       db,
		BaseURL:  baseURL,
		Token:    tok,
		UserID:   userID,
		DeviceID: deviceID,
		HTTP:     &http.Client{Timeout: 60 * time.Second},
		config:   config,
		logger:   slog.Default(),
	}

	if err := client.ensureClientInfo(context.Background()); err != nil {
		return nil, err
	}
	return client, nil
}

// SetLogger replaces the default logger.
func (c *Client) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// EnsureDeviceID loads the persisted device ID for a user, generating one on
// first launch.
func EnsureDeviceID(db *sql.DB, userID string) (string, error) {
	var deviceID string
	err := db.QueryRow(`SELECT device_id FROM _sync_client_info WHERE user_id = ?`, userID).Scan(&deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		deviceID = uuid.New().String()
		_, err = db.Exec(`
			INSERT INTO _sync_client_info (user_id, device_id, last_sync_version)
			VALUES (?, ?, 0)
		`, userID, deviceID)
		if err != nil {
			return "", fmt.Errorf("failed to insert client info: %w", err)
		}
	} else if err != nil {
		return "", fmt.Errorf("failed to query client info: %w", err)
	}
	return deviceID, nil
}

// initializeDatabase creates the local mirror and sync metadata tables.
func initializeDatabase(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS trips (
			id             TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL,
			departure_date TEXT NOT NULL,
			return_date    TEXT NOT NULL,
			location       TEXT,
			is_simulated   INTEGER NOT NULL DEFAULT 0,
			sync_id        TEXT,
			device_id      TEXT,
			sync_version   INTEGER NOT NULL DEFAULT 0,
			sync_status    TEXT NOT NULL DEFAULT 'local',
			deleted_at     TEXT,
			created_at     TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at     TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		`CREATE TABLE IF NOT EXISTS user_settings (
			user_id                TEXT PRIMARY KEY,
			notify_milestones      INTEGER NOT NULL DEFAULT 1,
			notify_warnings        INTEGER NOT NULL DEFAULT 1,
			notify_reminders       INTEGER NOT NULL DEFAULT 1,
			biometric_auth_enabled INTEGER NOT NULL DEFAULT 0,
			theme                  TEXT NOT NULL DEFAULT 'system',
			language               TEXT NOT NULL DEFAULT 'en',
			sync_version           INTEGER NOT NULL DEFAULT 0,
			updated_at             TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Durable pending-operation queue, persisted across app restarts.
		`CREATE TABLE IF NOT EXISTS _pending_ops (
			id          TEXT PRIMARY KEY,
			op_type     TEXT NOT NULL CHECK (op_type IN ('create','update','delete')),
			entity_type TEXT NOT NULL CHECK (entity_type IN ('trip','user','settings')),
			entity_id   TEXT NOT NULL,
			payload     TEXT,
			ts          TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			retry_count INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS _sync_client_info (
			user_id           TEXT PRIMARY KEY,
			device_id         TEXT NOT NULL,
			last_sync_version INTEGER NOT NULL DEFAULT 0
		)`,
	}

	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return fmt.Errorf("failed to create sync table: %w", err)
		}
	}
	return nil
}

func (c *Client) ensureClientInfo(ctx context.Context) error {
	_, err := c.DB.ExecContext(ctx, `
		INSERT INTO _sync_client_info (user_id, device_id, last_sync_version)
		VALUES (?, ?, 0)
		ON CONFLICT (user_id) DO UPDATE SET device_id = excluded.device_id
	`, c.UserID, c.DeviceID)
	if err != nil {
		return fmt.Errorf("failed to ensure client info: %w", err)
	}
	return nil
}

// lastSyncVersion reads the client's current version baseline.
func (c *Client) lastSyncVersion(ctx context.Context) (int64, error) {
	var version int64
	err := c.DB.QueryRowContext(ctx,
		`SELECT last_sync_version FROM _sync_client_info WHERE user_id = ?`, c.UserID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get last sync version: %w", err)
	}
	return version, nil
}

func (c *Client) setLastSyncVersion(ctx context.Context, tx *sql.Tx, version int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE _sync_client_info SET last_sync_version = ? WHERE user_id = ? AND last_sync_version < ?`,
		version, c.UserID, version)
	return err
}

// SaveTrip writes a trip to the local mirror and enqueues it for push. New
// trips start as create operations; existing ones as updates.
func (c *Client) SaveTrip(ctx context.Context, trip *presync.Trip) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if trip.ID == "" {
		trip.ID = uuid.New().String()
	}
	trip.UserID = c.UserID

	var exists bool
	err := c.DB.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM trips WHERE id = ?)`, trip.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check trip existence: %w", err)
	}

	var baseVersion int64
	if exists {
		if err := c.DB.QueryRowContext(ctx,
			`SELECT sync_version FROM trips WHERE id = ?`, trip.ID).Scan(&baseVersion); err != nil {
			return fmt.Errorf("failed to read trip version: %w", err)
		}
	}
	trip.SyncVersion = baseVersion
	trip.SyncStatus = presync.SyncStatusPending

	_, err = c.DB.ExecContext(ctx, `
		INSERT INTO trips (id, user_id, departure_date, return_date, location, is_simulated,
		                   sync_id, device_id, sync_version, sync_status, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT (id) DO UPDATE SET
			departure_date = excluded.departure_date,
			return_date    = excluded.return_date,
			location       = excluded.location,
			is_simulated   = excluded.is_simulated,
			sync_status    = excluded.sync_status,
			deleted_at     = NULL,
			updated_at     = strftime('%Y-%m-%dT%H:%M:%fZ','now')
	`, trip.ID, trip.UserID, trip.DepartureDate, trip.ReturnDate, trip.Location,
		boolToInt(trip.IsSimulated), trip.SyncID, c.DeviceID, baseVersion, presync.SyncStatusPending)
	if err != nil {
		return fmt.Errorf("failed to save trip: %w", err)
	}

	payload, err := json.Marshal(trip)
	if err != nil {
		return fmt.Errorf("failed to marshal trip: %w", err)
	}
	opType := OpCreate
	if exists {
		opType = OpUpdate
	}
	// Coalesce: a re-edit replaces the queued payload for the same entity.
	if err := c.clearEntityLocked(ctx, EntityTrip, trip.ID); err != nil {
		return err
	}
	_, err = c.addToQueueLocked(ctx, opType, EntityTrip, trip.ID, payload)
	return err
}

// DeleteTrip soft-deletes a trip locally and enqueues the deletion.
func (c *Client) DeleteTrip(ctx context.Context, tripID string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_, err := c.DB.ExecContext(ctx, `
		UPDATE trips
		SET deleted_at = strftime('%Y-%m-%dT%H:%M:%fZ','now'),
		    sync_status = ?,
		    updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE id = ?`, presync.SyncStatusPending, tripID)
	if err != nil {
		return fmt.Errorf("failed to delete trip: %w", err)
	}

	if err := c.clearEntityLocked(ctx, EntityTrip, tripID); err != nil {
		return err
	}
	_, err = c.addToQueueLocked(ctx, OpDelete, EntityTrip, tripID, nil)
	return err
}

// SaveSettings stores settings locally and enqueues them for push.
func (c *Client) SaveSettings(ctx context.Context, settings *presync.UserSettings) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	settings.UserID = c.UserID
	if err := c.upsertLocalSettings(ctx, c.DB, settings); err != nil {
		return err
	}

	payload, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := c.clearEntityLocked(ctx, EntitySettings, c.UserID); err != nil {
		return err
	}
	_, err = c.addToQueueLocked(ctx, OpUpdate, EntitySettings, c.UserID, payload)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (c *Client) upsertLocalSettings(ctx context.Context, db execer, settings *presync.UserSettings) error {
	// Field-level merge happens server-side; locally the latest edit wins.
	milestones, warnings, reminders := true, true, true
	if n := settings.Notifications; n != nil {
		if n.Milestones != nil {
			milestones = *n.Milestones
		}
		if n.Warnings != nil {
			warnings = *n.Warnings
		}
		if n.Reminders != nil {
			reminders = *n.Reminders
		}
	}
	biometric := false
	if settings.BiometricAuthEnabled != nil {
		biometric = *settings.BiometricAuthEnabled
	}
	theme, language := "system", "en"
	if settings.Theme != nil {
		theme = *settings.Theme
	}
	if settings.Language != nil {
		language = *settings.Language
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO user_settings (user_id, notify_milestones, notify_warnings, notify_reminders,
		                           biometric_auth_enabled, theme, language, sync_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			notify_milestones      = excluded.notify_milestones,
			notify_warnings        = excluded.notify_warnings,
			notify_reminders       = excluded.notify_reminders,
			biometric_auth_enabled = excluded.biometric_auth_enabled,
			theme                  = excluded.theme,
			language               = excluded.language,
			sync_version           = excluded.sync_version,
			updated_at             = strftime('%Y-%m-%dT%H:%M:%fZ','now')
	`, settings.UserID, boolToInt(milestones), boolToInt(warnings), boolToInt(reminders),
		boolToInt(biometric), theme, language, settings.SyncVersion)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
