// Copyright 2025 Fabian Lopez
// SPDX-License-Identifier: Apache-2.0

package presync

import (
	"encoding/json"
	"time"
)

// REST/JSON models for the sync HTTP API.
// Field names follow the mobile app's camelCase wire convention.

// Trip is the wire representation of a physical-presence trip.
type Trip struct {
	ID            string     `json:"id"`                  // UUID as string
	UserID        string     `json:"userId"`              // Owning user (must match requester)
	DepartureDate string     `json:"departureDate"`       // YYYY-MM-DD
	ReturnDate    string     `json:"returnDate"`          // YYYY-MM-DD
	Location      *string    `json:"location,omitempty"`  // Free-form destination
	IsSimulated   bool       `json:"isSimulated"`         // Planning-mode trip, not a real absence
	SyncID        *string    `json:"syncId,omitempty"`    // Client-assigned correlation ID
	DeviceID      *string    `json:"deviceId,omitempty"`  // Originating device
	SyncVersion   int64      `json:"syncVersion"`         // Base version the client edited against
	SyncStatus    string     `json:"syncStatus"`          // local, pending, synced
	DeletedAt     *time.Time `json:"deletedAt,omitempty"` // Soft-delete marker
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// NotificationSettings groups the per-category notification toggles.
// Pointer fields distinguish "not sent" from "explicitly false" for merging.
type NotificationSettings struct {
	Milestones *bool `json:"milestones,omitempty"`
	Warnings   *bool `json:"warnings,omitempty"`
	Reminders  *bool `json:"reminders,omitempty"`
}

// UserSettings is the singleton per-user preference record. Unlike trips it
// is merged field-by-field on push rather than replaced as a whole.
type UserSettings struct {
	UserID               string                `json:"userId"`
	Notifications        *NotificationSettings `json:"notifications,omitempty"`
	BiometricAuthEnabled *bool                 `json:"biometricAuthEnabled,omitempty"`
	Theme                *string               `json:"theme,omitempty"`
	Language             *string               `json:"language,omitempty"`
	SyncVersion          int64                 `json:"syncVersion"`
	DeviceID             *string               `json:"deviceId,omitempty"`
	UpdatedAt            time.Time             `json:"updatedAt"`
}

// EntityVersion captures one side of a conflict for the client to inspect.
type EntityVersion struct {
	Data        json.RawMessage `json:"data"`
	SyncVersion int64           `json:"syncVersion"`
	ModifiedAt  time.Time       `json:"modifiedAt"`
	DeviceID    string          `json:"deviceId,omitempty"`
}

// SyncConflict describes a single detected conflict. Conflicts are produced
// transiently during a push and never persisted - the caller must resolve
// and resubmit.
type SyncConflict struct {
	EntityType        string          `json:"entityType"`                  // trip, user_settings
	EntityID          string          `json:"entityId"`                    // Entity primary key (userId for settings)
	ConflictType      string          `json:"conflictType"`                // update_update, delete_update
	ConflictingFields []string        `json:"conflictingFields,omitempty"` // Fields that differ between the two sides
	ServerVersion     json.RawMessage `json:"serverVersion,omitempty"`     // Raw authoritative server record
	LocalVersion      *EntityVersion  `json:"localVersion,omitempty"`      // Client's attempted write
	RemoteVersion     *EntityVersion  `json:"remoteVersion,omitempty"`     // Server's current state
}

// PullRequest asks for entities changed since the client's last known version.
type PullRequest struct {
	LastSyncVersion *int64   `json:"lastSyncVersion,omitempty"` // Absent means "everything"
	EntityTypes     []string `json:"entityTypes,omitempty"`     // Empty means all entity types
}

// PullResponse carries server changes back to the client. Clients must adopt
// SyncVersion as their new baseline.
type PullResponse struct {
	SyncVersion  int64         `json:"syncVersion"`
	Trips        []Trip        `json:"trips"`
	UserSettings *UserSettings `json:"userSettings"`
	HasMore      bool          `json:"hasMore"`
}

// PushRequest transmits the client's accumulated local changes.
type PushRequest struct {
	SyncVersion         int64         `json:"syncVersion"` // Client's claimed new version
	Trips               []Trip        `json:"trips,omitempty"`
	UserSettings        *UserSettings `json:"userSettings,omitempty"`
	DeletedTripIDs      []string      `json:"deletedTripIds,omitempty"`
	ForceOverwrite      bool          `json:"forceOverwrite,omitempty"`      // Skip conflict detection entirely
	ApplyNonConflicting bool          `json:"applyNonConflicting,omitempty"` // Apply clean subset on conflict
}

// SyncedEntities reports what a push actually persisted.
type SyncedEntities struct {
	Trips        int  `json:"trips"`
	UserSettings bool `json:"userSettings"`
	DeletedTrips int  `json:"deletedTrips"`
}

// PushResponse is the success body for a fully applied push.
type PushResponse struct {
	SyncVersion    int64          `json:"syncVersion"`
	SyncedEntities SyncedEntities `json:"syncedEntities"`
}

// ConflictResponse is the 409 body for full and partial conflicts. For a full
// conflict SyncedEntities is omitted - nothing was applied.
type ConflictResponse struct {
	Error          string          `json:"error"` // SYNC_CONFLICT or SYNC_PARTIAL_CONFLICT
	SyncedEntities *SyncedEntities `json:"syncedEntities,omitempty"`
	Conflicts      []SyncConflict  `json:"conflicts"`
}

// PushResult is the service-level outcome of a push, carrying everything the
// HTTP layer needs to serialize one of the three response shapes.
type PushResult struct {
	Response       *PushResponse
	HasConflicts   bool
	Conflicts      []SyncConflict
	SyncedEntities SyncedEntities
	StatusCode     int
	ErrorCode      string
}

// ErrorResponse represents a standardized non-conflict error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
