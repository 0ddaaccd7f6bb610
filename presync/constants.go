// Copyright 2025 Fabian Lopez
// SPDX-License-Identifier: Apache-2.0

package presync

// Entity type constants for sync operations
const (
	EntityTrip         = "trip"
	EntityUserSettings = "user_settings"
)

// Conflict type constants
const (
	ConflictUpdateUpdate = "update_update"
	ConflictDeleteUpdate = "delete_update"
)

// Error codes returned on HTTP 409 responses
const (
	CodeSyncConflict        = "SYNC_CONFLICT"
	CodeSyncPartialConflict = "SYNC_PARTIAL_CONFLICT"
)

// Sync status lifecycle values for client-originated records
const (
	SyncStatusLocal   = "local"
	SyncStatusPending = "pending"
	SyncStatusSynced  = "synced"
)

// DateLayout is the canonical wire format for trip dates.
const DateLayout = "2006-01-02"
