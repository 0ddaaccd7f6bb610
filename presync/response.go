// Copyright 2025 Fabian Lopez
// SPDX-License-Identifier: Apache-2.0

package presync

import "net/http"

// Result builders for the three push response shapes. The distinction between
// full and partial conflict matters to clients: partial means "drain your
// queue of the entities that succeeded, keep retrying the rest"; full means
// "nothing changed, don't touch your local queue".

// successResult builds the plain HTTP 200 outcome.
func successResult(version int64, synced SyncedEntities) *PushResult {
	return &PushResult{
		Response: &PushResponse{
			SyncVersion:    version,
			SyncedEntities: synced,
		},
		SyncedEntities: synced,
		StatusCode:     http.StatusOK,
	}
}

// conflictResult builds the full-conflict outcome: nothing was applied, the
// synced counts are zeroed and the client must resolve and resubmit.
func conflictResult(conflicts []SyncConflict) *PushResult {
	return &PushResult{
		HasConflicts: true,
		Conflicts:    conflicts,
		StatusCode:   http.StatusConflict,
		ErrorCode:    CodeSyncConflict,
	}
}

// partialConflictResult builds the partial outcome: the clean subset was
// applied atomically, the rest remains conflicted.
func partialConflictResult(version int64, synced SyncedEntities, conflicts []SyncConflict) *PushResult {
	return &PushResult{
		HasConflicts:   true,
		Conflicts:      conflicts,
		SyncedEntities: synced,
		StatusCode:     http.StatusConflict,
		ErrorCode:      CodeSyncPartialConflict,
		Response: &PushResponse{
			SyncVersion:    version,
			SyncedEntities: synced,
		},
	}
}
