// Copyright 2025 Fabian Lopez
// SPDX-License-Identifier: Apache-2.0

package presync

import (
	"net/http"
	"testing"
)

func TestSuccessResult(t *testing.T) {
	result := successResult(7, SyncedEntities{Trips: 2, UserSettings: true, DeletedTrips: 1})
	if result.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", result.StatusCode)
	}
	if result.HasConflicts {
		t.Fatal("success must carry no conflicts")
	}
	if result.Response == nil || result.Response.SyncVersion != 7 {
		t.Fatalf("expected response version 7, got %+v", result.Response)
	}
	if result.Response.SyncedEntities.Trips != 2 {
		t.Fatalf("expected 2 synced trips, got %d", result.Response.SyncedEntities.Trips)
	}
}

func TestConflictResult_ZeroesSyncedCounts(t *testing.T) {
	conflicts := []SyncConflict{{EntityType: EntityTrip, EntityID: "t1", ConflictType: ConflictUpdateUpdate}}
	result := conflictResult(conflicts)
	if result.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", result.StatusCode)
	}
	if result.ErrorCode != CodeSyncConflict {
		t.Fatalf("expected %s, got %s", CodeSyncConflict, result.ErrorCode)
	}
	if result.Response != nil {
		t.Fatal("full conflict must not carry a success response body")
	}
	if result.SyncedEntities != (SyncedEntities{}) {
		t.Fatalf("full conflict must report nothing synced, got %+v", result.SyncedEntities)
	}
}

func TestPartialConflictResult(t *testing.T) {
	synced := SyncedEntities{Trips: 1}
	conflicts := []SyncConflict{{EntityType: EntityTrip, EntityID: "t2", ConflictType: ConflictDeleteUpdate}}
	result := partialConflictResult(5, synced, conflicts)
	if result.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", result.StatusCode)
	}
	if result.ErrorCode != CodeSyncPartialConflict {
		t.Fatalf("expected %s, got %s", CodeSyncPartialConflict, result.ErrorCode)
	}
	if result.Response == nil || result.Response.SyncVersion != 5 {
		t.Fatalf("partial conflict must report the applied version, got %+v", result.Response)
	}
	if result.SyncedEntities.Trips != 1 {
		t.Fatalf("expected 1 synced trip, got %d", result.SyncedEntities.Trips)
	}
}
