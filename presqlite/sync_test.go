// Copyright 2025 Fabian Lopez
// SPDX-License-Identifier: Apache-2.0

package presqlite

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fabianlopezdev/usa-presence-calculator-sub003/presync"
)

// syncServer scripts the two sync endpoints for client tests.
type syncServer struct {
	t        *testing.T
	pull     func(req *presync.PullRequest) (int, any)
	push     func(req *presync.PushRequest) (int, any)
	pushSeen []*presync.PushRequest
}

func (s *syncServer) start(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/sync/pull", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(s.t, "Bearer test-token", r.Header.Get("Authorization"))
		var req presync.PullRequest
		require.NoError(s.t, json.NewDecoder(r.Body).Decode(&req))
		status, body := s.pull(&req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		require.NoError(s.t, json.NewEncoder(w).Encode(body))
	})
	mux.HandleFunc("/sync/push", func(w http.ResponseWriter, r *http.Request) {
		var req presync.PushRequest
		require.NoError(s.t, json.NewDecoder(r.Body).Decode(&req))
		s.pushSeen = append(s.pushSeen, &req)
		status, body := s.push(&req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		require.NoError(s.t, json.NewEncoder(w).Encode(body))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func emptyPull(req *presync.PullRequest) (int, any) {
	return http.StatusOK, &presync.PullResponse{Trips: []presync.Trip{}}
}

func TestSyncOnce_PullAppliesServerChanges(t *testing.T) {
	db := openTestDB(t)
	loc := "Paris"
	deleted := time.Now().UTC()

	srv := &syncServer{
		pull: func(req *presync.PullRequest) (int, any) {
			require.NotNil(t, req.LastSyncVersion)
			require.EqualValues(t, 0, *req.LastSyncVersion)
			dark := "dark"
			return http.StatusOK, &presync.PullResponse{
				SyncVersion: 4,
				Trips: []presync.Trip{
					{ID: "t1", UserID: "user-1", DepartureDate: "2024-01-10", ReturnDate: "2024-01-20",
						Location: &loc, SyncVersion: 3},
					{ID: "t2", UserID: "user-1", DepartureDate: "2024-02-01", ReturnDate: "2024-02-02",
						SyncVersion: 4, DeletedAt: &deleted},
				},
				UserSettings: &presync.UserSettings{UserID: "user-1", Theme: &dark, SyncVersion: 4},
			}
		},
		push: func(req *presync.PushRequest) (int, any) {
			t.Fatal("no push expected with an empty queue")
			return 0, nil
		},
	}
	srv.t = t
	ts := srv.start(t)

	client := newTestClient(t, db, ts.URL)
	outcome, err := client.SyncOnce(context.Background(), PushOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, outcome.PulledTrips)
	require.True(t, outcome.PulledSettings)

	var status string
	var version int64
	require.NoError(t, db.QueryRow(
		`SELECT sync_status, sync_version FROM trips WHERE id = 't1'`).Scan(&status, &version))
	require.Equal(t, presync.SyncStatusSynced, status)
	require.EqualValues(t, 3, version)

	// The tombstoned trip is removed from the local mirror.
	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM trips WHERE id = 't2'`).Scan(&count))
	require.Equal(t, 0, count)

	var theme string
	require.NoError(t, db.QueryRow(
		`SELECT theme FROM user_settings WHERE user_id = 'user-1'`).Scan(&theme))
	require.Equal(t, "dark", theme)

	baseline, err := client.lastSyncVersion(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 4, baseline)
}

func TestSyncOnce_PushDrainsQueueOnSuccess(t *testing.T) {
	db := openTestDB(t)
	srv := &syncServer{
		pull: emptyPull,
		push: func(req *presync.PushRequest) (int, any) {
			return http.StatusOK, &presync.PushResponse{
				SyncVersion:    req.SyncVersion,
				SyncedEntities: presync.SyncedEntities{Trips: len(req.Trips), DeletedTrips: len(req.DeletedTripIDs)},
			}
		},
	}
	srv.t = t
	ts := srv.start(t)
	client := newTestClient(t, db, ts.URL)
	ctx := context.Background()

	trip := &presync.Trip{DepartureDate: "2024-01-10", ReturnDate: "2024-01-20"}
	require.NoError(t, client.SaveTrip(ctx, trip))
	doomed := &presync.Trip{DepartureDate: "2024-03-01", ReturnDate: "2024-03-05"}
	require.NoError(t, client.SaveTrip(ctx, doomed))
	require.NoError(t, client.DeleteTrip(ctx, doomed.ID))

	outcome, err := client.SyncOnce(ctx, PushOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, outcome.PushedTrips)
	require.Equal(t, 1, outcome.DeletedTrips)

	size, err := client.QueueSize(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, size)

	var status string
	require.NoError(t, db.QueryRow(
		`SELECT sync_status FROM trips WHERE id = ?`, trip.ID).Scan(&status))
	require.Equal(t, presync.SyncStatusSynced, status)

	require.Len(t, srv.pushSeen, 1)
	require.Len(t, srv.pushSeen[0].Trips, 1)
	require.Equal(t, []string{doomed.ID}, srv.pushSeen[0].DeletedTripIDs)
	require.EqualValues(t, 1, srv.pushSeen[0].SyncVersion, "claimed version is baseline+1")
}

func TestSyncOnce_FullConflictKeepsQueueIntact(t *testing.T) {
	db := openTestDB(t)
	srv := &syncServer{
		pull: emptyPull,
		push: func(req *presync.PushRequest) (int, any) {
			return http.StatusConflict, &presync.ConflictResponse{
				Error: presync.CodeSyncConflict,
				Conflicts: []presync.SyncConflict{
					{EntityType: presync.EntityTrip, EntityID: req.Trips[0].ID,
						ConflictType: presync.ConflictUpdateUpdate},
				},
			}
		},
	}
	srv.t = t
	ts := srv.start(t)
	client := newTestClient(t, db, ts.URL)
	ctx := context.Background()

	trip := &presync.Trip{DepartureDate: "2024-01-10", ReturnDate: "2024-01-20"}
	require.NoError(t, client.SaveTrip(ctx, trip))

	outcome, err := client.SyncOnce(ctx, PushOptions{})
	require.NoError(t, err)
	require.Len(t, outcome.Conflicts, 1)
	require.False(t, outcome.PartialConflict)

	// Nothing was applied server-side, so nothing is drained or retried.
	ops, err := client.GetQueueItems(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, 0, ops[0].RetryCount)

	baseline, err := client.lastSyncVersion(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, baseline)
}

func TestSyncOnce_PartialConflictDrainsCleanSubset(t *testing.T) {
	db := openTestDB(t)
	srv := &syncServer{
		pull: emptyPull,
		push: func(req *presync.PushRequest) (int, any) {
			synced := presync.SyncedEntities{Trips: 1}
			return http.StatusConflict, &presync.ConflictResponse{
				Error:          presync.CodeSyncPartialConflict,
				SyncedEntities: &synced,
				Conflicts: []presync.SyncConflict{
					{EntityType: presync.EntityTrip, EntityID: req.Trips[0].ID,
						ConflictType: presync.ConflictUpdateUpdate},
				},
			}
		},
	}
	srv.t = t
	ts := srv.start(t)
	client := newTestClient(t, db, ts.URL)
	ctx := context.Background()

	conflicted := &presync.Trip{DepartureDate: "2024-01-10", ReturnDate: "2024-01-20"}
	require.NoError(t, client.SaveTrip(ctx, conflicted))
	clean := &presync.Trip{DepartureDate: "2024-02-01", ReturnDate: "2024-02-05"}
	require.NoError(t, client.SaveTrip(ctx, clean))

	outcome, err := client.SyncOnce(ctx, PushOptions{ApplyNonConflicting: true})
	require.NoError(t, err)
	require.True(t, outcome.PartialConflict)
	require.Len(t, outcome.Conflicts, 1)
	require.Equal(t, 1, outcome.PushedTrips)

	ops, err := client.GetQueueItems(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ops, 1, "only the conflicted entity stays queued")
	require.Equal(t, conflicted.ID, ops[0].EntityID)

	var status string
	require.NoError(t, db.QueryRow(
		`SELECT sync_status FROM trips WHERE id = ?`, clean.ID).Scan(&status))
	require.Equal(t, presync.SyncStatusSynced, status)
}

func TestSyncOnce_ServerErrorBumpsRetryCounts(t *testing.T) {
	db := openTestDB(t)
	srv := &syncServer{
		pull: emptyPull,
		push: func(req *presync.PushRequest) (int, any) {
			return http.StatusInternalServerError, &presync.ErrorResponse{Error: "push_failed"}
		},
	}
	srv.t = t
	ts := srv.start(t)
	client := newTestClient(t, db, ts.URL)
	ctx := context.Background()

	trip := &presync.Trip{DepartureDate: "2024-01-10", ReturnDate: "2024-01-20"}
	require.NoError(t, client.SaveTrip(ctx, trip))

	for i := 1; i <= MaxRetryCount; i++ {
		_, err := client.SyncOnce(ctx, PushOptions{})
		require.Error(t, err)
	}

	// After the ceiling the operation is abandoned, not deleted.
	ops, err := client.GetQueueItems(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, ops)
	failed, err := client.FailedOperations(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	// The next pass has nothing to send and succeeds quietly.
	outcome, err := client.SyncOnce(ctx, PushOptions{})
	require.NoError(t, err)
	require.Equal(t, 0, outcome.PushedTrips)
}

func TestPull_SkipsEntitiesWithPendingLocalEdits(t *testing.T) {
	db := openTestDB(t)
	srv := &syncServer{
		pull: emptyPull,
		push: func(req *presync.PushRequest) (int, any) {
			return http.StatusOK, &presync.PushResponse{SyncVersion: req.SyncVersion}
		},
	}
	srv.t = t

	client := newTestClient(t, db, "http://placeholder")
	ctx := context.Background()

	trip := &presync.Trip{DepartureDate: "2024-01-10", ReturnDate: "2024-01-20"}
	require.NoError(t, client.SaveTrip(ctx, trip))

	srv.pull = func(req *presync.PullRequest) (int, any) {
		return http.StatusOK, &presync.PullResponse{
			SyncVersion: 9,
			Trips: []presync.Trip{
				{ID: trip.ID, UserID: "user-1", DepartureDate: "2024-05-01",
					ReturnDate: "2024-05-02", SyncVersion: 9},
			},
		}
	}
	ts := srv.start(t)
	client.BaseURL = ts.URL

	outcome, err := client.SyncOnce(ctx, PushOptions{})
	require.NoError(t, err)
	require.Equal(t, 0, outcome.PulledTrips, "pending local edit shields the row from pull overwrite")

	var departure string
	require.NoError(t, db.QueryRow(
		`SELECT departure_date FROM trips WHERE id = ?`, trip.ID).Scan(&departure))
	require.Equal(t, "2024-01-10", departure)
}
