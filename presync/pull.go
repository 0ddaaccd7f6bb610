// Copyright 2025 Fabian Lopez
// SPDX-License-Identifier: Apache-2.0

package presync

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const tripColumns = `id, user_id, departure_date, return_date, location, is_simulated,
	sync_id, device_id, sync_version, sync_status, deleted_at, created_at, updated_at`

// ProcessPull fetches entities changed since the client's last known version,
// scoped to the requesting user. When the trip page is capped, hasMore is set
// and settings are withheld so clients never adopt partially-synced settings
// while trips are still incomplete.
func (s *SyncService) ProcessPull(ctx context.Context, userID string, req *PullRequest) (*PullResponse, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	if req == nil {
		req = &PullRequest{}
	}

	var since int64
	if req.LastSyncVersion != nil {
		since = *req.LastSyncVersion
	}

	wantTrips, wantSettings := entityTypeFilter(req.EntityTypes)

	resp := &PullResponse{Trips: []Trip{}}

	if wantTrips {
		trips, hasMore, err := s.fetchTripsSince(ctx, userID, since)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch trips: %w", err)
		}
		resp.Trips = trips
		resp.HasMore = hasMore
	}

	// The new client baseline is the max version among returned trips, or the
	// user's global version when the trip page is empty.
	if len(resp.Trips) > 0 {
		for _, t := range resp.Trips {
			if t.SyncVersion > resp.SyncVersion {
				resp.SyncVersion = t.SyncVersion
			}
		}
	} else {
		version, err := s.globalSyncVersion(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to compute sync version: %w", err)
		}
		resp.SyncVersion = version
	}

	if wantSettings && !resp.HasMore {
		settings, err := s.fetchSettings(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch settings: %w", err)
		}
		if settings != nil && settings.SyncVersion > since {
			wire := settings.ToWire()
			resp.UserSettings = &wire
		}
	}

	return resp, nil
}

// entityTypeFilter interprets the optional entityTypes request field. An
// empty list means every entity type.
func entityTypeFilter(types []string) (trips, settings bool) {
	if len(types) == 0 {
		return true, true
	}
	for _, t := range types {
		switch t {
		case EntityTrip:
			trips = true
		case EntityUserSettings:
			settings = true
		}
	}
	return trips, settings
}

// fetchTripsSince returns one page of the user's trips with version greater
// than since, ordered by version. Fetches one extra row to detect pagination.
func (s *SyncService) fetchTripsSince(ctx context.Context, userID string, since int64) ([]Trip, bool, error) {
	limit := s.config.MaxPullPageSize
	rows, err := s.pool.Query(ctx, `
		SELECT `+tripColumns+`
		FROM trips
		WHERE user_id = $1 AND sync_version > $2
		ORDER BY sync_version, id
		LIMIT $3`, userID, since, limit+1)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var records []TripRecord
	for rows.Next() {
		var r TripRecord
		if err := scanTrip(rows, &r); err != nil {
			return nil, false, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(records) > limit
	if hasMore {
		records = records[:limit]
	}

	trips := make([]Trip, 0, len(records))
	for i := range records {
		trips = append(trips, records[i].ToWire())
	}
	return trips, hasMore, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner, r *TripRecord) error {
	return row.Scan(
		&r.ID, &r.UserID, &r.DepartureDate, &r.ReturnDate, &r.Location, &r.IsSimulated,
		&r.SyncID, &r.DeviceID, &r.SyncVersion, &r.SyncStatus, &r.DeletedAt, &r.CreatedAt, &r.UpdatedAt,
	)
}

// fetchSettings loads the user's settings row, or nil when none exists.
func (s *SyncService) fetchSettings(ctx context.Context, userID string) (*SettingsRecord, error) {
	var r SettingsRecord
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, notify_milestones, notify_warnings, notify_reminders,
		       biometric_auth_enabled, theme, language, sync_version, device_id,
		       created_at, updated_at
		FROM user_settings
		WHERE user_id = $1`, userID).Scan(
		&r.UserID, &r.NotifyMilestones, &r.NotifyWarnings, &r.NotifyReminders,
		&r.BiometricAuthEnabled, &r.Theme, &r.Language, &r.SyncVersion, &r.DeviceID,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}
