// Copyright 2025 Fabian Lopez
// SPDX-License-Identifier: Apache-2.0

package presync

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ProcessPush applies a client's accumulated local changes. Validation and
// authorization run before any transaction opens; conflict detection runs
// before the write phase so conflicts never cause a rollback - they shrink
// the transaction (applyNonConflicting) or prevent it entirely.
func (s *SyncService) ProcessPush(ctx context.Context, userID, deviceID string, req *PushRequest) (*PushResult, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("%w: missing push request", ErrValidation)
	}

	// Fail fast on oversized batches before any per-entity validation cost.
	// Trips and deletions are capped independently.
	if len(req.Trips) > s.config.MaxBatchSize {
		return nil, fmt.Errorf("%w: batch too large: trips=%d limit=%d",
			ErrValidation, len(req.Trips), s.config.MaxBatchSize)
	}
	if len(req.DeletedTripIDs) > s.config.MaxBatchSize {
		return nil, fmt.Errorf("%w: batch too large: deletedTripIds=%d limit=%d",
			ErrValidation, len(req.DeletedTripIDs), s.config.MaxBatchSize)
	}

	// Cross-user tampering is rejected before the database is touched.
	for i := range req.Trips {
		if req.Trips[i].UserID != "" && req.Trips[i].UserID != userID {
			return nil, fmt.Errorf("%w: trip %s does not belong to requesting user", ErrForbidden, req.Trips[i].ID)
		}
	}
	if req.UserSettings != nil && req.UserSettings.UserID != "" && req.UserSettings.UserID != userID {
		return nil, fmt.Errorf("%w: settings do not belong to requesting user", ErrForbidden)
	}

	// Normalize trip dates up front; a malformed date fails the whole push
	// with zero side effects.
	for i := range req.Trips {
		dep, ret, err := SanitizeTripDates(req.Trips[i].DepartureDate, req.Trips[i].ReturnDate)
		if err != nil {
			return nil, fmt.Errorf("trip %s: %w", req.Trips[i].ID, err)
		}
		req.Trips[i].DepartureDate = dep
		req.Trips[i].ReturnDate = ret
	}

	storedTrips, err := s.loadTripsByID(ctx, collectTripIDs(req))
	if err != nil {
		return nil, fmt.Errorf("failed to load server trips: %w", err)
	}
	// Records owned by another user must never be written, even on overwrite.
	for _, rec := range storedTrips {
		if rec.UserID != userID {
			return nil, fmt.Errorf("%w: trip %s does not belong to requesting user", ErrForbidden, rec.ID)
		}
	}

	var storedSettings *SettingsRecord
	if req.UserSettings != nil {
		storedSettings, err = s.fetchSettings(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to load server settings: %w", err)
		}
	}

	plan := buildApplyPlan(req, storedTrips, storedSettings)

	if plan.hasConflicts() && !req.ApplyNonConflicting {
		s.logger.Info("Push rejected with conflicts",
			"user_id", userID, "device_id", deviceID, "conflicts", len(plan.conflicts))
		return conflictResult(plan.conflicts), nil
	}

	synced, err := s.applyPlan(ctx, userID, deviceID, req.SyncVersion, plan)
	if err != nil {
		return nil, fmt.Errorf("failed to apply push transaction: %w", err)
	}

	if plan.hasConflicts() {
		s.logger.Info("Push partially applied",
			"user_id", userID, "device_id", deviceID,
			"trips", synced.Trips, "deleted", synced.DeletedTrips, "conflicts", len(plan.conflicts))
		return partialConflictResult(req.SyncVersion, synced, plan.conflicts), nil
	}

	return successResult(req.SyncVersion, synced), nil
}

// applyPlan is the filtered set of entities that will actually be written,
// together with the conflicts that excluded the rest.
type applyPlan struct {
	trips         []Trip
	settings      *UserSettings
	deletedIDs    []string
	conflicts     []SyncConflict
	settingsMerge *SettingsRecord // Current stored settings for field merge, may be nil
}

func (p *applyPlan) hasConflicts() bool { return len(p.conflicts) > 0 }

// buildApplyPlan runs conflict detection across trips, settings and deletions
// (in that order) and partitions the request into apply/conflict sets. With
// forceOverwrite the detection step is skipped entirely and everything is
// applied as given.
func buildApplyPlan(req *PushRequest, storedTrips map[string]*TripRecord, storedSettings *SettingsRecord) *applyPlan {
	plan := &applyPlan{settingsMerge: storedSettings}

	if req.ForceOverwrite {
		plan.trips = req.Trips
		plan.settings = req.UserSettings
		plan.deletedIDs = req.DeletedTripIDs
		return plan
	}

	for i := range req.Trips {
		incoming := &req.Trips[i]
		if c := DetectTripConflict(incoming, storedTrips[incoming.ID]); c != nil {
			plan.conflicts = append(plan.conflicts, *c)
			continue
		}
		plan.trips = append(plan.trips, *incoming)
	}

	if req.UserSettings != nil {
		if c := DetectSettingsConflict(req.UserSettings, storedSettings); c != nil {
			plan.conflicts = append(plan.conflicts, *c)
		} else {
			plan.settings = req.UserSettings
		}
	}

	// Deletions carry no per-entity base version on the wire; the client's
	// baseline is the claimed version minus one.
	deleteBase := req.SyncVersion - 1
	for _, id := range req.DeletedTripIDs {
		if c := DetectTripDeleteConflict(id, deleteBase, storedTrips[id]); c != nil {
			plan.conflicts = append(plan.conflicts, *c)
			continue
		}
		plan.deletedIDs = append(plan.deletedIDs, id)
	}

	return plan
}

// applyPlan writes the non-conflicting subset inside one transaction: trips
// first, then settings, then deletions, so trip state settles before
// deletions reference it. Any failure rolls back everything.
func (s *SyncService) applyPlan(ctx context.Context, userID, deviceID string, version int64, plan *applyPlan) (SyncedEntities, error) {
	var synced SyncedEntities

	if len(plan.trips) == 0 && plan.settings == nil && len(plan.deletedIDs) == 0 {
		return synced, nil
	}

	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadWrite}, func(tx pgx.Tx) error {
		// Trips are processed in the array order supplied by the client.
		for i := range plan.trips {
			if err := s.upsertTrip(ctx, tx, userID, deviceID, version, &plan.trips[i]); err != nil {
				return fmt.Errorf("failed to apply trip %s: %w", plan.trips[i].ID, err)
			}
			synced.Trips++
		}

		if plan.settings != nil {
			if err := s.upsertSettings(ctx, tx, userID, deviceID, version, plan.settings, plan.settingsMerge); err != nil {
				return fmt.Errorf("failed to apply settings: %w", err)
			}
			synced.UserSettings = true
		}

		if len(plan.deletedIDs) > 0 {
			deleted, err := s.softDeleteTrips(ctx, tx, userID, deviceID, version, plan.deletedIDs)
			if err != nil {
				return fmt.Errorf("failed to apply deletions: %w", err)
			}
			synced.DeletedTrips = deleted
		}

		return nil
	})
	if err != nil {
		return SyncedEntities{}, err
	}
	return synced, nil
}

// upsertTrip writes a trip with the client-supplied version. The user guard
// on the UPDATE branch is a belt against races with ownership changes; the
// pre-transaction check already rejected foreign records.
func (s *SyncService) upsertTrip(ctx context.Context, tx pgx.Tx, userID, deviceID string, version int64, t *Trip) error {
	now := time.Now().UTC()
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO trips (id, user_id, departure_date, return_date, location, is_simulated,
		                   sync_id, device_id, sync_version, sync_status, deleted_at, created_at, updated_at)
		VALUES (@id, @user_id, @departure_date, @return_date, @location, @is_simulated,
		        @sync_id, @device_id, @sync_version, @sync_status, NULL, @created_at, @updated_at)
		ON CONFLICT (id) DO UPDATE SET
			departure_date = EXCLUDED.departure_date,
			return_date    = EXCLUDED.return_date,
			location       = EXCLUDED.location,
			is_simulated   = EXCLUDED.is_simulated,
			sync_id        = EXCLUDED.sync_id,
			device_id      = EXCLUDED.device_id,
			sync_version   = EXCLUDED.sync_version,
			sync_status    = EXCLUDED.sync_status,
			deleted_at     = NULL,
			updated_at     = EXCLUDED.updated_at
		WHERE trips.user_id = @user_id`,
		pgx.NamedArgs{
			"id":             t.ID,
			"user_id":        userID,
			"departure_date": t.DepartureDate,
			"return_date":    t.ReturnDate,
			"location":       t.Location,
			"is_simulated":   t.IsSimulated,
			"sync_id":        t.SyncID,
			"device_id":      deviceID,
			"sync_version":   version,
			"sync_status":    SyncStatusSynced,
			"created_at":     createdAt,
			"updated_at":     now,
		})
	return err
}

// upsertSettings merges incoming settings field-by-field over the stored row
// and writes the result with the client-supplied version.
func (s *SyncService) upsertSettings(ctx context.Context, tx pgx.Tx, userID, deviceID string, version int64, incoming *UserSettings, stored *SettingsRecord) error {
	merged := mergeSettings(userID, incoming, stored)
	now := time.Now().UTC()
	_, err := tx.Exec(ctx, `
		INSERT INTO user_settings (user_id, notify_milestones, notify_warnings, notify_reminders,
		                           biometric_auth_enabled, theme, language, sync_version, device_id,
		                           created_at, updated_at)
		VALUES (@user_id, @notify_milestones, @notify_warnings, @notify_reminders,
		        @biometric_auth_enabled, @theme, @language, @sync_version, @device_id,
		        @now, @now)
		ON CONFLICT (user_id) DO UPDATE SET
			notify_milestones      = EXCLUDED.notify_milestones,
			notify_warnings        = EXCLUDED.notify_warnings,
			notify_reminders       = EXCLUDED.notify_reminders,
			biometric_auth_enabled = EXCLUDED.biometric_auth_enabled,
			theme                  = EXCLUDED.theme,
			language               = EXCLUDED.language,
			sync_version           = EXCLUDED.sync_version,
			device_id              = EXCLUDED.device_id,
			updated_at             = EXCLUDED.updated_at`,
		pgx.NamedArgs{
			"user_id":                userID,
			"notify_milestones":      merged.NotifyMilestones,
			"notify_warnings":        merged.NotifyWarnings,
			"notify_reminders":       merged.NotifyReminders,
			"biometric_auth_enabled": merged.BiometricAuthEnabled,
			"theme":                  merged.Theme,
			"language":               merged.Language,
			"sync_version":           version,
			"device_id":              deviceID,
			"now":                    now,
		})
	return err
}

// mergeSettings overlays the fields the client actually sent onto the stored
// record. Absent fields keep their server values; a missing stored record
// starts from defaults.
func mergeSettings(userID string, incoming *UserSettings, stored *SettingsRecord) SettingsRecord {
	merged := SettingsRecord{
		UserID:           userID,
		NotifyMilestones: true,
		NotifyWarnings:   true,
		NotifyReminders:  true,
		Theme:            "system",
		Language:         "en",
	}
	if stored != nil {
		merged = *stored
	}
	if n := incoming.Notifications; n != nil {
		if n.Milestones != nil {
			merged.NotifyMilestones = *n.Milestones
		}
		if n.Warnings != nil {
			merged.NotifyWarnings = *n.Warnings
		}
		if n.Reminders != nil {
			merged.NotifyReminders = *n.Reminders
		}
	}
	if incoming.BiometricAuthEnabled != nil {
		merged.BiometricAuthEnabled = *incoming.BiometricAuthEnabled
	}
	if incoming.Theme != nil {
		merged.Theme = *incoming.Theme
	}
	if incoming.Language != nil {
		merged.Language = *incoming.Language
	}
	return merged
}

// softDeleteTrips marks trips deleted without removing rows. The sync path
// never hard-deletes. Returns the number of rows actually transitioned.
func (s *SyncService) softDeleteTrips(ctx context.Context, tx pgx.Tx, userID, deviceID string, version int64, ids []string) (int, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE trips
		SET deleted_at = @now, sync_version = @sync_version, device_id = @device_id, updated_at = @now
		WHERE id = ANY(@ids) AND user_id = @user_id AND deleted_at IS NULL`,
		pgx.NamedArgs{
			"now":          time.Now().UTC(),
			"sync_version": version,
			"device_id":    deviceID,
			"ids":          ids,
			"user_id":      userID,
		})
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// loadTripsByID fetches the authoritative records for every trip id touched
// by a push, keyed by id. Ownership is checked by the caller.
func (s *SyncService) loadTripsByID(ctx context.Context, ids []string) (map[string]*TripRecord, error) {
	records := make(map[string]*TripRecord, len(ids))
	if len(ids) == 0 {
		return records, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+tripColumns+`
		FROM trips
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var r TripRecord
		if err := scanTrip(rows, &r); err != nil {
			return nil, err
		}
		records[r.ID] = &r
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func collectTripIDs(req *PushRequest) []string {
	seen := make(map[string]bool, len(req.Trips)+len(req.DeletedTripIDs))
	ids := make([]string, 0, len(req.Trips)+len(req.DeletedTripIDs))
	for i := range req.Trips {
		if !seen[req.Trips[i].ID] {
			seen[req.Trips[i].ID] = true
			ids = append(ids, req.Trips[i].ID)
		}
	}
	for _, id := range req.DeletedTripIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
