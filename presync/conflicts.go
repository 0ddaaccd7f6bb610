// Copyright 2025 Fabian Lopez
// SPDX-License-Identifier: Apache-2.0

package presync

import (
	"encoding/json"
	"time"
)

// Conflict detection compares incoming client versions against the
// authoritative server records. All functions here are pure: no I/O, no
// writes - the orchestrator loads the server state and feeds it in.
//
// The version rule is strict-greater: serverVersion <= baseVersion means the
// server has not moved since the client's last known state, so an idempotent
// resubmission of the same base never produces a false conflict.

// tripDiffFields is the field set compared for trip update conflicts.
// departureDate, returnDate, location, isSimulated.

// DetectTripConflict classifies an incoming trip mutation against the stored
// record. A nil result means no conflict. The base version is the incoming
// record's own syncVersion (0 if the client never synced it).
func DetectTripConflict(incoming *Trip, stored *TripRecord) *SyncConflict {
	if stored == nil {
		return nil // New entity, nothing to conflict with.
	}

	if stored.DeletedAt != nil {
		// Client is modifying something the server considers gone.
		return &SyncConflict{
			EntityType:    EntityTrip,
			EntityID:      incoming.ID,
			ConflictType:  ConflictDeleteUpdate,
			ServerVersion: marshalServerRecord(stored.ToWire()),
			LocalVersion:  tripEntityVersion(incoming),
		}
	}

	if stored.SyncVersion <= incoming.SyncVersion {
		return nil
	}

	return &SyncConflict{
		EntityType:        EntityTrip,
		EntityID:          incoming.ID,
		ConflictType:      ConflictUpdateUpdate,
		ConflictingFields: tripConflictingFields(incoming, stored),
		ServerVersion:     marshalServerRecord(stored.ToWire()),
		LocalVersion:      tripEntityVersion(incoming),
		RemoteVersion:     storedTripEntityVersion(stored),
	}
}

// DetectTripDeleteConflict classifies a deletion request. The stored record
// must exist, not already be deleted, and have moved past the client's base
// version for a conflict to arise. Only the remote side is reported - the
// client has no payload for a delete.
func DetectTripDeleteConflict(tripID string, baseVersion int64, stored *TripRecord) *SyncConflict {
	if stored == nil || stored.DeletedAt != nil {
		return nil // Missing or already deleted: the delete is a no-op, not a conflict.
	}
	if stored.SyncVersion <= baseVersion {
		return nil
	}
	return &SyncConflict{
		EntityType:    EntityTrip,
		EntityID:      tripID,
		ConflictType:  ConflictDeleteUpdate,
		ServerVersion: marshalServerRecord(stored.ToWire()),
		RemoteVersion: storedTripEntityVersion(stored),
	}
}

// DetectSettingsConflict applies the same version rule to the per-user
// settings singleton. Settings are never deleted, so only update_update can
// arise.
func DetectSettingsConflict(incoming *UserSettings, stored *SettingsRecord) *SyncConflict {
	if stored == nil {
		return nil
	}
	if stored.SyncVersion <= incoming.SyncVersion {
		return nil
	}
	return &SyncConflict{
		EntityType:        EntityUserSettings,
		EntityID:          stored.UserID,
		ConflictType:      ConflictUpdateUpdate,
		ConflictingFields: settingsConflictingFields(incoming, stored),
		ServerVersion:     marshalServerRecord(stored.ToWire()),
		LocalVersion:      settingsEntityVersion(incoming),
		RemoteVersion:     storedSettingsEntityVersion(stored),
	}
}

// tripConflictingFields computes the set of compared trip fields where the
// incoming value differs from the stored one.
func tripConflictingFields(incoming *Trip, stored *TripRecord) []string {
	var fields []string
	if incoming.DepartureDate != stored.DepartureDate {
		fields = append(fields, "departureDate")
	}
	if incoming.ReturnDate != stored.ReturnDate {
		fields = append(fields, "returnDate")
	}
	if !equalStringPtr(incoming.Location, stored.Location) {
		fields = append(fields, "location")
	}
	if incoming.IsSimulated != stored.IsSimulated {
		fields = append(fields, "isSimulated")
	}
	return fields
}

// settingsConflictingFields compares only the fields the client actually
// sent; absent fields cannot conflict because the merge leaves them alone.
func settingsConflictingFields(incoming *UserSettings, stored *SettingsRecord) []string {
	var fields []string
	if n := incoming.Notifications; n != nil {
		if n.Milestones != nil && *n.Milestones != stored.NotifyMilestones {
			fields = append(fields, "notifications.milestones")
		}
		if n.Warnings != nil && *n.Warnings != stored.NotifyWarnings {
			fields = append(fields, "notifications.warnings")
		}
		if n.Reminders != nil && *n.Reminders != stored.NotifyReminders {
			fields = append(fields, "notifications.reminders")
		}
	}
	if incoming.BiometricAuthEnabled != nil && *incoming.BiometricAuthEnabled != stored.BiometricAuthEnabled {
		fields = append(fields, "biometricAuthEnabled")
	}
	if incoming.Theme != nil && *incoming.Theme != stored.Theme {
		fields = append(fields, "theme")
	}
	if incoming.Language != nil && *incoming.Language != stored.Language {
		fields = append(fields, "language")
	}
	return fields
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func marshalServerRecord(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func tripEntityVersion(t *Trip) *EntityVersion {
	ev := &EntityVersion{
		Data:        marshalServerRecord(t),
		SyncVersion: t.SyncVersion,
		ModifiedAt:  modifiedAtOrNow(t.UpdatedAt),
	}
	if t.DeviceID != nil {
		ev.DeviceID = *t.DeviceID
	}
	return ev
}

func storedTripEntityVersion(r *TripRecord) *EntityVersion {
	wire := r.ToWire()
	ev := &EntityVersion{
		Data:        marshalServerRecord(wire),
		SyncVersion: r.SyncVersion,
		ModifiedAt:  r.UpdatedAt,
	}
	if r.DeviceID != nil {
		ev.DeviceID = *r.DeviceID
	}
	return ev
}

func settingsEntityVersion(s *UserSettings) *EntityVersion {
	ev := &EntityVersion{
		Data:        marshalServerRecord(s),
		SyncVersion: s.SyncVersion,
		ModifiedAt:  modifiedAtOrNow(s.UpdatedAt),
	}
	if s.DeviceID != nil {
		ev.DeviceID = *s.DeviceID
	}
	return ev
}

func storedSettingsEntityVersion(r *SettingsRecord) *EntityVersion {
	wire := r.ToWire()
	ev := &EntityVersion{
		Data:        marshalServerRecord(wire),
		SyncVersion: r.SyncVersion,
		ModifiedAt:  r.UpdatedAt,
	}
	if r.DeviceID != nil {
		ev.DeviceID = *r.DeviceID
	}
	return ev
}

// modifiedAtOrNow guards against zero timestamps from clients that omit
// updatedAt on freshly created local records.
func modifiedAtOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
