// Copyright 2025 Fabian Lopez
// SPDX-License-Identifier: Apache-2.0

package presync

import "time"

// Database entity models for the PostgreSQL tables.

// TripRecord represents a row in the trips table.
type TripRecord struct {
	ID            string     `db:"id"`             // UUID as string
	UserID        string     `db:"user_id"`        // Owning user (from JWT sub)
	DepartureDate string     `db:"departure_date"` // YYYY-MM-DD
	ReturnDate    string     `db:"return_date"`    // YYYY-MM-DD
	Location      *string    `db:"location"`
	IsSimulated   bool       `db:"is_simulated"`
	SyncID        *string    `db:"sync_id"`
	DeviceID      *string    `db:"device_id"`
	SyncVersion   int64      `db:"sync_version"` // Authoritative version counter
	SyncStatus    string     `db:"sync_status"`
	DeletedAt     *time.Time `db:"deleted_at"` // Soft-delete marker, never hard-deleted by sync
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

// SettingsRecord represents a row in the user_settings table (one per user).
type SettingsRecord struct {
	UserID               string    `db:"user_id"`
	NotifyMilestones     bool      `db:"notify_milestones"`
	NotifyWarnings       bool      `db:"notify_warnings"`
	NotifyReminders      bool      `db:"notify_reminders"`
	BiometricAuthEnabled bool      `db:"biometric_auth_enabled"`
	Theme                string    `db:"theme"`
	Language             string    `db:"language"`
	SyncVersion          int64     `db:"sync_version"`
	DeviceID             *string   `db:"device_id"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`
}

// ToWire converts a stored trip to its wire representation.
func (r *TripRecord) ToWire() Trip {
	return Trip{
		ID:            r.ID,
		UserID:        r.UserID,
		DepartureDate: r.DepartureDate,
		ReturnDate:    r.ReturnDate,
		Location:      r.Location,
		IsSimulated:   r.IsSimulated,
		SyncID:        r.SyncID,
		DeviceID:      r.DeviceID,
		SyncVersion:   r.SyncVersion,
		SyncStatus:    SyncStatusSynced,
		DeletedAt:     r.DeletedAt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// ToWire converts stored settings to their wire representation.
func (r *SettingsRecord) ToWire() UserSettings {
	milestones := r.NotifyMilestones
	warnings := r.NotifyWarnings
	reminders := r.NotifyReminders
	biometric := r.BiometricAuthEnabled
	theme := r.Theme
	language := r.Language
	return UserSettings{
		UserID: r.UserID,
		Notifications: &NotificationSettings{
			Milestones: &milestones,
			Warnings:   &warnings,
			Reminders:  &reminders,
		},
		BiometricAuthEnabled: &biometric,
		Theme:                &theme,
		Language:             &language,
		SyncVersion:          r.SyncVersion,
		DeviceID:             r.DeviceID,
		UpdatedAt:            r.UpdatedAt,
	}
}
