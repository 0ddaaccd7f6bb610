// Copyright 2025 Fabian Lopez
// SPDX-License-Identifier: Apache-2.0

package presync

import "errors"

// Error sentinels for mapping service failures to HTTP responses.
// Conflicts are never errors - they are regular PushResult outcomes.
var (
	// ErrValidation covers malformed, oversized-field or dangerous payloads.
	// Always recoverable: the client must fix the payload and resubmit.
	ErrValidation = errors.New("validation_failed")

	// ErrPayloadTooLarge is raised when the serialized payload exceeds the
	// configured byte cap. Maps to HTTP 413.
	ErrPayloadTooLarge = errors.New("payload_too_large")

	// ErrDateRange is raised when returnDate precedes departureDate.
	ErrDateRange = errors.New("invalid_date_range")

	// ErrForbidden signals a cross-user tampering attempt. The request is
	// rejected before any write. Maps to HTTP 403.
	ErrForbidden = errors.New("forbidden")
)
