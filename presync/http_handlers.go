// Copyright 2025 Fabian Lopez
// SPDX-License-Identifier: Apache-2.0

package presync

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// ClientAuthenticator extracts user and device identity from HTTP requests.
// Implementations validate auth (e.g. JWT) and provide both identifiers; the
// sync core trusts the userId it receives.
type ClientAuthenticator interface {
	GetUserID(r *http.Request) (string, error)
	GetDeviceID(r *http.Request) (string, error)
}

// HTTPSyncHandlers provides HTTP handlers for the sync API.
type HTTPSyncHandlers struct {
	service       *SyncService
	authenticator ClientAuthenticator
	logger        *slog.Logger
}

// NewHTTPSyncHandlers creates a new instance of sync handlers.
func NewHTTPSyncHandlers(service *SyncService, authenticator ClientAuthenticator, logger *slog.Logger) *HTTPSyncHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSyncHandlers{
		service:       service,
		authenticator: authenticator,
		logger:        logger,
	}
}

// HandlePull serves POST /sync/pull.
func (h *HTTPSyncHandlers) HandlePull(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST method is allowed")
		return
	}

	userID, err := h.authenticator.GetUserID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}

	body, result := h.readAndGuard(w, r)
	if result != nil {
		return
	}

	var pullReq PullRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &pullReq); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse pull request")
			return
		}
	}

	response, err := h.service.ProcessPull(r.Context(), userID, &pullReq)
	if err != nil {
		h.logger.Error("Failed to process pull", "error", err, "user_id", userID)
		h.writeError(w, http.StatusInternalServerError, "pull_failed", "Failed to process pull")
		return
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandlePush serves POST /sync/push.
func (h *HTTPSyncHandlers) HandlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST method is allowed")
		return
	}

	userID, err := h.authenticator.GetUserID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}
	deviceID, err := h.authenticator.GetDeviceID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}

	body, guarded := h.readAndGuard(w, r)
	if guarded != nil {
		return
	}

	var pushReq PushRequest
	if err := json.Unmarshal(body, &pushReq); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse push request")
		return
	}

	result, err := h.service.ProcessPush(r.Context(), userID, deviceID, &pushReq)
	if err != nil {
		h.writePushError(w, userID, deviceID, err)
		return
	}

	if result.HasConflicts {
		resp := ConflictResponse{
			Error:     result.ErrorCode,
			Conflicts: result.Conflicts,
		}
		if result.ErrorCode == CodeSyncPartialConflict {
			synced := result.SyncedEntities
			resp.SyncedEntities = &synced
		}
		h.writeJSON(w, result.StatusCode, resp)
		return
	}

	h.writeJSON(w, result.StatusCode, result.Response)
}

// readAndGuard reads the request body and applies the structural payload
// guards before anything else runs. A non-nil second return means the
// response has already been written.
func (h *HTTPSyncHandlers) readAndGuard(w http.ResponseWriter, r *http.Request) ([]byte, *ValidationResult) {
	limits := h.service.Config().PayloadLimits
	r.Body = http.MaxBytesReader(w, r.Body, int64(limits.MaxPayloadBytes)+1)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			res := ValidationResult{TooLarge: true}
			h.writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Payload exceeds size limit")
			return nil, &res
		}
		res := ValidationResult{Error: "failed to read request body"}
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to read request body")
		return nil, &res
	}
	if len(body) == 0 {
		return body, nil
	}

	if result := ValidatePayload(body, limits); !result.IsValid {
		if result.TooLarge {
			h.writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", result.Error)
		} else {
			h.writeError(w, http.StatusBadRequest, "validation_failed", result.Error)
		}
		return nil, &result
	}
	return body, nil
}

// writePushError maps service error sentinels to HTTP statuses.
func (h *HTTPSyncHandlers) writePushError(w http.ResponseWriter, userID, deviceID string, err error) {
	switch {
	case errors.Is(err, ErrForbidden):
		h.logger.Warn("Push rejected: ownership violation",
			"user_id", userID, "device_id", deviceID, "error", err)
		h.writeError(w, http.StatusForbidden, "forbidden", "Entity does not belong to requesting user")
	case errors.Is(err, ErrPayloadTooLarge):
		h.writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, ErrDateRange):
		h.writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	default:
		h.logger.Error("Failed to process push", "error", err, "user_id", userID, "device_id", deviceID)
		h.writeError(w, http.StatusInternalServerError, "push_failed", "Failed to process push")
	}
}

func (h *HTTPSyncHandlers) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// writeError writes a standardized error response.
func (h *HTTPSyncHandlers) writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: errorCode, Message: message})

	h.logger.Debug("HTTP error response",
		"status_code", statusCode,
		"error_code", errorCode,
		"message", message)
}
