// Copyright 2025 Fabian Lopez
// SPDX-License-Identifier: Apache-2.0

package presync

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type staticAuth struct {
	userID   string
	deviceID string
	err      error
}

func (a *staticAuth) GetUserID(r *http.Request) (string, error)   { return a.userID, a.err }
func (a *staticAuth) GetDeviceID(r *http.Request) (string, error) { return a.deviceID, a.err }

func testHandlers(auth ClientAuthenticator) *HTTPSyncHandlers {
	svc := testService(100)
	return NewHTTPSyncHandlers(svc, auth, nil)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp
}

func TestHandlePush_MethodNotAllowed(t *testing.T) {
	h := testHandlers(&staticAuth{userID: "user", deviceID: "device"})
	rec := httptest.NewRecorder()
	h.HandlePush(rec, httptest.NewRequest(http.MethodGet, "/sync/push", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHandlePush_Unauthorized(t *testing.T) {
	h := testHandlers(&staticAuth{err: errors.New("bad token")})
	rec := httptest.NewRecorder()
	h.HandlePush(rec, httptest.NewRequest(http.MethodPost, "/sync/push", strings.NewReader("{}")))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error != "authentication_failed" {
		t.Fatalf("expected authentication_failed, got %q", resp.Error)
	}
}

func TestHandlePush_MalformedJSON(t *testing.T) {
	h := testHandlers(&staticAuth{userID: "user", deviceID: "device"})
	rec := httptest.NewRecorder()
	h.HandlePush(rec, httptest.NewRequest(http.MethodPost, "/sync/push", strings.NewReader(`{"trips": [`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandlePush_DangerousPayloadRejected(t *testing.T) {
	h := testHandlers(&staticAuth{userID: "user", deviceID: "device"})
	rec := httptest.NewRecorder()
	body := `{"syncVersion": 1, "trips": [{"__proto__": {"admin": true}}]}`
	h.HandlePush(rec, httptest.NewRequest(http.MethodPost, "/sync/push", strings.NewReader(body)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Message != "potentially malicious payload" {
		t.Fatalf("expected malicious-payload message, got %q", resp.Message)
	}
}

func TestHandlePush_OversizedBodyIs413(t *testing.T) {
	svc := testService(100)
	svc.config.PayloadLimits = PayloadLimits{MaxPayloadBytes: 64}.withDefaults()
	h := NewHTTPSyncHandlers(svc, &staticAuth{userID: "user", deviceID: "device"}, nil)

	rec := httptest.NewRecorder()
	body := `{"syncVersion":1,"trips":[{"location":"` + strings.Repeat("x", 200) + `"}]}`
	h.HandlePush(rec, httptest.NewRequest(http.MethodPost, "/sync/push", strings.NewReader(body)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error != "payload_too_large" {
		t.Fatalf("expected payload_too_large, got %q", resp.Error)
	}
}

func TestHandlePush_DateRangeErrorIs400(t *testing.T) {
	h := testHandlers(&staticAuth{userID: "user", deviceID: "device"})
	rec := httptest.NewRecorder()
	body := `{"syncVersion":1,"trips":[{"id":"t1","departureDate":"2024-01-20","returnDate":"2024-01-10"}]}`
	h.HandlePush(rec, httptest.NewRequest(http.MethodPost, "/sync/push", strings.NewReader(body)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error != "validation_failed" {
		t.Fatalf("expected validation_failed, got %q", resp.Error)
	}
}

func TestHandlePush_ForeignEntityIs403(t *testing.T) {
	h := testHandlers(&staticAuth{userID: "user", deviceID: "device"})
	rec := httptest.NewRecorder()
	body := `{"syncVersion":1,"trips":[{"id":"t1","userId":"other","departureDate":"2024-01-01","returnDate":"2024-01-02"}]}`
	h.HandlePush(rec, httptest.NewRequest(http.MethodPost, "/sync/push", strings.NewReader(body)))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error != "forbidden" {
		t.Fatalf("expected forbidden, got %q", resp.Error)
	}
}

func TestHandlePull_MethodNotAllowed(t *testing.T) {
	h := testHandlers(&staticAuth{userID: "user"})
	rec := httptest.NewRecorder()
	h.HandlePull(rec, httptest.NewRequest(http.MethodGet, "/sync/pull", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHandlePull_Unauthorized(t *testing.T) {
	h := testHandlers(&staticAuth{err: errors.New("expired")})
	rec := httptest.NewRecorder()
	h.HandlePull(rec, httptest.NewRequest(http.MethodPost, "/sync/pull", strings.NewReader("{}")))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
