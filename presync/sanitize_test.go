// Copyright 2025 Fabian Lopez
// SPDX-License-Identifier: Apache-2.0

package presync

import (
	"errors"
	"strings"
	"testing"
)

func TestValidatePayload_AcceptsTypicalPushBody(t *testing.T) {
	body := []byte(`{
		"syncVersion": 3,
		"trips": [{"id": "t1", "departureDate": "2024-01-10", "returnDate": "2024-01-20", "location": "Paris"}],
		"deletedTripIds": ["t2"]
	}`)
	result := ValidatePayload(body, DefaultPayloadLimits())
	if !result.IsValid {
		t.Fatalf("expected valid payload, got error %q", result.Error)
	}
}

func TestValidatePayload_RejectsDepthOverLimit(t *testing.T) {
	// Depth 5 nests fine, depth 6 crosses the default limit.
	nested5 := `{"a":{"b":{"c":{"d":{"e":1}}}}}`
	if result := ValidatePayload([]byte(nested5), DefaultPayloadLimits()); !result.IsValid {
		t.Fatalf("depth 5 must pass, got %q", result.Error)
	}
	nested6 := `{"a":{"b":{"c":{"d":{"e":{"f":1}}}}}}`
	result := ValidatePayload([]byte(nested6), DefaultPayloadLimits())
	if result.IsValid {
		t.Fatal("depth 6 must be rejected")
	}
	if result.TooLarge {
		t.Fatal("depth overflow is a 400-class error, not a size error")
	}
}

func TestValidatePayload_RejectsOversizedString(t *testing.T) {
	ok := `{"location":"` + strings.Repeat("x", 10_000) + `"}`
	if result := ValidatePayload([]byte(ok), DefaultPayloadLimits()); !result.IsValid {
		t.Fatalf("10000-char string must pass, got %q", result.Error)
	}
	over := `{"location":"` + strings.Repeat("x", 10_001) + `"}`
	if result := ValidatePayload([]byte(over), DefaultPayloadLimits()); result.IsValid {
		t.Fatal("10001-char string must be rejected")
	}
}

func TestValidatePayload_RejectsDangerousKeysAnywhere(t *testing.T) {
	cases := []string{
		`{"__proto__": {"isAdmin": true}}`,
		`{"trips": [{"nested": {"constructor": 1}}]}`,
		`{"a": {"b": {"prototype": "x"}}}`,
	}
	for _, body := range cases {
		result := ValidatePayload([]byte(body), DefaultPayloadLimits())
		if result.IsValid {
			t.Fatalf("expected rejection for %s", body)
		}
		if result.Error != "potentially malicious payload" {
			t.Fatalf("expected generic malicious-payload error, got %q", result.Error)
		}
	}
}

func TestValidatePayload_SizeCapIsTooLarge(t *testing.T) {
	big := []byte(`{"x":"` + strings.Repeat("y", 100) + `"}`)
	result := ValidatePayload(big, PayloadLimits{MaxPayloadBytes: 50})
	if result.IsValid {
		t.Fatal("expected oversized payload to be rejected")
	}
	if !result.TooLarge {
		t.Fatal("size cap must be flagged TooLarge for the 413 mapping")
	}
}

func TestValidatePayload_MalformedJSON(t *testing.T) {
	if result := ValidatePayload([]byte(`{"unterminated`), DefaultPayloadLimits()); result.IsValid {
		t.Fatal("expected malformed JSON to be rejected")
	}
}

func TestSanitizeDate(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"2024-01-10", "2024-01-10"},
		{"  2024-01-10  ", "2024-01-10"},
		{"2024-01-10T15:04:05Z", "2024-01-10"},
		{"2024-01-10T15:04:05+02:00", "2024-01-10"},
	}
	for _, tc := range cases {
		got, err := SanitizeDate(tc.in)
		if err != nil {
			t.Fatalf("SanitizeDate(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("SanitizeDate(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	for _, bad := range []string{"", "not-a-date", "2024-13-40", "10/01/2024"} {
		if _, err := SanitizeDate(bad); !errors.Is(err, ErrValidation) {
			t.Fatalf("SanitizeDate(%q): expected validation error, got %v", bad, err)
		}
	}
}

func TestSanitizeTripDates(t *testing.T) {
	dep, ret, err := SanitizeTripDates("2024-01-10T00:00:00Z", "2024-01-10")
	if err != nil {
		t.Fatalf("same-day trip must pass: %v", err)
	}
	if dep != "2024-01-10" || ret != "2024-01-10" {
		t.Fatalf("unexpected normalization: %q %q", dep, ret)
	}

	if _, _, err := SanitizeTripDates("2024-01-20", "2024-01-10"); !errors.Is(err, ErrDateRange) {
		t.Fatalf("return before departure must fail with date range error, got %v", err)
	}
}
