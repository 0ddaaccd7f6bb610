// Copyright 2025 Fabian Lopez
// SPDX-License-Identifier: Apache-2.0

package presync

import (
	"context"
	"testing"
)

func TestEntityTypeFilter(t *testing.T) {
	cases := []struct {
		types        []string
		wantTrips    bool
		wantSettings bool
	}{
		{nil, true, true},
		{[]string{}, true, true},
		{[]string{EntityTrip}, true, false},
		{[]string{EntityUserSettings}, false, true},
		{[]string{EntityTrip, EntityUserSettings}, true, true},
		{[]string{"unknown"}, false, false},
	}
	for _, tc := range cases {
		trips, settings := entityTypeFilter(tc.types)
		if trips != tc.wantTrips || settings != tc.wantSettings {
			t.Fatalf("entityTypeFilter(%v) = (%v, %v), want (%v, %v)",
				tc.types, trips, settings, tc.wantTrips, tc.wantSettings)
		}
	}
}

func TestProcessPull_ClosedService(t *testing.T) {
	svc := testService(100)
	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := svc.ProcessPull(context.Background(), "user", &PullRequest{}); err == nil {
		t.Fatal("expected error from closed service")
	}
}
