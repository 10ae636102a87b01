// Copyright 2026 The ghsync Authors
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 5 * time.Second}, // clamped to attempt 1
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{5, 80 * time.Second},
		{6, 2 * time.Minute}, // capped
		{10, 2 * time.Minute},
		{100, 2 * time.Minute},
	}

	for _, test := range tests {
		if got := Backoff(test.attempt); got != test.want {
			t.Errorf("Backoff(%d) = %v, want %v", test.attempt, got, test.want)
		}
	}
}

func TestBackoffMonotonic(t *testing.T) {
	previous := time.Duration(0)
	for attempt := 1; attempt <= 20; attempt++ {
		delay := Backoff(attempt)
		if delay < previous {
			t.Fatalf("Backoff(%d) = %v < Backoff(%d) = %v", attempt, delay, attempt-1, previous)
		}
		if delay > backoffCap {
			t.Fatalf("Backoff(%d) = %v exceeds cap %v", attempt, delay, backoffCap)
		}
		previous = delay
	}
}
