// Copyright 2026 The ghsync Authors
// SPDX-License-Identifier: Apache-2.0

package syncer

import "time"

// Backoff delays between sync attempts. The first retry waits
// backoffBase; each further retry doubles, capped at backoffCap. The
// dominant transient failure is "CI hasn't finished yet", which
// resolves on workflow timescales, so the cap is generous.
const (
	backoffBase = 5 * time.Second
	backoffCap  = 2 * time.Minute
)

// Backoff returns the delay before retry number attempt (1-based:
// attempt 1 is the delay after the first failure).
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := backoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= backoffCap {
			return backoffCap
		}
	}
	if delay > backoffCap {
		return backoffCap
	}
	return delay
}
