// Copyright 2026 The ghsync Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ghsync/ghsync/lib/clock"
)

// rateLimiter observes the X-RateLimit-* headers GitHub attaches to
// every response and blocks new requests once the quota is spent.
// Blocking preemptively, rather than letting requests bounce off 403s,
// keeps the sync loop's one-retry budget for genuine failures.
type rateLimiter struct {
	clock clock.Clock

	mu sync.Mutex
	// remaining and resetAt mirror the most recent headers. observed
	// is false until the first response carries them, so the limiter
	// never blocks on its zero value.
	remaining int
	resetAt   time.Time
	observed  bool
}

func newRateLimiter(clk clock.Clock) *rateLimiter {
	return &rateLimiter{clock: clk}
}

// observe folds one response's rate limit headers into the limiter.
// Responses without both headers (or with malformed values) are
// ignored rather than poisoning the state.
func (limiter *rateLimiter) observe(header http.Header) {
	remaining, okRemaining := headerInt(header, "X-RateLimit-Remaining")
	resetUnix, okReset := headerInt(header, "X-RateLimit-Reset")
	if !okRemaining || !okReset {
		return
	}

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	limiter.remaining = int(remaining)
	limiter.resetAt = time.Unix(resetUnix, 0)
	limiter.observed = true
}

// acquire blocks until a request may be sent. It returns immediately
// unless the last observed quota was zero and the reset time is still
// in the future. The only error it returns is ctx's.
func (limiter *rateLimiter) acquire(ctx context.Context) error {
	limiter.mu.Lock()
	exhausted := limiter.observed && limiter.remaining == 0
	resetAt := limiter.resetAt
	limiter.mu.Unlock()

	if !exhausted {
		return nil
	}
	delay := resetAt.Sub(limiter.clock.Now())
	if delay <= 0 {
		return nil
	}

	select {
	case <-limiter.clock.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retryDelay extracts the wait implied by a rate-limited response.
// Secondary limits send Retry-After in seconds; primary limits only
// carry the X-RateLimit-Reset timestamp. Zero means the response gave
// no usable signal and the caller should not retry.
func (limiter *rateLimiter) retryDelay(header http.Header) time.Duration {
	if seconds, ok := headerInt(header, "Retry-After"); ok && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if resetUnix, ok := headerInt(header, "X-RateLimit-Reset"); ok {
		if delay := time.Unix(resetUnix, 0).Sub(limiter.clock.Now()); delay > 0 {
			return delay
		}
	}
	return 0
}

// headerInt parses a decimal header value. ok is false when the
// header is absent or not an integer.
func headerInt(header http.Header, name string) (value int64, ok bool) {
	raw := header.Get(name)
	if raw == "" {
		return 0, false
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return parsed, true
}
