// Copyright 2026 The ghsync Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNoRun indicates that no successful workflow run exists yet for a
// commit. This is the normal state while CI is still executing, so it
// classifies as transient: the sync coordinator retries with backoff
// until the run appears or attempts are exhausted.
var ErrNoRun = errors.New("no successful workflow run")

// ErrNoArtifact indicates that a completed run carries no artifact
// with the configured name (or the artifact has expired). The run will
// never grow a matching artifact, so this is permanent for that
// commit.
var ErrNoArtifact = errors.New("artifact not found on workflow run")

// APIError represents a non-2xx response from the GitHub REST API.
// GitHub returns structured JSON error bodies with a message and an
// optional documentation URL.
type APIError struct {
	// StatusCode is the HTTP response status code.
	StatusCode int

	// Message is the top-level error description from GitHub.
	Message string

	// DocumentationURL points to the relevant API documentation.
	DocumentationURL string
}

func (err *APIError) Error() string {
	return fmt.Sprintf("github: HTTP %d: %s", err.StatusCode, err.Message)
}

// IsNotFound reports whether err is a GitHub API 404 Not Found response.
func IsNotFound(err error) bool {
	var apiError *APIError
	return errors.As(err, &apiError) && apiError.StatusCode == 404
}

// IsRateLimited reports whether err is a GitHub API rate limit response.
// GitHub returns 403 when the primary rate limit is exceeded and 429
// for secondary (abuse) rate limits.
func IsRateLimited(err error) bool {
	var apiError *APIError
	if !errors.As(err, &apiError) {
		return false
	}
	return apiError.StatusCode == 429 || (apiError.StatusCode == 403 && isRateLimitMessage(apiError.Message))
}

// IsTransient classifies an error from this package for retry
// purposes. Transient errors are worth another attempt after backoff;
// permanent errors abort the sync for the commit.
//
// Transient: no successful run yet (CI still executing), rate limits,
// 5xx server errors, and network-level failures. Permanent: a missing
// or expired artifact, any other 4xx response, and context
// cancellation (the daemon is shutting down, not the API failing).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoRun) {
		return true
	}
	if errors.Is(err, ErrNoArtifact) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiError *APIError
	if errors.As(err, &apiError) {
		if IsRateLimited(err) {
			return true
		}
		return apiError.StatusCode >= 500
	}

	// Everything else is a transport-level failure (DNS, connection
	// reset, TLS) and is assumed recoverable.
	return true
}

// isRateLimitMessage checks whether a 403 error message indicates a
// rate limit rather than a permission issue. GitHub's rate limit 403
// responses contain recognizable phrases.
func isRateLimitMessage(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "abuse detection")
}
