// Copyright 2026 The ghsync Authors
// SPDX-License-Identifier: Apache-2.0

// Package webhook ingests GitHub webhook deliveries and turns them
// into sync triggers.
//
// The Handler verifies HMAC-SHA256 signatures, deduplicates delivery
// IDs, parses workflow_run and workflow_job payloads, and filters to
// the one repository and branch the daemon tracks. Everything that
// passes the filter becomes a head-SHA sync trigger; everything else
// is acknowledged with 200 so GitHub does not retry.
//
// HTTPServer owns the listener lifecycle: bind, signal readiness,
// serve, and drain gracefully on context cancellation.
package webhook
