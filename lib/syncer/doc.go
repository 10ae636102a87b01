// Copyright 2026 The ghsync Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncer coordinates artifact synchronization.
//
// A single worker goroutine owns the sync pipeline: find the latest
// successful workflow run for a commit, resolve and download the
// artifact, stage and publish it. Webhook triggers feed the worker
// through a one-slot queue where the newest commit wins — when
// commits land faster than they sync, intermediate commits are
// skipped, never queued up.
//
// In-flight work is never cancelled by a newer trigger. Instead a
// completed sync checks whether it has been superseded before the
// symlink cutover, so the published link only ever moves forward to
// the newest known commit.
package syncer
