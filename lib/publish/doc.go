// Copyright 2026 The ghsync Authors
// SPDX-License-Identifier: Apache-2.0

// Package publish materializes downloaded artifact archives on the
// local filesystem and exposes them through an atomically-updated
// symlink.
//
// The pipeline is stage, verify, promote, cut over: the archive is
// extracted into a hidden staging directory next to the final
// location, a manifest with per-file BLAKE3 digests is written, the
// staging directory is renamed into place (atomic on one filesystem),
// and finally the published symlink is swapped via a temporary link
// and rename. A consumer resolving the symlink sees either the old
// build or the new one, never a half-written tree.
//
// Retention is bounded: after each cutover the garbage collector
// removes the oldest published directories beyond the configured
// count, never touching the current symlink target.
package publish
