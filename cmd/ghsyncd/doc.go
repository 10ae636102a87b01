// Copyright 2026 The ghsync Authors
// SPDX-License-Identifier: Apache-2.0

// ghsyncd mirrors the newest CI build artifact of one GitHub branch
// to the local filesystem. GitHub webhook deliveries (workflow_run,
// workflow_job) trigger a sync: find the latest successful workflow
// run for the commit, download the named artifact, extract it into a
// per-commit directory, and atomically repoint a stable symlink at
// the result.
//
// Two interfaces:
//   - HTTP listener: webhook ingestion from GitHub (HMAC-SHA256
//     verified, delivery-ID replay protection)
//   - Filesystem: per-commit build directories plus a stable symlink
//     whose target is the newest published build
//
// Configuration comes from a YAML file (--config or
// GH_ARTIFACT_SYNC_CONFIG) overridden by GH_ARTIFACT_SYNC_*
// environment variables. See lib/config for the full set.
package main
