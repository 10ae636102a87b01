// Copyright 2026 The ghsync Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for ghsyncd.
//
// Configuration comes from two layers:
//
//   - an optional yaml file, specified by the GH_ARTIFACT_SYNC_CONFIG
//     environment variable or the --config flag
//   - GH_ARTIFACT_SYNC_* environment variables, which override file
//     values
//
// The environment variables are the original deployment contract;
// the file exists for installations that prefer one auditable
// document over a pile of exported variables. There is no automatic
// discovery and no hidden fallback chain.
package config
