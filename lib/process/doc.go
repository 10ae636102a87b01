// Copyright 2026 The ghsync Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers shared by ghsync
// binaries.
package process
