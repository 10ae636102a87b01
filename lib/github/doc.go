// Copyright 2026 The ghsync Authors
// SPDX-License-Identifier: Apache-2.0

// Package github is a typed client for the slice of the GitHub REST
// API that artifact mirroring needs: locating the latest successful
// workflow run for a commit, resolving a named artifact on that run,
// and streaming the artifact archive.
//
// The client handles authentication (personal access token or GitHub
// App installation token with automatic rotation), primary and
// secondary rate limits, ETag-based conditional requests, and
// structured error handling. Errors are classified into the
// retryable/permanent taxonomy the sync coordinator's retry policy
// consumes — see IsTransient.
package github
