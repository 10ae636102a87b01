// Copyright 2026 The ghsync Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil bounds HTTP response reads.
//
// Everything the daemon reads into memory is a GitHub JSON API
// response (run listings, artifact listings, error bodies), which are
// kilobytes in practice. Artifact archives never pass through here:
// they stream to a spool file on disk.
package netutil

import (
	"io"
)

// MaxResponseSize caps in-memory response reads at 64 MB. A
// legitimate API response is nowhere near this; the cap only protects
// the daemon from a pathological or hostile server feeding an
// endless body.
const MaxResponseSize int64 = 64 << 20

// ReadResponse reads an HTTP response body up to MaxResponseSize.
// Use in place of io.ReadAll for anything received off the network.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}
