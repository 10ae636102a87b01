// Copyright 2026 The ghsync Authors
// SPDX-License-Identifier: Apache-2.0

package github

import "sync"

// conditionalCache remembers the ETag and body of the last response
// per URL so repeat GETs can be sent as conditional requests. A 304
// Not Modified answer is served from the cache and, per GitHub's
// documented behavior, does not count against the rate limit — which
// matters here because the daemon polls the same runs and artifacts
// endpoints for every retry of a sync.
//
// Entries are never evicted. The daemon queries a handful of URLs
// (runs, artifacts, downloads for one repository), so the cache stays
// small for the life of the Client.
type conditionalCache struct {
	mu sync.RWMutex
	// byURL maps request URL to the validator and body of the last
	// 200 response.
	byURL map[string]cachedResponse
}

type cachedResponse struct {
	etag string
	body []byte
}

func newConditionalCache() *conditionalCache {
	return &conditionalCache{byURL: make(map[string]cachedResponse)}
}

// validator returns the stored ETag for url, or "" when the URL has
// not been seen.
func (cache *conditionalCache) validator(url string) string {
	cache.mu.RLock()
	defer cache.mu.RUnlock()
	return cache.byURL[url].etag
}

// body returns the stored response body for url, or nil.
func (cache *conditionalCache) body(url string) []byte {
	cache.mu.RLock()
	defer cache.mu.RUnlock()
	return cache.byURL[url].body
}

// store records the validator and body from a fresh 200 response.
// A response without an ETag is not cached.
func (cache *conditionalCache) store(url, etag string, body []byte) {
	if etag == "" {
		return
	}
	cache.mu.Lock()
	defer cache.mu.Unlock()
	cache.byURL[url] = cachedResponse{etag: etag, body: body}
}
