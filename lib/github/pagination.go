// Copyright 2026 The ghsync Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// PageIterator lazily fetches pages from a paginated GitHub API
// endpoint. P is the page envelope type: Actions endpoints wrap their
// results in an object ({"total_count": N, "artifacts": [...]}) rather
// than returning a bare array, so each page decodes into one envelope.
// Next returns nil, nil when all pages have been consumed.
//
// The iterator is not safe for concurrent use.
type PageIterator[P any] struct {
	client  *Client
	nextURL string
	done    bool
}

// Next fetches one page, or nil, nil once the Link chain ends. Page
// fetches go through doRaw, so they wait on the rate limiter and
// authenticate like every other call.
func (iterator *PageIterator[P]) Next(ctx context.Context) (*P, error) {
	if iterator.done || iterator.nextURL == "" {
		return nil, nil
	}

	response, err := iterator.client.doRaw(ctx, http.MethodGet, iterator.nextURL)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, parseAPIError(response)
	}

	var page P
	if err := json.NewDecoder(response.Body).Decode(&page); err != nil {
		return nil, err
	}

	iterator.nextURL = parseLinkNext(response.Header.Get("Link"))
	if iterator.nextURL == "" {
		iterator.done = true
	}
	return &page, nil
}

// parseLinkNext pulls the rel="next" URL out of an RFC 5988 Link
// header, e.g. `<https://...?page=2>; rel="next", <...>; rel="last"`.
// Empty when there is no next page.
func parseLinkNext(header string) string {
	for part := range strings.SplitSeq(header, ",") {
		link, rel, ok := strings.Cut(part, ";")
		if !ok || !strings.Contains(rel, `rel="next"`) {
			continue
		}
		link = strings.TrimSpace(link)
		if url, found := strings.CutPrefix(link, "<"); found {
			if url, found := strings.CutSuffix(url, ">"); found {
				return url
			}
		}
	}
	return ""
}
