// Copyright 2026 The ghsync Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// FindLatestRun returns the newest successful workflow run for the
// given commit on the given branch. GitHub lists runs newest-first,
// so the first entry is the latest.
//
// Returns an error wrapping ErrNoRun when no successful run exists
// yet — the expected state while CI is still executing, which the
// caller retries with backoff.
func (client *Client) FindLatestRun(ctx context.Context, owner, repo, branch, sha string) (*WorkflowRun, error) {
	query := url.Values{}
	query.Set("head_sha", sha)
	query.Set("branch", branch)
	query.Set("status", "success")
	query.Set("per_page", "1")
	path := fmt.Sprintf("/repos/%s/%s/actions/runs?%s", owner, repo, query.Encode())

	var page workflowRunsPage
	if err := client.get(ctx, path, &page); err != nil {
		return nil, fmt.Errorf("listing runs for %s on %s/%s: %w", shortSHA(sha), owner, repo, err)
	}

	if len(page.WorkflowRuns) == 0 {
		return nil, fmt.Errorf("commit %s on %s/%s: %w", shortSHA(sha), owner, repo, ErrNoRun)
	}
	run := page.WorkflowRuns[0]
	return &run, nil
}

// ResolveArtifact locates the artifact with the given name on a
// workflow run. The artifact listing is paginated; all pages are
// consulted. Expired artifacts (past GitHub's retention window) are
// treated as missing.
//
// Returns an error wrapping ErrNoArtifact when the run produced no
// artifact with that name — a permanent condition for that run.
func (client *Client) ResolveArtifact(ctx context.Context, owner, repo string, runID int64, name string) (*ArtifactHandle, error) {
	path := fmt.Sprintf("/repos/%s/%s/actions/runs/%d/artifacts?per_page=100", owner, repo, runID)

	iterator := &PageIterator[artifactsPage]{
		client:  client,
		nextURL: client.baseURL + path,
	}
	for {
		page, err := iterator.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing artifacts for run %d in %s/%s: %w", runID, owner, repo, err)
		}
		if page == nil {
			break
		}
		for _, artifact := range page.Artifacts {
			if artifact.Name != name {
				continue
			}
			if artifact.Expired {
				return nil, fmt.Errorf("artifact %q on run %d has expired: %w", name, runID, ErrNoArtifact)
			}
			return &ArtifactHandle{
				RunID:       runID,
				ArtifactID:  artifact.ID,
				Name:        artifact.Name,
				SizeBytes:   artifact.SizeInBytes,
				DownloadURL: artifact.ArchiveDownloadURL,
				ExpiresAt:   artifact.ExpiresAt,
			}, nil
		}
	}

	return nil, fmt.Errorf("artifact %q on run %d: %w", name, runID, ErrNoArtifact)
}

// DownloadArtifact streams the artifact's zip archive. GitHub answers
// the download endpoint with a 302 redirect to short-lived blob
// storage; the http.Client follows it automatically (and strips the
// Authorization header on the cross-host hop). The caller must close
// the returned ReadCloser.
//
// The returned size is the Content-Length of the final response, or
// -1 when the storage backend does not declare one.
func (client *Client) DownloadArtifact(ctx context.Context, handle *ArtifactHandle) (io.ReadCloser, int64, error) {
	response, err := client.doRaw(ctx, http.MethodGet, handle.DownloadURL)
	if err != nil {
		return nil, 0, fmt.Errorf("downloading artifact %q (run %d): %w", handle.Name, handle.RunID, err)
	}

	if response.StatusCode != http.StatusOK {
		defer response.Body.Close()
		return nil, 0, fmt.Errorf("downloading artifact %q (run %d): %w",
			handle.Name, handle.RunID, parseAPIError(response))
	}

	return response.Body, response.ContentLength, nil
}

// get is a convenience for GET requests returning a single JSON
// object. Decodes the response into result.
func (client *Client) get(ctx context.Context, path string, result any) error {
	body, _, err := client.do(ctx, http.MethodGet, path)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, result)
}

// shortSHA abbreviates a commit SHA for error messages and logs.
func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
