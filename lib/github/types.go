// Copyright 2026 The ghsync Authors
// SPDX-License-Identifier: Apache-2.0

package github

import "time"

// Minimal API types. These extract only the fields the sync pipeline
// needs — workflow runs and artifact listings carry dozens of fields
// that are irrelevant here. JSON names match GitHub's REST API
// documentation.

// WorkflowRun is a GitHub Actions workflow run.
type WorkflowRun struct {
	ID         int64     `json:"id"`
	HeadSHA    string    `json:"head_sha"`
	HeadBranch string    `json:"head_branch"`
	Status     string    `json:"status"`     // "queued", "in_progress", "completed"
	Conclusion string    `json:"conclusion"` // "success", "failure", ... (empty until completed)
	CreatedAt  time.Time `json:"created_at"`
}

// workflowRunsPage is the envelope of
// GET /repos/{owner}/{repo}/actions/runs.
type workflowRunsPage struct {
	TotalCount   int           `json:"total_count"`
	WorkflowRuns []WorkflowRun `json:"workflow_runs"`
}

// Artifact is a build artifact attached to a workflow run.
type Artifact struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	SizeInBytes        int64     `json:"size_in_bytes"`
	ArchiveDownloadURL string    `json:"archive_download_url"`
	Expired            bool      `json:"expired"`
	ExpiresAt          time.Time `json:"expires_at"`
}

// artifactsPage is the envelope of
// GET /repos/{owner}/{repo}/actions/runs/{run_id}/artifacts.
type artifactsPage struct {
	TotalCount int        `json:"total_count"`
	Artifacts  []Artifact `json:"artifacts"`
}

// ArtifactHandle identifies a downloadable artifact on a specific
// workflow run. Handles are ephemeral: produced per sync attempt,
// consumed by DownloadArtifact, never persisted.
type ArtifactHandle struct {
	RunID       int64
	ArtifactID  int64
	Name        string
	SizeBytes   int64
	DownloadURL string
	ExpiresAt   time.Time
}
