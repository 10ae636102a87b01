// Copyright 2026 The ghsync Authors
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/ghsync/ghsync/lib/clock"
	"github.com/ghsync/ghsync/lib/config"
	"github.com/ghsync/ghsync/lib/github"
	"github.com/ghsync/ghsync/lib/publish"
)

// BuildLocator is the slice of the GitHub client the coordinator
// uses. *github.Client satisfies it; tests substitute a fake.
type BuildLocator interface {
	FindLatestRun(ctx context.Context, owner, repo, branch, sha string) (*github.WorkflowRun, error)
	ResolveArtifact(ctx context.Context, owner, repo string, runID int64, name string) (*github.ArtifactHandle, error)
	DownloadArtifact(ctx context.Context, handle *github.ArtifactHandle) (io.ReadCloser, int64, error)
}

// Store is the publishing backend. *publish.Publisher satisfies it.
type Store interface {
	Stage(sha, artifact string, runID int64, archive io.Reader) (string, *publish.Manifest, error)
	Promote(sha, staged string) (string, error)
	CutOver(sha string) error
	CurrentSHA() (string, error)
	CollectGarbage() error
}

// Coordinator serializes sync work onto one worker goroutine.
//
// Triggers land in a one-slot pending buffer where the newest commit
// replaces any waiting one: when commits land faster than they sync,
// intermediate commits are skipped, never queued.
type Coordinator struct {
	cfg     *config.Config
	owner   string
	repo    string
	locator BuildLocator
	store   Store
	clock   clock.Clock
	logger  *slog.Logger

	// mu guards the pending slot and the in-flight mark.
	mu         sync.Mutex
	pending    string
	hasPending bool
	inFlight   string

	// kick wakes the worker when the pending slot is filled.
	// Capacity 1: a second fill while the worker is busy coalesces.
	kick chan struct{}
}

// New creates a Coordinator. Call Run to start the worker.
func New(cfg *config.Config, locator BuildLocator, store Store, clk clock.Clock, logger *slog.Logger) *Coordinator {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}

	owner, repo, _ := strings.Cut(cfg.Repository, "/")

	return &Coordinator{
		cfg:     cfg,
		owner:   owner,
		repo:    repo,
		locator: locator,
		store:   store,
		clock:   clk,
		logger:  logger,
		kick:    make(chan struct{}, 1),
	}
}

// Submit requests a sync of the given head commit. Never blocks: if a
// request is already waiting, it is replaced — syncing the newest
// commit subsumes every older one. A request for the commit currently
// being synced is dropped; workflow_job events deliver once per job in
// the run, and the extra deliveries carry no new information. Safe for
// concurrent use.
func (c *Coordinator) Submit(sha string) {
	c.mu.Lock()
	if sha == c.inFlight {
		c.logger.Debug("duplicate delivery for in-flight sync, ignoring", "sha", sha)
		c.mu.Unlock()
		return
	}
	if c.hasPending && c.pending != sha {
		c.logger.Debug("superseding queued sync", "stale_sha", c.pending, "sha", sha)
	}
	c.pending = sha
	c.hasPending = true
	c.mu.Unlock()

	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// take claims the pending commit, emptying the slot and marking the
// commit in flight in the same critical section — a duplicate delivery
// can never land between the claim and the mark.
func (c *Coordinator) take() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasPending {
		return "", false
	}
	c.hasPending = false
	c.inFlight = c.pending
	return c.pending, true
}

// finish clears the in-flight mark. From this point a fresh delivery
// may resubmit the commit, including one that just failed.
func (c *Coordinator) finish() {
	c.mu.Lock()
	c.inFlight = ""
	c.mu.Unlock()
}

// superseded reports whether a different commit is now waiting.
func (c *Coordinator) superseded(sha string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasPending && c.pending != sha
}

// Run executes the sync worker until ctx is cancelled. On startup it
// recovers the published state from the symlink, so a restart does
// not re-sync the commit that is already live.
func (c *Coordinator) Run(ctx context.Context) error {
	current, err := c.store.CurrentSHA()
	if err != nil {
		return fmt.Errorf("recovering published state: %w", err)
	}
	if current != "" {
		c.logger.Info("recovered published state", "sha", current)
	} else {
		c.logger.Info("no published build yet")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.kick:
		}

		// Drain every pending commit before sleeping again: a submit
		// during sync coalesces into the kick we already consumed.
		for {
			sha, ok := c.take()
			if !ok {
				break
			}
			c.sync(ctx, sha)
			c.finish()
			if ctx.Err() != nil {
				return nil
			}
		}
	}
}

// sync mirrors one commit, retrying transient failures with backoff
// up to the configured attempt budget. A permanent failure or an
// exhausted budget abandons the commit: the published state stays on
// the previous build, and only a fresh trigger (a new webhook
// delivery) can cause another attempt.
func (c *Coordinator) sync(ctx context.Context, sha string) {
	current, err := c.store.CurrentSHA()
	if err != nil {
		c.logger.Error("reading published state", "error", err)
	} else if current == sha {
		c.logger.Info("commit already published, skipping", "sha", sha)
		return
	}

	logger := c.logger.With("sha", sha)

	for attempt := 1; ; attempt++ {
		err := c.attempt(ctx, sha, logger)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			logger.Info("sync abandoned: shutting down")
			return
		}
		if errors.Is(err, errSuperseded) {
			logger.Info("sync superseded by newer commit")
			return
		}
		var fault *publishFault
		if errors.As(err, &fault) {
			// A filesystem failure in the publish path is never retried:
			// the symlink invariant may be at stake, so it is reported
			// loudly for manual inspection instead.
			logger.Error("publish failed, build abandoned", "attempt", attempt, "error", err)
			return
		}
		if !github.IsTransient(err) {
			logger.Error("sync failed permanently", "attempt", attempt, "error", err)
			return
		}
		if attempt >= c.cfg.MaxAttempts {
			logger.Error("sync failed: attempt budget exhausted",
				"attempts", attempt,
				"error", err,
			)
			return
		}

		delay := Backoff(attempt)
		logger.Warn("sync attempt failed, retrying",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		select {
		case <-c.clock.After(delay):
		case <-ctx.Done():
			return
		}

		// A newer commit may have arrived during the backoff; it
		// subsumes this one entirely.
		if c.superseded(sha) {
			logger.Info("sync superseded during backoff")
			return
		}
	}
}

// errSuperseded aborts a sync whose commit is no longer the newest.
var errSuperseded = errors.New("superseded by a newer commit")

// publishFault wraps errors from the Store. They abort the sync for
// the commit immediately, unlike transient API failures.
type publishFault struct {
	err error
}

func (fault *publishFault) Error() string { return fault.err.Error() }
func (fault *publishFault) Unwrap() error { return fault.err }

// attempt runs the pipeline once: locate, download, stage, publish.
func (c *Coordinator) attempt(ctx context.Context, sha string, logger *slog.Logger) error {
	run, err := c.locator.FindLatestRun(ctx, c.owner, c.repo, c.cfg.Branch, sha)
	if err != nil {
		return err
	}
	logger.Debug("found successful run", "run_id", run.ID)

	handle, err := c.locator.ResolveArtifact(ctx, c.owner, c.repo, run.ID, c.cfg.Artifact)
	if err != nil {
		return err
	}
	logger.Debug("resolved artifact",
		"artifact_id", handle.ArtifactID,
		"size_bytes", handle.SizeBytes,
	)

	archive, _, err := c.locator.DownloadArtifact(ctx, handle)
	if err != nil {
		return err
	}
	staged, manifest, err := c.store.Stage(sha, handle.Name, run.ID, archive)
	archive.Close()
	if err != nil {
		return &publishFault{err: fmt.Errorf("staging artifact: %w", err)}
	}

	logger.Info("artifact staged",
		"run_id", run.ID,
		"files", len(manifest.Files),
		"bytes", manifest.TotalSize,
	)

	if _, err := c.store.Promote(sha, staged); err != nil {
		return &publishFault{err: fmt.Errorf("promoting build: %w", err)}
	}

	// Stale-completion guard: a newer commit submitted while this one
	// was downloading must win the symlink. The promoted directory
	// stays on disk (retention collects it later) but the cutover is
	// skipped so the link never moves backwards.
	if c.superseded(sha) {
		return errSuperseded
	}

	if err := c.store.CutOver(sha); err != nil {
		return &publishFault{err: fmt.Errorf("publishing build: %w", err)}
	}

	if err := c.store.CollectGarbage(); err != nil {
		// Retention failure doesn't invalidate the publish; the next
		// successful sync retries it.
		logger.Warn("retention sweep failed", "error", err)
	}
	return nil
}
