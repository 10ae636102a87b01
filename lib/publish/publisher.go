// Copyright 2026 The ghsync Authors
// SPDX-License-Identifier: Apache-2.0

package publish

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ghsync/ghsync/lib/clock"
	"github.com/ghsync/ghsync/lib/config"
)

// stagingPrefix marks in-progress extraction directories under the
// output parent. Staging directories are hidden (dot prefix) so
// consumers globbing the parent never see partial trees, and are
// swept on startup after a crash.
const stagingPrefix = ".staging-"

// Publisher owns the published filesystem layout: one directory per
// mirrored commit under a common parent, plus the symlink consumers
// resolve.
//
// All mutations go through temp-and-rename so a crash at any point
// leaves either the old state or the new state, never a hybrid.
type Publisher struct {
	cfg    *config.Config
	clock  clock.Clock
	logger *slog.Logger
}

// New creates a Publisher. The output parent directory is created if
// missing; a stale staging directory from a previous crash is swept.
func New(cfg *config.Config, clk clock.Clock, logger *slog.Logger) (*Publisher, error) {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}

	publisher := &Publisher{cfg: cfg, clock: clk, logger: logger}

	if err := os.MkdirAll(cfg.OutputParent(), 0o755); err != nil {
		return nil, fmt.Errorf("creating output parent: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Symlink), 0o755); err != nil {
		return nil, fmt.Errorf("creating symlink parent: %w", err)
	}
	if err := publisher.sweepStaging(); err != nil {
		return nil, err
	}
	return publisher, nil
}

// sweepStaging removes leftover staging directories. Only called at
// startup, when no extraction can be in flight.
func (p *Publisher) sweepStaging() error {
	entries, err := os.ReadDir(p.cfg.OutputParent())
	if err != nil {
		return fmt.Errorf("listing output parent: %w", err)
	}
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), stagingPrefix) {
			continue
		}
		path := filepath.Join(p.cfg.OutputParent(), entry.Name())
		p.logger.Warn("removing stale staging directory", "path", path)
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("removing stale staging directory %s: %w", path, err)
		}
	}
	return nil
}

// Stage spools the archive stream to disk, extracts it, and writes
// the manifest, all inside a hidden staging directory on the same
// filesystem as the final location. Returns the staged result; the
// caller decides whether to Promote it.
//
// The staging directory is removed on any error.
func (p *Publisher) Stage(sha, artifact string, runID int64, archive io.Reader) (staged string, manifest *Manifest, err error) {
	staging, err := os.MkdirTemp(p.cfg.OutputParent(), stagingPrefix+sha+"-")
	if err != nil {
		return "", nil, fmt.Errorf("creating staging directory: %w", err)
	}
	defer func() {
		if err != nil {
			os.RemoveAll(staging)
		}
	}()

	// Spool the archive to disk: zip extraction needs random access,
	// and spooling bounds memory regardless of artifact size.
	spool := filepath.Join(staging, ".archive")
	spoolFile, err := os.Create(spool)
	if err != nil {
		return "", nil, fmt.Errorf("creating archive spool: %w", err)
	}
	written, err := io.Copy(spoolFile, archive)
	if closeErr := spoolFile.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", nil, fmt.Errorf("spooling archive: %w", err)
	}
	if written == 0 {
		return "", nil, errors.New("artifact archive is empty")
	}

	content := filepath.Join(staging, "content")
	if err := os.Mkdir(content, 0o755); err != nil {
		return "", nil, fmt.Errorf("creating content directory: %w", err)
	}

	fileCount, err := Extract(spool, content)
	if err != nil {
		return "", nil, fmt.Errorf("extracting artifact: %w", err)
	}
	if fileCount == 0 {
		return "", nil, errors.New("artifact archive contains no files")
	}
	if err := os.Remove(spool); err != nil {
		return "", nil, fmt.Errorf("removing archive spool: %w", err)
	}

	manifest, err = buildManifest(content, sha, artifact, runID, p.clock.Now().UTC())
	if err != nil {
		return "", nil, err
	}
	if err := manifest.write(content); err != nil {
		return "", nil, err
	}

	p.logger.Debug("staged artifact",
		"sha", sha,
		"files", fileCount,
		"bytes", manifest.TotalSize,
	)
	return staging, manifest, nil
}

// Promote renames a staged extraction into its final per-commit
// directory. If the commit was published before (a re-delivered
// webhook, or a retry after a crash between promote and cutover) the
// old directory is replaced.
func (p *Publisher) Promote(sha, staged string) (string, error) {
	final := p.cfg.OutputDir(sha)
	content := filepath.Join(staged, "content")

	// Clear a previous publish of the same commit. Rename it aside
	// first so a failure mid-removal cannot leave a half-deleted tree
	// at the final path.
	if _, err := os.Lstat(final); err == nil {
		aside := filepath.Join(p.cfg.OutputParent(), stagingPrefix+"old-"+sha)
		if err := os.RemoveAll(aside); err != nil {
			return "", fmt.Errorf("clearing aside directory: %w", err)
		}
		if err := os.Rename(final, aside); err != nil {
			return "", fmt.Errorf("moving previous publish aside: %w", err)
		}
		defer os.RemoveAll(aside)
	}

	if err := os.Rename(content, final); err != nil {
		return "", fmt.Errorf("promoting staged directory: %w", err)
	}
	if err := os.RemoveAll(staged); err != nil {
		p.logger.Warn("failed to remove staging remnant", "path", staged, "error", err)
	}
	return final, nil
}

// CutOver atomically points the published symlink at the directory
// for sha. The swap is a symlink-then-rename: the path never passes
// through a missing state, and a reader resolving it concurrently
// sees either the previous target or the new one.
func (p *Publisher) CutOver(sha string) error {
	target := p.cfg.OutputDir(sha)
	if _, err := os.Stat(target); err != nil {
		return fmt.Errorf("symlink target missing: %w", err)
	}

	temporary := p.cfg.Symlink + ".tmp"
	// Remove a leftover temp link from an earlier crash.
	if err := os.Remove(temporary); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clearing temporary symlink: %w", err)
	}
	if err := os.Symlink(target, temporary); err != nil {
		return fmt.Errorf("creating temporary symlink: %w", err)
	}
	if err := os.Rename(temporary, p.cfg.Symlink); err != nil {
		os.Remove(temporary)
		return fmt.Errorf("swapping symlink: %w", err)
	}

	p.logger.Info("published", "sha", sha, "symlink", p.cfg.Symlink, "target", target)
	return nil
}

// CurrentSHA resolves the published symlink back to the commit it
// points at. Returns "" (no error) when the symlink does not exist
// yet — the state of a fresh deployment.
func (p *Publisher) CurrentSHA() (string, error) {
	target, err := os.Readlink(p.cfg.Symlink)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading published symlink: %w", err)
	}

	sha, ok := p.shaFromDir(target)
	if !ok {
		return "", fmt.Errorf("published symlink points outside the output layout: %s", target)
	}
	return sha, nil
}

// shaFromDir inverts the output directory template for a concrete
// path. Validate guarantees the {HEAD_SHA} placeholder sits in the
// final path element, so the inversion is a prefix/suffix match on
// the basename.
func (p *Publisher) shaFromDir(dir string) (string, bool) {
	if filepath.Dir(filepath.Clean(dir)) != p.cfg.OutputParent() {
		return "", false
	}
	pattern := filepath.Base(filepath.Clean(p.cfg.Output))
	base := filepath.Base(filepath.Clean(dir))

	prefix, suffix, _ := strings.Cut(pattern, config.SHAPlaceholder)
	if !strings.HasPrefix(base, prefix) || !strings.HasSuffix(base, suffix) {
		return "", false
	}
	sha := base[len(prefix) : len(base)-len(suffix)]
	if sha == "" {
		return "", false
	}
	return sha, true
}

// CollectGarbage removes published directories beyond the retention
// count. The current symlink target is always kept regardless of age;
// of the rest, the most recently modified Retain directories survive.
// Staging directories and unrelated files in the parent are left
// alone.
func (p *Publisher) CollectGarbage() error {
	current, err := p.CurrentSHA()
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(p.cfg.OutputParent())
	if err != nil {
		return fmt.Errorf("listing output parent: %w", err)
	}

	type candidate struct {
		sha     string
		path    string
		modTime int64
	}
	var candidates []candidate
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(p.cfg.OutputParent(), entry.Name())
		sha, ok := p.shaFromDir(path)
		if !ok || sha == current {
			continue
		}
		// Only directories carrying a manifest are published builds.
		// With a bare {HEAD_SHA} template the name match alone accepts
		// anything in the parent, operator-owned directories included.
		if _, err := ReadManifest(path); err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{sha: sha, path: path, modTime: info.ModTime().UnixNano()})
	}

	// Newest first; everything past the retention count goes.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].modTime > candidates[j].modTime
	})
	for _, stale := range candidates[min(p.cfg.Retain, len(candidates)):] {
		p.logger.Info("removing expired build", "sha", stale.sha, "path", stale.path)
		if err := removeAll(stale.path); err != nil {
			// One undeletable directory must not strand the rest of the
			// sweep; it gets another chance after the next publish.
			p.logger.Warn("removing expired build failed", "path", stale.path, "error", err)
		}
	}
	return nil
}

// removeAll is swapped out in tests to exercise sweep failures.
var removeAll = os.RemoveAll
