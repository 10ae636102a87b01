// Copyright 2026 The ghsync Authors
// SPDX-License-Identifier: Apache-2.0

package publish

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/ghsync/ghsync/lib/clock"
	"github.com/ghsync/ghsync/lib/config"
)

// testConfig returns a config rooted in a temp directory.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Output = filepath.Join(root, "builds", "build-{HEAD_SHA}")
	cfg.Symlink = filepath.Join(root, "current")
	cfg.Retain = 2
	return cfg
}

func newTestPublisher(t *testing.T, cfg *config.Config) *Publisher {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fakeClock := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	publisher, err := New(cfg, fakeClock, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return publisher
}

// zipArchive builds an in-memory zip with the given files.
func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buffer bytes.Buffer
	writer := zip.NewWriter(&buffer)
	for name, content := range files {
		entry, err := writer.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := entry.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}
	return buffer.Bytes()
}

// tarArchive builds a tarball with the given files, compressed with
// gzip or zstd.
func tarArchive(t *testing.T, files map[string]string, compressor string) []byte {
	t.Helper()
	var buffer bytes.Buffer

	var compressed io.WriteCloser
	switch compressor {
	case "gzip":
		compressed = gzip.NewWriter(&buffer)
	case "zstd":
		writer, err := zstd.NewWriter(&buffer)
		if err != nil {
			t.Fatal(err)
		}
		compressed = writer
	default:
		t.Fatalf("unknown compressor %q", compressor)
	}

	tarWriter := tar.NewWriter(compressed)
	for name, content := range files {
		if err := tarWriter.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(content)),
		}); err != nil {
			t.Fatal(err)
		}
		if _, err := tarWriter.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tarWriter.Close(); err != nil {
		t.Fatal(err)
	}
	if err := compressed.Close(); err != nil {
		t.Fatal(err)
	}
	return buffer.Bytes()
}

// publish runs the full stage-promote-cutover pipeline.
func publishArchive(t *testing.T, publisher *Publisher, sha string, archive []byte) {
	t.Helper()
	staged, _, err := publisher.Stage(sha, "dist", 900, bytes.NewReader(archive))
	if err != nil {
		t.Fatalf("Stage(%s): %v", sha, err)
	}
	if _, err := publisher.Promote(sha, staged); err != nil {
		t.Fatalf("Promote(%s): %v", sha, err)
	}
	if err := publisher.CutOver(sha); err != nil {
		t.Fatalf("CutOver(%s): %v", sha, err)
	}
}

func TestPublishZipEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	publisher := newTestPublisher(t, cfg)

	files := map[string]string{
		"bin/app":    "binary bytes",
		"etc/config": "setting = true\n",
	}
	staged, manifest, err := publisher.Stage("abc123", "dist", 900, bytes.NewReader(zipArchive(t, files)))
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}

	if len(manifest.Files) != 2 {
		t.Fatalf("manifest has %d files, want 2", len(manifest.Files))
	}
	if manifest.HeadSHA != "abc123" || manifest.RunID != 900 || manifest.Artifact != "dist" {
		t.Errorf("manifest identity = %+v", manifest)
	}
	if manifest.TotalSize != int64(len(files["bin/app"])+len(files["etc/config"])) {
		t.Errorf("TotalSize = %d", manifest.TotalSize)
	}

	final, err := publisher.Promote("abc123", staged)
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if final != cfg.OutputDir("abc123") {
		t.Errorf("final = %q, want %q", final, cfg.OutputDir("abc123"))
	}

	// The staging directory is gone; the content is at the final path.
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Errorf("staging directory still exists after promote")
	}
	content, err := os.ReadFile(filepath.Join(final, "bin", "app"))
	if err != nil || string(content) != "binary bytes" {
		t.Errorf("published file = %q, %v", content, err)
	}

	// The manifest on disk verifies against the published tree.
	published, err := ReadManifest(final)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if err := published.Verify(final); err != nil {
		t.Errorf("Verify: %v", err)
	}

	if err := publisher.CutOver("abc123"); err != nil {
		t.Fatalf("CutOver: %v", err)
	}
	resolved, err := os.Readlink(cfg.Symlink)
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if resolved != final {
		t.Errorf("symlink target = %q, want %q", resolved, final)
	}

	sha, err := publisher.CurrentSHA()
	if err != nil {
		t.Fatalf("CurrentSHA: %v", err)
	}
	if sha != "abc123" {
		t.Errorf("CurrentSHA = %q, want abc123", sha)
	}
}

func TestPublishTarballs(t *testing.T) {
	files := map[string]string{"dist/app.js": "console.log('hi')\n"}

	for _, compressor := range []string{"gzip", "zstd"} {
		t.Run(compressor, func(t *testing.T) {
			cfg := testConfig(t)
			publisher := newTestPublisher(t, cfg)
			publishArchive(t, publisher, "feed01", tarArchive(t, files, compressor))

			content, err := os.ReadFile(filepath.Join(cfg.OutputDir("feed01"), "dist", "app.js"))
			if err != nil || string(content) != files["dist/app.js"] {
				t.Errorf("published file = %q, %v", content, err)
			}
		})
	}
}

func TestStageRejectsEmptyArchive(t *testing.T) {
	publisher := newTestPublisher(t, testConfig(t))
	if _, _, err := publisher.Stage("abc", "dist", 1, bytes.NewReader(nil)); err == nil {
		t.Fatal("Stage accepted an empty archive")
	}
}

func TestStageRejectsUnknownFormat(t *testing.T) {
	publisher := newTestPublisher(t, testConfig(t))
	if _, _, err := publisher.Stage("abc", "dist", 1, bytes.NewReader([]byte("just some text"))); err == nil {
		t.Fatal("Stage accepted an unrecognized archive format")
	}
}

func TestStageRejectsPathTraversal(t *testing.T) {
	cfg := testConfig(t)
	publisher := newTestPublisher(t, cfg)

	// Hand-build a tar with an escaping entry; archive/zip refuses to
	// create such names, tar does not.
	var buffer bytes.Buffer
	compressed := gzip.NewWriter(&buffer)
	tarWriter := tar.NewWriter(compressed)
	content := "owned"
	if err := tarWriter.WriteHeader(&tar.Header{
		Name: "../../escape.txt",
		Mode: 0o644,
		Size: int64(len(content)),
	}); err != nil {
		t.Fatal(err)
	}
	tarWriter.Write([]byte(content))
	tarWriter.Close()
	compressed.Close()

	if _, _, err := publisher.Stage("abc", "dist", 1, bytes.NewReader(buffer.Bytes())); err == nil {
		t.Fatal("Stage extracted a path-traversal entry")
	}

	// Nothing escaped above the output parent.
	if _, err := os.Stat(filepath.Join(filepath.Dir(cfg.OutputParent()), "escape.txt")); !os.IsNotExist(err) {
		t.Error("traversal entry escaped the staging root")
	}
}

func TestStageRejectsSymlinkEntries(t *testing.T) {
	publisher := newTestPublisher(t, testConfig(t))

	var buffer bytes.Buffer
	compressed := gzip.NewWriter(&buffer)
	tarWriter := tar.NewWriter(compressed)
	if err := tarWriter.WriteHeader(&tar.Header{
		Name:     "link",
		Typeflag: tar.TypeSymlink,
		Linkname: "/etc/passwd",
		Mode:     0o777,
	}); err != nil {
		t.Fatal(err)
	}
	tarWriter.Close()
	compressed.Close()

	if _, _, err := publisher.Stage("abc", "dist", 1, bytes.NewReader(buffer.Bytes())); err == nil {
		t.Fatal("Stage extracted a symlink entry")
	}
}

func TestCutOverSwapsAtomically(t *testing.T) {
	cfg := testConfig(t)
	publisher := newTestPublisher(t, cfg)

	publishArchive(t, publisher, "sha-one", zipArchive(t, map[string]string{"v": "1"}))
	publishArchive(t, publisher, "sha-two", zipArchive(t, map[string]string{"v": "2"}))

	// The symlink now names the second build; the first directory is
	// still on disk (within retention).
	sha, err := publisher.CurrentSHA()
	if err != nil {
		t.Fatal(err)
	}
	if sha != "sha-two" {
		t.Errorf("CurrentSHA = %q, want sha-two", sha)
	}
	if _, err := os.Stat(cfg.OutputDir("sha-one")); err != nil {
		t.Errorf("previous build missing: %v", err)
	}

	// No temp link remains.
	if _, err := os.Lstat(cfg.Symlink + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary symlink left behind")
	}
}

func TestCutOverRefusesMissingTarget(t *testing.T) {
	publisher := newTestPublisher(t, testConfig(t))
	if err := publisher.CutOver("never-published"); err == nil {
		t.Fatal("CutOver accepted a missing target")
	}
}

func TestRepublishSameSHA(t *testing.T) {
	cfg := testConfig(t)
	publisher := newTestPublisher(t, cfg)

	publishArchive(t, publisher, "abc123", zipArchive(t, map[string]string{"file": "old"}))
	publishArchive(t, publisher, "abc123", zipArchive(t, map[string]string{"file": "new"}))

	content, err := os.ReadFile(filepath.Join(cfg.OutputDir("abc123"), "file"))
	if err != nil || string(content) != "new" {
		t.Errorf("republished file = %q, %v", content, err)
	}
}

func TestCurrentSHAFreshDeployment(t *testing.T) {
	publisher := newTestPublisher(t, testConfig(t))
	sha, err := publisher.CurrentSHA()
	if err != nil {
		t.Fatalf("CurrentSHA: %v", err)
	}
	if sha != "" {
		t.Errorf("CurrentSHA = %q, want empty on fresh deployment", sha)
	}
}

func TestCollectGarbage(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retain = 1
	publisher := newTestPublisher(t, cfg)

	for _, sha := range []string{"sha-a", "sha-b", "sha-c", "sha-d"} {
		publishArchive(t, publisher, sha, zipArchive(t, map[string]string{"v": sha}))
		// Distinct mtimes so retention ordering is deterministic.
		past := time.Now().Add(-time.Hour)
		if err := os.Chtimes(cfg.OutputDir(sha), past, past); err != nil {
			t.Fatal(err)
		}
	}
	// Make sha-c clearly the newest non-current build.
	now := time.Now()
	if err := os.Chtimes(cfg.OutputDir("sha-c"), now, now); err != nil {
		t.Fatal(err)
	}

	if err := publisher.CollectGarbage(); err != nil {
		t.Fatalf("CollectGarbage: %v", err)
	}

	// Current (sha-d) and the newest retained build (sha-c) survive.
	for _, sha := range []string{"sha-c", "sha-d"} {
		if _, err := os.Stat(cfg.OutputDir(sha)); err != nil {
			t.Errorf("%s should survive GC: %v", sha, err)
		}
	}
	for _, sha := range []string{"sha-a", "sha-b"} {
		if _, err := os.Stat(cfg.OutputDir(sha)); !os.IsNotExist(err) {
			t.Errorf("%s should be collected", sha)
		}
	}
}

func TestCollectGarbageLeavesForeignDirectories(t *testing.T) {
	// A bare template puts SHA directories directly in a shared
	// parent; anything there without a manifest is not ours to delete.
	root := t.TempDir()
	cfg := config.Default()
	cfg.Output = filepath.Join(root, "builds", "{HEAD_SHA}")
	cfg.Symlink = filepath.Join(root, "current")
	cfg.Retain = 0
	publisher := newTestPublisher(t, cfg)

	publishArchive(t, publisher, "sha-a", zipArchive(t, map[string]string{"v": "a"}))
	publishArchive(t, publisher, "sha-b", zipArchive(t, map[string]string{"v": "b"}))

	foreign := filepath.Join(cfg.OutputParent(), "operator-notes")
	if err := os.MkdirAll(foreign, 0o755); err != nil {
		t.Fatal(err)
	}

	if err := publisher.CollectGarbage(); err != nil {
		t.Fatalf("CollectGarbage: %v", err)
	}

	if _, err := os.Stat(foreign); err != nil {
		t.Errorf("foreign directory was collected: %v", err)
	}
	if _, err := os.Stat(cfg.OutputDir("sha-b")); err != nil {
		t.Errorf("current build should survive: %v", err)
	}
	if _, err := os.Stat(cfg.OutputDir("sha-a")); !os.IsNotExist(err) {
		t.Error("stale build sha-a should be collected")
	}
}

func TestCollectGarbageContinuesPastFailures(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retain = 0
	publisher := newTestPublisher(t, cfg)

	for _, sha := range []string{"sha-a", "sha-b", "sha-c"} {
		publishArchive(t, publisher, sha, zipArchive(t, map[string]string{"v": sha}))
	}

	// The first stale removal fails; the sweep must still reach the
	// rest instead of aborting.
	original := removeAll
	defer func() { removeAll = original }()
	failed := ""
	removeAll = func(path string) error {
		if failed == "" {
			failed = path
			return errors.New("device or resource busy")
		}
		return os.RemoveAll(path)
	}

	if err := publisher.CollectGarbage(); err != nil {
		t.Fatalf("CollectGarbage: %v", err)
	}

	if failed == "" {
		t.Fatal("no removal was attempted")
	}
	removed := 0
	for _, sha := range []string{"sha-a", "sha-b"} {
		if _, err := os.Stat(cfg.OutputDir(sha)); os.IsNotExist(err) {
			removed++
		}
	}
	if removed != 1 {
		t.Errorf("removed %d stale builds, want 1 (one removal failed, one succeeded)", removed)
	}
	if _, err := os.Stat(cfg.OutputDir("sha-c")); err != nil {
		t.Errorf("current build should survive: %v", err)
	}
}

func TestSweepStagingOnStartup(t *testing.T) {
	cfg := testConfig(t)

	// Simulate a crash mid-extraction: a staging directory exists
	// before the publisher starts.
	if err := os.MkdirAll(filepath.Join(filepath.Dir(cfg.OutputDir("x")), stagingPrefix+"crashed"), 0o755); err != nil {
		t.Fatal(err)
	}

	publisher := newTestPublisher(t, cfg)
	_ = publisher

	entries, err := os.ReadDir(cfg.OutputParent())
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if entry.Name() == stagingPrefix+"crashed" {
			t.Error("stale staging directory survived startup sweep")
		}
	}
}

func TestDetectFormat(t *testing.T) {
	directory := t.TempDir()
	write := func(name string, data []byte) string {
		path := filepath.Join(directory, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	zipPath := write("a.zip", zipArchive(t, map[string]string{"f": "x"}))
	gzipPath := write("a.tar.gz", tarArchive(t, map[string]string{"f": "x"}, "gzip"))
	zstdPath := write("a.tar.zst", tarArchive(t, map[string]string{"f": "x"}, "zstd"))

	tests := []struct {
		path string
		want Format
	}{
		{zipPath, FormatZip},
		{gzipPath, FormatTarGzip},
		{zstdPath, FormatTarZstd},
	}
	for _, test := range tests {
		got, err := DetectFormat(test.path)
		if err != nil {
			t.Errorf("DetectFormat(%s): %v", test.path, err)
			continue
		}
		if got != test.want {
			t.Errorf("DetectFormat(%s) = %v, want %v", test.path, got, test.want)
		}
	}

	if _, err := DetectFormat(write("junk", []byte("plain text file"))); err == nil {
		t.Error("DetectFormat accepted junk")
	}
}
