// Copyright 2026 The ghsync Authors
// SPDX-License-Identifier: Apache-2.0

package publish

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/zeebo/blake3"
)

// ManifestName is the manifest file written at the root of every
// published build directory. The leading dot keeps it out of the way
// of build content; consumers that glob the directory don't see it.
const ManifestName = ".ghsync-manifest.json"

// Manifest records what a published directory contains. It is written
// during staging, before the directory is promoted, so a directory
// carrying a manifest is by construction fully extracted.
type Manifest struct {
	// HeadSHA is the commit the build was produced from.
	HeadSHA string `json:"head_sha"`

	// RunID is the workflow run the artifact came from.
	RunID int64 `json:"run_id"`

	// Artifact is the artifact name that was mirrored.
	Artifact string `json:"artifact"`

	// CreatedAt is when the manifest was written (staging time).
	CreatedAt time.Time `json:"created_at"`

	// TotalSize is the byte total of all extracted files.
	TotalSize int64 `json:"total_size"`

	// Files lists every extracted file, sorted by path.
	Files []ManifestFile `json:"files"`
}

// ManifestFile is one extracted file.
type ManifestFile struct {
	// Path is the file's location relative to the build directory,
	// with forward slashes.
	Path string `json:"path"`

	// Size is the file size in bytes.
	Size int64 `json:"size"`

	// Digest is the hex-encoded BLAKE3 digest of the file contents.
	Digest string `json:"blake3"`
}

// buildManifest walks the extracted tree at root and digests every
// regular file.
func buildManifest(root, sha, artifact string, runID int64, createdAt time.Time) (*Manifest, error) {
	manifest := &Manifest{
		HeadSHA:   sha,
		RunID:     runID,
		Artifact:  artifact,
		CreatedAt: createdAt,
	}

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}

		digest, err := digestFile(path)
		if err != nil {
			return err
		}

		relative, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		manifest.Files = append(manifest.Files, ManifestFile{
			Path:   filepath.ToSlash(relative),
			Size:   info.Size(),
			Digest: digest,
		})
		manifest.TotalSize += info.Size()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking extracted tree: %w", err)
	}

	sort.Slice(manifest.Files, func(i, j int) bool {
		return manifest.Files[i].Path < manifest.Files[j].Path
	})
	return manifest, nil
}

// write persists the manifest at the root of dir.
func (m *Manifest) write(dir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	path := filepath.Join(dir, ManifestName)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// ReadManifest loads the manifest from a published directory. Returns
// fs.ErrNotExist (wrapped) when the directory has no manifest.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parsing manifest in %s: %w", dir, err)
	}
	return &manifest, nil
}

// Verify re-digests every file the manifest names and reports the
// first mismatch. Used by the doctor command and by tests; the hot
// path trusts the atomic rename instead.
func (m *Manifest) Verify(dir string) error {
	for _, file := range m.Files {
		path := filepath.Join(dir, filepath.FromSlash(file.Path))
		digest, err := digestFile(path)
		if err != nil {
			return fmt.Errorf("verifying %s: %w", file.Path, err)
		}
		if digest != file.Digest {
			return fmt.Errorf("digest mismatch for %s: manifest %s, disk %s", file.Path, file.Digest, digest)
		}
	}
	return nil
}

// digestFile computes the hex-encoded BLAKE3 digest of a file.
func digestFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
