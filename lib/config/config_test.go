// Copyright 2026 The ghsync Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// validEnv sets the minimal valid environment contract and returns
// after registering cleanup. t.Setenv also restores prior values.
func validEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GH_ARTIFACT_SYNC_CONFIG", "")
	t.Setenv("GH_ARTIFACT_SYNC_REPO", "acme/widget")
	t.Setenv("GH_ARTIFACT_SYNC_BRANCH", "main")
	t.Setenv("GH_ARTIFACT_SYNC_ARTIFACT", "dist")
	t.Setenv("GH_ARTIFACT_SYNC_OUTPUT", "/srv/widget/builds/{HEAD_SHA}")
	t.Setenv("GH_ARTIFACT_SYNC_SYMLINK", "/srv/widget/current")
	t.Setenv("GH_ARTIFACT_SYNC_SECRET", "hunter2")
	t.Setenv("GH_ARTIFACT_SYNC_TOKEN", "ghp_token")
}

func TestLoadFromEnvironment(t *testing.T) {
	validEnv(t)
	t.Setenv("GH_ARTIFACT_SYNC_LOG", "debug")
	t.Setenv("GH_ARTIFACT_SYNC_ADDR", "0.0.0.0")
	t.Setenv("GH_ARTIFACT_SYNC_PORT", "9000")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Repository != "acme/widget" {
		t.Errorf("Repository = %q, want %q", cfg.Repository, "acme/widget")
	}
	if cfg.ListenAddress() != "0.0.0.0:9000" {
		t.Errorf("ListenAddress() = %q, want %q", cfg.ListenAddress(), "0.0.0.0:9000")
	}
	if cfg.Log != "debug" {
		t.Errorf("Log = %q, want debug", cfg.Log)
	}
	// Tunables keep their defaults when unset.
	if cfg.Retain != 3 {
		t.Errorf("Retain = %d, want default 3", cfg.Retain)
	}
	if cfg.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want default 5", cfg.MaxAttempts)
	}
}

func TestLoadFileWithEnvironmentOverride(t *testing.T) {
	validEnv(t)
	t.Setenv("GH_ARTIFACT_SYNC_BRANCH", "release")

	path := filepath.Join(t.TempDir(), "ghsync.yaml")
	file := `
branch: main
artifact: dist-from-file
retain: 7
`
	if err := os.WriteFile(path, []byte(file), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Environment wins over the file.
	if cfg.Branch != "release" {
		t.Errorf("Branch = %q, want env override %q", cfg.Branch, "release")
	}
	// File wins over defaults when env is silent. The ARTIFACT env
	// var is set by validEnv, so it overrides the file here too.
	if cfg.Artifact != "dist" {
		t.Errorf("Artifact = %q, want env override %q", cfg.Artifact, "dist")
	}
	if cfg.Retain != 7 {
		t.Errorf("Retain = %d, want file value 7", cfg.Retain)
	}
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() on empty config = nil, want error")
	}

	for _, want := range []string{"repository", "branch", "artifact", "secret", "credential", "output", "symlink"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error missing %q: %v", want, err)
		}
	}
}

func TestValidateRejectsTemplatedSymlink(t *testing.T) {
	validEnv(t)
	t.Setenv("GH_ARTIFACT_SYNC_SYMLINK", "/srv/widget/current-{HEAD_SHA}")

	if _, err := Load(""); err == nil {
		t.Fatal("Load() accepted a {HEAD_SHA} symlink path, want error")
	}
}

func TestValidateRequiresPlaceholderInFinalElement(t *testing.T) {
	validEnv(t)
	t.Setenv("GH_ARTIFACT_SYNC_OUTPUT", "/srv/{HEAD_SHA}/build")

	if _, err := Load(""); err == nil {
		t.Fatal("Load() accepted {HEAD_SHA} outside the final path element, want error")
	}
}

func TestValidateRejectsBadRepository(t *testing.T) {
	validEnv(t)
	t.Setenv("GH_ARTIFACT_SYNC_REPO", "not-a-repo")

	if _, err := Load(""); err == nil {
		t.Fatal("Load() accepted a repository without owner/name form, want error")
	}
}

func TestValidateAuthModes(t *testing.T) {
	t.Run("token and App are mutually exclusive", func(t *testing.T) {
		validEnv(t)
		t.Setenv("GH_ARTIFACT_SYNC_APP_ID", "12345")
		t.Setenv("GH_ARTIFACT_SYNC_APP_PRIVATE_KEY_FILE", "/etc/ghsync/app.pem")
		t.Setenv("GH_ARTIFACT_SYNC_APP_INSTALLATION_ID", "67890")

		if _, err := Load(""); err == nil {
			t.Fatal("Load() accepted both token and App auth, want error")
		}
	})

	t.Run("complete App auth replaces the token", func(t *testing.T) {
		validEnv(t)
		t.Setenv("GH_ARTIFACT_SYNC_TOKEN", "")
		t.Setenv("GH_ARTIFACT_SYNC_APP_ID", "12345")
		t.Setenv("GH_ARTIFACT_SYNC_APP_PRIVATE_KEY_FILE", "/etc/ghsync/app.pem")
		t.Setenv("GH_ARTIFACT_SYNC_APP_INSTALLATION_ID", "67890")

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() error: %v", err)
		}
		if cfg.AppID != 12345 || cfg.AppInstallationID != 67890 {
			t.Errorf("App fields = %d/%d, want 12345/67890", cfg.AppID, cfg.AppInstallationID)
		}
	})

	t.Run("partial App auth is rejected", func(t *testing.T) {
		validEnv(t)
		t.Setenv("GH_ARTIFACT_SYNC_TOKEN", "")
		t.Setenv("GH_ARTIFACT_SYNC_APP_ID", "12345")

		if _, err := Load(""); err == nil {
			t.Fatal("Load() accepted App auth without key and installation, want error")
		}
	})
}

func TestOutputDirAndParent(t *testing.T) {
	validEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if got := cfg.OutputDir("abc123"); got != "/srv/widget/builds/abc123" {
		t.Errorf("OutputDir(abc123) = %q", got)
	}
	if got := cfg.OutputParent(); got != "/srv/widget/builds" {
		t.Errorf("OutputParent() = %q", got)
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	validEnv(t)
	t.Setenv("GH_ARTIFACT_SYNC_PORT", "not-a-port")
	if _, err := Load(""); err == nil {
		t.Fatal("Load() accepted a non-integer port, want error")
	}

	t.Setenv("GH_ARTIFACT_SYNC_PORT", "70000")
	if _, err := Load(""); err == nil {
		t.Fatal("Load() accepted port 70000, want error")
	}
}
