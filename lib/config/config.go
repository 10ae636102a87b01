// Copyright 2026 The ghsync Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// SHAPlaceholder is the token substituted with the head commit SHA
// when rendering the output directory template.
const SHAPlaceholder = "{HEAD_SHA}"

// envPrefix is the prefix shared by all ghsync environment variables.
const envPrefix = "GH_ARTIFACT_SYNC_"

// Config holds the full ghsyncd configuration.
type Config struct {
	// Log is the log level: debug, info, warn, or error.
	Log string `yaml:"log"`

	// Repository is the tracked repository as "owner/name". Webhook
	// deliveries for any other repository are acknowledged and
	// dropped.
	Repository string `yaml:"repository"`

	// Branch is the tracked branch. Only artifacts built from this
	// branch are mirrored.
	Branch string `yaml:"branch"`

	// Artifact is the name of the workflow artifact to fetch.
	Artifact string `yaml:"artifact"`

	// Output is the output directory template. It must contain
	// {HEAD_SHA} in its final path element; each published commit
	// gets its own rendered directory under a common parent.
	Output string `yaml:"output"`

	// Symlink is the fixed path of the published symlink. Only the
	// link's target changes across publishes, never the path itself,
	// so {HEAD_SHA} is rejected here.
	Symlink string `yaml:"symlink"`

	// Address is the webhook listen address (host or IP).
	Address string `yaml:"address"`

	// Port is the webhook listen port.
	Port int `yaml:"port"`

	// Secret is the webhook HMAC-SHA256 signing secret.
	Secret string `yaml:"secret"`

	// Token is the GitHub API credential used for run lookup and
	// artifact download. Mutually exclusive with the App auth fields.
	Token string `yaml:"token"`

	// AppID is the GitHub App's numeric ID. Together with
	// AppPrivateKeyFile and AppInstallationID it selects App
	// authentication instead of a static token.
	AppID int64 `yaml:"app_id"`

	// AppPrivateKeyFile is the path of the App's PEM-encoded RSA
	// private key.
	AppPrivateKeyFile string `yaml:"app_private_key_file"`

	// AppInstallationID is the App installation's numeric ID.
	AppInstallationID int64 `yaml:"app_installation_id"`

	// APIBaseURL is the GitHub REST API base. Defaults to the public
	// API; override for GitHub Enterprise or tests.
	APIBaseURL string `yaml:"api_base_url"`

	// Retain is how many previously published SHA directories the GC
	// keeps besides the current symlink target.
	Retain int `yaml:"retain"`

	// MaxAttempts bounds retries of a sync attempt on transient
	// failure (CI run not finished yet, network errors, 5xx).
	MaxAttempts int `yaml:"max_attempts"`
}

// Default returns the configuration defaults. These cover only the
// tunables — the deployment contract fields (repository, branch,
// artifact, paths, secret, token) have no defaults and must be set.
func Default() *Config {
	return &Config{
		Log:         "info",
		Address:     "127.0.0.1",
		Port:        8322,
		APIBaseURL:  "https://api.github.com",
		Retain:      3,
		MaxAttempts: 5,
	}
}

// Load builds the configuration: defaults, then the yaml file named
// by GH_ARTIFACT_SYNC_CONFIG (if any), then environment variables.
// configFile, when non-empty (--config flag), takes precedence over
// the environment variable for locating the file.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile == "" {
		configFile = os.Getenv(envPrefix + "CONFIG")
	}
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", configFile, err)
		}
	}

	if err := cfg.applyEnvironment(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvironment overrides config fields from GH_ARTIFACT_SYNC_*
// environment variables.
func (c *Config) applyEnvironment() error {
	setString := func(name string, target *string) {
		if value := os.Getenv(envPrefix + name); value != "" {
			*target = value
		}
	}

	setString("LOG", &c.Log)
	setString("REPO", &c.Repository)
	setString("BRANCH", &c.Branch)
	setString("ARTIFACT", &c.Artifact)
	setString("OUTPUT", &c.Output)
	setString("SYMLINK", &c.Symlink)
	setString("ADDR", &c.Address)
	setString("SECRET", &c.Secret)
	setString("TOKEN", &c.Token)
	setString("API_BASE_URL", &c.APIBaseURL)
	setString("APP_PRIVATE_KEY_FILE", &c.AppPrivateKeyFile)

	for _, field := range []struct {
		name   string
		target *int
	}{
		{"PORT", &c.Port},
		{"RETAIN", &c.Retain},
		{"MAX_ATTEMPTS", &c.MaxAttempts},
	} {
		value := os.Getenv(envPrefix + field.name)
		if value == "" {
			continue
		}
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s%s: %q is not an integer", envPrefix, field.name, value)
		}
		*field.target = parsed
	}

	for _, field := range []struct {
		name   string
		target *int64
	}{
		{"APP_ID", &c.AppID},
		{"APP_INSTALLATION_ID", &c.AppInstallationID},
	} {
		value := os.Getenv(envPrefix + field.name)
		if value == "" {
			continue
		}
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%s%s: %q is not an integer", envPrefix, field.name, value)
		}
		*field.target = parsed
	}

	return nil
}

// Validate checks the configuration and aggregates all problems into
// a single error.
func (c *Config) Validate() error {
	var errs []error

	switch c.Log {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log must be one of debug, info, warn, error (got %q)", c.Log))
	}

	if c.Repository == "" {
		errs = append(errs, errors.New("repository is required (GH_ARTIFACT_SYNC_REPO, \"owner/name\")"))
	} else if !repositoryPattern.MatchString(c.Repository) {
		errs = append(errs, fmt.Errorf("repository %q is not of the form owner/name", c.Repository))
	}

	if c.Branch == "" {
		errs = append(errs, errors.New("branch is required (GH_ARTIFACT_SYNC_BRANCH)"))
	}
	if c.Artifact == "" {
		errs = append(errs, errors.New("artifact is required (GH_ARTIFACT_SYNC_ARTIFACT)"))
	}
	if c.Secret == "" {
		errs = append(errs, errors.New("webhook secret is required (GH_ARTIFACT_SYNC_SECRET)"))
	}

	hasApp := c.AppID != 0 || c.AppPrivateKeyFile != "" || c.AppInstallationID != 0
	switch {
	case c.Token == "" && !hasApp:
		errs = append(errs, errors.New("API credential is required: set GH_ARTIFACT_SYNC_TOKEN, or GH_ARTIFACT_SYNC_APP_ID, _APP_PRIVATE_KEY_FILE, and _APP_INSTALLATION_ID"))
	case c.Token != "" && hasApp:
		errs = append(errs, errors.New("token and App authentication are mutually exclusive"))
	case hasApp && (c.AppID == 0 || c.AppPrivateKeyFile == "" || c.AppInstallationID == 0):
		errs = append(errs, errors.New("App authentication needs all of app_id, app_private_key_file, and app_installation_id"))
	}

	switch {
	case c.Output == "":
		errs = append(errs, errors.New("output template is required (GH_ARTIFACT_SYNC_OUTPUT)"))
	case !strings.Contains(c.Output, SHAPlaceholder):
		errs = append(errs, fmt.Errorf("output template must contain %s", SHAPlaceholder))
	case !strings.Contains(filepath.Base(c.Output), SHAPlaceholder):
		// The placeholder must be in the final element so all SHA
		// directories share one parent — staging and GC both depend
		// on that.
		errs = append(errs, fmt.Errorf("output template must contain %s in its final path element", SHAPlaceholder))
	case !filepath.IsAbs(c.Output):
		errs = append(errs, errors.New("output template must be an absolute path"))
	}

	switch {
	case c.Symlink == "":
		errs = append(errs, errors.New("symlink path is required (GH_ARTIFACT_SYNC_SYMLINK)"))
	case strings.Contains(c.Symlink, SHAPlaceholder):
		// The symlink path is fixed by configuration; only its target
		// changes per publish. A templated path would defeat the
		// stable-path contract consumers rely on.
		errs = append(errs, fmt.Errorf("symlink path must not contain %s — the path is fixed, only the target changes", SHAPlaceholder))
	case !filepath.IsAbs(c.Symlink):
		errs = append(errs, errors.New("symlink path must be an absolute path"))
	}

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d is not a valid TCP port", c.Port))
	}
	if c.Retain < 0 {
		errs = append(errs, fmt.Errorf("retain must be >= 0 (got %d)", c.Retain))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max_attempts must be >= 1 (got %d)", c.MaxAttempts))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

var repositoryPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]*/[A-Za-z0-9._-]+$`)

// OutputDir renders the output directory template for a commit SHA.
func (c *Config) OutputDir(sha string) string {
	return filepath.Clean(strings.ReplaceAll(c.Output, SHAPlaceholder, sha))
}

// OutputParent returns the directory that holds all SHA-scoped output
// directories. Staging directories are created here so the final
// rename stays on one filesystem.
func (c *Config) OutputParent() string {
	return filepath.Dir(filepath.Clean(c.Output))
}

// ListenAddress returns the host:port the webhook server binds.
func (c *Config) ListenAddress() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

// LogLevel maps the configured log level to a slog.Level. Validate
// guarantees the value is one of the four known names.
func (c *Config) LogLevel() slog.Level {
	switch c.Log {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
