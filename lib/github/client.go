// Copyright 2026 The ghsync Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ghsync/ghsync/lib/clock"
	"github.com/ghsync/ghsync/lib/netutil"
	"github.com/ghsync/ghsync/lib/version"
)

// githubAPIVersion pins the REST API revision on every request.
const githubAPIVersion = "2022-11-28"

// defaultBaseURL is the public GitHub API.
const defaultBaseURL = "https://api.github.com"

// Config configures a Client. Exactly one credential must be set:
// Token, or the three App fields together.
type Config struct {
	// BaseURL is the API root. Defaults to the public API; override
	// for GitHub Enterprise. HTTPS only.
	BaseURL string

	// AppID, PrivateKey, and InstallationID select GitHub App
	// authentication. PrivateKey is the App's PEM-encoded RSA key.
	AppID          int64
	PrivateKey     []byte
	InstallationID int64

	// Token is a personal access token or fine-grained token.
	Token string

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Clock defaults to clock.Real(). Tests inject clock.Fake to
	// drive rate-limit backoff deterministically.
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Client calls the GitHub REST API with authentication, preemptive
// rate limiting, conditional requests, and Link-header pagination.
// The surface is the slice of the Actions API the sync pipeline
// needs: runs, artifacts, and archive downloads.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       authenticator
	rateLimit  *rateLimiter
	cache      *conditionalCache
	clock      clock.Clock
	logger     *slog.Logger
}

// NewClient validates the configuration and builds a Client. It
// rejects plaintext base URLs and ambiguous or incomplete credential
// configurations.
func NewClient(config Config) (*Client, error) {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("github: API client requires HTTPS (got %q)", baseURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hasApp := config.AppID != 0 || len(config.PrivateKey) > 0 || config.InstallationID != 0
	hasToken := config.Token != ""
	if hasApp && hasToken {
		return nil, fmt.Errorf("github: cannot configure both App auth and token auth")
	}
	if !hasApp && !hasToken {
		return nil, fmt.Errorf("github: no authentication configured (set AppID+PrivateKey+InstallationID or Token)")
	}

	var auth authenticator
	if hasApp {
		switch {
		case config.AppID == 0:
			return nil, fmt.Errorf("github: AppID is required for App auth")
		case len(config.PrivateKey) == 0:
			return nil, fmt.Errorf("github: PrivateKey is required for App auth")
		case config.InstallationID == 0:
			return nil, fmt.Errorf("github: InstallationID is required for App auth")
		}

		appAuth, err := newAppAuth(config.AppID, config.InstallationID, config.PrivateKey, clk)
		if err != nil {
			return nil, err
		}
		// The token exchange rides the same transport as API calls.
		appAuth.httpClient = httpClient
		appAuth.baseURL = baseURL
		auth = appAuth
	} else {
		auth = newTokenAuth(config.Token)
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		auth:       auth,
		rateLimit:  newRateLimiter(clk),
		cache:      newConditionalCache(),
		clock:      clk,
		logger:     logger,
	}, nil
}

// do executes one authenticated API request against a path relative
// to the base URL and returns the response body. Non-2xx responses
// come back as *APIError; a rate-limited response is retried once
// after the server-indicated delay.
func (client *Client) do(ctx context.Context, method, path string) ([]byte, http.Header, error) {
	return client.doWithRetry(ctx, method, path, false)
}

func (client *Client) doWithRetry(ctx context.Context, method, path string, isRetry bool) ([]byte, http.Header, error) {
	url := client.baseURL + path
	response, err := client.doRaw(ctx, method, url)
	if err != nil {
		return nil, nil, err
	}
	defer response.Body.Close()

	// 304 means our validator still holds: answer from the cache.
	if response.StatusCode == http.StatusNotModified {
		if cached := client.cache.body(url); cached != nil {
			return cached, response.Header, nil
		}
		// A 304 with nothing cached should not happen; reading the
		// empty body below produces a clear error either way.
	}

	body, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("github: reading response body: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		// One retry on rate limiting, never more: a second rejection
		// surfaces to the coordinator's own backoff instead.
		rateLimited := response.StatusCode == http.StatusTooManyRequests ||
			(response.StatusCode == http.StatusForbidden && isRateLimitMessage(string(body)))
		if !isRetry && rateLimited {
			if delay := client.rateLimit.retryDelay(response.Header); delay > 0 {
				client.logger.Info("rate limited, backing off",
					"duration", delay,
					"method", method,
					"path", path,
				)
				select {
				case <-client.clock.After(delay):
				case <-ctx.Done():
					return nil, nil, ctx.Err()
				}
				return client.doWithRetry(ctx, method, path, true)
			}
		}

		return nil, nil, parseAPIErrorFromBody(response.StatusCode, body)
	}

	if method == http.MethodGet {
		client.cache.store(url, response.Header.Get("ETag"), body)
	}

	return body, response.Header, nil
}

// doRaw sends an authenticated request and hands back the raw
// response, body unread. Used by do, by PageIterator (which wants the
// Link header), and by artifact downloads (which stream the body to
// disk). Caller closes the body.
func (client *Client) doRaw(ctx context.Context, method, url string) (*http.Response, error) {
	if err := client.rateLimit.acquire(ctx); err != nil {
		return nil, err
	}

	request, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("github: creating request: %w", err)
	}

	// http.Client drops Authorization on cross-host redirects, so the
	// credential never reaches the blob storage hosts that artifact
	// downloads redirect to.
	authHeader, err := client.auth.AuthorizationHeader(ctx)
	if err != nil {
		return nil, fmt.Errorf("github: authentication: %w", err)
	}
	request.Header.Set("Authorization", authHeader)

	request.Header.Set("Accept", "application/vnd.github+json")
	request.Header.Set("X-GitHub-Api-Version", githubAPIVersion)
	request.Header.Set("User-Agent", version.UserAgent())

	if method == http.MethodGet {
		if etag := client.cache.validator(url); etag != "" {
			request.Header.Set("If-None-Match", etag)
		}
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("github: %s %s: %w", method, url, err)
	}

	client.rateLimit.observe(response.Header)
	return response, nil
}

// parseAPIError drains an error response into an *APIError.
func parseAPIError(response *http.Response) *APIError {
	body, _ := netutil.ReadResponse(response.Body)
	return parseAPIErrorFromBody(response.StatusCode, body)
}

func parseAPIErrorFromBody(statusCode int, body []byte) *APIError {
	apiError := &APIError{StatusCode: statusCode}

	var wireError struct {
		Message          string `json:"message"`
		DocumentationURL string `json:"documentation_url"`
	}
	if json.Unmarshal(body, &wireError) == nil && wireError.Message != "" {
		apiError.Message = wireError.Message
		apiError.DocumentationURL = wireError.DocumentationURL
	} else {
		apiError.Message = string(body)
	}
	return apiError
}
