// Copyright 2026 The ghsync Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ghsync/ghsync/lib/clock"
	"github.com/ghsync/ghsync/lib/netutil"
)

// authenticator supplies the Authorization header for API requests.
// The token form is a constant; the App form lazily exchanges a
// signed JWT for a short-lived installation token and rotates it
// before expiry.
type authenticator interface {
	AuthorizationHeader(ctx context.Context) (string, error)
}

// tokenRotationMargin is the slack before an installation token's
// expiry at which a new one is fetched. Installation tokens live one
// hour; rotating five minutes early means a request never starts with
// a token that dies mid-flight.
const tokenRotationMargin = 5 * time.Minute

// tokenAuth wraps a personal access token or fine-grained token.
type tokenAuth struct {
	header string
}

func newTokenAuth(token string) *tokenAuth {
	return &tokenAuth{header: "Bearer " + token}
}

func (auth *tokenAuth) AuthorizationHeader(_ context.Context) (string, error) {
	return auth.header, nil
}

// appAuth authenticates as a GitHub App installation.
type appAuth struct {
	appID          int64
	installationID int64
	privateKey     *rsa.PrivateKey
	clock          clock.Clock

	// httpClient and baseURL serve the token-exchange POST. The Client
	// fills them in after construction; auth cannot reach back into
	// the Client without a cycle.
	httpClient *http.Client
	baseURL    string

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func newAppAuth(appID, installationID int64, privateKeyPEM []byte, clk clock.Clock) (*appAuth, error) {
	key, err := parseRSAPrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}
	return &appAuth{
		appID:          appID,
		installationID: installationID,
		privateKey:     key,
		clock:          clk,
	}, nil
}

// parseRSAPrivateKey accepts the PKCS#1 PEM GitHub hands out when an
// App key is generated, and PKCS#8 for keys that have been through
// other tooling.
func parseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("github: private key is not PEM")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("github: parsing private key (tried PKCS1 and PKCS8): %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("github: private key is %T, App keys must be RSA", parsed)
	}
	return key, nil
}

func (auth *appAuth) AuthorizationHeader(ctx context.Context) (string, error) {
	auth.mu.Lock()
	defer auth.mu.Unlock()

	if auth.token != "" && auth.clock.Now().Before(auth.expiresAt.Add(-tokenRotationMargin)) {
		return "Bearer " + auth.token, nil
	}

	token, expiresAt, err := auth.exchangeToken(ctx)
	if err != nil {
		return "", err
	}
	auth.token = token
	auth.expiresAt = expiresAt
	return "Bearer " + token, nil
}

// exchangeToken signs a fresh JWT and trades it for an installation
// access token. Caller holds auth.mu.
func (auth *appAuth) exchangeToken(ctx context.Context) (string, time.Time, error) {
	jwt, err := auth.generateJWT()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("github: signing App JWT: %w", err)
	}

	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", auth.baseURL, auth.installationID)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("github: building token exchange request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+jwt)
	request.Header.Set("Accept", "application/vnd.github+json")

	response, err := auth.httpClient.Do(request)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("github: token exchange: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusCreated {
		body, _ := netutil.ReadResponse(response.Body)
		return "", time.Time{}, fmt.Errorf("github: token exchange returned HTTP %d: %s", response.StatusCode, body)
	}

	var grant struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(response.Body).Decode(&grant); err != nil {
		return "", time.Time{}, fmt.Errorf("github: decoding token exchange response: %w", err)
	}
	if grant.Token == "" {
		return "", time.Time{}, fmt.Errorf("github: token exchange returned no token")
	}
	return grant.Token, grant.ExpiresAt, nil
}

// generateJWT builds the RS256 App JWT: iss is the App ID, iat is
// backdated 60 seconds against clock skew, exp is the 10-minute
// maximum GitHub allows.
func (auth *appAuth) generateJWT() (string, error) {
	now := auth.clock.Now()

	claims, err := json.Marshal(struct {
		IssuedAt  int64  `json:"iat"`
		ExpiresAt int64  `json:"exp"`
		Issuer    string `json:"iss"`
	}{
		IssuedAt:  now.Add(-60 * time.Second).Unix(),
		ExpiresAt: now.Add(10 * time.Minute).Unix(),
		Issuer:    strconv.FormatInt(auth.appID, 10),
	})
	if err != nil {
		return "", fmt.Errorf("marshaling claims: %w", err)
	}

	signingInput := base64url([]byte(`{"alg":"RS256","typ":"JWT"}`)) + "." + base64url(claims)
	digest := sha256.Sum256([]byte(signingInput))
	signature, err := rsa.SignPKCS1v15(rand.Reader, auth.privateKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("signing: %w", err)
	}
	return signingInput + "." + base64url(signature), nil
}

// base64url is the unpadded encoding JWTs use (RFC 7515).
func base64url(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}
