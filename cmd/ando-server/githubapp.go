// Copyright 2019 Drone IO, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

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
	"os"
	"strconv"
	"time"
)

// githubAppTokens exchanges a GitHub App id + private key for short-lived
// installation access tokens. It satisfies both forge.InstallationTokenSource
// and checkout.TokenSource, the two seams that need an authenticated clone
// URL or API client without holding the app's private key themselves.
//
// No library in the retrieval pack signs GitHub App JWTs (go-scm consumes a
// bearer token, it doesn't mint one); the App auth handshake is a couple of
// JSON+RSA calls, so this stays on crypto/rsa and encoding/pem rather than
// pulling in an unvetted dependency for it.
type githubAppTokens struct {
	appID      int64
	privateKey *rsa.PrivateKey
	baseURL    string
	client     *http.Client
}

// newGithubAppTokens loads a PEM-encoded RSA private key from keyPath.
func newGithubAppTokens(appID int64, keyPath, baseURL string) (*githubAppTokens, error) {
	raw, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("githubapp: read private key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("githubapp: %s is not PEM-encoded", keyPath)
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		parsed, err2 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err2 != nil {
			return nil, fmt.Errorf("githubapp: parse private key: %w", err)
		}
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("githubapp: private key is not RSA")
		}
		key = rsaKey
	}
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &githubAppTokens{appID: appID, privateKey: key, baseURL: baseURL, client: http.DefaultClient}, nil
}

// appJWT mints a short-lived (9 minute) JWT authenticating as the app
// itself, the credential GitHub's installation token endpoint requires.
func (g *githubAppTokens) appJWT() (string, error) {
	now := time.Now()
	header := map[string]string{"alg": "RS256", "typ": "JWT"}
	claims := map[string]interface{}{
		"iat": now.Add(-30 * time.Second).Unix(),
		"exp": now.Add(9 * time.Minute).Unix(),
		"iss": strconv.FormatInt(g.appID, 10),
	}
	headerB64, err := encodeSegment(header)
	if err != nil {
		return "", err
	}
	claimsB64, err := encodeSegment(claims)
	if err != nil {
		return "", err
	}
	signingInput := headerB64 + "." + claimsB64
	sum := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, g.privateKey, crypto.SHA256, sum[:])
	if err != nil {
		return "", fmt.Errorf("githubapp: sign jwt: %w", err)
	}
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// Token implements forge.InstallationTokenSource and checkout.TokenSource:
// it exchanges installationID for a scoped access token good for ~1 hour.
func (g *githubAppTokens) Token(ctx context.Context, installationID string) (string, error) {
	jwt, err := g.appJWT()
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/app/installations/%s/access_tokens", g.baseURL, installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+jwt)
	req.Header.Set("Accept", "application/vnd.github+json")

	res, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("githubapp: installation token request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("githubapp: installation token request failed with status %d", res.StatusCode)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("githubapp: decode installation token response: %w", err)
	}
	return body.Token, nil
}

func encodeSegment(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}
