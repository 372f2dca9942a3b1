// SPDX-License-Identifier: MIT

// Package authme talks to the AuthMe web bridge to verify in-game
// credentials.
package authme

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client checks player credentials against the authentication backend.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// New creates a verifier client for the given bridge base URL and token.
func New(base, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: timeout},
	}
}

// VerifyPassword reports whether the password currently matches the stored
// credential for the identifier. Transport and upstream failures are
// returned as errors; the verification poller treats them as "not yet
// confirmed" rather than hard failures.
func (c *Client) VerifyPassword(ctx context.Context, identifier, password string) (bool, error) {
	payload, err := json.Marshal(map[string]string{
		"username": identifier,
		"password": password,
	})
	if err != nil {
		return false, fmt.Errorf("authme: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/verify", bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("authme: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	res, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("authme: verify request: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return false, fmt.Errorf("authme: verify returned HTTP %d", res.StatusCode)
	}

	var body struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("authme: decode response: %w", err)
	}
	return body.OK, nil
}
