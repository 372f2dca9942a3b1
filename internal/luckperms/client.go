// SPDX-License-Identifier: MIT

// Package luckperms reads player permission data from the LuckPerms REST
// bridge. The portal never writes through this path; group changes go
// through the console like every other automation.
package luckperms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Player is the subset of the LuckPerms user model the portal cares about.
type Player struct {
	Username     string `json:"username"`
	UniqueID     string `json:"uniqueId"`
	PrimaryGroup string `json:"primaryGroup"`
}

// Client reads player records from the permissions backend.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// New creates a permissions reader for the given bridge base URL and token.
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

// PlayerByUUID looks up a player by Mojang UUID. A missing player is
// (nil, nil), not an error.
func (c *Client) PlayerByUUID(ctx context.Context, uuid string) (*Player, error) {
	return c.fetch(ctx, c.base+"/user/"+url.PathEscape(uuid))
}

// PlayerByUsername looks up a player by username. A missing player is
// (nil, nil), not an error.
func (c *Client) PlayerByUsername(ctx context.Context, username string) (*Player, error) {
	return c.fetch(ctx, c.base+"/user/lookup?username="+url.QueryEscape(username))
}

func (c *Client) fetch(ctx context.Context, u string) (*Player, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("luckperms: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("luckperms: lookup request: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("luckperms: lookup returned HTTP %d", res.StatusCode)
	}

	var p Player
	if err := json.NewDecoder(res.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("luckperms: decode response: %w", err)
	}
	return &p, nil
}
