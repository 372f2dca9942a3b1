// SPDX-License-Identifier: MIT

// Package console talks to the game panel's client API to dispatch console
// commands at target servers.
package console

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxErrorBody = 512

// Client dispatches console commands through the panel API. Each call is a
// single delivery attempt; the caller decides whether a failure is retried.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// New creates a panel client for the given API base URL and token.
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

// SendCommand submits a single console command to the server identified by
// panelServerID. A nil return means the panel acknowledged the command; it
// does not mean the command had its intended effect.
func (c *Client) SendCommand(ctx context.Context, panelServerID, command string) error {
	payload, err := json.Marshal(map[string]string{"command": command})
	if err != nil {
		return fmt.Errorf("console: encode command: %w", err)
	}

	u := c.base + "/api/client/servers/" + url.PathEscape(panelServerID) + "/command"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("console: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	res, err := c.http.Do(req)
	if err != nil {
		return &ConsoleError{Sentinel: classifyTransport(err), ServerID: panelServerID, Err: err}
	}
	defer func() { _ = res.Body.Close() }()

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		return nil
	case res.StatusCode == http.StatusGatewayTimeout:
		return &ConsoleError{Sentinel: ErrTimeout, ServerID: panelServerID, Status: res.StatusCode}
	case res.StatusCode == http.StatusBadGateway, res.StatusCode == http.StatusServiceUnavailable:
		return &ConsoleError{Sentinel: ErrUnreachable, ServerID: panelServerID, Status: res.StatusCode, Body: readSnippet(res.Body)}
	default:
		return &ConsoleError{Sentinel: ErrRejected, ServerID: panelServerID, Status: res.StatusCode, Body: readSnippet(res.Body)}
	}
}

// classifyTransport maps transport-level failures onto the sentinel taxonomy
// so callers can distinguish "timed out" from "not reachable".
func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	return ErrUnreachable
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(b))
}
