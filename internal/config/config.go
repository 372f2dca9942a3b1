// SPDX-License-Identifier: MIT

// Package config holds the portal daemon configuration, sourced from
// environment variables with logged defaults.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// PanelSettings configures the game-panel console bridge.
type PanelSettings struct {
	BaseURL string        // panel API base, e.g. https://panel.example.net
	Token   string        // client API token
	Timeout time.Duration // per-request timeout
}

// AuthMeSettings configures the credential verifier bridge.
type AuthMeSettings struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// LuckPermsSettings configures the permissions read path.
type LuckPermsSettings struct {
	Enabled bool // permission-group automations are rejected when false
	BaseURL string
	Token   string
	Timeout time.Duration
}

// VerificationSettings bounds the post-dispatch convergence polling.
type VerificationSettings struct {
	Attempts int
	Interval time.Duration
}

// RateLimitSettings bounds automation submissions per client IP.
type RateLimitSettings struct {
	Enabled  bool
	Requests int // per window
	Window   time.Duration
}

// AppConfig is the root configuration for portald.
type AppConfig struct {
	Listen       string // HTTP listen address
	DataDir      string // directory holding the sqlite database
	LogLevel     string
	Panel        PanelSettings
	AuthMe       AuthMeSettings
	LuckPerms    LuckPermsSettings
	Verification VerificationSettings
	RateLimit    RateLimitSettings
}

// FromEnv builds the configuration from PORTAL_* environment variables.
func FromEnv() AppConfig {
	return AppConfig{
		Listen:   ParseString("PORTAL_LISTEN", ":8080"),
		DataDir:  ParseString("PORTAL_DATA_DIR", "/data"),
		LogLevel: ParseString("PORTAL_LOG_LEVEL", "info"),
		Panel: PanelSettings{
			BaseURL: ParseString("PORTAL_PANEL_BASE", ""),
			Token:   ParseString("PORTAL_PANEL_TOKEN", ""),
			Timeout: ParseDuration("PORTAL_PANEL_TIMEOUT", 10*time.Second),
		},
		AuthMe: AuthMeSettings{
			BaseURL: ParseString("PORTAL_AUTHME_BASE", ""),
			Token:   ParseString("PORTAL_AUTHME_TOKEN", ""),
			Timeout: ParseDuration("PORTAL_AUTHME_TIMEOUT", 10*time.Second),
		},
		LuckPerms: LuckPermsSettings{
			Enabled: ParseBool("PORTAL_LUCKPERMS_ENABLED", false),
			BaseURL: ParseString("PORTAL_LUCKPERMS_BASE", ""),
			Token:   ParseString("PORTAL_LUCKPERMS_TOKEN", ""),
			Timeout: ParseDuration("PORTAL_LUCKPERMS_TIMEOUT", 10*time.Second),
		},
		Verification: VerificationSettings{
			Attempts: ParseInt("PORTAL_VERIFY_ATTEMPTS", 6),
			Interval: ParseDuration("PORTAL_VERIFY_INTERVAL", 2*time.Second),
		},
		RateLimit: RateLimitSettings{
			Enabled:  ParseBool("PORTAL_RATELIMIT_ENABLED", true),
			Requests: ParseInt("PORTAL_RATELIMIT_REQUESTS", 30),
			Window:   ParseDuration("PORTAL_RATELIMIT_WINDOW", time.Minute),
		},
	}
}

// Validate checks the configuration for operability before startup.
func (c AppConfig) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("config: listen address is required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: data dir is required")
	}
	if err := validateBaseURL("panel", c.Panel.BaseURL, true); err != nil {
		return err
	}
	if err := validateBaseURL("authme", c.AuthMe.BaseURL, true); err != nil {
		return err
	}
	if err := validateBaseURL("luckperms", c.LuckPerms.BaseURL, c.LuckPerms.Enabled); err != nil {
		return err
	}
	if c.Verification.Attempts < 1 {
		return fmt.Errorf("config: verification attempts must be >= 1, got %d", c.Verification.Attempts)
	}
	if c.Verification.Interval <= 0 {
		return fmt.Errorf("config: verification interval must be positive, got %s", c.Verification.Interval)
	}
	return nil
}

func validateBaseURL(name, base string, required bool) error {
	if strings.TrimSpace(base) == "" {
		if required {
			return fmt.Errorf("config: %s base URL is required", name)
		}
		return nil
	}
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: %s base URL %q is not a valid http(s) URL", name, base)
	}
	return nil
}
