// SPDX-License-Identifier: MIT

package automation

import (
	"context"
	"time"

	"github.com/novarealms/portal/internal/accounts"
	"github.com/novarealms/portal/internal/lifecycle"
	"github.com/novarealms/portal/internal/luckperms"
)

// BindingStore resolves game-identity bindings. Implemented by
// accounts.Store.
type BindingStore interface {
	BindingByID(ctx context.Context, id string) (*accounts.Binding, error)
	LatestBindingByUser(ctx context.Context, userID string) (*accounts.Binding, error)
}

// ServerStore resolves target servers. Implemented by accounts.Store.
type ServerStore interface {
	ServerByID(ctx context.Context, id string) (*accounts.Server, error)
}

// EventStore is the durable lifecycle log. Implemented by lifecycle.Store.
type EventStore interface {
	Create(ctx context.Context, ev *lifecycle.Event) error
	Patch(ctx context.Context, id string, patch map[string]any) (*lifecycle.Event, error)
	FindByID(ctx context.Context, id string) (*lifecycle.Event, error)
	FindRecent(ctx context.Context, userID string, sources []string, limit int) ([]*lifecycle.Event, error)
}

// ConsoleBridge dispatches a single console command to a server on the
// panel. Implemented by console.Client.
type ConsoleBridge interface {
	SendCommand(ctx context.Context, panelServerID, command string) error
}

// CredentialVerifier checks an in-game password against the authentication
// backend. Implemented by authme.Client.
type CredentialVerifier interface {
	VerifyPassword(ctx context.Context, identifier, password string) (bool, error)
}

// PermissionsReader reads player permission records. Implemented by
// luckperms.Client.
type PermissionsReader interface {
	PlayerByUUID(ctx context.Context, uuid string) (*luckperms.Player, error)
	PlayerByUsername(ctx context.Context, username string) (*luckperms.Player, error)
}

// Deps holds the orchestrator's collaborators. All remote systems are
// injected as interfaces so tests can run without network access.
type Deps struct {
	Bindings    BindingStore
	Servers     ServerStore
	Events      EventStore
	Console     ConsoleBridge
	Credentials CredentialVerifier
	Permissions PermissionsReader

	// PermissionsEnabled gates permission-group automations.
	PermissionsEnabled bool

	// Poll overrides the verification poll policy (defaults apply when zero).
	Poll PollPolicy

	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

// Receipt acknowledges a submitted automation. RequestID is the lifecycle
// event id the caller polls for progress.
type Receipt struct {
	Success   bool   `json:"success"`
	RequestID string `json:"requestId"`
}

// PasswordResetRequest asks for an in-game password change.
type PasswordResetRequest struct {
	BindingID string `json:"bindingId,omitempty"` // optional, defaults to the latest binding
	ServerID  string `json:"serverId"`
	Password  string `json:"password"`
	Reason    string `json:"reason,omitempty"`
}

// ForceLoginRequest asks the server to force a session login.
type ForceLoginRequest struct {
	BindingID string `json:"bindingId,omitempty"`
	ServerID  string `json:"serverId"`
	Reason    string `json:"reason,omitempty"`
}

// PermissionAdjustmentRequest asks for a primary-group change.
type PermissionAdjustmentRequest struct {
	BindingID   string `json:"bindingId,omitempty"`
	ServerID    string `json:"serverId"`
	TargetGroup string `json:"targetGroup"`
	Reason      string `json:"reason,omitempty"`
}
