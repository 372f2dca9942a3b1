// SPDX-License-Identifier: MIT

// Package accounts exposes read-only views of game-identity bindings and
// target servers. Both records are owned by the portal's CRUD surface; the
// automation core only resolves them.
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/novarealms/portal/internal/persistence/sqlite"
)

const schemaVersion = 1

var (
	// ErrBindingNotFound is returned when no binding matches the lookup.
	ErrBindingNotFound = errors.New("accounts: binding not found")
	// ErrServerNotFound is returned when no server matches the lookup.
	ErrServerNotFound = errors.New("accounts: server not found")
)

// Binding links a portal user to an in-game identity.
type Binding struct {
	ID             string
	UserID         string
	AuthmeUsername string
	AuthmeRealname string
	UUID           string // Mojang UUID, may be empty for offline-mode players
	BoundAt        time.Time
}

// Server is a target game server. PanelServerID addresses the server on the
// console panel; automation is refused for servers without one.
type Server struct {
	ID                string
	DisplayName       string
	PanelServerID     string
	AutomationEnabled bool
}

// Store reads bindings and servers from the portal database.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the accounts store at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("accounts store: migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	var currentVersion int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS bindings (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		authme_username TEXT NOT NULL DEFAULT '',
		authme_realname TEXT NOT NULL DEFAULT '',
		uuid TEXT NOT NULL DEFAULT '',
		bound_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_bindings_user_bound ON bindings(user_id, bound_at DESC);

	CREATE TABLE IF NOT EXISTS servers (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		panel_server_id TEXT NOT NULL DEFAULT '',
		automation_enabled BOOLEAN NOT NULL DEFAULT 0
	);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// BindingByID returns the binding with the given id, or ErrBindingNotFound.
func (s *Store) BindingByID(ctx context.Context, id string) (*Binding, error) {
	return scanBinding(s.db.QueryRowContext(ctx,
		`SELECT id, user_id, authme_username, authme_realname, uuid, bound_at
		 FROM bindings WHERE id = ?`, id))
}

// LatestBindingByUser returns the user's most recently bound identity, or
// ErrBindingNotFound when the user has none.
func (s *Store) LatestBindingByUser(ctx context.Context, userID string) (*Binding, error) {
	return scanBinding(s.db.QueryRowContext(ctx,
		`SELECT id, user_id, authme_username, authme_realname, uuid, bound_at
		 FROM bindings WHERE user_id = ? ORDER BY bound_at DESC LIMIT 1`, userID))
}

// ServerByID returns the server with the given id, or ErrServerNotFound.
func (s *Store) ServerByID(ctx context.Context, id string) (*Server, error) {
	var srv Server
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, panel_server_id, automation_enabled
		 FROM servers WHERE id = ?`, id).
		Scan(&srv.ID, &srv.DisplayName, &srv.PanelServerID, &srv.AutomationEnabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrServerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &srv, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanBinding(row *sql.Row) (*Binding, error) {
	var b Binding
	var boundAt string
	err := row.Scan(&b.ID, &b.UserID, &b.AuthmeUsername, &b.AuthmeRealname, &b.UUID, &boundAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBindingNotFound
	}
	if err != nil {
		return nil, err
	}
	if b.BoundAt, err = time.Parse(time.RFC3339Nano, boundAt); err != nil {
		return nil, fmt.Errorf("accounts store: decode bound_at for %s: %w", b.ID, err)
	}
	return &b, nil
}
