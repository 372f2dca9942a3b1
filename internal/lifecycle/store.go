// SPDX-License-Identifier: MIT

package lifecycle

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/novarealms/portal/internal/persistence/sqlite"
)

const schemaVersion = 1

// ErrNotFound is returned when no event exists for the given id.
var ErrNotFound = errors.New("lifecycle: event not found")

// ErrFinalized is returned for patches against an event whose status is
// already SUCCESS or FAILED. Terminal states are never left.
var ErrFinalized = errors.New("lifecycle: event already finalized")

// Store persists lifecycle events in SQLite.
//
// Patch is read-modify-write and is safe only under the orchestrator's
// invariant that a single task owns a given event id for its whole life.
// Any second writer for the same id needs a version check first.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the event store at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("lifecycle store: migration failed: %w", err)
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
	CREATE TABLE IF NOT EXISTS lifecycle_events (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		source TEXT NOT NULL,
		event_type TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_lifecycle_user_occurred ON lifecycle_events(user_id, occurred_at DESC);
	CREATE INDEX IF NOT EXISTS idx_lifecycle_user_source ON lifecycle_events(user_id, source);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// Create persists a new event. The caller provides id, timestamps and
// initial metadata.
func (s *Store) Create(ctx context.Context, ev *Event) error {
	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("lifecycle store: encode metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO lifecycle_events (id, user_id, source, event_type, occurred_at, created_at, notes, metadata)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.UserID, ev.Source, ev.EventType,
		ev.OccurredAt.UTC().Format(time.RFC3339Nano),
		ev.CreatedAt.UTC().Format(time.RFC3339Nano),
		ev.Notes, string(meta),
	)
	return err
}

// Patch shallow-merges the partial metadata into the stored event and
// returns the updated event. Keys absent from patch are preserved. Patching
// a finalized event fails with ErrFinalized.
func (s *Store) Patch(ctx context.Context, id string, patch map[string]any) (*Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	ev, err := scanEvent(tx.QueryRowContext(ctx,
		`SELECT id, user_id, source, event_type, occurred_at, created_at, notes, metadata
		 FROM lifecycle_events WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if TerminalStatus(ev.Status()) {
		return nil, fmt.Errorf("%w: %s is %s", ErrFinalized, id, ev.Status())
	}

	if ev.Metadata == nil {
		ev.Metadata = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		ev.Metadata[k] = v
	}

	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		return nil, fmt.Errorf("lifecycle store: encode metadata: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE lifecycle_events SET metadata = ? WHERE id = ?`, string(meta), id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ev, nil
}

// FindByID returns the event with the given id, or ErrNotFound.
func (s *Store) FindByID(ctx context.Context, id string) (*Event, error) {
	return scanEvent(s.db.QueryRowContext(ctx,
		`SELECT id, user_id, source, event_type, occurred_at, created_at, notes, metadata
		 FROM lifecycle_events WHERE id = ?`, id))
}

// FindRecent returns the user's most recent events ordered by occurred_at
// descending, optionally filtered to the given sources. The caller is
// responsible for clamping limit.
func (s *Store) FindRecent(ctx context.Context, userID string, sources []string, limit int) ([]*Event, error) {
	query := `SELECT id, user_id, source, event_type, occurred_at, created_at, notes, metadata
	          FROM lifecycle_events WHERE user_id = ?`
	args := []any{userID}
	if len(sources) > 0 {
		query += ` AND source IN (?` + strings.Repeat(",?", len(sources)-1) + `)`
		for _, src := range sources {
			args = append(args, src)
		}
	}
	query += ` ORDER BY occurred_at DESC, created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var ev Event
	var occurredAt, createdAt, meta string
	err := row.Scan(&ev.ID, &ev.UserID, &ev.Source, &ev.EventType, &occurredAt, &createdAt, &ev.Notes, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if ev.OccurredAt, err = time.Parse(time.RFC3339Nano, occurredAt); err != nil {
		return nil, fmt.Errorf("lifecycle store: decode occurred_at for %s: %w", ev.ID, err)
	}
	if ev.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("lifecycle store: decode created_at for %s: %w", ev.ID, err)
	}
	if err := json.Unmarshal([]byte(meta), &ev.Metadata); err != nil {
		return nil, fmt.Errorf("lifecycle store: decode metadata for %s: %w", ev.ID, err)
	}
	return &ev, nil
}
