// Package history stores app lifecycle events in a sqlite database.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nicklasos/god/internal/supervisor"
)

// Event is a stored lifecycle event
type Event struct {
	ID        string `db:"id"`
	App       string `db:"app"`
	Type      string `db:"event_type"`
	PID       int    `db:"pid"`
	ExitCode  int    `db:"exit_code"`
	Restarts  int    `db:"restarts"`
	Message   string `db:"message"`
	Timestamp int64  `db:"timestamp"`
}

// Time returns the event timestamp
func (e Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Store records events for the Manager
type Store struct {
	db *sqlx.DB
}

var _ supervisor.EventRecorder = (*Store)(nil)

// Open connects to the sqlite database at path and creates the schema
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}
	// sqlite allows one writer; serialize through a single connection
	db.SetMaxOpenConns(1)

	store, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewStore wraps an existing connection
func NewStore(db *sqlx.DB) (*Store, error) {
	if err := DBInit(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// DBInit initializes the events table
func DBInit(db *sqlx.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS app_events (
		id TEXT PRIMARY KEY,
		app TEXT NOT NULL,
		event_type TEXT NOT NULL,
		pid INTEGER NOT NULL DEFAULT 0,
		exit_code INTEGER NOT NULL DEFAULT 0,
		restarts INTEGER NOT NULL DEFAULT 0,
		message TEXT NOT NULL DEFAULT '',
		timestamp INTEGER NOT NULL
	)
	`)
	if err != nil {
		return fmt.Errorf("failed to create app_events: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_app_events_app_timestamp ON app_events(app, timestamp)`)
	return err
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a lifecycle event
func (s *Store) Record(ctx context.Context, ev supervisor.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_events (id, app, event_type, pid, exit_code, restarts, message, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New().String(),
		ev.App,
		ev.Type,
		ev.PID,
		ev.ExitCode,
		ev.Restarts,
		ev.Message,
		time.Now().UTC().UnixMilli(),
	)
	return err
}

// Recent returns the newest events, newest first. An empty app returns all apps.
func (s *Store) Recent(ctx context.Context, app string, limit int) ([]Event, error) {
	var events []Event
	var err error
	if app == "" {
		err = s.db.SelectContext(ctx, &events,
			"SELECT * FROM app_events ORDER BY timestamp DESC, rowid DESC LIMIT $1", limit)
	} else {
		err = s.db.SelectContext(ctx, &events,
			"SELECT * FROM app_events WHERE app = $1 ORDER BY timestamp DESC, rowid DESC LIMIT $2", app, limit)
	}
	return events, err
}

// CountByType returns how many events of a type were recorded for an app
func (s *Store) CountByType(ctx context.Context, app, eventType string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM app_events WHERE app = $1 AND event_type = $2", app, eventType)
	return count, err
}

// DeleteOlderThan prunes events older than the given age
func (s *Store) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	threshold := time.Now().UTC().Add(-age).UnixMilli()
	result, err := s.db.ExecContext(ctx, "DELETE FROM app_events WHERE timestamp < $1", threshold)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
