package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/convergehq/converge/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements engine.StateStore on an embedded SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// SQLiteConfig holds SQLite store configuration.
type SQLiteConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance. Call Init and Migrate
// before use.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded migration files.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Get retrieves the record for a resource identity.
func (s *SQLiteStore) Get(ctx context.Context, id engine.ResourceID) (*engine.Record, error) {
	query := `SELECT record FROM records WHERE id = ?`

	var raw []byte
	err := s.db.QueryRowContext(ctx, query, id.String()).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, engine.NewNotFoundError(fmt.Sprintf("record not found: %s", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", id, err)
	}

	record := &engine.Record{}
	if err := json.Unmarshal(raw, record); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", id, err)
	}

	return record, nil
}

// Put inserts or replaces the record for its resource identity.
func (s *SQLiteStore) Put(ctx context.Context, record *engine.Record) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", record.ID, err)
	}

	query := `
		INSERT INTO records (id, kind, namespace, name, phase, drift, generation, record, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			phase = excluded.phase,
			drift = excluded.drift,
			generation = excluded.generation,
			record = excluded.record,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		record.ID.String(),
		string(record.ID.Kind),
		record.ID.Namespace,
		record.ID.Name,
		string(record.Phase),
		string(record.Drift),
		record.Generation,
		string(raw),
		record.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to put record %s: %w", record.ID, err)
	}

	return nil
}

// Delete removes the record for a resource identity. Deleting an absent
// record succeeds.
func (s *SQLiteStore) Delete(ctx context.Context, id engine.ResourceID) error {
	query := `DELETE FROM records WHERE id = ?`

	if _, err := s.db.ExecContext(ctx, query, id.String()); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", id, err)
	}

	return nil
}

// List returns a snapshot of all records ordered by identity.
func (s *SQLiteStore) List(ctx context.Context) ([]*engine.Record, error) {
	query := `SELECT record FROM records ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	records := []*engine.Record{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		record := &engine.Record{}
		if err := json.Unmarshal(raw, record); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

// AppendEvent appends an event to the history log.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *EventRecord) error {
	query := `
		INSERT INTO events (event_id, resource_id, event_type, payload, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.EventID,
		event.ResourceID,
		string(event.Type),
		string(event.Payload),
		event.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// ListEvents retrieves event history, newest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, filter EventFilter) ([]*EventRecord, error) {
	query := `
		SELECT id, event_id, resource_id, event_type, payload, occurred_at
		FROM events
		WHERE (? = '' OR resource_id = ?)
		  AND (? = '' OR event_type = ?)
		ORDER BY occurred_at DESC, id DESC
	`
	args := []interface{}{filter.ResourceID, filter.ResourceID, string(filter.Type), string(filter.Type)}

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*EventRecord{}
	for rows.Next() {
		event := &EventRecord{}
		var payload []byte
		if err := rows.Scan(&event.ID, &event.EventID, &event.ResourceID, &event.Type, &payload, &event.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Payload = payload
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
