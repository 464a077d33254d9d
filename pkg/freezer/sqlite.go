package freezer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/withregard/regard-go/pkg/event"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS frozen_events (
	organization TEXT NOT NULL,
	product      TEXT NOT NULL,
	position     INTEGER NOT NULL,
	id           TEXT NOT NULL,
	payload      TEXT NOT NULL,
	PRIMARY KEY (organization, product, position)
);`

// SQLiteStore keeps snapshots in a SQLite database. Each Save replaces the
// rows for a key inside one transaction.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create frozen_events table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, key event.Key, events []event.Event) (err error) {
	if err := key.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM frozen_events WHERE organization = ? AND product = ?`,
		key.Organization, key.Product); err != nil {
		return fmt.Errorf("failed to clear frozen events: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO frozen_events (organization, product, position, id, payload) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range events {
		payload, mErr := json.Marshal(e)
		if mErr != nil {
			err = fmt.Errorf("failed to marshal event %s: %w", e.ID, mErr)
			return err
		}
		if _, err = stmt.ExecContext(ctx, key.Organization, key.Product, i, e.ID, string(payload)); err != nil {
			return fmt.Errorf("failed to insert frozen event: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit frozen events: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, key event.Key) ([]event.Event, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM frozen_events WHERE organization = ? AND product = ? ORDER BY position`,
		key.Organization, key.Product)
	if err != nil {
		return nil, false, fmt.Errorf("failed to query frozen events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, false, fmt.Errorf("failed to scan frozen event: %w", err)
		}
		var e event.Event
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("failed to read frozen events: %w", err)
	}
	if len(events) == 0 {
		return nil, false, nil
	}
	return events, true, nil
}

// openDB opens a SQLite database with pragmas for concurrent access. Writes
// are serialized through a single connection.
func openDB(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create database directory %q: %w", dir, err)
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, diagnoseOpenError(path, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, diagnoseOpenError(path, err)
	}
	return db, nil
}

func diagnoseOpenError(path string, err error) error {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CANTOPEN {
		return fmt.Errorf("cannot open freeze database at %q: permission denied or file cannot be created: %w", path, err)
	}
	return fmt.Errorf("cannot open freeze database at %q: %w", path, err)
}
