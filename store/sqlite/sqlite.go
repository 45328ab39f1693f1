/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  Durable storage for the shipment ledger. The same append-only rules as the
  in-memory store apply; SQLite adds crash safety and a content-id index.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on the records table
  - No DELETE statements on the records table
  - position is the PRIMARY KEY and is assigned inside the append transaction
    as the current row count, so positions stay dense and never reused

KEY TABLES:
  records: Immutable shipment events, one row per ledger position

INDEXES:
  - records.position (PRIMARY KEY): getByPosition, range reads
  - idx_records_content_id: getByContentId; lookups take the lowest position

CONCURRENCY:
  A single connection (SetMaxOpenConns(1)) plus sync.RWMutex. Appends are
  additionally serialized upstream by ledger.Authority.

WAL MODE:
  Opened with WAL so readers don't block the writer.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  authority := ledger.NewAuthority(store, tokens, logger)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/food-ledger/ledger"
)

// Schema version tracking:
// 1 - Initial records table
const currentSchemaVersion = 1

// Store implements ledger.Store and ledger.RangeReader using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: keeps ":memory:" databases shared and writes single-file.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Records (append-only ledger)
	CREATE TABLE IF NOT EXISTS records (
		position INTEGER PRIMARY KEY,
		external_id TEXT NOT NULL,
		product TEXT NOT NULL,
		quantity TEXT NOT NULL,
		source TEXT NOT NULL,
		source_location TEXT NOT NULL,
		destination TEXT NOT NULL,
		destination_location TEXT NOT NULL,
		status INTEGER NOT NULL CHECK (status BETWEEN 0 AND 3),
		date INTEGER NOT NULL CHECK (date >= 0),
		content_id BLOB NOT NULL CHECK (length(content_id) = 32),
		created_at TEXT NOT NULL
	);

	-- Not UNIQUE: content ids are unique in practice only
	CREATE INDEX IF NOT EXISTS idx_records_content_id
		ON records(content_id, position);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

// =============================================================================
// LEDGER STORE (ledger.Store interface)
// =============================================================================

// Append adds a record at the next position. Either the row is committed at
// a new position or nothing changes.
func (s *Store) Append(ctx context.Context, r ledger.Record) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	var count int64
	if err := sqlTx.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}

	query := `
		INSERT INTO records
		(position, external_id, product, quantity, source, source_location,
		 destination, destination_location, status, date, content_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = sqlTx.ExecContext(ctx, query,
		count,
		r.ExternalID,
		r.Product,
		r.Quantity,
		r.Source,
		r.SourceLocation,
		r.Destination,
		r.DestinationLocation,
		int64(r.Status),
		int64(r.Date),
		r.ContentID[:],
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintError(err) {
			return 0, &ledger.ValidationError{Field: "record", Message: err.Error()}
		}
		return 0, fmt.Errorf("failed to append record: %w", err)
	}

	if err := sqlTx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit record: %w", err)
	}
	return uint64(count), nil
}

// Get returns the record at position.
func (s *Store) Get(ctx context.Context, position uint64) (ledger.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := s.queryRecords(ctx, selectRecords+" WHERE position = ?", int64(position))
	if err != nil {
		return ledger.Record{}, err
	}
	if len(entries) == 0 {
		count, err := s.countLocked(ctx)
		if err != nil {
			return ledger.Record{}, err
		}
		return ledger.Record{}, &ledger.PositionError{Position: position, Count: count}
	}
	return entries[0].Record, nil
}

// GetByContentID returns the lowest-position record carrying id.
func (s *Store) GetByContentID(ctx context.Context, id ledger.ContentID) (ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := s.queryRecords(ctx,
		selectRecords+" WHERE content_id = ? ORDER BY position ASC LIMIT 1", id[:])
	if err != nil {
		return ledger.Entry{}, err
	}
	if len(entries) == 0 {
		return ledger.Entry{}, fmt.Errorf("content id %s: %w", id, ledger.ErrNotFound)
	}
	return entries[0], nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countLocked(ctx)
}

// Range returns entries for positions in [from, to).
func (s *Store) Range(ctx context.Context, from, to uint64) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if from >= to {
		return []ledger.Entry{}, nil
	}
	entries, err := s.queryRecords(ctx,
		selectRecords+" WHERE position >= ? AND position < ? ORDER BY position ASC",
		int64(from), int64(to))
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	return entries, nil
}

func (s *Store) countLocked(ctx context.Context) (uint64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&count); err != nil {
		return 0, ledger.Unavailable(fmt.Errorf("failed to count records: %w", err))
	}
	return uint64(count), nil
}

const selectRecords = `
	SELECT position, external_id, product, quantity, source, source_location,
	       destination, destination_location, status, date, content_id
	FROM records`

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ledger.Unavailable(fmt.Errorf("failed to query records: %w", err))
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.Unavailable(fmt.Errorf("failed to iterate records: %w", err))
	}
	return entries, nil
}

func scanRecord(rows *sql.Rows) (ledger.Entry, error) {
	var (
		e         ledger.Entry
		position  int64
		status    int64
		date      int64
		contentID []byte
	)

	err := rows.Scan(
		&position, &e.Record.ExternalID, &e.Record.Product, &e.Record.Quantity,
		&e.Record.Source, &e.Record.SourceLocation,
		&e.Record.Destination, &e.Record.DestinationLocation,
		&status, &date, &contentID,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan record: %w", err)
	}
	if len(contentID) != len(e.Record.ContentID) {
		return e, fmt.Errorf("record %d: content id has %d bytes", position, len(contentID))
	}

	e.Position = uint64(position)
	e.Record.Status = ledger.Status(status)
	e.Record.Date = uint64(date)
	copy(e.Record.ContentID[:], contentID)
	return e, nil
}

// Helper functions

func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}
