/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Persists the little state the capacity service owns. Allocation rules,
  realized time and contracts live upstream and are never written here.

INTERFACES IMPLEMENTED:
  generic.HolidayStore: Holidays used by the Date Validity Calculator
  generic.CycleLog:     Audit trail of query cycles

APPEND-ONLY ENFORCEMENT:
  The cycle log is append-only:
  - No UPDATE statements on query_cycles
  - No DELETE statements on query_cycles
  Holidays are plain reference data and may be replaced or removed.

KEY TABLES:
  holidays:     One row per holiday, recurring ones keep their original year
  query_cycles: One row per finished, failed, cancelled or superseded cycle

INDEXES:
  - idx_holidays_date:        ListHolidays ordering
  - idx_query_cycles_started: ListCycles newest-first
  - idx_query_cycles_session: per-session lookups from the admin API

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. SQLite serializes writers anyway; the
  mutex keeps readers from observing half-applied upserts.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/capacity.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  holidays, _ := generic.CalendarSnapshot(ctx, store, period)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/capacity-engine/generic"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Compile-time checks
var (
	_ generic.HolidayStore = (*Store)(nil)
	_ generic.CycleLog     = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
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

// Ping checks that the database is reachable. Used by GET /api/health.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		name TEXT NOT NULL,
		recurring BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_holidays_date
		ON holidays(date);

	-- Query cycles (append-only)
	CREATE TABLE IF NOT EXISTS query_cycles (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		dimension TEXT NOT NULL,
		period_start TEXT,
		period_end TEXT,
		state TEXT NOT NULL,
		cards INTEGER NOT NULL DEFAULT 0,
		warnings_json TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_query_cycles_started
		ON query_cycles(started_at);
	CREATE INDEX IF NOT EXISTS idx_query_cycles_session
		ON query_cycles(session_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// HOLIDAY STORE (generic.HolidayStore interface)
// =============================================================================

// SaveHoliday inserts a holiday or replaces the one with the same ID.
func (s *Store) SaveHoliday(ctx context.Context, h generic.Holiday) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO holidays (id, date, name, recurring, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			name = excluded.name,
			recurring = excluded.recurring
	`

	_, err := s.db.ExecContext(ctx, query,
		h.ID,
		h.Date.DateKey(),
		h.Name,
		h.Recurring,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save holiday: %w", err)
	}
	return nil
}

// DeleteHoliday deletes a holiday by ID. Deleting an unknown ID is not an error.
func (s *Store) DeleteHoliday(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM holidays WHERE id = ?", id)
	return err
}

// ListHolidays returns every holiday ordered by date.
func (s *Store) ListHolidays(ctx context.Context) ([]generic.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, date, name, recurring
		FROM holidays
		ORDER BY date ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query holidays: %w", err)
	}
	defer rows.Close()

	var holidays []generic.Holiday
	for rows.Next() {
		var h generic.Holiday
		var dateStr string
		if err := rows.Scan(&h.ID, &dateStr, &h.Name, &h.Recurring); err != nil {
			return nil, err
		}
		h.Date, err = generic.ParseDate(dateStr)
		if err != nil {
			return nil, err
		}
		holidays = append(holidays, h)
	}

	return holidays, rows.Err()
}

// =============================================================================
// CYCLE LOG (generic.CycleLog interface)
// =============================================================================

// RecordCycle appends a cycle record.
func (s *Store) RecordCycle(ctx context.Context, rec generic.CycleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	warningsJSON, _ := json.Marshal(rec.Warnings)

	query := `
		INSERT INTO query_cycles
		(id, session_id, dimension, period_start, period_end, state, cards,
		 warnings_json, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.SessionID,
		rec.Dimension,
		dateOrNull(rec.Period.Start),
		dateOrNull(rec.Period.End),
		rec.State,
		rec.Cards,
		string(warningsJSON),
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.CompletedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to record cycle: %w", err)
	}
	return nil
}

// ListCycles returns the most recent cycles first. A non-positive limit
// returns everything.
func (s *Store) ListCycles(ctx context.Context, limit int) ([]generic.CycleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, session_id, dimension, period_start, period_end, state, cards,
		       warnings_json, started_at, completed_at
		FROM query_cycles
		ORDER BY started_at DESC, rowid DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles: %w", err)
	}
	defer rows.Close()

	var records []generic.CycleRecord
	for rows.Next() {
		var (
			rec                     generic.CycleRecord
			start, end, warningsStr sql.NullString
			startedAt, completedAt  string
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Dimension, &start, &end,
			&rec.State, &rec.Cards, &warningsStr, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		if start.Valid {
			rec.Period.Start, _ = generic.ParseDate(start.String)
		}
		if end.Valid {
			rec.Period.End, _ = generic.ParseDate(end.String)
		}
		if warningsStr.Valid && warningsStr.String != "" {
			_ = json.Unmarshal([]byte(warningsStr.String), &rec.Warnings)
		}
		rec.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		rec.CompletedAt, _ = time.Parse(time.RFC3339Nano, completedAt)
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Helper functions

func dateOrNull(tp generic.TimePoint) sql.NullString {
	if tp.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: tp.DateKey(), Valid: true}
}
