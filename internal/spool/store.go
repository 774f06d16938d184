// Package spool is the durable outbox for store records that could not be
// delivered. Records are kept in SQLite until a drain delivers them.
package spool

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Record is one undelivered store request
type Record struct {
	ID            int64
	Method        string
	Endpoint      string
	Payload       []byte
	Attempts      int
	LastError     string
	CreatedAt     time.Time
	LastAttemptAt time.Time
}

// Store manages the SQLite outbox
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open creates or opens the outbox at dbPath (":memory:" for tests)
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create spool directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open spool: %w", err)
	}
	if dbPath == ":memory:" {
		// each new connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA busy_timeout=5000", // Must be first
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	s := &Store{db: db, dbPath: dbPath}
	if err := s.ApplyMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// execWithRetry executes a SQL statement with exponential backoff retry on lock errors
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Enqueue appends a record and returns its id
func (s *Store) Enqueue(ctx context.Context, method, endpoint string, payload []byte) (int64, error) {
	if payload == nil {
		payload = []byte{}
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO outbox (method, endpoint, payload, created_at) VALUES (?, ?, ?, ?)",
		method, endpoint, payload, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("enqueue %s %s: %w", method, endpoint, err)
	}
	return res.LastInsertId()
}

const recordColumns = "id, method, endpoint, payload, attempts, COALESCE(last_error, ''), created_at, last_attempt_at"

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var r Record
		var last sql.NullTime
		if err := rows.Scan(&r.ID, &r.Method, &r.Endpoint, &r.Payload, &r.Attempts, &r.LastError, &r.CreatedAt, &last); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if last.Valid {
			r.LastAttemptAt = last.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Pending returns up to limit records, oldest first (limit <= 0 = all)
func (s *Store) Pending(ctx context.Context, limit int) ([]Record, error) {
	query := "SELECT " + recordColumns + " FROM outbox ORDER BY id"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	return scanRecords(rows)
}

// Count returns the number of pending records
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM outbox").Scan(&n); err != nil {
		return 0, fmt.Errorf("count outbox: %w", err)
	}
	return n, nil
}

// Delete removes a delivered record
func (s *Store) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM outbox WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete record %d: %w", id, err)
	}
	return nil
}

// MarkFailed records a failed delivery attempt
func (s *Store) MarkFailed(ctx context.Context, id int64, cause string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE outbox SET attempts = attempts + 1, last_error = ?, last_attempt_at = ? WHERE id = ?",
		cause, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark record %d failed: %w", id, err)
	}
	return nil
}

// Bury moves a record to dead_letters so it is no longer drained
func (s *Store) Bury(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
INSERT INTO dead_letters (id, method, endpoint, payload, attempts, last_error, created_at, buried_at)
SELECT id, method, endpoint, payload, attempts, last_error, created_at, ? FROM outbox WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("bury record %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("record %d not found", id)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM outbox WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete buried record %d: %w", id, err)
	}
	return tx.Commit()
}

// DeadLetters lists buried records, oldest first
func (s *Store) DeadLetters(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, method, endpoint, payload, attempts, COALESCE(last_error, ''), created_at, buried_at FROM dead_letters ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	return scanRecords(rows)
}
