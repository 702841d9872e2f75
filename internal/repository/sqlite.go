package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type SQLiteDB struct {
	db *sql.DB
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	// SQLite has a single writer. One connection also keeps a ":memory:"
	// database alive and shared.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLiteDB{
		db: db,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("error while migrating to database: %w", err)
	}

	return s, nil
}

// dsn enables foreign keys on every connection the pool opens, not just
// the one migrate runs on.
func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)"
}

func (s *SQLiteDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS disaster_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			category TEXT NOT NULL,
			location TEXT NOT NULL,
			fingerprint TEXT NOT NULL UNIQUE,
			severity_score REAL NOT NULL,
			severity_level TEXT NOT NULL,
			confidence REAL NOT NULL,
			breakdown TEXT NOT NULL,
			probabilities TEXT NOT NULL,
			reporter TEXT NOT NULL,
			verified INTEGER NOT NULL DEFAULT 0,
			verified_by TEXT NOT NULL DEFAULT '',
			verified_at TEXT,
			population_affected INTEGER NOT NULL DEFAULT 0,
			infrastructure_damage REAL NOT NULL DEFAULT 0,
			impact_area REAL NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS processed_fingerprints (
			fingerprint TEXT PRIMARY KEY,
			event_id INTEGER NOT NULL,
			processed_at TEXT NOT NULL,
			FOREIGN KEY (event_id) REFERENCES disaster_events(id)
		);

		CREATE TABLE IF NOT EXISTS fund_pools (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id INTEGER NOT NULL,
			total_amount INTEGER NOT NULL CHECK (total_amount > 0),
			distributed_amount INTEGER NOT NULL DEFAULT 0
				CHECK (distributed_amount >= 0 AND distributed_amount <= total_amount),
			status TEXT NOT NULL,
			approved_by TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			FOREIGN KEY (event_id) REFERENCES disaster_events(id)
		);

		CREATE TABLE IF NOT EXISTS distributions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			fund_id INTEGER NOT NULL,
			recipient TEXT NOT NULL,
			amount INTEGER NOT NULL CHECK (amount > 0),
			transfer_ref TEXT NOT NULL UNIQUE,
			distributed_by TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (fund_id) REFERENCES fund_pools(id)
		);

		CREATE TABLE IF NOT EXISTS donations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id INTEGER NOT NULL,
			donor TEXT NOT NULL,
			amount INTEGER NOT NULL CHECK (amount > 0),
			purpose TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			ledger_verified INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (event_id) REFERENCES disaster_events(id)
		);

		CREATE TABLE IF NOT EXISTS custody (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			balance INTEGER NOT NULL CHECK (balance >= 0)
		);
		INSERT OR IGNORE INTO custody (id, balance) VALUES (1, 0);

		CREATE TABLE IF NOT EXISTS authorized_principals (
			principal TEXT PRIMARY KEY,
			authorized INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			aggregate_type TEXT NOT NULL,
			aggregate_id TEXT NOT NULL,
			principal TEXT NOT NULL,
			details TEXT,
			timestamp TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_fund_pools_event_id ON fund_pools(event_id);
		CREATE INDEX IF NOT EXISTS idx_distributions_fund_id ON distributions(fund_id);
		CREATE INDEX IF NOT EXISTS idx_donations_event_id ON donations(event_id);
		CREATE INDEX IF NOT EXISTS idx_audit_log_aggregate ON audit_log(aggregate_type, aggregate_id);
  	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteDB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("error parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(se.Error(), "UNIQUE")
	}
	return false
}

// rowsAffected reports whether a conditional update matched exactly one row.
func rowsAffected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading rows affected: %w", err)
	}
	return n == 1, nil
}
