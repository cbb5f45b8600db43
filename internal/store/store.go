// Package store persists traces, steps, bug cases and their revisions in
// an embedded SQLite database, with a full-text index over cases for
// similarity retrieval.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite handle. All writes are serialized through mu;
// SQLite allows one writer at a time and the contention here is low.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New opens (or creates) the trace database at dbPath and applies the
// schema. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// In-memory databases vanish when their sole connection closes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS traces (
		trace_id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		finished_at INTEGER,
		repo_url TEXT NOT NULL,
		code_host TEXT NOT NULL,
		error_signature TEXT NOT NULL,
		error_excerpt TEXT NOT NULL,
		status TEXT NOT NULL,
		failure_step TEXT,
		failure_message TEXT,
		mr_url TEXT,
		commit_sha TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_traces_repo ON traces(repo_url);
	CREATE INDEX IF NOT EXISTS idx_traces_created ON traces(created_at);

	CREATE TABLE IF NOT EXISTS steps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trace_id TEXT NOT NULL,
		step_name TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		status TEXT NOT NULL,
		message TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_steps_trace ON steps(trace_id);

	CREATE TABLE IF NOT EXISTS bug_cases (
		case_id TEXT PRIMARY KEY,
		repo_url TEXT NOT NULL,
		code_host TEXT NOT NULL,
		signature TEXT NOT NULL,
		exception_type TEXT,
		message_key TEXT,
		top_frames TEXT,
		status TEXT NOT NULL DEFAULT 'OPEN',
		quality_score INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(repo_url, signature)
	);

	CREATE TABLE IF NOT EXISTS bug_case_revisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		case_id TEXT NOT NULL,
		trace_id TEXT,
		trigger_type TEXT NOT NULL,
		trigger_text TEXT,
		pr_url TEXT,
		pr_title TEXT,
		pr_body TEXT,
		commit_sha TEXT,
		changed_files_json TEXT,
		diff_text TEXT,
		preflight_ok INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_revisions_case ON bug_case_revisions(case_id);

	CREATE VIRTUAL TABLE IF NOT EXISTS bug_cases_fts USING fts5(
		case_id UNINDEXED,
		repo_url UNINDEXED,
		content
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.migrate()
}

// migrate adds columns introduced after the initial schema. Existing
// databases keep their data; missing columns are added idempotently.
func (s *Store) migrate() error {
	wanted := map[string]map[string]string{
		"traces": {
			"mr_url":     "TEXT",
			"commit_sha": "TEXT",
		},
		"bug_cases": {
			"quality_score": "INTEGER NOT NULL DEFAULT 0",
		},
	}
	for table, cols := range wanted {
		have, err := s.columns(table)
		if err != nil {
			return err
		}
		for col, ddl := range cols {
			if have[col] {
				continue
			}
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, col, ddl)
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("add column %s.%s: %w", table, col, err)
			}
		}
	}
	return nil
}

func (s *Store) columns(table string) (map[string]bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	have := map[string]bool{}
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan table_info: %w", err)
		}
		have[name] = true
	}
	return have, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func clampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > 200 {
		return 200
	}
	return limit
}

func clampOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
