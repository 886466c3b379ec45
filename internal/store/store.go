// Package store persists the coordination state in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database. A single writer connection keeps
// transaction semantics simple; WAL keeps readers cheap.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// Open opens or creates the SQLite store at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dsn := path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(ON)",
			"cache_size(-64000)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open coordination db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, dbPath: path}
	if err := s.initSchema(); err != nil {
		wrappedInitErr := fmt.Errorf("initialize schema for %q: %w", path, err)
		if closeErr := db.Close(); closeErr != nil {
			return nil, errors.Join(
				wrappedInitErr,
				fmt.Errorf("close coordination db %q after init failure: %w", path, closeErr),
			)
		}
		return nil, wrappedInitErr
	}
	return s, nil
}

// OpenMemory opens an in-memory store, used by tests.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:?_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dbPath: ":memory:"}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize in-memory schema: %w", err)
	}
	return s, nil
}

const initSchema = `
CREATE TABLE IF NOT EXISTS incidents (
	id TEXT PRIMARY KEY,
	reporter_id TEXT NOT NULL,
	description TEXT NOT NULL,
	latitude REAL NOT NULL,
	longitude REAL NOT NULL,
	status TEXT NOT NULL,
	category TEXT NOT NULL,
	priority INTEGER NOT NULL,
	urgency TEXT NOT NULL,
	people_count INTEGER NOT NULL DEFAULT 0,
	required_skills TEXT NOT NULL DEFAULT '[]',
	division TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0,
	triage_source TEXT NOT NULL DEFAULT 'rules',
	assigned_org_id TEXT NOT NULL DEFAULT '',
	assigned_division_id TEXT NOT NULL DEFAULT '',
	assigned_staff_id TEXT NOT NULL DEFAULT '',
	accept_deadline INTEGER,
	overflow INTEGER NOT NULL DEFAULT 0,
	version INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status);
CREATE INDEX IF NOT EXISTS idx_incidents_deadline ON incidents(accept_deadline) WHERE accept_deadline IS NOT NULL;

CREATE TABLE IF NOT EXISTS rejections (
	incident_id TEXT NOT NULL,
	org_id TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	rejected_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rejections_incident ON rejections(incident_id, org_id);

CREATE TABLE IF NOT EXISTS organizations (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	categories TEXT NOT NULL DEFAULT '[]',
	latitude REAL NOT NULL,
	longitude REAL NOT NULL,
	capacity INTEGER NOT NULL DEFAULT 0,
	load INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'Available'
);

CREATE TABLE IF NOT EXISTS divisions (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	skills TEXT NOT NULL DEFAULT '[]',
	capacity INTEGER NOT NULL DEFAULT 0,
	load INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_divisions_org ON divisions(org_id);

CREATE TABLE IF NOT EXISTS staff (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
	division_id TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL,
	skills TEXT NOT NULL DEFAULT '[]',
	status TEXT NOT NULL DEFAULT 'Available',
	latitude REAL NOT NULL DEFAULT 0,
	longitude REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_staff_org ON staff(org_id);

CREATE TABLE IF NOT EXISTS facilities (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	kind TEXT NOT NULL,
	latitude REAL NOT NULL,
	longitude REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL,
	org_id TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tickets (
	id TEXT PRIMARY KEY,
	submission_key TEXT NOT NULL UNIQUE,
	channel TEXT NOT NULL,
	text TEXT NOT NULL DEFAULT '',
	transcript TEXT NOT NULL DEFAULT '',
	device_id TEXT NOT NULL DEFAULT '',
	client_ip TEXT NOT NULL DEFAULT '',
	latitude REAL NOT NULL,
	longitude REAL NOT NULL,
	category TEXT NOT NULL,
	priority INTEGER NOT NULL,
	urgency TEXT NOT NULL,
	people_count INTEGER NOT NULL DEFAULT 0,
	required_skills TEXT NOT NULL DEFAULT '[]',
	division TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0,
	triage_source TEXT NOT NULL DEFAULT 'rules',
	weather_score REAL NOT NULL DEFAULT 0,
	weather_status TEXT NOT NULL DEFAULT '',
	density_score REAL NOT NULL DEFAULT 0,
	likely_dup INTEGER NOT NULL DEFAULT 0,
	fraud_score REAL NOT NULL DEFAULT 0,
	needs_review INTEGER NOT NULL DEFAULT 0,
	priority_score REAL NOT NULL DEFAULT 0,
	lane INTEGER NOT NULL DEFAULT 3,
	incident_id TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tickets_device ON tickets(device_id, created_at);
CREATE INDEX IF NOT EXISTS idx_tickets_ip ON tickets(client_ip, created_at);
CREATE INDEX IF NOT EXISTS idx_tickets_created ON tickets(created_at);

CREATE TABLE IF NOT EXISTS dispatch_jobs (
	id TEXT PRIMARY KEY,
	ticket_id TEXT NOT NULL,
	lane INTEGER NOT NULL,
	state TEXT NOT NULL DEFAULT 'Queued',
	attempts INTEGER NOT NULL DEFAULT 0,
	next_attempt_at INTEGER NOT NULL,
	last_error TEXT NOT NULL DEFAULT '',
	idempotency_key TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dispatch_ready ON dispatch_jobs(state, lane, next_attempt_at);

CREATE TABLE IF NOT EXISTS dispatch_attempts (
	job_id TEXT NOT NULL,
	attempt INTEGER NOT NULL,
	status_code INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_job ON dispatch_attempts(job_id);

CREATE TABLE IF NOT EXISTS audit_events (
	id TEXT PRIMARY KEY,
	ts INTEGER NOT NULL,
	event TEXT NOT NULL,
	user TEXT NOT NULL DEFAULT '',
	ip TEXT NOT NULL DEFAULT '',
	path TEXT NOT NULL DEFAULT '',
	success INTEGER NOT NULL DEFAULT 1,
	details TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_events(ts);
`

func (s *Store) initSchema() error {
	_, err := s.db.Exec(initSchema)
	return err
}

// DB exposes the underlying handle for read-only queries by other packages.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn inside a transaction, rolling back on error. The store's
// mutex serializes writers so SQLITE_BUSY stays off the hot path.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
