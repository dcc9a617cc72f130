// Package store provides the durable memory store: episodic and semantic
// memory, session transcripts, goals, scheduled tasks, and the audit log,
// all backed by a single SQLite database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
)

// EpisodeArchiver receives episodes evicted from the in-memory ring.
// Archival failures are logged and do not fail the eviction.
type EpisodeArchiver interface {
	Archive(ctx context.Context, ep *Episode) error
}

// Store is the SQLite-backed memory store. In-memory views of facts and
// episodes are hydrated on open and remain the source of truth for the
// running process; SQLite is authoritative across restarts.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	mu       sync.Mutex
	facts    map[string]*Fact // keyed by category\x00key
	episodes []*Episode       // insertion order, bounded by maxEpisodes

	maxEpisodes int
	archiver    EpisodeArchiver
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEpisodeArchiver installs a sink for episodes evicted from the ring.
func WithEpisodeArchiver(a EpisodeArchiver) Option {
	return func(s *Store) { s.archiver = a }
}

// WithMaxEpisodes overrides the episodic ring capacity.
func WithMaxEpisodes(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxEpisodes = n
		}
	}
}

// Open opens (creating if necessary) the store at path. ":memory:" is
// accepted for tests.
func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{
		db:          db,
		logger:      slog.Default(),
		facts:       make(map[string]*Fact),
		maxEpisodes: 100,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.hydrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL: %w", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			name TEXT,
			channel TEXT,
			target TEXT,
			active INTEGER NOT NULL DEFAULT 1,
			message_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS session_messages (
			session_id TEXT PRIMARY KEY,
			messages_json TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS episodes (
			id TEXT PRIMARY KEY,
			session_id TEXT,
			summary TEXT NOT NULL,
			outcome TEXT,
			tags TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS facts (
			id TEXT PRIMARY KEY,
			category TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 1.0,
			source TEXT,
			embedding BLOB,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(category, key)
		)`,
		`CREATE TABLE IF NOT EXISTS goals (
			id TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			status TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			progress REAL NOT NULL DEFAULT 0,
			parent_id TEXT,
			retrospective TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS goal_steps (
			id TEXT PRIMARY KEY,
			goal_id TEXT NOT NULL,
			description TEXT NOT NULL,
			status TEXT NOT NULL,
			result TEXT,
			error TEXT,
			delegated_to TEXT,
			delegated_task_id TEXT,
			position INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			event_type TEXT NOT NULL,
			action TEXT NOT NULL,
			details TEXT,
			checksum TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS scheduled_tasks (
			id TEXT PRIMARY KEY,
			label TEXT,
			description TEXT NOT NULL,
			kind_json TEXT NOT NULL,
			session_id TEXT,
			active INTEGER NOT NULL DEFAULT 1,
			fire_count INTEGER NOT NULL DEFAULT 0,
			last_fired DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_active ON sessions(active)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_category ON facts(category)`,
		`CREATE INDEX IF NOT EXISTS idx_goals_status ON goals(status)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

func (s *Store) hydrate(ctx context.Context) error {
	if err := s.hydrateFacts(ctx); err != nil {
		return err
	}
	return s.hydrateEpisodes(ctx)
}

// DB exposes the underlying handle for stores that share the database file
// (jobs, scheduler).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func factKey(category, key string) string {
	return category + "\x00" + key
}
