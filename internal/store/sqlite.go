// ABOUTME: SQLite dialect of the SQL store using modernc.org/sqlite
// ABOUTME: Single-connection pool so transactions are serialized by the database

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		email      TEXT NOT NULL DEFAULT '',
		image      TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS relations (
		user_id    TEXT NOT NULL REFERENCES users(id),
		other_id   TEXT NOT NULL REFERENCES users(id),
		kind       TEXT NOT NULL,
		updated_at TEXT NOT NULL,

		PRIMARY KEY (user_id, other_id),
		CHECK (kind IN ('outgoing', 'incoming', 'friend')),
		CHECK (user_id <> other_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_relations_user_kind ON relations(user_id, kind)`,
	`CREATE TABLE IF NOT EXISTS channels (
		id          TEXT PRIMARY KEY,
		member_low  TEXT NOT NULL REFERENCES users(id),
		member_high TEXT NOT NULL REFERENCES users(id),
		enabled     INTEGER NOT NULL DEFAULT 1,
		created_at  TEXT NOT NULL,

		UNIQUE (member_low, member_high),
		CHECK (member_low < member_high)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_channels_high ON channels(member_high)`,
	`CREATE TABLE IF NOT EXISTS messages (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		id         TEXT NOT NULL UNIQUE,
		channel_id TEXT NOT NULL REFERENCES channels(id),
		sender_id  TEXT NOT NULL REFERENCES users(id),
		content    TEXT NOT NULL,
		edited     INTEGER NOT NULL DEFAULT 0,
		is_read    INTEGER NOT NULL DEFAULT 0,
		liked      INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_channel_seq ON messages(channel_id, seq)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL REFERENCES users(id),
		token      TEXT NOT NULL UNIQUE,
		expires    TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires)`,
}

var sqliteDialect = &dialect{
	name:     "sqlite",
	schema:   sqliteSchema,
	classify: classifySQLiteError,
}

// classifySQLiteError maps SQLite constraint and locking failures onto the
// store sentinels. modernc reports them only through the message text.
func classifySQLiteError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case strings.Contains(msg, "UNIQUE constraint failed"),
		strings.Contains(msg, "constraint failed"),
		strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "SQLITE_BUSY"):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection: SQLite allows a single writer, and ":memory:" databases
	// are per-connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}

	s, err := newSQLStore(db, sqliteDialect, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}
