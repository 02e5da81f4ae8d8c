// ABOUTME: Postgres dialect of the SQL store using pgx's database/sql driver
// ABOUTME: Runs transactions at SERIALIZABLE and reports serialization failures as ErrConflict

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

var postgresSchema = []string{
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
	// PairKey orders ids bytewise; the "C" collation makes the check agree.
	`CREATE TABLE IF NOT EXISTS channels (
		id          TEXT PRIMARY KEY,
		member_low  TEXT COLLATE "C" NOT NULL REFERENCES users(id),
		member_high TEXT COLLATE "C" NOT NULL REFERENCES users(id),
		enabled     INTEGER NOT NULL DEFAULT 1,
		created_at  TEXT NOT NULL,

		UNIQUE (member_low, member_high),
		CHECK (member_low < member_high)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_channels_high ON channels(member_high)`,
	`CREATE TABLE IF NOT EXISTS messages (
		seq        BIGSERIAL PRIMARY KEY,
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

// Postgres SQLSTATE codes the store classifies.
const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

var postgresDialect = &dialect{
	name:      "postgres",
	schema:    postgresSchema,
	txOptions: &sql.TxOptions{Isolation: sql.LevelSerializable},
	numbered:  true,
	classify:  classifyPostgresError,
}

func classifyPostgresError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgForeignKeyViolation:
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case pgUniqueViolation, pgSerializationFailure, pgDeadlockDetected:
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

// NewPostgresStore connects to Postgres with the given DSN and creates the
// schema if needed.
func NewPostgresStore(ctx context.Context, dsn string) (*SQLStore, error) {
	logger := slog.Default().With("component", "store")

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	s, err := newSQLStore(db, postgresDialect, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Postgres store initialized")
	return s, nil
}
