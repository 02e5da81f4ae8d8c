// Package store provides persistent storage for users, relations, channels,
// messages, and sessions.
//
// # Architecture
//
// Store is the interface the rest of the gateway depends on. Reads that must
// observe a consistent view together with writes go through Tx, obtained from
// Store.WithTx; everything else is a single statement on the store itself.
//
// SQLStore implements Store over database/sql with two dialects:
//
//   - NewSQLiteStore opens a file (or ":memory:") through modernc.org/sqlite
//   - NewPostgresStore connects through the pgx stdlib driver
//
// Both dialects share every query. Placeholders are written as "?" and
// rebound to "$n" for Postgres.
//
// # Data Models
//
//   - User: an account, created outside the messaging core
//   - Relation: a directed edge (outgoing, incoming, friend) between two users,
//     always written together with its mirror
//   - Channel: the thread shared by exactly two users, enabled while they are friends
//   - Message: one message in a channel, ordered by a store-assigned Seq
//   - Session: a bearer token that authenticates a user until it expires
//
// # SQLite Configuration
//
// The SQLite store runs in WAL mode with foreign keys enabled and a busy
// timeout, and keeps a single writer connection:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Error Handling
//
// Driver errors are classified into two sentinels:
//
//   - ErrNotFound: the requested entity does not exist
//   - ErrConflict: a unique constraint or serialization failure
//
// Anything else is wrapped and returned as is. All methods accept
// context.Context for cancellation support.
//
// # Testing
//
// Use NewSQLiteStore(":memory:") or a file under t.TempDir() in tests. The
// Postgres suite runs only when CHITCHAT_TEST_POSTGRES_DSN is set.
package store
