// ABOUTME: database/sql implementation of the Store and Tx interfaces shared by SQLite and Postgres
// ABOUTME: Dialects supply schema, placeholder style, transaction options, and error classification

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// dialect captures the differences between the supported SQL engines.
type dialect struct {
	name      string
	schema    []string
	txOptions *sql.TxOptions
	// numbered switches "?" placeholders to "$1, $2, ..." form.
	numbered bool
	// classify maps engine errors onto ErrConflict/ErrNotFound where possible.
	classify func(error) error
}

func (d *dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d *dialect) wrap(err error) error {
	if err == nil || d.classify == nil {
		return err
	}
	return d.classify(err)
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements every statement once; SQLStore binds it to the pool
// and sqlTx binds it to a transaction.
type queries struct {
	q queryer
	d *dialect
}

func (q *queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := q.q.ExecContext(ctx, q.d.rebind(query), args...)
	return res, q.d.wrap(err)
}

func (q *queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := q.q.QueryContext(ctx, q.d.rebind(query), args...)
	return rows, q.d.wrap(err)
}

func (q *queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.q.QueryRowContext(ctx, q.d.rebind(query), args...)
}

// SQLStore implements the Store interface on top of database/sql
type SQLStore struct {
	queries
	db     *sql.DB
	logger *slog.Logger
}

func newSQLStore(db *sql.DB, d *dialect, logger *slog.Logger) (*SQLStore, error) {
	s := &SQLStore{
		queries: queries{q: db, d: d},
		db:      db,
		logger:  logger,
	}
	if err := s.createSchema(); err != nil {
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLStore) createSchema() error {
	for _, stmt := range s.d.schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if i := strings.IndexByte(stmt, '\n'); i >= 0 {
		return stmt[:i]
	}
	return stmt
}

// Dialect returns the name of the SQL engine backing the store.
func (s *SQLStore) Dialect() string {
	return s.d.name
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	s.logger.Info("closing store", "dialect", s.d.name)
	return s.db.Close()
}

// WithTx runs fn in a single transaction. Any error from fn, or a panic,
// rolls the transaction back so partial multi-record updates are never
// observable.
func (s *SQLStore) WithTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	sqlTxn, err := s.db.BeginTx(ctx, s.d.txOptions)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", s.d.wrap(err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTxn.Rollback()
			panic(p)
		}
	}()

	if err := fn(&sqlTx{queries: queries{q: sqlTxn, d: s.d}}); err != nil {
		if rbErr := sqlTxn.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}

	if err := sqlTxn.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", s.d.wrap(err))
	}
	return nil
}

// sqlTx implements Tx on an open *sql.Tx.
type sqlTx struct {
	queries
}

var (
	_ Store = (*SQLStore)(nil)
	_ Tx    = (*sqlTx)(nil)
)

// inPlaceholders returns "?, ?, ..." for n arguments.
func inPlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
