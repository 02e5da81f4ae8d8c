// ABOUTME: Session queries for the SQL store
// ABOUTME: Sessions authenticate connections and are evicted once expired

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const sessionColumns = `id, user_id, token, expires, created_at`

func scanSession(scan func(dest ...any) error) (*Session, error) {
	var sess Session
	var expires, createdAt string
	if err := scan(&sess.ID, &sess.UserID, &sess.Token, &expires, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if sess.Expires, err = parseTime(expires); err != nil {
		return nil, fmt.Errorf("parsing expires: %w", err)
	}
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &sess, nil
}

// CreateSession inserts a session. Returns ErrConflict if the token is taken.
func (s *SQLStore) CreateSession(ctx context.Context, session *Session) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	_, err := s.exec(ctx, `
		INSERT INTO sessions (id, user_id, token, expires, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, session.ID, session.UserID, session.Token, formatTime(session.Expires), formatTime(session.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// FindSessionByToken retrieves the session holding token. Expiry is not
// checked here; callers compare Expires against their clock.
// Returns ErrNotFound if no session holds the token.
func (s *SQLStore) FindSessionByToken(ctx context.Context, token string) (*Session, error) {
	row := s.queryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE token = ?`, token)
	sess, err := scanSession(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", s.d.wrap(err))
	}
	return sess, nil
}

// ListSessions returns every session of a user, newest expiry first.
func (s *SQLStore) ListSessions(ctx context.Context, userID string) ([]*Session, error) {
	rows, err := s.query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = ?
		ORDER BY expires DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSessions deletes the given sessions of a user in one statement.
func (s *SQLStore) DeleteSessions(ctx context.Context, userID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.exec(ctx,
		`DELETE FROM sessions WHERE user_id = ? AND id IN (`+inPlaceholders(len(ids))+`)`,
		args...)
	if err != nil {
		return 0, fmt.Errorf("deleting sessions: %w", err)
	}
	return res.RowsAffected()
}

// DeleteExpiredSessions removes every session whose expiry is before now.
func (s *SQLStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM sessions WHERE expires < ?`, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	return res.RowsAffected()
}
