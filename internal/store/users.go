// ABOUTME: User and relation queries for the SQL store
// ABOUTME: Relations are directed rows keyed by (user_id, other_id); absence means RelationNone

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const userColumns = `u.id, u.name, u.email, u.image, u.created_at`

func scanUser(scan func(dest ...any) error) (*User, error) {
	var u User
	var createdAt string
	if err := scan(&u.ID, &u.Name, &u.Email, &u.Image, &createdAt); err != nil {
		return nil, err
	}
	var err error
	u.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &u, nil
}

func collectUsers(rows *sql.Rows) ([]*User, error) {
	defer rows.Close()
	var users []*User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

// FindUser retrieves a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (q *queries) FindUser(ctx context.Context, id string) (*User, error) {
	row := q.queryRow(ctx, `SELECT `+userColumns+` FROM users u WHERE u.id = ?`, id)
	u, err := scanUser(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", q.d.wrap(err))
	}
	return u, nil
}

// GetRelation returns the directed relation from userID to otherID.
// A missing row is RelationNone, not an error.
func (q *queries) GetRelation(ctx context.Context, userID, otherID string) (RelationKind, error) {
	var kind string
	err := q.queryRow(ctx,
		`SELECT kind FROM relations WHERE user_id = ? AND other_id = ?`,
		userID, otherID,
	).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return RelationNone, nil
	}
	if err != nil {
		return RelationNone, fmt.Errorf("querying relation: %w", q.d.wrap(err))
	}
	return RelationKind(kind), nil
}

// UpdateUserRelations applies patch to userID's outgoing edges. It only
// writes one side; callers pair it with the mirrored patch in the same Tx.
func (t *sqlTx) UpdateUserRelations(ctx context.Context, userID string, patch RelationPatch) error {
	now := formatTime(time.Now())
	for otherID, kind := range patch {
		if kind == RelationNone {
			if _, err := t.exec(ctx,
				`DELETE FROM relations WHERE user_id = ? AND other_id = ?`,
				userID, otherID,
			); err != nil {
				return fmt.Errorf("deleting relation: %w", err)
			}
			continue
		}
		if _, err := t.exec(ctx, `
			INSERT INTO relations (user_id, other_id, kind, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (user_id, other_id) DO UPDATE
			SET kind = excluded.kind, updated_at = excluded.updated_at
		`, userID, otherID, string(kind), now); err != nil {
			return fmt.Errorf("upserting relation: %w", err)
		}
	}
	return nil
}

// CreateUser inserts a new user.
func (s *SQLStore) CreateUser(ctx context.Context, user *User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	_, err := s.exec(ctx, `
		INSERT INTO users (id, name, email, image, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, user.ID, user.Name, user.Email, user.Image, formatTime(user.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	s.logger.Debug("created user", "id", user.ID)
	return nil
}

// ListUsers returns every user ordered by name.
func (s *SQLStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.query(ctx, `SELECT `+userColumns+` FROM users u ORDER BY u.name, u.id`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	return collectUsers(rows)
}

// ListRelated returns the users that userID holds the given relation to.
func (s *SQLStore) ListRelated(ctx context.Context, userID string, kind RelationKind) ([]*User, error) {
	rows, err := s.query(ctx, `
		SELECT `+userColumns+`
		FROM relations r
		JOIN users u ON u.id = r.other_id
		WHERE r.user_id = ? AND r.kind = ?
		ORDER BY u.name, u.id
	`, userID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("querying related users: %w", err)
	}
	return collectUsers(rows)
}

// ListRelations returns every non-none relation held by userID, keyed by the other user.
func (s *SQLStore) ListRelations(ctx context.Context, userID string) (map[string]RelationKind, error) {
	rows, err := s.query(ctx, `SELECT other_id, kind FROM relations WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying relations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]RelationKind)
	for rows.Next() {
		var otherID, kind string
		if err := rows.Scan(&otherID, &kind); err != nil {
			return nil, fmt.Errorf("scanning relation: %w", err)
		}
		out[otherID] = RelationKind(kind)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating relations: %w", err)
	}
	return out, nil
}

// CountRelations counts userID's friends and pending requests.
func (s *SQLStore) CountRelations(ctx context.Context, userID string) (*RelationCounts, error) {
	rows, err := s.query(ctx,
		`SELECT kind, COUNT(*) FROM relations WHERE user_id = ? GROUP BY kind`, userID)
	if err != nil {
		return nil, fmt.Errorf("counting relations: %w", err)
	}
	defer rows.Close()

	var counts RelationCounts
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scanning relation count: %w", err)
		}
		switch RelationKind(kind) {
		case RelationFriend:
			counts.Friends = n
		case RelationIncoming:
			counts.Incoming = n
		case RelationOutgoing:
			counts.Outgoing = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating relation counts: %w", err)
	}
	return &counts, nil
}

// CountUsers returns the total number of users.
func (s *SQLStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", s.d.wrap(err))
	}
	return n, nil
}
