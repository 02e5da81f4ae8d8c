// ABOUTME: Channel and message queries for the SQL store
// ABOUTME: Channels are unique per sorted member pair; messages are ordered by store-assigned seq

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const channelColumns = `id, member_low, member_high, enabled, created_at`

func scanChannel(scan func(dest ...any) error) (*Channel, error) {
	var c Channel
	var createdAt string
	if err := scan(&c.ID, &c.Members[0], &c.Members[1], &c.Enabled, &createdAt); err != nil {
		return nil, err
	}
	var err error
	c.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &c, nil
}

const messageColumns = `seq, id, channel_id, sender_id, content, edited, is_read, liked, created_at, updated_at`

func scanMessage(scan func(dest ...any) error) (*Message, error) {
	var m Message
	var createdAt, updatedAt string
	if err := scan(
		&m.Seq, &m.ID, &m.ChannelID, &m.SenderID, &m.Content,
		&m.Edited, &m.Read, &m.Reactions.Liked,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &m, nil
}

// FindChannel retrieves a channel by ID.
// Returns ErrNotFound if the channel doesn't exist.
func (q *queries) FindChannel(ctx context.Context, id string) (*Channel, error) {
	row := q.queryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = ?`, id)
	c, err := scanChannel(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying channel: %w", q.d.wrap(err))
	}
	return c, nil
}

// FindChannelForPair retrieves the channel shared by a and b in either order.
// Returns ErrNotFound if the pair never had a channel.
func (q *queries) FindChannelForPair(ctx context.Context, a, b string) (*Channel, error) {
	pair := PairKey(a, b)
	row := q.queryRow(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE member_low = ? AND member_high = ?`,
		pair[0], pair[1])
	c, err := scanChannel(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying channel by pair: %w", q.d.wrap(err))
	}
	return c, nil
}

// FindMessage retrieves a message by ID.
// Returns ErrNotFound if the message doesn't exist (or was evicted).
func (q *queries) FindMessage(ctx context.Context, id string) (*Message, error) {
	row := q.queryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", q.d.wrap(err))
	}
	return m, nil
}

// CountMessages returns the number of messages retained in a channel.
func (q *queries) CountMessages(ctx context.Context, channelID string) (int, error) {
	var n int
	if err := q.queryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE channel_id = ?`, channelID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting messages: %w", q.d.wrap(err))
	}
	return n, nil
}

// CreateChannel inserts a channel for a member pair. Members are normalised
// to sorted order. Returns ErrConflict if the pair already has a channel.
func (t *sqlTx) CreateChannel(ctx context.Context, channel *Channel) error {
	channel.Members = PairKey(channel.Members[0], channel.Members[1])
	if channel.CreatedAt.IsZero() {
		channel.CreatedAt = time.Now()
	}
	_, err := t.exec(ctx, `
		INSERT INTO channels (id, member_low, member_high, enabled, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, channel.ID, channel.Members[0], channel.Members[1], boolInt(channel.Enabled), formatTime(channel.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting channel: %w", err)
	}
	return nil
}

// SetChannelEnabled flips the enabled flag of a channel.
// Returns ErrNotFound if the channel doesn't exist.
func (t *sqlTx) SetChannelEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := t.exec(ctx, `UPDATE channels SET enabled = ? WHERE id = ?`, boolInt(enabled), id)
	if err != nil {
		return fmt.Errorf("updating channel: %w", err)
	}
	return requireAffected(res)
}

// InsertMessage stores a new message and fills in its Seq.
func (t *sqlTx) InsertMessage(ctx context.Context, msg *Message) error {
	now := time.Now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	if msg.UpdatedAt.IsZero() {
		msg.UpdatedAt = msg.CreatedAt
	}
	err := t.queryRow(ctx, `
		INSERT INTO messages (id, channel_id, sender_id, content, edited, is_read, liked, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING seq
	`,
		msg.ID, msg.ChannelID, msg.SenderID, msg.Content,
		boolInt(msg.Edited), boolInt(msg.Read), boolInt(msg.Reactions.Liked),
		formatTime(msg.CreatedAt), formatTime(msg.UpdatedAt),
	).Scan(&msg.Seq)
	if err != nil {
		return fmt.Errorf("inserting message: %w", t.d.wrap(err))
	}
	return nil
}

// EvictOldest deletes the oldest message of a channel.
// Returns ErrNotFound if the channel has no messages.
func (t *sqlTx) EvictOldest(ctx context.Context, channelID string) (string, error) {
	var id string
	err := t.queryRow(ctx, `
		SELECT id FROM messages WHERE channel_id = ? ORDER BY seq ASC LIMIT 1
	`, channelID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("selecting oldest message: %w", t.d.wrap(err))
	}
	if _, err := t.exec(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
		return "", fmt.Errorf("evicting message: %w", err)
	}
	return id, nil
}

// UpdateMessage writes the mutable fields of a message.
// Returns ErrNotFound if the message doesn't exist.
func (t *sqlTx) UpdateMessage(ctx context.Context, msg *Message) error {
	msg.UpdatedAt = time.Now()
	res, err := t.exec(ctx, `
		UPDATE messages
		SET content = ?, edited = ?, is_read = ?, liked = ?, updated_at = ?
		WHERE id = ?
	`,
		msg.Content, boolInt(msg.Edited), boolInt(msg.Read), boolInt(msg.Reactions.Liked),
		formatTime(msg.UpdatedAt), msg.ID,
	)
	if err != nil {
		return fmt.Errorf("updating message: %w", err)
	}
	return requireAffected(res)
}

// DeleteMessage removes a message. A missing message is reported through the
// boolean, not an error.
func (t *sqlTx) DeleteMessage(ctx context.Context, id string) (bool, error) {
	res, err := t.exec(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n > 0, nil
}

// BulkMarkRead marks every unread message in a channel as read.
func (t *sqlTx) BulkMarkRead(ctx context.Context, channelID string) (int64, error) {
	res, err := t.exec(ctx, `
		UPDATE messages SET is_read = 1, updated_at = ?
		WHERE channel_id = ? AND is_read = 0
	`, formatTime(time.Now()), channelID)
	if err != nil {
		return 0, fmt.Errorf("marking messages read: %w", err)
	}
	return res.RowsAffected()
}

// BulkDeleteMessages deletes every message in a channel.
func (t *sqlTx) BulkDeleteMessages(ctx context.Context, channelID string) (int64, error) {
	res, err := t.exec(ctx, `DELETE FROM messages WHERE channel_id = ?`, channelID)
	if err != nil {
		return 0, fmt.Errorf("deleting messages: %w", err)
	}
	return res.RowsAffected()
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListEnabledChannelIDs returns the IDs of the enabled channels userID belongs to.
func (s *SQLStore) ListEnabledChannelIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.query(ctx, `
		SELECT id FROM channels
		WHERE (member_low = ? OR member_high = ?) AND enabled = 1
		ORDER BY created_at, id
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("querying enabled channels: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning channel id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating channels: %w", err)
	}
	return ids, nil
}

// ListChannelSummaries returns every channel userID belongs to (enabled or
// not) with the peer, the latest message, and the count of unread messages
// sent by the peer.
func (s *SQLStore) ListChannelSummaries(ctx context.Context, userID string) ([]*ChannelSummary, error) {
	rows, err := s.query(ctx, `
		SELECT `+channelColumns+` FROM channels
		WHERE member_low = ? OR member_high = ?
		ORDER BY created_at, id
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("querying channels: %w", err)
	}
	var channels []*Channel
	for rows.Next() {
		c, err := scanChannel(rows.Scan)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning channel: %w", err)
		}
		channels = append(channels, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating channels: %w", err)
	}
	rows.Close()

	summaries := make([]*ChannelSummary, 0, len(channels))
	for _, c := range channels {
		summary := &ChannelSummary{Channel: c}

		peer, err := s.FindUser(ctx, c.Other(userID))
		if err != nil {
			return nil, fmt.Errorf("loading peer of channel %s: %w", c.ID, err)
		}
		summary.Peer = peer

		last, err := scanMessage(s.queryRow(ctx, `
			SELECT `+messageColumns+` FROM messages
			WHERE channel_id = ? ORDER BY seq DESC LIMIT 1
		`, c.ID).Scan)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return nil, fmt.Errorf("loading last message of channel %s: %w", c.ID, s.d.wrap(err))
		default:
			summary.LastMessage = last
		}

		if err := s.queryRow(ctx, `
			SELECT COUNT(*) FROM messages
			WHERE channel_id = ? AND is_read = 0 AND sender_id <> ?
		`, c.ID, userID).Scan(&summary.UnreadCount); err != nil {
			return nil, fmt.Errorf("counting unread messages: %w", s.d.wrap(err))
		}

		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// ListMessages returns every retained message of a channel in creation order.
func (s *SQLStore) ListMessages(ctx context.Context, channelID string) ([]*Message, error) {
	rows, err := s.query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE channel_id = ?
		ORDER BY seq ASC
	`, channelID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return messages, nil
}
