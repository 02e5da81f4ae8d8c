// ABOUTME: Shared store test cases run against every available dialect
// ABOUTME: Covers relations, channels, message eviction order, summaries, and sessions

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// storeCases are run against every dialect available in the test environment.
var storeCases = []struct {
	name string
	fn   func(t *testing.T, s *SQLStore)
}{
	{"Users", testUsers},
	{"RelationsMirror", testRelationsMirror},
	{"TxRollback", testTxRollback},
	{"ChannelPerPair", testChannelPerPair},
	{"ChannelPairBytewiseOrder", testChannelPairBytewiseOrder},
	{"MessagesOrderAndEviction", testMessagesOrderAndEviction},
	{"MessageMutations", testMessageMutations},
	{"ChannelSummaries", testChannelSummaries},
	{"Sessions", testSessions},
}

func TestSQLStore_SQLite(t *testing.T) {
	for _, tc := range storeCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, setupTestStore(t))
		})
	}
}

func createTestUser(t *testing.T, s Store, name string) *User {
	t.Helper()
	u := &User{ID: uuid.New().String(), Name: name, Email: name + "@example.com"}
	require.NoError(t, s.CreateUser(t.Context(), u))
	return u
}

func createTestChannel(t *testing.T, s Store, a, b string) *Channel {
	t.Helper()
	ch := &Channel{ID: uuid.New().String(), Members: [2]string{a, b}, Enabled: true}
	require.NoError(t, s.WithTx(t.Context(), func(tx Tx) error {
		return tx.CreateChannel(t.Context(), ch)
	}))
	return ch
}

func insertTestMessage(t *testing.T, s Store, channelID, senderID, content string) *Message {
	t.Helper()
	msg := &Message{ID: uuid.New().String(), ChannelID: channelID, SenderID: senderID, Content: content}
	require.NoError(t, s.WithTx(t.Context(), func(tx Tx) error {
		return tx.InsertMessage(t.Context(), msg)
	}))
	return msg
}

func testUsers(t *testing.T, s *SQLStore) {
	ctx := t.Context()
	alice := createTestUser(t, s, "alice")

	got, err := s.FindUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Name)
	assert.Equal(t, "alice@example.com", got.Email)
	assert.WithinDuration(t, alice.CreatedAt, got.CreatedAt, time.Millisecond)

	_, err = s.FindUser(ctx, uuid.New().String())
	assert.ErrorIs(t, err, ErrNotFound)

	dup := &User{ID: alice.ID, Name: "again"}
	assert.ErrorIs(t, s.CreateUser(ctx, dup), ErrConflict)

	n, err := s.CountUsers(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
}

func testRelationsMirror(t *testing.T, s *SQLStore) {
	ctx := t.Context()
	a := createTestUser(t, s, "a")
	b := createTestUser(t, s, "b")

	err := s.WithTx(ctx, func(tx Tx) error {
		if err := tx.UpdateUserRelations(ctx, a.ID, RelationPatch{b.ID: RelationOutgoing}); err != nil {
			return err
		}
		return tx.UpdateUserRelations(ctx, b.ID, RelationPatch{a.ID: RelationIncoming})
	})
	require.NoError(t, err)

	kind, err := s.GetRelation(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, RelationOutgoing, kind)
	kind, err = s.GetRelation(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, RelationIncoming, kind)

	outgoing, err := s.ListRelated(ctx, a.ID, RelationOutgoing)
	require.NoError(t, err)
	require.Len(t, outgoing, 1)
	assert.Equal(t, b.ID, outgoing[0].ID)

	counts, err := s.CountRelations(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, RelationCounts{Incoming: 1}, *counts)

	// Upsert to friend, then delete.
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		if err := tx.UpdateUserRelations(ctx, a.ID, RelationPatch{b.ID: RelationFriend}); err != nil {
			return err
		}
		return tx.UpdateUserRelations(ctx, b.ID, RelationPatch{a.ID: RelationFriend})
	}))
	rels, err := s.ListRelations(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]RelationKind{b.ID: RelationFriend}, rels)

	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		if err := tx.UpdateUserRelations(ctx, a.ID, RelationPatch{b.ID: RelationNone}); err != nil {
			return err
		}
		return tx.UpdateUserRelations(ctx, b.ID, RelationPatch{a.ID: RelationNone})
	}))
	kind, err = s.GetRelation(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, RelationNone, kind)
}

func testTxRollback(t *testing.T, s *SQLStore) {
	ctx := t.Context()
	a := createTestUser(t, s, "a")
	b := createTestUser(t, s, "b")

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx Tx) error {
		if err := tx.UpdateUserRelations(ctx, a.ID, RelationPatch{b.ID: RelationFriend}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	kind, err := s.GetRelation(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, RelationNone, kind, "rolled back write must not be visible")

	// Unknown user violates the foreign key and is classified as not found.
	err = s.WithTx(ctx, func(tx Tx) error {
		return tx.UpdateUserRelations(ctx, a.ID, RelationPatch{uuid.New().String(): RelationOutgoing})
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func testChannelPerPair(t *testing.T, s *SQLStore) {
	ctx := t.Context()
	a := createTestUser(t, s, "a")
	b := createTestUser(t, s, "b")

	ch := createTestChannel(t, s, b.ID, a.ID)
	assert.Equal(t, PairKey(a.ID, b.ID), ch.Members)

	found, err := s.FindChannelForPair(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, ch.ID, found.ID)
	assert.True(t, found.Enabled)

	found, err = s.FindChannelForPair(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, ch.ID, found.ID)

	err = s.WithTx(ctx, func(tx Tx) error {
		return tx.CreateChannel(ctx, &Channel{ID: uuid.New().String(), Members: [2]string{a.ID, b.ID}})
	})
	assert.ErrorIs(t, err, ErrConflict, "second channel for the same pair")

	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		return tx.SetChannelEnabled(ctx, ch.ID, false)
	}))
	found, err = s.FindChannel(ctx, ch.ID)
	require.NoError(t, err)
	assert.False(t, found.Enabled)

	ids, err := s.ListEnabledChannelIDs(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)

	err = s.WithTx(ctx, func(tx Tx) error {
		return tx.SetChannelEnabled(ctx, uuid.New().String(), true)
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func testMessagesOrderAndEviction(t *testing.T, s *SQLStore) {
	ctx := t.Context()
	a := createTestUser(t, s, "a")
	b := createTestUser(t, s, "b")
	ch := createTestChannel(t, s, a.ID, b.ID)

	m1 := insertTestMessage(t, s, ch.ID, a.ID, "one")
	m2 := insertTestMessage(t, s, ch.ID, b.ID, "two")
	m3 := insertTestMessage(t, s, ch.ID, a.ID, "three")
	assert.Less(t, m1.Seq, m2.Seq)
	assert.Less(t, m2.Seq, m3.Seq)

	n, err := s.CountMessages(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	var evicted string
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		var err error
		evicted, err = tx.EvictOldest(ctx, ch.ID)
		return err
	}))
	assert.Equal(t, m1.ID, evicted)

	msgs, err := s.ListMessages(ctx, ch.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, m2.ID, msgs[0].ID)
	assert.Equal(t, m3.ID, msgs[1].ID)

	empty := createTestChannel(t, s, a.ID, createTestUser(t, s, "c").ID)
	err = s.WithTx(ctx, func(tx Tx) error {
		_, err := tx.EvictOldest(ctx, empty.ID)
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func testMessageMutations(t *testing.T, s *SQLStore) {
	ctx := t.Context()
	a := createTestUser(t, s, "a")
	b := createTestUser(t, s, "b")
	ch := createTestChannel(t, s, a.ID, b.ID)
	m1 := insertTestMessage(t, s, ch.ID, a.ID, "hello")
	m2 := insertTestMessage(t, s, ch.ID, b.ID, "hi")

	m1.Content = "hello!"
	m1.Edited = true
	m1.Reactions.Liked = true
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		return tx.UpdateMessage(ctx, m1)
	}))
	got, err := s.FindMessage(ctx, m1.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello!", got.Content)
	assert.True(t, got.Edited)
	assert.True(t, got.Reactions.Liked)
	assert.False(t, got.Read)

	var marked int64
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		var err error
		marked, err = tx.BulkMarkRead(ctx, ch.ID)
		return err
	}))
	assert.Equal(t, int64(2), marked)
	got, err = s.FindMessage(ctx, m2.ID)
	require.NoError(t, err)
	assert.True(t, got.Read)

	var removed bool
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		var err error
		removed, err = tx.DeleteMessage(ctx, m2.ID)
		return err
	}))
	assert.True(t, removed)
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		var err error
		removed, err = tx.DeleteMessage(ctx, m2.ID)
		return err
	}))
	assert.False(t, removed, "second delete is a no-op")

	err = s.WithTx(ctx, func(tx Tx) error {
		return tx.UpdateMessage(ctx, m2)
	})
	assert.ErrorIs(t, err, ErrNotFound)

	var cleared int64
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		var err error
		cleared, err = tx.BulkDeleteMessages(ctx, ch.ID)
		return err
	}))
	assert.Equal(t, int64(1), cleared)
	n, err := s.CountMessages(ctx, ch.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testChannelSummaries(t *testing.T, s *SQLStore) {
	ctx := t.Context()
	a := createTestUser(t, s, "a")
	b := createTestUser(t, s, "b")
	c := createTestUser(t, s, "c")
	ab := createTestChannel(t, s, a.ID, b.ID)
	createTestChannel(t, s, a.ID, c.ID)

	insertTestMessage(t, s, ab.ID, b.ID, "ping")
	insertTestMessage(t, s, ab.ID, a.ID, "pong")
	last := insertTestMessage(t, s, ab.ID, b.ID, "ping again")

	summaries, err := s.ListChannelSummaries(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	byPeer := make(map[string]*ChannelSummary)
	for _, sum := range summaries {
		byPeer[sum.Peer.ID] = sum
	}
	require.Contains(t, byPeer, b.ID)
	require.NotNil(t, byPeer[b.ID].LastMessage)
	assert.Equal(t, last.ID, byPeer[b.ID].LastMessage.ID)
	assert.Equal(t, 2, byPeer[b.ID].UnreadCount, "only messages from the peer count")

	require.Contains(t, byPeer, c.ID)
	assert.Nil(t, byPeer[c.ID].LastMessage)
	assert.Zero(t, byPeer[c.ID].UnreadCount)
}

func testSessions(t *testing.T, s *SQLStore) {
	ctx := t.Context()
	u := createTestUser(t, s, "u")
	now := time.Now()

	live := &Session{ID: uuid.New().String(), UserID: u.ID, Token: uuid.New().String(), Expires: now.Add(time.Hour)}
	expired := &Session{ID: uuid.New().String(), UserID: u.ID, Token: uuid.New().String(), Expires: now.Add(-time.Minute)}
	require.NoError(t, s.CreateSession(ctx, live))
	require.NoError(t, s.CreateSession(ctx, expired))

	got, err := s.FindSessionByToken(ctx, live.Token)
	require.NoError(t, err)
	assert.Equal(t, live.ID, got.ID)
	assert.WithinDuration(t, live.Expires, got.Expires, time.Millisecond)

	_, err = s.FindSessionByToken(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	dup := &Session{ID: uuid.New().String(), UserID: u.ID, Token: live.Token, Expires: now}
	assert.ErrorIs(t, s.CreateSession(ctx, dup), ErrConflict)

	sessions, err := s.ListSessions(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, live.ID, sessions[0].ID, "newest expiry first")

	n, err := s.DeleteSessions(ctx, u.ID, []string{expired.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.DeleteSessions(ctx, u.ID, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	other := createTestUser(t, s, "other")
	n, err = s.DeleteSessions(ctx, other.ID, []string{live.ID})
	require.NoError(t, err)
	assert.Zero(t, n, "sessions of another user are untouched")

	require.NoError(t, s.CreateSession(ctx, &Session{
		ID: uuid.New().String(), UserID: u.ID, Token: uuid.New().String(), Expires: now.Add(-time.Hour),
	}))
	n, err = s.DeleteExpiredSessions(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.FindSessionByToken(ctx, live.Token)
	assert.NoError(t, err)
}

func testChannelPairBytewiseOrder(t *testing.T, s *SQLStore) {
	ctx := t.Context()
	suffix := uuid.New().String()
	// Linguistic collations sort "alice" before "Bob"; bytewise order does not.
	upper := &User{ID: "Bob-" + suffix, Name: "Bob"}
	lower := &User{ID: "alice-" + suffix, Name: "alice"}
	require.NoError(t, s.CreateUser(ctx, upper))
	require.NoError(t, s.CreateUser(ctx, lower))

	ch := createTestChannel(t, s, lower.ID, upper.ID)
	assert.Equal(t, [2]string{upper.ID, lower.ID}, ch.Members)

	found, err := s.FindChannelForPair(ctx, lower.ID, upper.ID)
	require.NoError(t, err)
	assert.Equal(t, ch.ID, found.ID)
	assert.Equal(t, [2]string{upper.ID, lower.ID}, found.Members)
}

func TestPairKey(t *testing.T) {
	assert.Equal(t, [2]string{"a", "b"}, PairKey("b", "a"))
	assert.Equal(t, [2]string{"a", "b"}, PairKey("a", "b"))
	assert.Equal(t, [2]string{"Bob", "alice"}, PairKey("alice", "Bob"))
	assert.Equal(t, [2]string{"a-b", "a_b"}, PairKey("a_b", "a-b"))
}

func TestRelationKind_Mirror(t *testing.T) {
	assert.Equal(t, RelationIncoming, RelationOutgoing.Mirror())
	assert.Equal(t, RelationOutgoing, RelationIncoming.Mirror())
	assert.Equal(t, RelationFriend, RelationFriend.Mirror())
	assert.Equal(t, RelationNone, RelationNone.Mirror())
}

func TestReactionPatch_Apply(t *testing.T) {
	liked := true
	r := ReactionPatch{Liked: &liked}.Apply(Reactions{})
	assert.True(t, r.Liked)

	r = ReactionPatch{}.Apply(r)
	assert.True(t, r.Liked, "nil fields leave the flag unchanged")
}

func TestStore_ContextCanceled(t *testing.T) {
	s := setupTestStore(t)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := s.FindUser(ctx, "anyone")
	assert.Error(t, err)
}
