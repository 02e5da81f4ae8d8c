// ABOUTME: Store interface and data types for chitchat persistence
// ABOUTME: Defines User, Relation, Channel, Message, Session and the transactional Store/Tx contracts

package store

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write collides with existing state: a unique
// constraint violation or a serialization failure between concurrent transactions.
var ErrConflict = errors.New("conflict")

// RelationKind is the directed relationship from one user to another.
// RelationNone is never stored; it is the absence of a row.
type RelationKind string

const (
	RelationNone     RelationKind = "none"
	RelationOutgoing RelationKind = "outgoing" // this user sent a request to the other
	RelationIncoming RelationKind = "incoming" // the other user sent a request to this user
	RelationFriend   RelationKind = "friend"
)

// Mirror returns the kind the other side of the edge must hold.
func (k RelationKind) Mirror() RelationKind {
	switch k {
	case RelationOutgoing:
		return RelationIncoming
	case RelationIncoming:
		return RelationOutgoing
	}
	return k
}

// RelationPatch maps other-user IDs to the relation kind they should hold
// after the update. RelationNone deletes the edge.
type RelationPatch map[string]RelationKind

// User is an account. Users are created outside of the messaging core.
type User struct {
	ID        string
	Name      string
	Email     string
	Image     string
	CreatedAt time.Time
}

// RelationCounts holds how many users a user relates to in each category.
type RelationCounts struct {
	Friends  int
	Incoming int
	Outgoing int
}

// Channel is the message thread shared by exactly two users.
type Channel struct {
	ID        string
	Members   [2]string // sorted ascending
	Enabled   bool
	CreatedAt time.Time
}

// HasMember reports whether userID is one of the channel's two members.
func (c *Channel) HasMember(userID string) bool {
	return c.Members[0] == userID || c.Members[1] == userID
}

// Other returns the member that is not userID.
func (c *Channel) Other(userID string) string {
	if c.Members[0] == userID {
		return c.Members[1]
	}
	return c.Members[0]
}

// PairKey orders two user IDs so that an unordered pair has one representation.
func PairKey(a, b string) [2]string {
	pair := []string{a, b}
	sort.Strings(pair)
	return [2]string{pair[0], pair[1]}
}

// Reactions is the set of reaction flags on a message.
type Reactions struct {
	Liked bool `json:"liked"`
}

// ReactionPatch is a partial update of Reactions; nil fields are left unchanged.
type ReactionPatch struct {
	Liked *bool `json:"liked,omitempty"`
}

// Apply merges the patch into r.
func (p ReactionPatch) Apply(r Reactions) Reactions {
	if p.Liked != nil {
		r.Liked = *p.Liked
	}
	return r
}

// Message is a single message in a channel. Seq is assigned by the store and
// orders messages by creation within the whole database.
type Message struct {
	ID        string
	ChannelID string
	SenderID  string
	Content   string
	Edited    bool
	Read      bool
	Reactions Reactions
	Seq       int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChannelSummary is a channel as listed for one of its members.
type ChannelSummary struct {
	Channel     *Channel
	Peer        *User
	LastMessage *Message // nil when the channel is empty
	UnreadCount int
}

// Session authenticates a user's connections until it expires.
type Session struct {
	ID        string
	UserID    string
	Token     string
	Expires   time.Time
	CreatedAt time.Time
}

// Reader holds the read operations available both on the store and inside a
// transaction.
type Reader interface {
	FindUser(ctx context.Context, id string) (*User, error)
	GetRelation(ctx context.Context, userID, otherID string) (RelationKind, error)
	FindChannel(ctx context.Context, id string) (*Channel, error)
	FindChannelForPair(ctx context.Context, a, b string) (*Channel, error)
	FindMessage(ctx context.Context, id string) (*Message, error)
	CountMessages(ctx context.Context, channelID string) (int, error)
}

// Tx is the set of operations that run inside one atomic transaction.
// Every write that touches two user records or a user and a channel must be
// issued through a single Tx.
type Tx interface {
	Reader

	UpdateUserRelations(ctx context.Context, userID string, patch RelationPatch) error

	CreateChannel(ctx context.Context, channel *Channel) error
	SetChannelEnabled(ctx context.Context, id string, enabled bool) error

	InsertMessage(ctx context.Context, msg *Message) error
	// EvictOldest deletes the lowest-Seq message of the channel and returns its ID.
	EvictOldest(ctx context.Context, channelID string) (string, error)
	UpdateMessage(ctx context.Context, msg *Message) error
	// DeleteMessage reports whether a row was removed.
	DeleteMessage(ctx context.Context, id string) (bool, error)
	BulkMarkRead(ctx context.Context, channelID string) (int64, error)
	BulkDeleteMessages(ctx context.Context, channelID string) (int64, error)
}

// Store defines the interface for chitchat persistence
type Store interface {
	Reader

	// WithTx runs fn inside a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Users
	CreateUser(ctx context.Context, user *User) error
	ListUsers(ctx context.Context) ([]*User, error)
	ListRelated(ctx context.Context, userID string, kind RelationKind) ([]*User, error)
	ListRelations(ctx context.Context, userID string) (map[string]RelationKind, error)
	CountRelations(ctx context.Context, userID string) (*RelationCounts, error)
	CountUsers(ctx context.Context) (int, error)

	// Channels and messages
	ListEnabledChannelIDs(ctx context.Context, userID string) ([]string, error)
	ListChannelSummaries(ctx context.Context, userID string) ([]*ChannelSummary, error)
	ListMessages(ctx context.Context, channelID string) ([]*Message, error)

	// Sessions
	CreateSession(ctx context.Context, session *Session) error
	FindSessionByToken(ctx context.Context, token string) (*Session, error)
	ListSessions(ctx context.Context, userID string) ([]*Session, error)
	DeleteSessions(ctx context.Context, userID string, ids []string) (int64, error)
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)

	// Close releases any resources held by the store
	Close() error
}
