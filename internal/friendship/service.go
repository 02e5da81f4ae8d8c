// ABOUTME: Friendship state machine coordinating two user records and one shared channel
// ABOUTME: Every transition runs in a single store transaction and repeats fail with Conflict

package friendship

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kvchvn/chitchat-backend/internal/apperr"
	"github.com/kvchvn/chitchat-backend/internal/store"
)

// Store defines what the service needs from storage
type Store interface {
	FindUser(ctx context.Context, id string) (*store.User, error)
	GetRelation(ctx context.Context, userID, otherID string) (store.RelationKind, error)
	WithTx(ctx context.Context, fn func(tx store.Tx) error) error

	ListUsers(ctx context.Context) ([]*store.User, error)
	ListRelated(ctx context.Context, userID string, kind store.RelationKind) ([]*store.User, error)
	ListRelations(ctx context.Context, userID string) (map[string]store.RelationKind, error)
	CountRelations(ctx context.Context, userID string) (*store.RelationCounts, error)
}

// Transition describes the outcome of a state change between two users, so
// callers can notify both sides.
type Transition struct {
	UserID  string
	OtherID string
	// UserKind and OtherKind are each side's relation to the other after the change.
	UserKind  store.RelationKind
	OtherKind store.RelationKind
	// Channel is set by AcceptRequest and RemoveFriend.
	Channel *store.Channel
	// ChannelReused is true when AcceptRequest re-enabled an existing channel.
	ChannelReused bool
}

// Service implements the friendship state machine.
type Service struct {
	store  Store
	logger *slog.Logger
}

// New creates a new friendship Service
func New(s Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  s,
		logger: logger.With("component", "friendship"),
	}
}

// SendRequest records a pending request from sender to receiver. It fails
// with Conflict if the pair already has any relation in either direction.
func (s *Service) SendRequest(ctx context.Context, senderID, receiverID string) (*Transition, error) {
	if senderID == receiverID {
		return nil, apperr.Validation("receiverId: cannot send a friend request to yourself")
	}

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := requireUsers(ctx, tx, senderID, receiverID); err != nil {
			return err
		}
		if err := requirePair(ctx, tx, senderID, receiverID, store.RelationNone); err != nil {
			return err
		}
		return link(ctx, tx, senderID, receiverID, store.RelationOutgoing)
	})
	if err != nil {
		return nil, apperr.FromStore(err, "send friend request")
	}

	s.logger.Info("friend request sent", "sender", senderID, "receiver", receiverID)
	return &Transition{
		UserID:    senderID,
		OtherID:   receiverID,
		UserKind:  store.RelationOutgoing,
		OtherKind: store.RelationIncoming,
	}, nil
}

// CancelRequest withdraws sender's pending request to receiver.
func (s *Service) CancelRequest(ctx context.Context, senderID, receiverID string) (*Transition, error) {
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := requirePair(ctx, tx, senderID, receiverID, store.RelationOutgoing); err != nil {
			return err
		}
		return link(ctx, tx, senderID, receiverID, store.RelationNone)
	})
	if err != nil {
		return nil, apperr.FromStore(err, "cancel friend request")
	}

	s.logger.Info("friend request cancelled", "sender", senderID, "receiver", receiverID)
	return &Transition{
		UserID:    senderID,
		OtherID:   receiverID,
		UserKind:  store.RelationNone,
		OtherKind: store.RelationNone,
	}, nil
}

// AcceptRequest turns sender's pending request to receiver into a friendship
// and makes sure the pair has an enabled channel, reusing a disabled one when
// the pair were friends before. Edges and channel commit together.
func (s *Service) AcceptRequest(ctx context.Context, receiverID, senderID string) (*Transition, error) {
	var (
		channel *store.Channel
		reused  bool
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := requirePair(ctx, tx, receiverID, senderID, store.RelationIncoming); err != nil {
			return err
		}
		if err := link(ctx, tx, receiverID, senderID, store.RelationFriend); err != nil {
			return err
		}

		var err error
		channel, reused, err = ensureChannel(ctx, tx, receiverID, senderID)
		return err
	})
	if err != nil {
		return nil, apperr.FromStore(err, "accept friend request")
	}

	s.logger.Info("friend request accepted",
		"receiver", receiverID,
		"sender", senderID,
		"channel_id", channel.ID,
		"channel_reused", reused)
	return &Transition{
		UserID:        receiverID,
		OtherID:       senderID,
		UserKind:      store.RelationFriend,
		OtherKind:     store.RelationFriend,
		Channel:       channel,
		ChannelReused: reused,
	}, nil
}

// RefuseRequest drops sender's pending request to receiver.
func (s *Service) RefuseRequest(ctx context.Context, receiverID, senderID string) (*Transition, error) {
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := requirePair(ctx, tx, receiverID, senderID, store.RelationIncoming); err != nil {
			return err
		}
		return link(ctx, tx, receiverID, senderID, store.RelationNone)
	})
	if err != nil {
		return nil, apperr.FromStore(err, "refuse friend request")
	}

	s.logger.Info("friend request refused", "receiver", receiverID, "sender", senderID)
	return &Transition{
		UserID:    receiverID,
		OtherID:   senderID,
		UserKind:  store.RelationNone,
		OtherKind: store.RelationNone,
	}, nil
}

// RemoveFriend ends a friendship and disables the shared channel. Messages
// are kept so the channel can be re-enabled if the pair become friends again.
func (s *Service) RemoveFriend(ctx context.Context, userID, friendID string) (*Transition, error) {
	var channel *store.Channel
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.FindUser(ctx, friendID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound("user %s not found", friendID)
			}
			return err
		}
		if err := requirePair(ctx, tx, userID, friendID, store.RelationFriend); err != nil {
			return err
		}
		if err := link(ctx, tx, userID, friendID, store.RelationNone); err != nil {
			return err
		}

		ch, err := tx.FindChannelForPair(ctx, userID, friendID)
		if errors.Is(err, store.ErrNotFound) {
			// Friends without a channel should not exist; nothing to disable.
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.SetChannelEnabled(ctx, ch.ID, false); err != nil {
			return err
		}
		ch.Enabled = false
		channel = ch
		return nil
	})
	if err != nil {
		return nil, apperr.FromStore(err, "remove friend")
	}

	attrs := []any{"user", userID, "friend", friendID}
	if channel != nil {
		attrs = append(attrs, "channel_id", channel.ID)
	} else {
		s.logger.Warn("removed friendship had no channel", attrs...)
	}
	s.logger.Info("friend removed", attrs...)
	return &Transition{
		UserID:    userID,
		OtherID:   friendID,
		UserKind:  store.RelationNone,
		OtherKind: store.RelationNone,
		Channel:   channel,
	}, nil
}

// requireUsers fails with NotFound if any of ids is not a user.
func requireUsers(ctx context.Context, tx store.Tx, ids ...string) error {
	for _, id := range ids {
		if _, err := tx.FindUser(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound("user %s not found", id)
			}
			return err
		}
	}
	return nil
}

// requirePair checks that userID holds want towards otherID and that the
// reverse edge mirrors it. Any other state is a Conflict.
func requirePair(ctx context.Context, tx store.Tx, userID, otherID string, want store.RelationKind) error {
	forward, err := tx.GetRelation(ctx, userID, otherID)
	if err != nil {
		return err
	}
	backward, err := tx.GetRelation(ctx, otherID, userID)
	if err != nil {
		return err
	}
	if forward == want && backward == want.Mirror() {
		return nil
	}
	if forward != backward.Mirror() {
		return apperr.Conflict("relation between %s and %s is inconsistent (%s/%s)",
			userID, otherID, forward, backward)
	}
	return apperr.Conflict("%s", describeConflict(forward, want))
}

func describeConflict(have, want store.RelationKind) string {
	switch have {
	case store.RelationFriend:
		return "users are already friends"
	case store.RelationOutgoing:
		return "a friend request to this user is already pending"
	case store.RelationIncoming:
		return "this user has already sent you a friend request"
	}
	switch want {
	case store.RelationFriend:
		return "users are not friends"
	case store.RelationOutgoing:
		return "no pending friend request to this user"
	case store.RelationIncoming:
		return "no pending friend request from this user"
	}
	return "unexpected relation state"
}

// link writes kind on userID's side and its mirror on otherID's side.
func link(ctx context.Context, tx store.Tx, userID, otherID string, kind store.RelationKind) error {
	if err := tx.UpdateUserRelations(ctx, userID, store.RelationPatch{otherID: kind}); err != nil {
		return err
	}
	return tx.UpdateUserRelations(ctx, otherID, store.RelationPatch{userID: kind.Mirror()})
}

// ensureChannel returns the enabled channel of the pair, re-enabling an
// existing one or creating it.
func ensureChannel(ctx context.Context, tx store.Tx, a, b string) (*store.Channel, bool, error) {
	ch, err := tx.FindChannelForPair(ctx, a, b)
	switch {
	case err == nil:
		if !ch.Enabled {
			if err := tx.SetChannelEnabled(ctx, ch.ID, true); err != nil {
				return nil, false, err
			}
			ch.Enabled = true
		}
		return ch, true, nil
	case errors.Is(err, store.ErrNotFound):
		ch = &store.Channel{
			ID:      uuid.New().String(),
			Members: [2]string{a, b},
			Enabled: true,
		}
		if err := tx.CreateChannel(ctx, ch); err != nil {
			return nil, false, err
		}
		return ch, false, nil
	default:
		return nil, false, err
	}
}
