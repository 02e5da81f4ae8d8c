// ABOUTME: Channel retention engine: capped message history and message mutations
// ABOUTME: Checks membership and availability, mutates in one transaction, then publishes in commit order

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kvchvn/chitchat-backend/internal/apperr"
	"github.com/kvchvn/chitchat-backend/internal/protocol"
	"github.com/kvchvn/chitchat-backend/internal/store"
)

// DefaultMaxMessages is the per-channel retention cap used when none is configured.
const DefaultMaxMessages = 100

// DefaultMaxContentLength bounds message content, in characters.
const DefaultMaxContentLength = 4000

// Store defines what the service needs from storage
type Store interface {
	WithTx(ctx context.Context, fn func(tx store.Tx) error) error
	FindChannel(ctx context.Context, id string) (*store.Channel, error)
	FindMessage(ctx context.Context, id string) (*store.Message, error)
	ListChannelSummaries(ctx context.Context, userID string) ([]*store.ChannelSummary, error)
	ListMessages(ctx context.Context, channelID string) ([]*store.Message, error)
}

// Publisher delivers a room event to every connection joined to the channel.
type Publisher interface {
	Publish(channelID string, frame protocol.Outbound)
}

// Options configures the service.
type Options struct {
	// MaxMessages is the retention cap N per channel.
	MaxMessages int
	// MaxContentLength is the longest accepted message, in characters.
	MaxContentLength int
}

// Service implements the channel retention engine.
type Service struct {
	store     Store
	publisher Publisher
	opts      Options
	locks     *keyedLock
	logger    *slog.Logger
}

// New creates a new chat Service. A nil publisher disables broadcasting.
func New(s Store, publisher Publisher, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = DefaultMaxMessages
	}
	if opts.MaxContentLength <= 0 {
		opts.MaxContentLength = DefaultMaxContentLength
	}
	return &Service{
		store:     s,
		publisher: publisher,
		opts:      opts,
		locks:     newKeyedLock(),
		logger:    logger.With("component", "chat"),
	}
}

// PostResult is the outcome of PostMessage.
type PostResult struct {
	Message *store.Message
	// Evicted lists the messages removed to stay within the cap, oldest first.
	// It holds at most one ID unless the cap was lowered since the channel filled.
	Evicted []string
}

// EvictedID returns the oldest evicted message ID, or "".
func (r *PostResult) EvictedID() string {
	if len(r.Evicted) == 0 {
		return ""
	}
	return r.Evicted[0]
}

// PostMessage appends a message to a channel. When the channel already holds
// MaxMessages, the oldest message is evicted in the same transaction, so no
// reader ever observes more than MaxMessages.
func (s *Service) PostMessage(ctx context.Context, userID, channelID, content string) (*PostResult, error) {
	if err := s.checkContent(content); err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, channelID)
	if err != nil {
		return nil, apperr.FromStore(err, "post message")
	}
	defer unlock()

	result := &PostResult{}
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := writableChannel(ctx, tx, userID, channelID); err != nil {
			return err
		}

		count, err := tx.CountMessages(ctx, channelID)
		if err != nil {
			return err
		}
		for ; count >= s.opts.MaxMessages; count-- {
			id, err := tx.EvictOldest(ctx, channelID)
			if err != nil {
				return fmt.Errorf("evicting oldest message: %w", err)
			}
			result.Evicted = append(result.Evicted, id)
		}

		msg := &store.Message{
			ID:        uuid.New().String(),
			ChannelID: channelID,
			SenderID:  userID,
			Content:   content,
		}
		if err := tx.InsertMessage(ctx, msg); err != nil {
			return err
		}
		result.Message = msg
		return nil
	})
	if err != nil {
		return nil, apperr.FromStore(err, "post message")
	}

	s.logger.Debug("message posted",
		"channel_id", channelID,
		"message_id", result.Message.ID,
		"evicted", result.Evicted)

	s.publish(channelID, protocol.EventMessageCreated, protocol.MessageCreated{
		Message:          protocol.NewMessage(result.Message),
		EvictedMessageID: result.EvictedID(),
	})
	for _, id := range result.Evicted[min(1, len(result.Evicted)):] {
		s.publish(channelID, protocol.EventMessageRemoved, protocol.MessageRemoved{MessageID: id})
	}
	return result, nil
}

// EditMessage replaces the content of a message and marks it edited. Only
// the sender may edit. A message that no longer exists yields NotFound; that
// is an expected race with eviction or removal.
func (s *Service) EditMessage(ctx context.Context, userID, messageID, content string) (*store.Message, error) {
	if err := s.checkContent(content); err != nil {
		return nil, err
	}

	var msg *store.Message
	err := s.withMessage(ctx, userID, messageID, func(tx store.Tx, m *store.Message) error {
		if m.SenderID != userID {
			return apperr.Forbidden("only the sender can edit a message")
		}
		m.Content = content
		m.Edited = true
		if err := tx.UpdateMessage(ctx, m); err != nil {
			return err
		}
		msg = m
		return nil
	}, func() {
		s.publish(msg.ChannelID, protocol.EventMessageEdited, protocol.MessageEdited{
			Message: protocol.NewMessage(msg),
		})
	})
	if err != nil {
		return nil, apperr.FromStore(err, "edit message")
	}
	return msg, nil
}

// RemoveMessage deletes a message. A message that is already gone is not an
// error: removed is false and nothing is broadcast.
func (s *Service) RemoveMessage(ctx context.Context, userID, messageID string) (bool, error) {
	var (
		channelID string
		removed   bool
	)
	err := s.withMessage(ctx, userID, messageID, func(tx store.Tx, m *store.Message) error {
		var err error
		removed, err = tx.DeleteMessage(ctx, m.ID)
		channelID = m.ChannelID
		return err
	}, func() {
		if removed {
			s.publish(channelID, protocol.EventMessageRemoved, protocol.MessageRemoved{MessageID: messageID})
		}
	})
	if IsMissingMessage(err) {
		s.logger.Debug("message already gone", "message_id", messageID)
		return false, nil
	}
	if err != nil {
		return false, apperr.FromStore(err, "remove message")
	}
	return removed, nil
}

// ReactToMessage merges a partial reaction update into a message.
func (s *Service) ReactToMessage(ctx context.Context, userID, messageID string, patch store.ReactionPatch) (*store.Message, error) {
	var msg *store.Message
	err := s.withMessage(ctx, userID, messageID, func(tx store.Tx, m *store.Message) error {
		m.Reactions = patch.Apply(m.Reactions)
		if err := tx.UpdateMessage(ctx, m); err != nil {
			return err
		}
		msg = m
		return nil
	}, func() {
		s.publish(msg.ChannelID, protocol.EventMessageReacted, protocol.MessageReacted{
			MessageID: msg.ID,
			Reactions: protocol.Reactions{Liked: msg.Reactions.Liked},
		})
	})
	if err != nil {
		return nil, apperr.FromStore(err, "react to message")
	}
	return msg, nil
}

// MarkRead marks every unread message of the channel as read.
func (s *Service) MarkRead(ctx context.Context, userID, channelID string) (int64, error) {
	var n int64
	err := s.withChannel(ctx, userID, channelID, func(tx store.Tx) error {
		var err error
		n, err = tx.BulkMarkRead(ctx, channelID)
		return err
	}, func() {
		if n > 0 {
			s.publish(channelID, protocol.EventChannelRead, protocol.ChannelRead{ReaderID: userID, Count: n})
		}
	})
	if err != nil {
		return 0, apperr.FromStore(err, "mark channel read")
	}
	return n, nil
}

// Clear deletes every message of the channel.
func (s *Service) Clear(ctx context.Context, userID, channelID string) (int64, error) {
	var n int64
	err := s.withChannel(ctx, userID, channelID, func(tx store.Tx) error {
		var err error
		n, err = tx.BulkDeleteMessages(ctx, channelID)
		return err
	}, func() {
		s.publish(channelID, protocol.EventChannelCleared, protocol.ChannelCleared{Count: n})
	})
	if err != nil {
		return 0, apperr.FromStore(err, "clear channel")
	}

	s.logger.Info("channel cleared", "channel_id", channelID, "user", userID, "deleted", n)
	return n, nil
}

// withChannel runs fn in a transaction under the channel's ordering lock,
// after checking that userID may write to the channel. onCommit runs after a
// successful commit while the lock is still held, so broadcasts for one
// channel go out in commit order.
func (s *Service) withChannel(ctx context.Context, userID, channelID string, fn func(tx store.Tx) error, onCommit func()) error {
	unlock, err := s.locks.Lock(ctx, channelID)
	if err != nil {
		return err
	}
	defer unlock()

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := writableChannel(ctx, tx, userID, channelID); err != nil {
			return err
		}
		return fn(tx)
	})
	if err != nil {
		return err
	}
	onCommit()
	return nil
}

// withMessage resolves the message's channel, takes its ordering lock, and
// runs fn in a transaction with a fresh copy of the message. onCommit runs
// as in withChannel.
func (s *Service) withMessage(ctx context.Context, userID, messageID string, fn func(tx store.Tx, m *store.Message) error, onCommit func()) error {
	peek, err := s.store.FindMessage(ctx, messageID)
	if err != nil {
		return missingMessage(err, messageID)
	}

	unlock, err := s.locks.Lock(ctx, peek.ChannelID)
	if err != nil {
		return err
	}
	defer unlock()

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		m, err := tx.FindMessage(ctx, messageID)
		if err != nil {
			return missingMessage(err, messageID)
		}
		if _, err := writableChannel(ctx, tx, userID, m.ChannelID); err != nil {
			return err
		}
		return fn(tx, m)
	})
	if err != nil {
		return err
	}
	onCommit()
	return nil
}

// errMissingMessage marks NotFound errors caused by the message itself, as
// opposed to its channel.
var errMissingMessage = errors.New("message missing")

func missingMessage(err error, messageID string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.Wrap(apperr.KindNotFound, errMissingMessage, "message %s not found", messageID)
	}
	return err
}

// IsMissingMessage reports whether err means the referenced message no longer
// exists, the benign outcome of racing an eviction or removal.
func IsMissingMessage(err error) bool {
	return errors.Is(err, errMissingMessage)
}

// writableChannel loads a channel and checks that userID is a member and the
// channel is enabled.
func writableChannel(ctx context.Context, r store.Reader, userID, channelID string) (*store.Channel, error) {
	ch, err := r.FindChannel(ctx, channelID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("channel %s not found", channelID)
	}
	if err != nil {
		return nil, err
	}
	if !ch.HasMember(userID) {
		return nil, apperr.Forbidden("not a member of channel %s", channelID)
	}
	if !ch.Enabled {
		return nil, apperr.Forbidden("channel %s is disabled", channelID)
	}
	return ch, nil
}

func (s *Service) checkContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return apperr.Validation("content: must not be blank")
	}
	if n := utf8.RuneCountInString(content); n > s.opts.MaxContentLength {
		return apperr.Validation(fmt.Sprintf("content: must be at most %d characters", s.opts.MaxContentLength))
	}
	return nil
}

func (s *Service) publish(channelID, event string, data any) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(channelID, protocol.Outbound{
		Type:      event,
		ChannelID: channelID,
		Data:      data,
	})
}
