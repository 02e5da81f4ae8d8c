// ABOUTME: Routes decoded inbound frames to the friendship and chat services
// ABOUTME: Errors become error frames sent only to the triggering connection

package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kvchvn/chitchat-backend/internal/apperr"
	"github.com/kvchvn/chitchat-backend/internal/chat"
	"github.com/kvchvn/chitchat-backend/internal/dedupe"
	"github.com/kvchvn/chitchat-backend/internal/friendship"
	"github.com/kvchvn/chitchat-backend/internal/metrics"
	"github.com/kvchvn/chitchat-backend/internal/protocol"
	"github.com/kvchvn/chitchat-backend/internal/store"
)

// FriendshipService is the friendship state machine.
type FriendshipService interface {
	SendRequest(ctx context.Context, senderID, receiverID string) (*friendship.Transition, error)
	CancelRequest(ctx context.Context, senderID, receiverID string) (*friendship.Transition, error)
	AcceptRequest(ctx context.Context, receiverID, senderID string) (*friendship.Transition, error)
	RefuseRequest(ctx context.Context, receiverID, senderID string) (*friendship.Transition, error)
	RemoveFriend(ctx context.Context, userID, friendID string) (*friendship.Transition, error)
}

// ChatService is the channel retention engine.
type ChatService interface {
	PostMessage(ctx context.Context, userID, channelID, content string) (*chat.PostResult, error)
	EditMessage(ctx context.Context, userID, messageID, content string) (*store.Message, error)
	RemoveMessage(ctx context.Context, userID, messageID string) (bool, error)
	ReactToMessage(ctx context.Context, userID, messageID string, patch store.ReactionPatch) (*store.Message, error)
	MarkRead(ctx context.Context, userID, channelID string) (int64, error)
	Clear(ctx context.Context, userID, channelID string) (int64, error)
}

// DispatcherConfig holds the dispatcher's collaborators.
type DispatcherConfig struct {
	Friendship FriendshipService
	Chat       ChatService
	Registry   *Registry
	Dedupe     *dedupe.Cache    // optional
	Metrics    *metrics.Metrics // optional
	// OperationTimeout bounds each store operation. Operations run on a
	// context detached from the connection so a disconnect never aborts a
	// transaction halfway.
	OperationTimeout time.Duration
	Logger           *slog.Logger
}

// Dispatcher applies inbound frames on behalf of their connection's user.
type Dispatcher struct {
	friends   FriendshipService
	chat      ChatService
	registry  *Registry
	dedupe    *dedupe.Cache
	metrics   *metrics.Metrics
	opTimeout time.Duration
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.OperationTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		friends:   cfg.Friendship,
		chat:      cfg.Chat,
		registry:  cfg.Registry,
		dedupe:    cfg.Dedupe,
		metrics:   cfg.Metrics,
		opTimeout: timeout,
		logger:    logger.With("component", "dispatcher"),
	}
}

// Handle decodes and applies one frame. It implements Handler.
func (d *Dispatcher) Handle(ctx context.Context, c *Conn, raw []byte) {
	start := time.Now()

	req, err := protocol.Decode(raw)
	// Client-chosen type strings must not become metric label values.
	label := req.Type
	if !protocol.KnownType(label) {
		label = "unknown"
	}
	if err != nil {
		d.fail(c, req, err)
		d.metrics.Inbound(label, string(apperr.KindOf(err)), time.Since(start))
		return
	}

	if d.dedupe != nil && d.dedupe.Seen(c.ID(), req.ID) {
		d.logger.Debug("rejected duplicate request",
			"conn_id", c.ID(),
			"request_id", req.ID,
			"type", req.Type)
		c.Send(protocol.Outbound{
			Type:    protocol.EventError,
			ReplyTo: req.ID,
			Data: protocol.ErrorPayload{
				Kind:    string(apperr.KindConflict),
				Message: "duplicate request id",
			},
		})
		d.metrics.Inbound(label, "duplicate", time.Since(start))
		return
	}

	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opTimeout)
	defer cancel()

	outcome := "ok"
	err = d.dispatch(opCtx, c, req)
	switch {
	case err == nil:
	case chat.IsMissingMessage(err):
		outcome = "missing"
		d.logger.Debug("ignored request for missing message",
			"conn_id", c.ID(),
			"type", req.Type,
			"error", err)
	default:
		outcome = string(apperr.KindOf(err))
		d.fail(c, req, err)
	}
	d.metrics.Inbound(label, outcome, time.Since(start))
}

func (d *Dispatcher) dispatch(ctx context.Context, c *Conn, req *protocol.Request) error {
	userID := c.UserID()

	var (
		t   *friendship.Transition
		err error
	)
	switch p := req.Payload.(type) {
	case *protocol.SendRequest:
		t, err = d.friends.SendRequest(ctx, userID, p.ReceiverID)
	case *protocol.CancelRequest:
		t, err = d.friends.CancelRequest(ctx, userID, p.ReceiverID)
	case *protocol.AcceptRequest:
		t, err = d.friends.AcceptRequest(ctx, userID, p.SenderID)
	case *protocol.RefuseRequest:
		t, err = d.friends.RefuseRequest(ctx, userID, p.SenderID)
	case *protocol.RemoveFriend:
		t, err = d.friends.RemoveFriend(ctx, userID, p.FriendID)

	case *protocol.PostMessage:
		res, err := d.chat.PostMessage(ctx, userID, p.ChannelID, p.Content)
		if err != nil {
			return err
		}
		d.metrics.Evicted(len(res.Evicted))
		return nil
	case *protocol.EditMessage:
		_, err := d.chat.EditMessage(ctx, userID, p.MessageID, p.Content)
		return err
	case *protocol.RemoveMessage:
		_, err := d.chat.RemoveMessage(ctx, userID, p.MessageID)
		return err
	case *protocol.ReactToMessage:
		_, err := d.chat.ReactToMessage(ctx, userID, p.MessageID, store.ReactionPatch{Liked: p.Reactions.Liked})
		return err
	case *protocol.MarkRead:
		_, err := d.chat.MarkRead(ctx, userID, p.ChannelID)
		return err
	case *protocol.ClearChannel:
		_, err := d.chat.Clear(ctx, userID, p.ChannelID)
		return err

	case *protocol.Rejoin:
		rooms, err := d.registry.Rejoin(ctx, c)
		if err != nil {
			return err
		}
		c.Send(protocol.Outbound{
			Type:    protocol.EventRoomsJoined,
			ReplyTo: req.ID,
			Data:    protocol.RoomsJoined{Rooms: rooms},
		})
		return nil

	default:
		return apperr.Validation(fmt.Sprintf("type: unhandled event %q", req.Type))
	}

	if err != nil {
		return err
	}
	d.registry.notifyTransition(t, c, req.ID)
	return nil
}

// fail sends an error frame to the triggering connection.
func (d *Dispatcher) fail(c *Conn, req *protocol.Request, err error) {
	kind, msg, issues := apperr.Public(err)
	if kind == apperr.KindStore {
		d.logger.Error("request failed",
			"conn_id", c.ID(),
			"user_id", c.UserID(),
			"type", req.Type,
			"error", err)
	} else {
		d.logger.Debug("request rejected",
			"conn_id", c.ID(),
			"type", req.Type,
			"kind", kind,
			"error", err)
	}

	c.Send(protocol.Outbound{
		Type:    protocol.EventError,
		ReplyTo: req.ID,
		Data: protocol.ErrorPayload{
			Kind:    string(kind),
			Message: msg,
			Issues:  issues,
		},
	})
}
