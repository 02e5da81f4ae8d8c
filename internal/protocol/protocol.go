// ABOUTME: Wire types for the realtime WebSocket protocol
// ABOUTME: Inbound envelopes and payloads, outbound frames, and event type names

package protocol

import (
	"encoding/json"
)

// Inbound event types sent by clients.
const (
	TypeSendRequest    = "sendRequest"
	TypeCancelRequest  = "cancelRequest"
	TypeAcceptRequest  = "acceptRequest"
	TypeRefuseRequest  = "refuseRequest"
	TypeRemoveFriend   = "removeFriend"
	TypePostMessage    = "postMessage"
	TypeEditMessage    = "editMessage"
	TypeRemoveMessage  = "removeMessage"
	TypeReactToMessage = "reactToMessage"
	TypeMarkRead       = "markRead"
	TypeClearChannel   = "clearChannel"
	TypeRejoin         = "rejoin"
)

// Outbound event types. Room events go to every connection joined to the
// channel; the rest go only to the connections of the users concerned.
const (
	EventMessageCreated = "message.created"
	EventMessageEdited  = "message.edited"
	EventMessageRemoved = "message.removed"
	EventMessageReacted = "message.reacted"
	EventChannelRead    = "channel.read"
	EventChannelCleared = "channel.cleared"

	EventSessionReady      = "session.ready"
	EventFriendshipUpdated = "friendship.updated"
	EventRoomsJoined       = "rooms.joined"
	EventError             = "error"
)

// Inbound is the envelope of every client frame. ID is an optional
// client-chosen request id echoed back as ReplyTo.
type Inbound struct {
	ID   string          `json:"id,omitempty" validate:"omitempty,max=64"`
	Type string          `json:"type" validate:"required"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Outbound is the envelope of every server frame.
type Outbound struct {
	Type      string `json:"type"`
	ChannelID string `json:"channelId,omitempty"`
	ReplyTo   string `json:"replyTo,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// Encode marshals an outbound frame.
func Encode(frame Outbound) ([]byte, error) {
	return json.Marshal(frame)
}

// Inbound payloads.

type SendRequest struct {
	ReceiverID string `json:"receiverId" validate:"required,max=64"`
}

type CancelRequest struct {
	ReceiverID string `json:"receiverId" validate:"required,max=64"`
}

type AcceptRequest struct {
	SenderID string `json:"senderId" validate:"required,max=64"`
}

type RefuseRequest struct {
	SenderID string `json:"senderId" validate:"required,max=64"`
}

type RemoveFriend struct {
	FriendID string `json:"friendId" validate:"required,max=64"`
}

type PostMessage struct {
	ChannelID string `json:"channelId" validate:"required,max=64"`
	Content   string `json:"content" validate:"required"`
}

type EditMessage struct {
	MessageID string `json:"messageId" validate:"required,max=64"`
	Content   string `json:"content" validate:"required"`
}

type RemoveMessage struct {
	MessageID string `json:"messageId" validate:"required,max=64"`
}

// ReactionFlags is a partial reaction update; at least one flag must be set.
type ReactionFlags struct {
	Liked *bool `json:"liked" validate:"required"`
}

type ReactToMessage struct {
	MessageID string        `json:"messageId" validate:"required,max=64"`
	Reactions ReactionFlags `json:"reactions"`
}

type MarkRead struct {
	ChannelID string `json:"channelId" validate:"required,max=64"`
}

type ClearChannel struct {
	ChannelID string `json:"channelId" validate:"required,max=64"`
}

type Rejoin struct{}

// Outbound payloads.

type MessageCreated struct {
	Message          Message `json:"message"`
	EvictedMessageID string  `json:"evictedMessageId,omitempty"`
}

type MessageEdited struct {
	Message Message `json:"message"`
}

type MessageRemoved struct {
	MessageID string `json:"messageId"`
}

type MessageReacted struct {
	MessageID string    `json:"messageId"`
	Reactions Reactions `json:"reactions"`
}

type ChannelRead struct {
	ReaderID string `json:"readerId"`
	Count    int64  `json:"count"`
}

type ChannelCleared struct {
	Count int64 `json:"count"`
}

type SessionReady struct {
	ConnectionID string   `json:"connectionId"`
	User         User     `json:"user"`
	Rooms        []string `json:"rooms"`
}

type RoomsJoined struct {
	Rooms []string `json:"rooms"`
}

// FriendshipUpdated tells a user their relation to OtherID changed. Status is
// the relation from the receiving user's point of view.
type FriendshipUpdated struct {
	OtherID string   `json:"otherId"`
	Status  string   `json:"status"`
	Channel *Channel `json:"channel,omitempty"`
}

// ErrorPayload is the data of an error frame.
type ErrorPayload struct {
	Kind    string   `json:"kind"`
	Message string   `json:"message"`
	Issues  []string `json:"issues,omitempty"`
}
