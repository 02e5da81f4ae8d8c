// ABOUTME: JSON views of store entities shared by the WebSocket protocol and the HTTP API
// ABOUTME: Keeps wire field names independent of the storage types

package protocol

import (
	"time"

	"github.com/kvchvn/chitchat-backend/internal/store"
)

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Image string `json:"image,omitempty"`
}

type Reactions struct {
	Liked bool `json:"liked"`
}

type Message struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channelId"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	Edited    bool      `json:"edited"`
	Read      bool      `json:"read"`
	Reactions Reactions `json:"reactions"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Channel struct {
	ID      string    `json:"id"`
	Members [2]string `json:"members"`
	Enabled bool      `json:"enabled"`
}

func NewUser(u *store.User) User {
	return User{ID: u.ID, Name: u.Name, Email: u.Email, Image: u.Image}
}

func NewMessage(m *store.Message) Message {
	return Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Edited:    m.Edited,
		Read:      m.Read,
		Reactions: Reactions{Liked: m.Reactions.Liked},
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func NewMessages(msgs []*store.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, NewMessage(m))
	}
	return out
}

func NewChannel(c *store.Channel) *Channel {
	if c == nil {
		return nil
	}
	return &Channel{ID: c.ID, Members: c.Members, Enabled: c.Enabled}
}
