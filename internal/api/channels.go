// ABOUTME: Channel handlers: summaries for the caller and per-channel history grouped by day
// ABOUTME: History days are computed in the time zone named by the tz query parameter

package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kvchvn/chitchat-backend/internal/apperr"
	"github.com/kvchvn/chitchat-backend/internal/auth"
	"github.com/kvchvn/chitchat-backend/internal/protocol"
)

// ChannelSummaryResponse is one entry of GET /api/channels.
type ChannelSummaryResponse struct {
	Channel     *protocol.Channel `json:"channel"`
	Peer        *protocol.User    `json:"peer,omitempty"`
	LastMessage *protocol.Message `json:"lastMessage,omitempty"`
	UnreadCount int               `json:"unreadCount"`
}

// ChannelsResponse is the JSON response for GET /api/channels.
type ChannelsResponse struct {
	Channels []ChannelSummaryResponse `json:"channels"`
}

// DayResponse holds the messages of one calendar day.
type DayResponse struct {
	Date     string             `json:"date"`
	Messages []protocol.Message `json:"messages"`
}

// HistoryResponse is the JSON response for GET /api/channels/:id.
type HistoryResponse struct {
	Channel  *protocol.Channel  `json:"channel"`
	Messages []protocol.Message `json:"messages"`
	Days     []DayResponse      `json:"days"`
}

func (a *API) handleListChannels(c *gin.Context) {
	summaries, err := a.chat.ListChannels(c.Request.Context(), auth.FromGin(c).UserID)
	if err != nil {
		a.fail(c, err)
		return
	}

	out := ChannelsResponse{Channels: make([]ChannelSummaryResponse, 0, len(summaries))}
	for _, s := range summaries {
		entry := ChannelSummaryResponse{
			Channel:     protocol.NewChannel(s.Channel),
			UnreadCount: s.UnreadCount,
		}
		if s.Peer != nil {
			peer := protocol.NewUser(s.Peer)
			entry.Peer = &peer
		}
		if s.LastMessage != nil {
			last := protocol.NewMessage(s.LastMessage)
			entry.LastMessage = &last
		}
		out.Channels = append(out.Channels, entry)
	}
	c.JSON(http.StatusOK, out)
}

func (a *API) handleHistory(c *gin.Context) {
	channelID, err := a.pathID(c)
	if err != nil {
		a.fail(c, err)
		return
	}

	loc := time.UTC
	if tz := c.Query("tz"); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			a.fail(c, apperr.Validation("tz: unknown time zone "+tz))
			return
		}
	}

	h, err := a.chat.History(c.Request.Context(), auth.FromGin(c).UserID, channelID, loc)
	if err != nil {
		a.fail(c, err)
		return
	}

	out := HistoryResponse{
		Channel:  protocol.NewChannel(h.Channel),
		Messages: protocol.NewMessages(h.Messages),
		Days:     make([]DayResponse, 0, len(h.Days)),
	}
	for _, d := range h.Days {
		out.Days = append(out.Days, DayResponse{Date: d.Date, Messages: protocol.NewMessages(d.Messages)})
	}
	c.JSON(http.StatusOK, out)
}
