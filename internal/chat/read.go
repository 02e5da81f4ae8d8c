// ABOUTME: Read side of the retention engine: channel summaries and message history
// ABOUTME: History groups retained messages by calendar day for display

package chat

import (
	"context"
	"errors"
	"time"

	"github.com/kvchvn/chitchat-backend/internal/apperr"
	"github.com/kvchvn/chitchat-backend/internal/store"
)

// DateLayout formats the day key of a history group.
const DateLayout = "2006-01-02"

// DayGroup holds the messages created on one calendar day.
type DayGroup struct {
	Date     string
	Messages []*store.Message
}

// History is a channel's retained messages in creation order, plus the same
// messages grouped by day.
type History struct {
	Channel  *store.Channel
	Messages []*store.Message
	Days     []DayGroup
}

// ListChannels returns every channel userID belongs to, including disabled
// ones, with the peer, the latest message, and the unread count.
func (s *Service) ListChannels(ctx context.Context, userID string) ([]*store.ChannelSummary, error) {
	summaries, err := s.store.ListChannelSummaries(ctx, userID)
	if err != nil {
		return nil, apperr.FromStore(err, "list channels")
	}
	return summaries, nil
}

// History returns a channel's messages. Disabled channels stay readable by
// their members.
func (s *Service) History(ctx context.Context, userID, channelID string, loc *time.Location) (*History, error) {
	ch, err := s.store.FindChannel(ctx, channelID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("channel %s not found", channelID)
	}
	if err != nil {
		return nil, apperr.FromStore(err, "find channel")
	}
	if !ch.HasMember(userID) {
		return nil, apperr.Forbidden("not a member of channel %s", channelID)
	}

	msgs, err := s.store.ListMessages(ctx, channelID)
	if err != nil {
		return nil, apperr.FromStore(err, "list messages")
	}
	return &History{
		Channel:  ch,
		Messages: msgs,
		Days:     GroupByDay(msgs, loc),
	}, nil
}

// GroupByDay splits msgs, already in creation order, into consecutive
// per-day groups in loc (UTC when nil).
func GroupByDay(msgs []*store.Message, loc *time.Location) []DayGroup {
	if loc == nil {
		loc = time.UTC
	}
	var groups []DayGroup
	for _, m := range msgs {
		day := m.CreatedAt.In(loc).Format(DateLayout)
		if n := len(groups); n > 0 && groups[n-1].Date == day {
			groups[n-1].Messages = append(groups[n-1].Messages, m)
			continue
		}
		groups = append(groups, DayGroup{Date: day, Messages: []*store.Message{m}})
	}
	return groups
}
