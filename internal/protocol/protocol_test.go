// ABOUTME: Tests for inbound frame decoding and outbound encoding
// ABOUTME: Covers strict decoding, validation issues, and event type lookup

package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvchvn/chitchat-backend/internal/apperr"
)

func TestDecode_ValidPayloads(t *testing.T) {
	tests := []struct {
		raw  string
		want any
	}{
		{`{"id":"r1","type":"sendRequest","data":{"receiverId":"u2"}}`, &SendRequest{ReceiverID: "u2"}},
		{`{"type":"acceptRequest","data":{"senderId":"u1"}}`, &AcceptRequest{SenderID: "u1"}},
		{`{"type":"postMessage","data":{"channelId":"c1","content":"hi"}}`, &PostMessage{ChannelID: "c1", Content: "hi"}},
		{`{"type":"markRead","data":{"channelId":"c1"}}`, &MarkRead{ChannelID: "c1"}},
		{`{"type":"rejoin"}`, &Rejoin{}},
	}
	for _, tt := range tests {
		req, err := Decode([]byte(tt.raw))
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, req.Payload)
	}
}

func TestDecode_ReactionFlags(t *testing.T) {
	req, err := Decode([]byte(`{"type":"reactToMessage","data":{"messageId":"m1","reactions":{"liked":false}}}`))
	require.NoError(t, err)

	p, ok := req.Payload.(*ReactToMessage)
	require.True(t, ok)
	require.NotNil(t, p.Reactions.Liked)
	assert.False(t, *p.Reactions.Liked)

	_, err = Decode([]byte(`{"type":"reactToMessage","data":{"messageId":"m1","reactions":{}}}`))
	require.Error(t, err)
	_, _, issues := apperr.Public(err)
	assert.Equal(t, []string{"reactions.liked: is required"}, issues)
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		id     string
		issues []string
	}{
		{
			name: "not json",
			raw:  `{"id":`,
		},
		{
			name: "unknown envelope field",
			raw:  `{"id":"r9","type":"markRead","data":{"channelId":"c"},"extra":1}`,
			id:   "r9",
		},
		{
			name:   "unknown type",
			raw:    `{"id":"r2","type":"launchRockets","data":{}}`,
			id:     "r2",
			issues: []string{`type: unknown event "launchRockets"`},
		},
		{
			name:   "missing type",
			raw:    `{"id":"r3","data":{}}`,
			id:     "r3",
			issues: []string{"type: is required"},
		},
		{
			name: "unknown payload field",
			raw:  `{"id":"r4","type":"markRead","data":{"channelId":"c","chatId":"c"}}`,
			id:   "r4",
		},
		{
			name:   "missing fields",
			raw:    `{"id":"r5","type":"postMessage","data":{}}`,
			id:     "r5",
			issues: []string{"channelId: is required", "content: is required"},
		},
		{
			name:   "too long",
			raw:    `{"type":"removeFriend","data":{"friendId":"` + longID + `"}}`,
			issues: []string{"friendId: must be at most 64 characters"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Decode([]byte(tt.raw))
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindValidation))
			require.NotNil(t, req)
			assert.Equal(t, tt.id, req.ID)
			assert.Nil(t, req.Payload)
			if tt.issues != nil {
				_, _, issues := apperr.Public(err)
				assert.Equal(t, tt.issues, issues)
			}
		})
	}
}

const longID = "0123456789012345678901234567890123456789012345678901234567890123456789"

func TestKnownType(t *testing.T) {
	assert.True(t, KnownType(TypeClearChannel))
	assert.False(t, KnownType(EventMessageCreated))
}

func TestEncode(t *testing.T) {
	b, err := Encode(Outbound{
		Type:      EventMessageRemoved,
		ChannelID: "c1",
		Data:      MessageRemoved{MessageID: "m1"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"message.removed","channelId":"c1","data":{"messageId":"m1"}}`, string(b))

	b, err = Encode(Outbound{
		Type:    EventError,
		ReplyTo: "r1",
		Data:    ErrorPayload{Kind: "conflict", Message: "already friends"},
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "r1", decoded["replyTo"])
	assert.NotContains(t, decoded, "channelId")
}
