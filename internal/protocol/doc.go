// Package protocol defines the JSON frames exchanged over realtime connections.
//
// Clients send an envelope {"id", "type", "data"}. Decode rejects unknown
// types, unknown fields, and payloads failing their validate tags before any
// state is touched; the error is an apperr validation error listing each
// failing field by its JSON name.
//
// The server sends {"type", "channelId", "replyTo", "data"}. Room events
// (message.*, channel.*) carry the channel id; direct events (session.ready,
// friendship.updated, rooms.joined, error) go only to the users they concern.
package protocol
